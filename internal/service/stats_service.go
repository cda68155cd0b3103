package service

import (
	"context"

	"github.com/lvdashuaibi/evermark-sync/internal/model"
	"github.com/lvdashuaibi/evermark-sync/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StatsReporter summarises cache health without touching the chain.
type StatsReporter struct {
	store  repository.CacheStore
	logger *zap.Logger
}

// NewStatsReporter reports on the given store.
func NewStatsReporter(store repository.CacheStore, logger *zap.Logger) *StatsReporter {
	return &StatsReporter{store: store, logger: logger.With(zap.String("component", "stats"))}
}

// GetCacheStats runs its three reads concurrently. If any of them fails the
// whole snapshot degrades to CacheError with zeroed fields.
func (r *StatsReporter) GetCacheStats(ctx context.Context) *model.CacheStats {
	var (
		total  int64
		active int64
		latest repository.Row
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := r.store.Count(gCtx, repository.TableEvermarkTallies, nil)
		total = n
		return err
	})
	g.Go(func() error {
		row, err := r.store.SelectLatest(gCtx, repository.TableEvermarkTallies, "last_updated", 1)
		latest = row
		return err
	})
	g.Go(func() error {
		n, err := r.store.Count(gCtx, repository.TableVotingCycles, repository.Filter{"is_active": true})
		active = n
		return err
	})

	if err := g.Wait(); err != nil {
		r.logger.Error("cache stats unavailable", zap.Error(err))
		return &model.CacheStats{CacheHealth: model.CacheError}
	}

	stats := &model.CacheStats{
		TotalCachedEntries: total,
		ActiveCycles:       active,
		CacheHealth:        model.CacheHealthy,
	}
	if latest != nil {
		if ts, ok := repository.TimeValue(latest["last_updated"]); ok {
			ts = ts.UTC()
			stats.LastSyncTime = &ts
		}
	}
	return stats
}
