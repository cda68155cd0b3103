package service

import (
	"context"
	"errors"

	"github.com/lvdashuaibi/evermark-sync/internal/model"
	"github.com/lvdashuaibi/evermark-sync/internal/repository"
	"go.uber.org/zap"
)

// TallyCache is the read-through layer in front of the tally table.
type TallyCache interface {
	GetTally(ctx context.Context, evermarkID string, cycle uint64) (*model.EvermarkCycleTally, bool, error)
	SetTally(ctx context.Context, t *model.EvermarkCycleTally) error
}

// QueryService serves cached voting state to readers. It never touches the chain.
type QueryService struct {
	reader repository.CacheReader
	cache  TallyCache
	stats  *StatsReporter
	logger *zap.Logger
}

// NewQueryService builds a QueryService. cache may be nil.
func NewQueryService(reader repository.CacheReader, cache TallyCache, stats *StatsReporter, logger *zap.Logger) *QueryService {
	return &QueryService{
		reader: reader,
		cache:  cache,
		stats:  stats,
		logger: logger.With(zap.String("component", "query")),
	}
}

// Tally returns the cached tally, or nil if the evermark was never synced for cycle.
func (s *QueryService) Tally(ctx context.Context, evermarkID string, cycle uint64) (*model.EvermarkCycleTally, error) {
	evermarkID, _ = model.CanonicalEvermarkID(evermarkID)
	if s.cache != nil {
		t, hit, err := s.cache.GetTally(ctx, evermarkID, cycle)
		if err != nil {
			s.logger.Warn("tally cache read failed", zap.String("evermark_id", evermarkID), zap.Uint64("cycle", cycle), zap.Error(err))
		}
		if hit {
			return t, nil
		}
	}

	t, err := s.reader.GetTally(ctx, evermarkID, cycle)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetTally(ctx, t); err != nil {
			s.logger.Warn("tally cache fill failed", zap.String("evermark_id", evermarkID), zap.Uint64("cycle", cycle), zap.Error(err))
		}
	}
	return t, nil
}

// UserVotes lists the cached votes for one evermark and cycle, ordered by voter.
func (s *QueryService) UserVotes(ctx context.Context, evermarkID string, cycle uint64) ([]*model.UserVoteRecord, error) {
	evermarkID, _ = model.CanonicalEvermarkID(evermarkID)
	return s.reader.ListUserVotes(ctx, evermarkID, cycle)
}

// Cycle returns the cached cycle row, or nil if it was never synced.
func (s *QueryService) Cycle(ctx context.Context, cycle uint64) (*model.VotingCycle, error) {
	c, err := s.reader.GetCycle(ctx, cycle)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// Stats reports cache health and size.
func (s *QueryService) Stats(ctx context.Context) *model.CacheStats {
	return s.stats.GetCacheStats(ctx)
}
