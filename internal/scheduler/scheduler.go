package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/lvdashuaibi/evermark-sync/config"
	"github.com/lvdashuaibi/evermark-sync/internal/lock"
	"github.com/lvdashuaibi/evermark-sync/internal/model"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	RecentLockName = "evermark-sync:recent"
	CycleLockName  = "evermark-sync:cycle"
)

// Syncer is the subset of the sync service the periodic jobs drive.
type Syncer interface {
	SyncRecentVotingEvents(ctx context.Context, blockRange uint64) (*model.BackfillResult, error)
	SyncVotingCycleData(ctx context.Context, cycle *uint64) (*model.SyncResult, error)
}

// Scheduler runs the recent-events backfill and the current-cycle refresh on
// cron schedules. Each run first takes a cluster-wide lock so only one
// instance does the work per tick.
type Scheduler struct {
	cron       *cron.Cron
	sync       Syncer
	locker     lock.Locker
	ttl        time.Duration
	blockRange uint64
	logger     *zap.Logger
}

func New(sync Syncer, locker lock.Locker, syncCfg config.SyncConfig, lockCfg config.LockConfig, logger *zap.Logger) (*Scheduler, error) {
	logger = logger.With(zap.String("component", "scheduler"))
	cl := cronLogger{logger.Sugar()}

	s := &Scheduler{
		cron:       cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		sync:       sync,
		locker:     locker,
		ttl:        lockCfg.TTL,
		blockRange: syncCfg.RecentBlockRange,
		logger:     logger,
	}
	if s.ttl <= 0 {
		s.ttl = 30 * time.Second
	}

	if _, err := s.cron.AddFunc(syncCfg.RecentCron, func() { s.runLocked(RecentLockName, s.syncRecent) }); err != nil {
		return nil, fmt.Errorf("schedule recent sync %q: %w", syncCfg.RecentCron, err)
	}
	if _, err := s.cron.AddFunc(syncCfg.CycleCron, func() { s.runLocked(CycleLockName, s.syncCycle) }); err != nil {
		return nil, fmt.Errorf("schedule cycle sync %q: %w", syncCfg.CycleCron, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop prevents new runs and waits for running ones to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// runLocked runs job if this instance wins name; a run is bounded by the lock TTL.
func (s *Scheduler) runLocked(name string, job func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.ttl)
	defer cancel()

	ok, err := s.locker.TryLock(ctx, name, s.ttl)
	if err != nil {
		s.logger.Warn("lock attempt failed, skipping run", zap.String("lock", name), zap.Error(err))
		return
	}
	if !ok {
		s.logger.Debug("lock held elsewhere, skipping run", zap.String("lock", name))
		return
	}
	defer func() {
		if err := s.locker.Unlock(context.Background(), name); err != nil {
			s.logger.Warn("unlock failed", zap.String("lock", name), zap.Error(err))
		}
	}()

	job(ctx)
}

func (s *Scheduler) syncRecent(ctx context.Context) {
	res, err := s.sync.SyncRecentVotingEvents(ctx, s.blockRange)
	if err != nil {
		s.logger.Error("scheduled recent sync failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled recent sync done",
		zap.Uint64("from_block", res.FromBlock), zap.Uint64("to_block", res.ToBlock),
		zap.Int("written", res.Written), zap.Int("failed", res.Failed))
}

func (s *Scheduler) syncCycle(ctx context.Context) {
	res, err := s.sync.SyncVotingCycleData(ctx, nil)
	if err != nil {
		s.logger.Error("scheduled cycle sync failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled cycle sync done", zap.Bool("written", res.Written))
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
