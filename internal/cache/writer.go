package cache

import (
	"context"
	"math/big"
	"time"

	"github.com/lvdashuaibi/evermark-sync/internal/metrics"
	"github.com/lvdashuaibi/evermark-sync/internal/model"
	"github.com/lvdashuaibi/evermark-sync/internal/repository"
	"go.uber.org/zap"
)

var (
	tallyKey    = []string{"evermark_id", "cycle_number"}
	userVoteKey = []string{"user_address", "evermark_id", "cycle_number"}
	cycleKey    = []string{"cycle_number"}
)

// Notifier is told about every row that has been persisted.
type Notifier interface {
	Notify(ctx context.Context, ev model.CacheUpdateEvent) error
}

// WriteError wraps a failed upsert with the table it targeted.
type WriteError struct {
	Table string
	Err   error
}

func (e *WriteError) Error() string {
	return "write " + e.Table + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error { return e.Err }

// CycleUpdate carries the fields of a VotingCycle write. Nil optional
// fields are stored as zero.
type CycleUpdate struct {
	CycleNumber          uint64
	StartTime            time.Time
	EndTime              time.Time
	IsActive             bool
	Finalized            bool
	TotalVotes           *big.Int
	TotalVoters          *int64
	ActiveEvermarksCount *int64
}

// Writer performs full-replacement upserts of the three cache records.
type Writer struct {
	store     repository.CacheStore
	notifiers []Notifier
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Writer)

// WithClock overrides the timestamp source used for last_updated/updated_at.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithNotifiers registers listeners for persisted rows.
func WithNotifiers(n ...Notifier) Option {
	return func(w *Writer) { w.notifiers = append(w.notifiers, n...) }
}

// NewWriter returns a Writer over store. Options set the clock and listeners.
func NewWriter(store repository.CacheStore, logger *zap.Logger, opts ...Option) *Writer {
	w := &Writer{
		store:  store,
		logger: logger.With(zap.String("component", "cache_writer")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// UpsertTally replaces the tally row for (evermarkID, cycle) and stamps last_updated.
func (w *Writer) UpsertTally(ctx context.Context, evermarkID string, cycle uint64, totalVotes *big.Int, voterCount int64) error {
	evermarkID, _ = model.CanonicalEvermarkID(evermarkID)
	now := w.now().UTC()
	row := repository.Row{
		"evermark_id":  evermarkID,
		"cycle_number": cycle,
		"total_votes":  decimal(totalVotes),
		"voter_count":  voterCount,
		"last_updated": now,
	}
	if err := w.write(ctx, repository.TableEvermarkTallies, row, tallyKey); err != nil {
		return err
	}

	w.notify(ctx, model.CacheUpdateEvent{
		Kind:        model.UpdateKindTally,
		EvermarkID:  evermarkID,
		CycleNumber: cycle,
		UpdatedAt:   now,
	})
	return nil
}

// UpsertUserVote replaces one voter's record, keyed on the lower-cased address.
// Missing tx hash and block number are stored as NULL.
func (w *Writer) UpsertUserVote(ctx context.Context, userAddress, evermarkID string, cycle uint64, amount *big.Int, txHash *string, blockNumber *uint64) error {
	evermarkID, _ = model.CanonicalEvermarkID(evermarkID)
	now := w.now().UTC()
	addr := model.NormalizeAddress(userAddress)
	row := repository.Row{
		"user_address":     addr,
		"evermark_id":      evermarkID,
		"cycle_number":     cycle,
		"vote_amount":      decimal(amount),
		"transaction_hash": nil,
		"block_number":     nil,
		"updated_at":       now,
	}
	if txHash != nil {
		row["transaction_hash"] = *txHash
	}
	if blockNumber != nil {
		row["block_number"] = *blockNumber
	}
	if err := w.write(ctx, repository.TableUserVotes, row, userVoteKey); err != nil {
		return err
	}

	w.notify(ctx, model.CacheUpdateEvent{
		Kind:        model.UpdateKindUserVote,
		EvermarkID:  evermarkID,
		CycleNumber: cycle,
		UserAddress: addr,
		UpdatedAt:   now,
	})
	return nil
}

// UpsertCycle replaces the cycle row.
func (w *Writer) UpsertCycle(ctx context.Context, c CycleUpdate) error {
	now := w.now().UTC()
	row := repository.Row{
		"cycle_number":           c.CycleNumber,
		"start_time":             c.StartTime.UTC(),
		"end_time":               c.EndTime.UTC(),
		"is_active":              c.IsActive,
		"finalized":              c.Finalized,
		"total_votes":            decimal(c.TotalVotes),
		"total_voters":           int64(0),
		"active_evermarks_count": int64(0),
		"updated_at":             now,
	}
	if c.TotalVoters != nil {
		row["total_voters"] = *c.TotalVoters
	}
	if c.ActiveEvermarksCount != nil {
		row["active_evermarks_count"] = *c.ActiveEvermarksCount
	}
	if err := w.write(ctx, repository.TableVotingCycles, row, cycleKey); err != nil {
		return err
	}

	w.notify(ctx, model.CacheUpdateEvent{
		Kind:        model.UpdateKindCycle,
		CycleNumber: c.CycleNumber,
		UpdatedAt:   now,
	})
	return nil
}

func (w *Writer) write(ctx context.Context, table string, row repository.Row, key []string) error {
	err := w.store.Upsert(ctx, table, row, key)
	metrics.ObserveWrite(table, err)
	if err != nil {
		w.logger.Error("cache write failed", zap.String("table", table), zap.Error(err))
		return &WriteError{Table: table, Err: err}
	}
	return nil
}

// notify fans the event out. The row is already durable, so listener
// failures are only logged.
func (w *Writer) notify(ctx context.Context, ev model.CacheUpdateEvent) {
	for _, n := range w.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			w.logger.Warn("cache update listener failed",
				zap.String("kind", ev.Kind),
				zap.String("evermark_id", ev.EvermarkID),
				zap.Uint64("cycle", ev.CycleNumber),
				zap.Error(err))
		}
	}
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
