package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lvdashuaibi/evermark-sync/internal/model"
	"go.uber.org/zap"
)

// Scanner reads VoteDelegated events.
//
// ScanVoters is meant to be called with a range starting at block 0: voter counts are
// derived from full history so they are always correct, at the cost of scanning it.
// ScanRecent serves the bounded backfill window and keeps every event, so the two
// paths are kept separate.
type Scanner struct {
	provider Provider
	logger   *zap.Logger
}

// NewScanner builds a Scanner over provider.
func NewScanner(provider Provider, logger *zap.Logger) *Scanner {
	return &Scanner{
		provider: provider,
		logger:   logger.With(zap.String("component", "event_scanner")),
	}
}

// ScanVoters returns the set of distinct (lower-cased) voters that delegated to
// evermarkID in cycle within r. The event stream is filtered client-side on both fields.
func (s *Scanner) ScanVoters(ctx context.Context, cycle uint64, evermarkID string, r BlockRange) (map[string]struct{}, error) {
	events, err := s.provider.GetEvents(ctx, EventVoteDelegated, r)
	if err != nil {
		s.logger.Warn("scan voters failed",
			zap.String("evermark_id", evermarkID), zap.Uint64("cycle", cycle), zap.Stringer("range", r), zap.Error(err))
		return nil, err
	}

	want, _ := model.CanonicalEvermarkID(evermarkID)
	voters := make(map[string]struct{})
	for _, ev := range events {
		d := decodeDelegation(ev)
		if d.User == "" || !d.HasCycle || d.Cycle != cycle || d.EvermarkID != want {
			continue
		}
		voters[model.NormalizeAddress(d.User)] = struct{}{}
	}

	s.logger.Debug("scanned voters",
		zap.String("evermark_id", evermarkID), zap.Uint64("cycle", cycle),
		zap.Int("events", len(events)), zap.Int("voters", len(voters)))
	return voters, nil
}

// ScanRecent returns every delegation in r in chain order, without deduplication.
func (s *Scanner) ScanRecent(ctx context.Context, r BlockRange) ([]model.DelegationEvent, error) {
	events, err := s.provider.GetEvents(ctx, EventVoteDelegated, r)
	if err != nil {
		s.logger.Warn("scan recent delegations failed", zap.Stringer("range", r), zap.Error(err))
		return nil, err
	}

	out := make([]model.DelegationEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, decodeDelegation(ev))
	}
	return out, nil
}

// decodeDelegation maps a decoded log onto a DelegationEvent, leaving absent fields empty.
func decodeDelegation(ev Event) model.DelegationEvent {
	d := model.DelegationEvent{
		TxHash:      ev.TxHash,
		BlockNumber: ev.BlockNumber,
	}

	switch u := ev.Fields["user"].(type) {
	case common.Address:
		d.User = u.Hex()
	case string:
		d.User = u
	}

	if id, ok := ev.Fields["evermarkId"].(*big.Int); ok && id != nil {
		d.EvermarkID = id.String()
	}

	if amount, ok := ev.Fields["amount"].(*big.Int); ok && amount != nil {
		d.Amount = new(big.Int).Set(amount)
	}

	if c, ok := ev.Fields["cycle"].(*big.Int); ok && c != nil && c.IsUint64() {
		d.Cycle = c.Uint64()
		d.HasCycle = true
	}

	return d
}
