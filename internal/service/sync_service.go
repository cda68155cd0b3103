package service

import (
	"context"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/lvdashuaibi/evermark-sync/internal/cache"
	"github.com/lvdashuaibi/evermark-sync/internal/chain"
	"github.com/lvdashuaibi/evermark-sync/internal/metrics"
	"github.com/lvdashuaibi/evermark-sync/internal/model"
	"go.uber.org/zap"
)

const (
	OpSyncEvermark = "sync_evermark"
	OpSyncCycle    = "sync_cycle"
	OpSyncRecent   = "sync_recent"
	OpIngestVote   = "ingest_vote"

	DefaultRecentBlocks uint64 = 1000

	voteCastType = "vote_cast"
)

// EventScanner reduces VoteDelegated logs.
type EventScanner interface {
	ScanVoters(ctx context.Context, cycle uint64, evermarkID string, r chain.BlockRange) (map[string]struct{}, error)
	ScanRecent(ctx context.Context, r chain.BlockRange) ([]model.DelegationEvent, error)
}

// HeadReader returns the latest block number.
type HeadReader interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// CacheWriter persists the three cache records.
type CacheWriter interface {
	UpsertTally(ctx context.Context, evermarkID string, cycle uint64, totalVotes *big.Int, voterCount int64) error
	UpsertUserVote(ctx context.Context, userAddress, evermarkID string, cycle uint64, amount *big.Int, txHash *string, blockNumber *uint64) error
	UpsertCycle(ctx context.Context, c cache.CycleUpdate) error
}

// SyncService reconciles contract state into the cache. It holds no state
// between calls, so every operation is safe to run concurrently and to repeat.
type SyncService struct {
	reader  chain.Reader
	scanner EventScanner
	heads   HeadReader
	writer  CacheWriter
	logger  *zap.Logger
	now     func() time.Time
}

func NewSyncService(reader chain.Reader, scanner EventScanner, heads HeadReader, writer CacheWriter, logger *zap.Logger) *SyncService {
	return &SyncService{
		reader:  reader,
		scanner: scanner,
		heads:   heads,
		writer:  writer,
		logger:  logger.With(zap.String("component", "sync")),
		now:     time.Now,
	}
}

// SyncEvermarkVotingData rebuilds the tally for one evermark from the full
// delegation history. With cycle nil the contract's current cycle is used; if
// that cannot be read nothing is written and no error is returned.
func (s *SyncService) SyncEvermarkVotingData(ctx context.Context, evermarkID string, cycle *uint64) (res *model.SyncResult, err error) {
	start := time.Now()
	defer func() { metrics.ObserveSync(OpSyncEvermark, start, err) }()

	if strings.TrimSpace(evermarkID) == "" {
		return nil, &ValidationError{Field: "evermark_id", Reason: "required"}
	}
	evermarkID, ok := model.CanonicalEvermarkID(evermarkID)
	if !ok {
		return nil, &ValidationError{Field: "evermark_id", Reason: "must be an unsigned decimal integer"}
	}

	c, ok := s.resolveCycle(ctx, cycle)
	if !ok {
		s.logger.Warn("current cycle unresolved, skipping evermark sync", zap.String("evermark_id", evermarkID))
		return skipped("current cycle could not be resolved; nothing written"), nil
	}
	log := s.logger.With(zap.String("evermark_id", evermarkID), zap.Uint64("cycle", c))

	votes := s.reader.GetEvermarkVotes(ctx, c, evermarkID)
	if votes == nil {
		log.Warn("evermark votes unavailable, skipping tally write")
		return skipped("evermark votes could not be read; nothing written"), nil
	}

	// Voter count is derived from the whole history, not the recent window.
	voters, scanErr := s.scanner.ScanVoters(ctx, c, evermarkID, chain.BlockRange{From: 0})
	if scanErr != nil {
		log.Warn("voter scan failed, skipping tally write", zap.Error(&ChainReadError{Op: "scan voters", Err: scanErr}))
		return skipped("voter scan failed; nothing written"), nil
	}

	if err := s.writer.UpsertTally(ctx, evermarkID, c, votes, int64(len(voters))); err != nil {
		return nil, &CacheWriteError{Op: "upsert tally", Err: err}
	}

	log.Info("tally synced", zap.String("total_votes", votes.String()), zap.Int("voter_count", len(voters)))
	return &model.SyncResult{Written: true, Message: "evermark voting data synced"}, nil
}

// SyncVotingCycleData rewrites the cycle row from getCycleInfo. Unlike the
// evermark sync, an unresolvable current cycle is reported as ErrCycleUnresolved.
func (s *SyncService) SyncVotingCycleData(ctx context.Context, cycle *uint64) (res *model.SyncResult, err error) {
	start := time.Now()
	defer func() { metrics.ObserveSync(OpSyncCycle, start, err) }()

	c, ok := s.resolveCycle(ctx, cycle)
	if !ok {
		return nil, ErrCycleUnresolved
	}

	info := s.reader.GetCycleInfo(ctx, c)
	if info == nil {
		s.logger.Warn("cycle info unavailable, skipping cycle write", zap.Uint64("cycle", c))
		return skipped("cycle info could not be read; nothing written"), nil
	}

	isActive := info.IsActiveAt(s.now())
	voters := clampInt64(info.TotalDelegations)
	active := clampInt64(info.ActiveEvermarksCount)
	update := cache.CycleUpdate{
		CycleNumber:          c,
		StartTime:            time.Unix(int64(info.StartTime), 0),
		EndTime:              time.Unix(int64(info.EndTime), 0),
		IsActive:             isActive,
		Finalized:            info.Finalized,
		TotalVotes:           info.TotalVotes,
		TotalVoters:          voters,
		ActiveEvermarksCount: active,
	}
	if err := s.writer.UpsertCycle(ctx, update); err != nil {
		return nil, &CacheWriteError{Op: "upsert cycle", Err: err}
	}

	s.logger.Info("cycle synced", zap.Uint64("cycle", c), zap.Bool("is_active", isActive), zap.Bool("finalized", info.Finalized))
	return &model.SyncResult{Written: true, Message: "voting cycle data synced"}, nil
}

// SyncRecentVotingEvents writes one UserVoteRecord per delegation in the last
// blockRange blocks. A failed write is logged and the batch continues. Tallies
// are not refreshed here; callers that need them run SyncEvermarkVotingData.
func (s *SyncService) SyncRecentVotingEvents(ctx context.Context, blockRange uint64) (res *model.BackfillResult, err error) {
	start := time.Now()
	defer func() { metrics.ObserveSync(OpSyncRecent, start, err) }()

	if blockRange == 0 {
		blockRange = DefaultRecentBlocks
	}

	head, headErr := s.heads.LatestBlock(ctx)
	if headErr != nil {
		s.logger.Warn("latest block unavailable, skipping backfill", zap.Error(&ChainReadError{Op: "latest block", Err: headErr}))
		return &model.BackfillResult{}, nil
	}

	var from uint64
	if head > blockRange {
		from = head - blockRange
	}
	res = &model.BackfillResult{FromBlock: from, ToBlock: head}
	window := chain.BlockRange{From: from, To: &head}

	events, scanErr := s.scanner.ScanRecent(ctx, window)
	if scanErr != nil {
		s.logger.Warn("recent scan failed, skipping backfill",
			zap.Stringer("range", window), zap.Error(&ChainReadError{Op: "scan recent", Err: scanErr}))
		return res, nil
	}
	res.Scanned = len(events)

	for i := range events {
		ev := events[i]
		if !ev.Complete() {
			res.Skipped++
			continue
		}

		var txHash *string
		if ev.TxHash != "" {
			txHash = &ev.TxHash
		}
		block := ev.BlockNumber
		if err := s.writer.UpsertUserVote(ctx, ev.User, ev.EvermarkID, ev.Cycle, ev.Amount, txHash, &block); err != nil {
			res.Failed++
			s.logger.Error("backfill write failed, continuing",
				zap.String("user", ev.User),
				zap.String("evermark_id", ev.EvermarkID),
				zap.Uint64("cycle", ev.Cycle),
				zap.String("tx_hash", ev.TxHash),
				zap.Uint64("block", ev.BlockNumber),
				zap.Error(err))
			continue
		}
		res.Written++
	}

	s.logger.Info("recent events synced",
		zap.Uint64("from_block", from), zap.Uint64("to_block", head),
		zap.Int("scanned", res.Scanned), zap.Int("written", res.Written),
		zap.Int("skipped", res.Skipped), zap.Int("failed", res.Failed))
	return res, nil
}

// IngestVoteCastWebhook stores a single pushed vote, then re-derives the
// evermark's tally from the chain.
func (s *SyncService) IngestVoteCastWebhook(ctx context.Context, p *model.VoteCastPayload) (res *model.SyncResult, err error) {
	start := time.Now()
	defer func() { metrics.ObserveSync(OpIngestVote, start, err) }()

	amount, err := ValidateVoteCast(p)
	if err != nil {
		return nil, err
	}

	cycle := *p.Cycle
	evermarkID, _ := model.CanonicalEvermarkID(p.EvermarkID)
	if err := s.writer.UpsertUserVote(ctx, p.UserAddress, evermarkID, cycle, amount, p.TransactionHash, p.BlockNumber); err != nil {
		return nil, &CacheWriteError{Op: "upsert user vote", Err: err}
	}

	if _, err := s.SyncEvermarkVotingData(ctx, evermarkID, &cycle); err != nil {
		return nil, err
	}
	return &model.SyncResult{Written: true, Message: "vote recorded"}, nil
}

// ValidateVoteCast checks a vote_cast payload and returns its parsed amount.
func ValidateVoteCast(p *model.VoteCastPayload) (*big.Int, error) {
	if p == nil {
		return nil, &ValidationError{Reason: "empty payload"}
	}
	if p.Type != voteCastType {
		return nil, &ValidationError{Field: "type", Reason: "must be " + voteCastType}
	}
	if strings.TrimSpace(p.EvermarkID) == "" {
		return nil, &ValidationError{Field: "evermarkId", Reason: "required"}
	}
	if _, ok := model.CanonicalEvermarkID(p.EvermarkID); !ok {
		return nil, &ValidationError{Field: "evermarkId", Reason: "must be an unsigned decimal integer"}
	}
	if strings.TrimSpace(p.UserAddress) == "" {
		return nil, &ValidationError{Field: "userAddress", Reason: "required"}
	}
	if p.Amount == "" {
		return nil, &ValidationError{Field: "amount", Reason: "required"}
	}
	if p.Cycle == nil {
		return nil, &ValidationError{Field: "cycle", Reason: "required"}
	}

	amount, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be a non-negative decimal integer"}
	}
	return amount, nil
}

func (s *SyncService) resolveCycle(ctx context.Context, cycle *uint64) (uint64, bool) {
	if cycle != nil {
		return *cycle, true
	}
	return s.reader.GetCurrentCycle(ctx)
}

func skipped(msg string) *model.SyncResult {
	return &model.SyncResult{Written: false, Message: msg}
}

func clampInt64(v *big.Int) *int64 {
	if v == nil {
		return nil
	}
	var n int64 = math.MaxInt64
	if v.IsInt64() {
		n = v.Int64()
	}
	return &n
}
