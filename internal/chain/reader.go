package chain

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/lvdashuaibi/evermark-sync/internal/model"
	"go.uber.org/zap"
)

// Reader is typed, read-only access to the voting contract. Every read failure is
// logged and surfaced as "not resolved" rather than an error; no read is retried.
type Reader interface {
	GetCurrentCycle(ctx context.Context) (uint64, bool)
	GetCycleInfo(ctx context.Context, cycle uint64) *model.CycleInfo
	GetEvermarkVotes(ctx context.Context, cycle uint64, evermarkID string) *big.Int
}

// ContractReader implements Reader over a Provider.
type ContractReader struct {
	provider Provider
	logger   *zap.Logger
}

// NewContractReader returns a Reader that calls the voting contract through provider.
func NewContractReader(provider Provider, logger *zap.Logger) *ContractReader {
	return &ContractReader{
		provider: provider,
		logger:   logger.With(zap.String("component", "chain_reader")),
	}
}

// GetCurrentCycle returns the contract's current cycle number.
func (r *ContractReader) GetCurrentCycle(ctx context.Context) (uint64, bool) {
	out, err := r.provider.ReadContract(ctx, MethodGetCurrentCycle)
	if err != nil {
		r.logger.Warn("read current cycle failed", zap.Error(err))
		return 0, false
	}

	cycle, err := uint64At(out, 0)
	if err != nil {
		r.logger.Warn("decode current cycle failed", zap.Error(err))
		return 0, false
	}
	return cycle, true
}

// GetCycleInfo returns the contract's metadata for cycle, or nil.
func (r *ContractReader) GetCycleInfo(ctx context.Context, cycle uint64) *model.CycleInfo {
	out, err := r.provider.ReadContract(ctx, MethodGetCycleInfo, new(big.Int).SetUint64(cycle))
	if err != nil {
		r.logger.Warn("read cycle info failed", zap.Uint64("cycle", cycle), zap.Error(err))
		return nil
	}

	info, err := decodeCycleInfo(out)
	if err != nil {
		r.logger.Warn("decode cycle info failed", zap.Uint64("cycle", cycle), zap.Error(err))
		return nil
	}
	return info
}

// GetEvermarkVotes returns the cumulative delegated amount for one evermark in one cycle, or nil.
func (r *ContractReader) GetEvermarkVotes(ctx context.Context, cycle uint64, evermarkID string) *big.Int {
	id, ok := new(big.Int).SetString(evermarkID, 10)
	if !ok || id.Sign() < 0 {
		r.logger.Warn("evermark id is not an unsigned integer", zap.String("evermark_id", evermarkID))
		return nil
	}

	out, err := r.provider.ReadContract(ctx, MethodGetEvermarkVotes, new(big.Int).SetUint64(cycle), id)
	if err != nil {
		r.logger.Warn("read evermark votes failed",
			zap.String("evermark_id", evermarkID), zap.Uint64("cycle", cycle), zap.Error(err))
		return nil
	}

	votes, err := bigAt(out, 0)
	if err != nil {
		r.logger.Warn("decode evermark votes failed",
			zap.String("evermark_id", evermarkID), zap.Uint64("cycle", cycle), zap.Error(err))
		return nil
	}
	return votes
}

func decodeCycleInfo(out []interface{}) (*model.CycleInfo, error) {
	if len(out) < 6 {
		return nil, fmt.Errorf("expected 6 outputs, got %d", len(out))
	}

	start, err := unixAt(out, 0)
	if err != nil {
		return nil, fmt.Errorf("startTime: %w", err)
	}
	end, err := unixAt(out, 1)
	if err != nil {
		return nil, fmt.Errorf("endTime: %w", err)
	}
	totalVotes, err := bigAt(out, 2)
	if err != nil {
		return nil, fmt.Errorf("totalVotes: %w", err)
	}
	totalDelegations, err := bigAt(out, 3)
	if err != nil {
		return nil, fmt.Errorf("totalDelegations: %w", err)
	}
	finalized, ok := out[4].(bool)
	if !ok {
		return nil, fmt.Errorf("finalized: unexpected type %T", out[4])
	}
	active, err := bigAt(out, 5)
	if err != nil {
		return nil, fmt.Errorf("activeEvermarksCount: %w", err)
	}

	return &model.CycleInfo{
		StartTime:            start,
		EndTime:              end,
		TotalVotes:           totalVotes,
		TotalDelegations:     totalDelegations,
		Finalized:            finalized,
		ActiveEvermarksCount: active,
	}, nil
}

// unixAt reads a unix timestamp; values past int64 have no time.Time form.
func unixAt(out []interface{}, i int) (uint64, error) {
	v, err := uint64At(out, i)
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("output %d: timestamp %d out of range", i, v)
	}
	return v, nil
}

func bigAt(out []interface{}, i int) (*big.Int, error) {
	if i >= len(out) {
		return nil, fmt.Errorf("missing output %d", i)
	}
	v, ok := out[i].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("output %d: unexpected type %T", i, out[i])
	}
	return new(big.Int).Set(v), nil
}

func uint64At(out []interface{}, i int) (uint64, error) {
	v, err := bigAt(out, i)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("output %d: %s overflows uint64", i, v)
	}
	return v.Uint64(), nil
}
