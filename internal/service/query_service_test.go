package service

import (
	"context"
	"errors"
	"testing"

	"github.com/lvdashuaibi/evermark-sync/internal/model"
	"github.com/lvdashuaibi/evermark-sync/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mapTallyCache struct {
	entries map[string]*model.EvermarkCycleTally
	getErr  error
	sets    int
}

func (m *mapTallyCache) GetTally(ctx context.Context, id string, cycle uint64) (*model.EvermarkCycleTally, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	t, ok := m.entries[repository.TallyKey(id, cycle)]
	return t, ok, nil
}

func (m *mapTallyCache) SetTally(ctx context.Context, t *model.EvermarkCycleTally) error {
	m.sets++
	m.entries[repository.TallyKey(t.EvermarkID, t.CycleNumber)] = t
	return nil
}

func newQueryFixture(t *testing.T) (*QueryService, *repository.MemoryStore, *mapTallyCache) {
	t.Helper()
	store := repository.NewMemoryStore()
	tc := &mapTallyCache{entries: make(map[string]*model.EvermarkCycleTally)}
	svc := NewQueryService(store, tc, NewStatsReporter(store, zap.NewNop()), zap.NewNop())
	return svc, store, tc
}

func TestQueryService_TallyReadThrough(t *testing.T) {
	svc, store, tc := newQueryFixture(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, repository.TableEvermarkTallies, repository.Row{
		"evermark_id": "42", "cycle_number": uint64(3), "total_votes": "100", "voter_count": int64(2),
	}, []string{"evermark_id", "cycle_number"}))

	got, err := svc.Tally(ctx, "42", 3)
	require.NoError(t, err)
	assert.Equal(t, "100", got.TotalVotes)
	assert.Equal(t, 1, tc.sets)

	// second read is served from the cache
	require.NoError(t, store.Upsert(ctx, repository.TableEvermarkTallies, repository.Row{
		"evermark_id": "42", "cycle_number": uint64(3), "total_votes": "999",
	}, []string{"evermark_id", "cycle_number"}))
	got, err = svc.Tally(ctx, "42", 3)
	require.NoError(t, err)
	assert.Equal(t, "100", got.TotalVotes)
	assert.Equal(t, 1, tc.sets)
}

func TestQueryService_TallyAcceptsPaddedID(t *testing.T) {
	svc, store, _ := newQueryFixture(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, repository.TableEvermarkTallies, repository.Row{
		"evermark_id": "42", "cycle_number": uint64(3), "total_votes": "100", "voter_count": int64(2),
	}, []string{"evermark_id", "cycle_number"}))

	got, err := svc.Tally(ctx, "042", 3)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "42", got.EvermarkID)
}

func TestQueryService_TallyCacheErrorFallsBackToStore(t *testing.T) {
	svc, store, tc := newQueryFixture(t)
	tc.getErr = errors.New("redis down")
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, repository.TableEvermarkTallies, repository.Row{
		"evermark_id": "42", "cycle_number": uint64(3), "total_votes": "5",
	}, []string{"evermark_id", "cycle_number"}))

	got, err := svc.Tally(ctx, "42", 3)
	require.NoError(t, err)
	assert.Equal(t, "5", got.TotalVotes)
}

func TestQueryService_Missing(t *testing.T) {
	svc, _, tc := newQueryFixture(t)
	ctx := context.Background()

	tally, err := svc.Tally(ctx, "404", 1)
	require.NoError(t, err)
	assert.Nil(t, tally)
	assert.Zero(t, tc.sets)

	cycle, err := svc.Cycle(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, cycle)
}

func TestQueryService_UserVotesAndCycle(t *testing.T) {
	svc, store, _ := newQueryFixture(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, repository.TableUserVotes, repository.Row{
		"user_address": "0xabc", "evermark_id": "42", "cycle_number": uint64(3), "vote_amount": "100",
	}, []string{"user_address", "evermark_id", "cycle_number"}))
	require.NoError(t, store.Upsert(ctx, repository.TableVotingCycles, repository.Row{
		"cycle_number": uint64(3), "is_active": true, "total_votes": "100",
	}, []string{"cycle_number"}))

	votes, err := svc.UserVotes(ctx, "42", 3)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "0xabc", votes[0].UserAddress)

	c, err := svc.Cycle(ctx, 3)
	require.NoError(t, err)
	assert.True(t, c.IsActive)

	assert.Equal(t, model.CacheHealthy, svc.Stats(ctx).CacheHealth)
}
