package repository

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/lvdashuaibi/evermark-sync/internal/model"
)

// MemoryStore is an in-process Store with the same upsert semantics as the
// SQL backends. It backs local runs and the package tests.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]map[string]Row

	// UpsertHook, when set, runs before every upsert; a non-nil error aborts it.
	UpsertHook func(table string, row Row) error
	// CountErr, when set, fails every Count on the given table.
	CountErr map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]map[string]Row)}
}

func (m *MemoryStore) CreateSchema(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() {}

func (m *MemoryStore) Upsert(ctx context.Context, table string, row Row, conflictKey []string) error {
	if len(row) == 0 || len(conflictKey) == 0 {
		return fmt.Errorf("upsert %s: empty row or conflict key", table)
	}
	parts := make([]string, len(conflictKey))
	for i, k := range conflictKey {
		v, ok := row[k]
		if !ok {
			return fmt.Errorf("upsert %s: conflict column %q missing from row", table, k)
		}
		parts[i] = fmt.Sprint(v)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpsertHook != nil {
		if err := m.UpsertHook(table, row); err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
	}

	t, ok := m.tables[table]
	if !ok {
		t = make(map[string]Row)
		m.tables[table] = t
	}
	key := strings.Join(parts, "|")
	merged := make(Row, len(row))
	for k, v := range t[key] {
		merged[k] = v
	}
	for k, v := range row {
		merged[k] = v
	}
	t[key] = merged
	return nil
}

func (m *MemoryStore) Count(ctx context.Context, table string, filter Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.CountErr[table]; err != nil {
		return 0, err
	}
	var n int64
	for _, row := range m.tables[table] {
		if matches(row, filter) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) SelectLatest(ctx context.Context, table, orderBy string, limit int) (Row, error) {
	rows := m.Rows(table)
	if len(rows) == 0 {
		return nil, nil
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ti, _ := TimeValue(rows[i][orderBy])
		tj, _ := TimeValue(rows[j][orderBy])
		return ti.After(tj)
	})
	return rows[0], nil
}

// Rows returns copies of every row in table.
func (m *MemoryStore) Rows(table string) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Row, 0, len(m.tables[table]))
	for _, row := range m.tables[table] {
		cp := make(Row, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

// Find returns the single row matching filter, or nil.
func (m *MemoryStore) Find(table string, filter Filter) Row {
	for _, row := range m.Rows(table) {
		if matches(row, filter) {
			return row
		}
	}
	return nil
}

func (m *MemoryStore) GetTally(ctx context.Context, evermarkID string, cycle uint64) (*model.EvermarkCycleTally, error) {
	row := m.Find(TableEvermarkTallies, Filter{"evermark_id": evermarkID, "cycle_number": cycle})
	if row == nil {
		return nil, ErrNotFound
	}
	t := &model.EvermarkCycleTally{EvermarkID: evermarkID, CycleNumber: cycle}
	t.TotalVotes, _ = row["total_votes"].(string)
	t.VoterCount, _ = row["voter_count"].(int64)
	t.LastUpdated, _ = TimeValue(row["last_updated"])
	return t, nil
}

func (m *MemoryStore) ListUserVotes(ctx context.Context, evermarkID string, cycle uint64) ([]*model.UserVoteRecord, error) {
	var votes []*model.UserVoteRecord
	for _, row := range m.Rows(TableUserVotes) {
		if !matches(row, Filter{"evermark_id": evermarkID, "cycle_number": cycle}) {
			continue
		}
		v := &model.UserVoteRecord{EvermarkID: evermarkID, CycleNumber: cycle}
		v.UserAddress, _ = row["user_address"].(string)
		v.VoteAmount, _ = row["vote_amount"].(string)
		if tx, ok := row["transaction_hash"].(string); ok {
			v.TransactionHash = &tx
		}
		if b, ok := row["block_number"].(uint64); ok {
			v.BlockNumber = &b
		}
		v.UpdatedAt, _ = TimeValue(row["updated_at"])
		votes = append(votes, v)
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].UserAddress < votes[j].UserAddress })
	return votes, nil
}

func (m *MemoryStore) GetCycle(ctx context.Context, cycle uint64) (*model.VotingCycle, error) {
	row := m.Find(TableVotingCycles, Filter{"cycle_number": cycle})
	if row == nil {
		return nil, ErrNotFound
	}
	c := &model.VotingCycle{CycleNumber: cycle}
	c.StartTime, _ = TimeValue(row["start_time"])
	c.EndTime, _ = TimeValue(row["end_time"])
	c.TotalVotes, _ = row["total_votes"].(string)
	c.TotalVoters, _ = row["total_voters"].(int64)
	c.ActiveEvermarksCount, _ = row["active_evermarks_count"].(int64)
	c.IsActive, _ = row["is_active"].(bool)
	c.Finalized, _ = row["finalized"].(bool)
	c.UpdatedAt, _ = TimeValue(row["updated_at"])
	return c, nil
}

func matches(row Row, filter Filter) bool {
	for k, want := range filter {
		if !reflect.DeepEqual(row[k], want) {
			return false
		}
	}
	return true
}
