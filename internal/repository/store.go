package repository

import (
	"context"
	"errors"
	"time"

	"github.com/lvdashuaibi/evermark-sync/internal/model"
)

const (
	TableVotingCycles    = "voting_cycles"
	TableEvermarkTallies = "evermark_voting_cache"
	TableUserVotes       = "user_votes_cache"
)

var ErrNotFound = errors.New("record not found")

// Row maps column names to values.
type Row map[string]interface{}

// Filter is a conjunction of column equality predicates.
type Filter map[string]interface{}

// CacheStore is the generic upsert/count/select surface the sync engine writes through.
type CacheStore interface {
	// Upsert inserts row, or overwrites every non-key column of the row matching conflictKey.
	Upsert(ctx context.Context, table string, row Row, conflictKey []string) error
	Count(ctx context.Context, table string, filter Filter) (int64, error)
	// SelectLatest returns the first row ordered by orderBy descending, or nil when the table is empty.
	SelectLatest(ctx context.Context, table, orderBy string, limit int) (Row, error)
}

// CacheReader serves typed reads for the query API.
type CacheReader interface {
	GetTally(ctx context.Context, evermarkID string, cycle uint64) (*model.EvermarkCycleTally, error)
	ListUserVotes(ctx context.Context, evermarkID string, cycle uint64) ([]*model.UserVoteRecord, error)
	GetCycle(ctx context.Context, cycle uint64) (*model.VotingCycle, error)
}

// Store is implemented by every backend.
type Store interface {
	CacheStore
	CacheReader
	CreateSchema(ctx context.Context) error
	Close()
}

// TimeValue extracts a timestamp from a generic row value.
func TimeValue(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		return parseTimeString(t)
	case []byte:
		return parseTimeString(string(t))
	}
	return time.Time{}, false
}

func parseTimeString(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
