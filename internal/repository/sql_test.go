package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpsert_MySQL(t *testing.T) {
	row := Row{"evermark_id": "42", "cycle_number": uint64(3), "total_votes": "100", "voter_count": 2}

	query, args, err := mysqlDialect.buildUpsert(TableEvermarkTallies, row, []string{"evermark_id", "cycle_number"}, false)
	require.NoError(t, err)

	assert.Equal(t,
		"INSERT INTO `evermark_voting_cache` (`cycle_number`, `evermark_id`, `total_votes`, `voter_count`) VALUES (?, ?, ?, ?)"+
			" ON DUPLICATE KEY UPDATE `total_votes` = VALUES(`total_votes`), `voter_count` = VALUES(`voter_count`)",
		query)
	assert.Equal(t, []interface{}{uint64(3), "42", "100", 2}, args)
}

func TestBuildUpsert_Postgres(t *testing.T) {
	row := Row{"cycle_number": uint64(3), "finalized": true}

	query, args, err := postgresDialect.buildUpsert(TableVotingCycles, row, []string{"cycle_number"}, true)
	require.NoError(t, err)

	assert.Equal(t,
		`INSERT INTO "voting_cycles" ("cycle_number", "finalized") VALUES ($1, $2)`+
			` ON CONFLICT ("cycle_number") DO UPDATE SET "finalized" = EXCLUDED."finalized"`,
		query)
	assert.Len(t, args, 2)
}

func TestBuildUpsert_KeyOnlyRow(t *testing.T) {
	row := Row{"cycle_number": uint64(1)}

	q, _, err := mysqlDialect.buildUpsert(TableVotingCycles, row, []string{"cycle_number"}, false)
	require.NoError(t, err)
	assert.Contains(t, q, "ON DUPLICATE KEY UPDATE `cycle_number` = `cycle_number`")

	q, _, err = postgresDialect.buildUpsert(TableVotingCycles, row, []string{"cycle_number"}, true)
	require.NoError(t, err)
	assert.Contains(t, q, `ON CONFLICT ("cycle_number") DO NOTHING`)
}

func TestBuildUpsert_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		table string
		row   Row
		key   []string
	}{
		{"empty row", TableVotingCycles, Row{}, []string{"cycle_number"}},
		{"no conflict key", TableVotingCycles, Row{"cycle_number": 1}, nil},
		{"key missing from row", TableVotingCycles, Row{"finalized": true}, []string{"cycle_number"}},
		{"bad table", "voting_cycles; DROP TABLE x", Row{"cycle_number": 1}, []string{"cycle_number"}},
		{"bad column", TableVotingCycles, Row{"cycle_number": 1, "a-b": 2}, []string{"cycle_number"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := mysqlDialect.buildUpsert(tt.table, tt.row, tt.key, false)
			assert.Error(t, err)
		})
	}
}

func TestBuildCount(t *testing.T) {
	q, args, err := mysqlDialect.buildCount(TableEvermarkTallies, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM `evermark_voting_cache`", q)
	assert.Empty(t, args)

	q, args, err = postgresDialect.buildCount(TableVotingCycles, Filter{"is_active": true, "finalized": false})
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "voting_cycles" WHERE "finalized" = $1 AND "is_active" = $2`, q)
	assert.Equal(t, []interface{}{false, true}, args)
}

func TestBuildSelectLatest(t *testing.T) {
	q, err := mysqlDialect.buildSelectLatest(TableEvermarkTallies, "last_updated", 0)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM `evermark_voting_cache` ORDER BY `last_updated` DESC LIMIT 1", q)

	_, err = mysqlDialect.buildSelectLatest(TableEvermarkTallies, "last_updated DESC; --", 1)
	assert.Error(t, err)
}
