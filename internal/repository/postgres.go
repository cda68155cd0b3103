package repository

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lvdashuaibi/evermark-sync/config"
	"github.com/lvdashuaibi/evermark-sync/internal/model"
)

// pgExecutor is the subset of *pgxpool.Pool the repository uses.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is the Postgres-backed Store.
type PostgresRepository struct {
	db    pgExecutor
	close func()
}

// NewPostgresRepository opens a pool on cfg.URL and checks it with a ping.
func NewPostgresRepository(ctx context.Context, cfg config.PostgresConfig) (*PostgresRepository, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresRepository{db: pool, close: pool.Close}, nil
}

// CreateSchema creates the cache tables and indexes if they are missing.
func (r *PostgresRepository) CreateSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, table string, row Row, conflictKey []string) error {
	query, args, err := postgresDialect.buildUpsert(table, row, conflictKey, true)
	if err != nil {
		return err
	}
	if args, err = pgArgs(args...); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func (r *PostgresRepository) Count(ctx context.Context, table string, filter Filter) (int64, error) {
	query, args, err := postgresDialect.buildCount(table, filter)
	if err != nil {
		return 0, err
	}
	if args, err = pgArgs(args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	var n int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (r *PostgresRepository) SelectLatest(ctx context.Context, table, orderBy string, limit int) (Row, error) {
	query, err := postgresDialect.buildSelectLatest(table, orderBy, limit)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select latest %s: %w", table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("select latest %s: %w", table, err)
		}
		return nil, nil
	}

	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	fields := rows.FieldDescriptions()
	row := make(Row, len(fields))
	for i, f := range fields {
		row[f.Name] = values[i]
	}
	return row, nil
}

func (r *PostgresRepository) GetTally(ctx context.Context, evermarkID string, cycle uint64) (*model.EvermarkCycleTally, error) {
	query := `SELECT evermark_id, cycle_number, total_votes, voter_count, last_updated
			  FROM evermark_voting_cache WHERE evermark_id = $1 AND cycle_number = $2`

	args, err := pgArgs(evermarkID, cycle)
	if err != nil {
		return nil, fmt.Errorf("get tally %s/%d: %w", evermarkID, cycle, err)
	}

	var t model.EvermarkCycleTally
	err = r.db.QueryRow(ctx, query, args...).Scan(
		&t.EvermarkID, &t.CycleNumber, &t.TotalVotes, &t.VoterCount, &t.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tally %s/%d: %w", evermarkID, cycle, err)
	}
	return &t, nil
}

func (r *PostgresRepository) ListUserVotes(ctx context.Context, evermarkID string, cycle uint64) ([]*model.UserVoteRecord, error) {
	query := `SELECT user_address, evermark_id, cycle_number, vote_amount, transaction_hash, block_number, updated_at
			  FROM user_votes_cache
			  WHERE evermark_id = $1 AND cycle_number = $2
			  ORDER BY user_address`

	args, err := pgArgs(evermarkID, cycle)
	if err != nil {
		return nil, fmt.Errorf("list user votes %s/%d: %w", evermarkID, cycle, err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list user votes %s/%d: %w", evermarkID, cycle, err)
	}
	defer rows.Close()

	var votes []*model.UserVoteRecord
	for rows.Next() {
		var (
			v     model.UserVoteRecord
			block *int64
		)
		if err := rows.Scan(&v.UserAddress, &v.EvermarkID, &v.CycleNumber, &v.VoteAmount, &v.TransactionHash, &block, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user vote: %w", err)
		}
		if block != nil {
			n := uint64(*block)
			v.BlockNumber = &n
		}
		votes = append(votes, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user votes: %w", err)
	}
	return votes, nil
}

func (r *PostgresRepository) GetCycle(ctx context.Context, cycle uint64) (*model.VotingCycle, error) {
	query := `SELECT cycle_number, start_time, end_time, total_votes, total_voters,
			  active_evermarks_count, is_active, finalized, updated_at
			  FROM voting_cycles WHERE cycle_number = $1`

	args, err := pgArgs(cycle)
	if err != nil {
		return nil, fmt.Errorf("get cycle %d: %w", cycle, err)
	}

	var c model.VotingCycle
	err = r.db.QueryRow(ctx, query, args...).Scan(
		&c.CycleNumber, &c.StartTime, &c.EndTime, &c.TotalVotes, &c.TotalVoters,
		&c.ActiveEvermarksCount, &c.IsActive, &c.Finalized, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get cycle %d: %w", cycle, err)
	}
	return &c, nil
}

func (r *PostgresRepository) Close() {
	if r.close != nil {
		r.close()
	}
}

// pgArgs maps uint64 values onto BIGINT, which is signed.
func pgArgs(args ...interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(args))
	for i, a := range args {
		u, ok := a.(uint64)
		if !ok {
			out[i] = a
			continue
		}
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("argument $%d: %d overflows BIGINT", i+1, u)
		}
		out[i] = int64(u)
	}
	return out, nil
}
