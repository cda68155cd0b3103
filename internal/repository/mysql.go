package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/lvdashuaibi/evermark-sync/config"
	"github.com/lvdashuaibi/evermark-sync/internal/model"
	"go.uber.org/zap"
)

// MySQLRepository writes to the master and serves reads from the slave.
type MySQLRepository struct {
	masterDB *sql.DB
	slaveDB  *sql.DB
}

func NewMySQLRepository(ctx context.Context, cfg config.MySQLConfig, logger *zap.Logger) (*MySQLRepository, error) {
	masterDB, err := openMySQL(ctx, cfg.Master, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect mysql master: %w", err)
	}

	slaveDB := masterDB
	if cfg.Slave != "" && cfg.Slave != cfg.Master {
		slaveDB, err = openMySQL(ctx, cfg.Slave, cfg)
		if err != nil {
			logger.Warn("mysql slave unavailable, reading from master", zap.Error(err))
			slaveDB = masterDB
		}
	}

	return NewMySQLRepositoryFromDB(masterDB, slaveDB), nil
}

// NewMySQLRepositoryFromDB wraps existing handles. slave may be nil.
func NewMySQLRepositoryFromDB(master, slave *sql.DB) *MySQLRepository {
	if slave == nil {
		slave = master
	}
	return &MySQLRepository{masterDB: master, slaveDB: slave}
}

func openMySQL(ctx context.Context, dsn string, cfg config.MySQLConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (r *MySQLRepository) CreateSchema(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := r.masterDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (r *MySQLRepository) Upsert(ctx context.Context, table string, row Row, conflictKey []string) error {
	query, args, err := mysqlDialect.buildUpsert(table, row, conflictKey, false)
	if err != nil {
		return err
	}
	if _, err := r.masterDB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func (r *MySQLRepository) Count(ctx context.Context, table string, filter Filter) (int64, error) {
	query, args, err := mysqlDialect.buildCount(table, filter)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.slaveDB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (r *MySQLRepository) SelectLatest(ctx context.Context, table, orderBy string, limit int) (Row, error) {
	query, err := mysqlDialect.buildSelectLatest(table, orderBy, limit)
	if err != nil {
		return nil, err
	}

	rows, err := r.slaveDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select latest %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("select latest %s: %w", table, err)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("select latest %s: %w", table, err)
		}
		return nil, nil
	}

	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}

	row := make(Row, len(cols))
	for i, c := range cols {
		// the driver hands back text columns as raw bytes
		if b, ok := values[i].([]byte); ok {
			row[c] = string(b)
			continue
		}
		row[c] = values[i]
	}
	return row, nil
}

func (r *MySQLRepository) GetTally(ctx context.Context, evermarkID string, cycle uint64) (*model.EvermarkCycleTally, error) {
	query := "SELECT evermark_id, cycle_number, total_votes, voter_count, last_updated FROM evermark_voting_cache WHERE evermark_id = ? AND cycle_number = ?"

	var t model.EvermarkCycleTally
	err := r.slaveDB.QueryRowContext(ctx, query, evermarkID, cycle).Scan(
		&t.EvermarkID, &t.CycleNumber, &t.TotalVotes, &t.VoterCount, &t.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tally %s/%d: %w", evermarkID, cycle, err)
	}
	return &t, nil
}

func (r *MySQLRepository) ListUserVotes(ctx context.Context, evermarkID string, cycle uint64) ([]*model.UserVoteRecord, error) {
	query := `SELECT user_address, evermark_id, cycle_number, vote_amount, transaction_hash, block_number, updated_at
			  FROM user_votes_cache
			  WHERE evermark_id = ? AND cycle_number = ?
			  ORDER BY user_address`

	rows, err := r.slaveDB.QueryContext(ctx, query, evermarkID, cycle)
	if err != nil {
		return nil, fmt.Errorf("list user votes %s/%d: %w", evermarkID, cycle, err)
	}
	defer rows.Close()

	var votes []*model.UserVoteRecord
	for rows.Next() {
		var (
			v     model.UserVoteRecord
			tx    sql.NullString
			block sql.NullInt64
		)
		if err := rows.Scan(&v.UserAddress, &v.EvermarkID, &v.CycleNumber, &v.VoteAmount, &tx, &block, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user vote: %w", err)
		}
		if tx.Valid {
			s := tx.String
			v.TransactionHash = &s
		}
		if block.Valid {
			n := uint64(block.Int64)
			v.BlockNumber = &n
		}
		votes = append(votes, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user votes: %w", err)
	}
	return votes, nil
}

func (r *MySQLRepository) GetCycle(ctx context.Context, cycle uint64) (*model.VotingCycle, error) {
	query := `SELECT cycle_number, start_time, end_time, total_votes, total_voters,
			  active_evermarks_count, is_active, finalized, updated_at
			  FROM voting_cycles WHERE cycle_number = ?`

	var c model.VotingCycle
	err := r.slaveDB.QueryRowContext(ctx, query, cycle).Scan(
		&c.CycleNumber, &c.StartTime, &c.EndTime, &c.TotalVotes, &c.TotalVoters,
		&c.ActiveEvermarksCount, &c.IsActive, &c.Finalized, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get cycle %d: %w", cycle, err)
	}
	return &c, nil
}

func (r *MySQLRepository) Close() {
	if r.masterDB != nil {
		r.masterDB.Close()
	}
	if r.slaveDB != nil && r.slaveDB != r.masterDB {
		r.slaveDB.Close()
	}
}
