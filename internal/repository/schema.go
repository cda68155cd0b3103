package repository

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS voting_cycles (
		cycle_number BIGINT UNSIGNED NOT NULL,
		start_time DATETIME NOT NULL,
		end_time DATETIME NOT NULL,
		total_votes VARCHAR(78) NOT NULL DEFAULT '0',
		total_voters BIGINT NOT NULL DEFAULT 0,
		active_evermarks_count BIGINT NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		finalized BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at DATETIME(3) NOT NULL,
		PRIMARY KEY (cycle_number),
		INDEX idx_voting_cycles_active (is_active)
	)`,
	`CREATE TABLE IF NOT EXISTS evermark_voting_cache (
		evermark_id VARCHAR(78) NOT NULL,
		cycle_number BIGINT UNSIGNED NOT NULL,
		total_votes VARCHAR(78) NOT NULL DEFAULT '0',
		voter_count BIGINT NOT NULL DEFAULT 0,
		last_updated DATETIME(3) NOT NULL,
		PRIMARY KEY (evermark_id, cycle_number),
		INDEX idx_evermark_voting_cache_updated (last_updated)
	)`,
	`CREATE TABLE IF NOT EXISTS user_votes_cache (
		user_address VARCHAR(42) NOT NULL,
		evermark_id VARCHAR(78) NOT NULL,
		cycle_number BIGINT UNSIGNED NOT NULL,
		vote_amount VARCHAR(78) NOT NULL DEFAULT '0',
		transaction_hash VARCHAR(66) NULL,
		block_number BIGINT UNSIGNED NULL,
		updated_at DATETIME(3) NOT NULL,
		PRIMARY KEY (user_address, evermark_id, cycle_number),
		INDEX idx_user_votes_cache_evermark (evermark_id, cycle_number)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS voting_cycles (
		cycle_number BIGINT PRIMARY KEY,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		total_votes TEXT NOT NULL DEFAULT '0',
		total_voters BIGINT NOT NULL DEFAULT 0,
		active_evermarks_count BIGINT NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		finalized BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_voting_cycles_active ON voting_cycles (is_active)`,
	`CREATE TABLE IF NOT EXISTS evermark_voting_cache (
		evermark_id TEXT NOT NULL,
		cycle_number BIGINT NOT NULL,
		total_votes TEXT NOT NULL DEFAULT '0',
		voter_count BIGINT NOT NULL DEFAULT 0,
		last_updated TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (evermark_id, cycle_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_evermark_voting_cache_updated ON evermark_voting_cache (last_updated)`,
	`CREATE TABLE IF NOT EXISTS user_votes_cache (
		user_address TEXT NOT NULL,
		evermark_id TEXT NOT NULL,
		cycle_number BIGINT NOT NULL,
		vote_amount TEXT NOT NULL DEFAULT '0',
		transaction_hash TEXT,
		block_number BIGINT,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_address, evermark_id, cycle_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_votes_cache_evermark ON user_votes_cache (evermark_id, cycle_number)`,
}
