package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	ETCD     ETCDConfig     `mapstructure:"etcd"`
	Lock     LockConfig     `mapstructure:"lock"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	SyncPath        string        `mapstructure:"sync_path"`
	GraphQLPath     string        `mapstructure:"graphql_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type StoreConfig struct {
	// mysql, postgres or memory (single process, nothing persisted)
	Driver string `mapstructure:"driver"`
}

type MySQLConfig struct {
	Master       string `mapstructure:"master"`
	Slave        string `mapstructure:"slave"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type RedisConfig struct {
	// Redis used for the tally read cache
	DataAddress string        `mapstructure:"data_address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
	TallyTTL    time.Duration `mapstructure:"tally_ttl"`

	// Redis nodes used by Redlock
	LockAddresses []string `mapstructure:"lock_addresses"`
}

type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	VoteTopic   string   `mapstructure:"vote_topic"`
	UpdateTopic string   `mapstructure:"update_topic"`
	GroupID     string   `mapstructure:"group_id"`
	Workers     int      `mapstructure:"workers"`
}

type ETCDConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type LockConfig struct {
	// etcd or redis
	Backend    string        `mapstructure:"backend"`
	TTL        time.Duration `mapstructure:"ttl"`
	RetryCount int           `mapstructure:"retry_count"`
}

type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	VotingContract string        `mapstructure:"voting_contract"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
}

type SyncConfig struct {
	RecentBlockRange uint64 `mapstructure:"recent_block_range"`
	SchedulerEnabled bool   `mapstructure:"scheduler_enabled"`
	RecentCron       string `mapstructure:"recent_cron"`
	CycleCron        string `mapstructure:"cycle_cron"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.sync_path", "/api/sync-voting")
	v.SetDefault("server.graphql_path", "/graphql")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")

	v.SetDefault("store.driver", "mysql")
	v.SetDefault("mysql.max_open_conns", 20)
	v.SetDefault("mysql.max_idle_conns", 5)
	v.SetDefault("postgres.max_conns", 10)

	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.timeout", 3*time.Second)
	v.SetDefault("redis.tally_ttl", time.Hour)

	v.SetDefault("kafka.vote_topic", "evermark-vote-cast")
	v.SetDefault("kafka.update_topic", "evermark-voting-cache-updates")
	v.SetDefault("kafka.group_id", "evermark-sync")
	v.SetDefault("kafka.workers", 4)

	v.SetDefault("etcd.dial_timeout", 5*time.Second)

	v.SetDefault("lock.backend", "etcd")
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("lock.retry_count", 3)

	v.SetDefault("chain.call_timeout", 15*time.Second)

	v.SetDefault("sync.recent_block_range", 1000)
	v.SetDefault("sync.scheduler_enabled", true)
	v.SetDefault("sync.recent_cron", "@every 1m")
	v.SetDefault("sync.cycle_cron", "@every 5m")
}

// LoadConfig loads the YAML file at configPath; environment variables such as
// CHAIN_RPC_URL override the matching keys.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings every deployment needs.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if c.Chain.VotingContract == "" {
		return fmt.Errorf("chain.voting_contract is required")
	}

	switch c.Store.Driver {
	case "mysql":
		if c.MySQL.Master == "" {
			return fmt.Errorf("mysql.master is required when store.driver is mysql")
		}
	case "postgres":
		if c.Postgres.URL == "" {
			return fmt.Errorf("postgres.url is required when store.driver is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported store.driver %q", c.Store.Driver)
	}

	switch c.Lock.Backend {
	case "etcd", "redis":
	default:
		return fmt.Errorf("unsupported lock.backend %q", c.Lock.Backend)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}

	if c.Sync.RecentBlockRange == 0 {
		return fmt.Errorf("sync.recent_block_range must be positive")
	}

	return nil
}
