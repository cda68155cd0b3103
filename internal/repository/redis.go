package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lvdashuaibi/evermark-sync/config"
	"github.com/lvdashuaibi/evermark-sync/internal/model"
)

const (
	// Redis key prefix for cached tallies: tally:<evermark_id>:<cycle>
	TallyKeyPrefix = "tally:"
	// Redis key prefix for the newest invalidated last_updated (unix ms) of a tally
	TallyMarkKeyPrefix = "tally_mark:"
)

// Raises the mark to ARGV[1] and drops the cached entry.
var invalidateScript = redis.NewScript(`
	local mark = tonumber(redis.call("GET", KEYS[2]) or "0")
	if tonumber(ARGV[1]) > mark then
		redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[2])
	end
	return redis.call("DEL", KEYS[1])
`)

// Stores ARGV[1] unless the row it came from (ARGV[2]) is older than the mark.
var fillScript = redis.NewScript(`
	local mark = redis.call("GET", KEYS[2])
	if mark and tonumber(ARGV[2]) < tonumber(mark) then
		return 0
	end
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
	return 1
`)

// redisClient is the subset of *redis.Client the tally cache uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd
	ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd
	ScriptLoad(ctx context.Context, script string) *redis.StringCmd
	Close() error
}

// RedisRepository is a read-through cache in front of the tally table.
// It is never authoritative: entries are dropped whenever the row changes,
// and a fill read from a row older than the last invalidation is refused.
type RedisRepository struct {
	client redisClient
	ttl    time.Duration
}

func NewRedisRepository(ctx context.Context, cfg config.RedisConfig) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.DataAddress,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.DataAddress, err)
	}

	return newRedisRepository(client, cfg.TallyTTL), nil
}

// newRedisRepository wraps an existing client; ttl defaults to an hour.
func newRedisRepository(client redisClient, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisRepository{client: client, ttl: ttl}
}

// TallyKey is the cache key of one tally.
func TallyKey(evermarkID string, cycle uint64) string {
	return TallyKeyPrefix + evermarkID + ":" + strconv.FormatUint(cycle, 10)
}

// TallyMarkKey holds the last_updated of the newest row that invalidated TallyKey.
func TallyMarkKey(evermarkID string, cycle uint64) string {
	return TallyMarkKeyPrefix + evermarkID + ":" + strconv.FormatUint(cycle, 10)
}

// GetTally returns the cached tally and whether it was a hit.
func (r *RedisRepository) GetTally(ctx context.Context, evermarkID string, cycle uint64) (*model.EvermarkCycleTally, bool, error) {
	data, err := r.client.Get(ctx, TallyKey(evermarkID, cycle)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get cached tally: %w", err)
	}

	var t model.EvermarkCycleTally
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, false, fmt.Errorf("decode cached tally: %w", err)
	}
	return &t, true, nil
}

// SetTally fills the cache from a row read out of the store. A row older than
// the last invalidation of its key was read before a newer write landed and is
// not cached. Timestamps compare at millisecond precision, the precision the
// SQL backends keep.
func (r *RedisRepository) SetTally(ctx context.Context, t *model.EvermarkCycleTally) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tally: %w", err)
	}
	keys := []string{TallyKey(t.EvermarkID, t.CycleNumber), TallyMarkKey(t.EvermarkID, t.CycleNumber)}
	err = fillScript.Run(ctx, r.client, keys, string(data), t.LastUpdated.UnixMilli(), r.ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("set cached tally: %w", err)
	}
	return nil
}

// DeleteTally drops the cached entry without touching its mark.
func (r *RedisRepository) DeleteTally(ctx context.Context, evermarkID string, cycle uint64) error {
	if err := r.client.Del(ctx, TallyKey(evermarkID, cycle)).Err(); err != nil {
		return fmt.Errorf("delete cached tally: %w", err)
	}
	return nil
}

// Notify drops the cached entry when its tally row has been rewritten and
// records the new row's timestamp so slower readers cannot refill the old one.
func (r *RedisRepository) Notify(ctx context.Context, ev model.CacheUpdateEvent) error {
	if ev.Kind != model.UpdateKindTally {
		return nil
	}
	keys := []string{TallyKey(ev.EvermarkID, ev.CycleNumber), TallyMarkKey(ev.EvermarkID, ev.CycleNumber)}
	err := invalidateScript.Run(ctx, r.client, keys, ev.UpdatedAt.UnixMilli(), r.ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("invalidate cached tally: %w", err)
	}
	return nil
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}
