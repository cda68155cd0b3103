package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lvdashuaibi/evermark-sync/config"
	"go.uber.org/zap"
)

// Deletes the key only if it still carries our token.
var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

type redisNode interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd
	ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd
	ScriptLoad(ctx context.Context, script string) *redis.StringCmd
	Close() error
}

// RedLock takes a lock on a majority of independent Redis nodes.
type RedLock struct {
	nodes   []redisNode
	addrs   []string
	retries int
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]string // lock name -> token
}

func NewRedLock(ctx context.Context, redisCfg config.RedisConfig, lockCfg config.LockConfig, logger *zap.Logger) (*RedLock, error) {
	if len(redisCfg.LockAddresses) == 0 {
		return nil, fmt.Errorf("redis.lock_addresses is empty")
	}

	nodes := make([]redisNode, 0, len(redisCfg.LockAddresses))
	for _, addr := range redisCfg.LockAddresses {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     redisCfg.Password,
			DB:           redisCfg.DB,
			PoolSize:     redisCfg.PoolSize,
			MaxRetries:   redisCfg.MaxRetries,
			DialTimeout:  redisCfg.Timeout,
			ReadTimeout:  redisCfg.Timeout,
			WriteTimeout: redisCfg.Timeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			for _, n := range nodes {
				n.Close()
			}
			return nil, fmt.Errorf("ping lock node %s: %w", addr, err)
		}
		nodes = append(nodes, client)
	}

	return newRedLock(nodes, redisCfg.LockAddresses, lockCfg.RetryCount, logger), nil
}

func newRedLock(nodes []redisNode, addrs []string, retries int, logger *zap.Logger) *RedLock {
	if retries <= 0 {
		retries = 1
	}
	return &RedLock{
		nodes:   nodes,
		addrs:   addrs,
		retries: retries,
		logger:  logger.With(zap.String("component", "redlock")),
		locks:   make(map[string]string),
	}
}

func (r *RedLock) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()

	for attempt := 0; attempt < r.retries; attempt++ {
		start := time.Now()
		acquired := 0
		for i, node := range r.nodes {
			ok, err := node.SetNX(ctx, name, token, ttl).Result()
			if err != nil {
				r.logger.Warn("lock node unavailable", zap.String("node", r.addrs[i]), zap.String("lock", name), zap.Error(err))
				continue
			}
			if ok {
				acquired++
			}
		}

		if acquired >= quorum(len(r.nodes)) && time.Since(start) < ttl {
			r.mu.Lock()
			r.locks[name] = token
			r.mu.Unlock()
			return true, nil
		}

		r.unlockAll(ctx, name, token)

		if attempt+1 < r.retries {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
	return false, nil
}

func (r *RedLock) Unlock(ctx context.Context, name string) error {
	r.mu.Lock()
	token, ok := r.locks[name]
	delete(r.locks, name)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	r.unlockAll(ctx, name, token)
	return nil
}

func (r *RedLock) unlockAll(ctx context.Context, name, token string) {
	for i, node := range r.nodes {
		if err := unlockScript.Run(ctx, node, []string{name}, token).Err(); err != nil && err != redis.Nil {
			r.logger.Warn("unlock on node failed", zap.String("node", r.addrs[i]), zap.String("lock", name), zap.Error(err))
		}
	}
}

func (r *RedLock) Close() error {
	r.mu.Lock()
	held := r.locks
	r.locks = make(map[string]string)
	r.mu.Unlock()

	for name, token := range held {
		r.unlockAll(context.Background(), name, token)
	}
	for i, node := range r.nodes {
		if err := node.Close(); err != nil {
			r.logger.Warn("close lock node failed", zap.String("node", r.addrs[i]), zap.Error(err))
		}
	}
	return nil
}
