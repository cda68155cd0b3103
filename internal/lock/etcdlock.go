package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lvdashuaibi/evermark-sync/config"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const etcdKeyPrefix = "/locks/"

// EtcdLock holds each lock as a key bound to a kept-alive lease.
type EtcdLock struct {
	client *clientv3.Client
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	leaseID clientv3.LeaseID
	key     string
	cancel  context.CancelFunc
}

func NewETCDLock(cfg config.ETCDConfig, logger *zap.Logger) (*EtcdLock, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create etcd client: %w", err)
	}

	return &EtcdLock{
		client: cli,
		logger: logger.With(zap.String("component", "etcd_lock")),
		locks:  make(map[string]*lockEntry),
	}, nil
}

func (el *EtcdLock) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	if _, ok := el.locks[name]; ok {
		return false, fmt.Errorf("lock %s already held by this instance", name)
	}

	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	key := etcdKeyPrefix + name
	grant, err := el.client.Grant(ctx, seconds)
	if err != nil {
		return false, fmt.Errorf("grant lease: %w", err)
	}

	resp, err := el.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, "", clientv3.WithLease(grant.ID))).
		Commit()
	if err != nil {
		el.client.Revoke(context.Background(), grant.ID)
		return false, fmt.Errorf("lock txn: %w", err)
	}
	if !resp.Succeeded {
		el.client.Revoke(context.Background(), grant.ID)
		return false, nil
	}

	keepCtx, cancel := context.WithCancel(context.Background())
	go el.keepAlive(keepCtx, name, grant.ID, ttl)

	el.locks[name] = &lockEntry{leaseID: grant.ID, key: key, cancel: cancel}
	return true, nil
}

func (el *EtcdLock) Unlock(ctx context.Context, name string) error {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.release(ctx, name)
}

func (el *EtcdLock) Close() error {
	el.mu.Lock()
	for name := range el.locks {
		if err := el.release(context.Background(), name); err != nil {
			el.logger.Warn("release lock on close failed", zap.String("lock", name), zap.Error(err))
		}
	}
	el.mu.Unlock()
	return el.client.Close()
}

func (el *EtcdLock) keepAlive(ctx context.Context, name string, id clientv3.LeaseID, ttl time.Duration) {
	interval := ttl / 2
	if interval < 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := el.client.KeepAliveOnce(ctx, id); err != nil {
				if errors.Is(err, rpctypes.ErrLeaseNotFound) {
					el.logger.Warn("lease expired, lock lost", zap.String("lock", name))
				} else if ctx.Err() == nil {
					el.logger.Warn("lease keepalive failed", zap.String("lock", name), zap.Error(err))
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// release must be called with el.mu held.
func (el *EtcdLock) release(ctx context.Context, name string) error {
	entry, ok := el.locks[name]
	if !ok {
		return nil
	}
	entry.cancel()
	delete(el.locks, name)

	if _, err := el.client.Delete(ctx, entry.key); err != nil {
		return fmt.Errorf("delete lock key: %w", err)
	}
	// An expired lease has already dropped the key.
	if _, err := el.client.Revoke(ctx, entry.leaseID); err != nil && !errors.Is(err, rpctypes.ErrLeaseNotFound) {
		return fmt.Errorf("revoke lease: %w", err)
	}
	return nil
}
