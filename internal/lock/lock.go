package lock

import (
	"context"
	"time"
)

// Locker is a named, expiring, cross-instance mutual exclusion primitive.
type Locker interface {
	// TryLock makes one attempt to take name for ttl. It reports false, with
	// no error, when another holder has it.
	TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error)

	// Unlock releases name if this instance holds it.
	Unlock(ctx context.Context, name string) error

	// Close releases every held lock and the underlying clients.
	Close() error
}

func quorum(n int) int {
	return n/2 + 1
}
