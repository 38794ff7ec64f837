package ports

import (
	"context"
	"time"
)

// Lease is an exclusive, expiring claim on a key.
type Lease interface {
	// Refresh extends the lease by its original TTL. It fails with
	// domain.ErrLockHeld if the lease was lost.
	Refresh(ctx context.Context) error

	// Release gives the lease up. Safe to call more than once.
	Release()
}

// Locker hands out leases so a position is driven by one worker at a time,
// also across processes.
type Locker interface {
	// Acquire fails with domain.ErrLockHeld when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
