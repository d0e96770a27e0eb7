// Package lock provides named per-key mutual exclusion. Every balance
// mutation in the service layer runs inside one of these critical sections;
// operations on distinct keys proceed in parallel.
package lock

import (
	"context"
)

// Lease is a held lock. Release is safe to call once; a distributed lease
// also expires on its own after the safety TTL if the holder crashes.
type Lease struct {
	key     Key
	release func(ctx context.Context) error
}

func (l *Lease) Key() Key { return l.key }

func (l *Lease) Release(ctx context.Context) error {
	return l.release(ctx)
}

// Locker acquires leases with a bounded wait. A wait that exceeds the
// configured timeout fails with errors.ErrLockTimeout, which is retryable
// and must never be treated as a business failure.
type Locker interface {
	Acquire(ctx context.Context, key Key) (*Lease, error)
	Close() error
}
