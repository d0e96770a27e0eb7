package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stellune/credits-service/internal/infrastructure/observability"
	pkgerrors "github.com/stellune/credits-service/pkg/errors"
)

// LocalLocker serializes per-key sections within one process. It is an
// explicit injectable component, not package state, so tests can run
// independent instances. Entries are reference-counted and removed as soon
// as the last waiter leaves, bounding the table to the set of active keys.
type LocalLocker struct {
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	token chan struct{}
	refs  int
}

func NewLocalLocker(timeout time.Duration) *LocalLocker {
	return &LocalLocker{
		timeout: timeout,
		entries: make(map[string]*localEntry),
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, key Key) (*Lease, error) {
	name := key.String()

	l.mu.Lock()
	e, ok := l.entries[name]
	if !ok {
		e = &localEntry{token: make(chan struct{}, 1)}
		e.token <- struct{}{}
		l.entries[name] = e
	}
	e.refs++
	l.mu.Unlock()

	start := time.Now()
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case <-e.token:
		observability.LockWaitDuration.WithLabelValues(string(key.Kind)).Observe(time.Since(start).Seconds())
		return &Lease{key: key, release: func(context.Context) error {
			e.token <- struct{}{}
			l.drop(name, e)
			return nil
		}}, nil
	case <-timer.C:
		l.drop(name, e)
		observability.LockTimeouts.WithLabelValues(string(key.Kind)).Inc()
		return nil, fmt.Errorf("%w: %s after %s", pkgerrors.ErrLockTimeout, name, l.timeout)
	case <-ctx.Done():
		l.drop(name, e)
		return nil, fmt.Errorf("%w: %s: %v", pkgerrors.ErrLockTimeout, name, ctx.Err())
	}
}

func (l *LocalLocker) drop(name string, e *localEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, name)
	}
	l.mu.Unlock()
}

func (l *LocalLocker) Close() error { return nil }
