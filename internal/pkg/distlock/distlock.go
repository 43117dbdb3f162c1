// Package distlock provides the cross-process locks used to keep singleton
// work (queue recovery sweeps, schema migrations) to one runner at a time.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"time"
)

// ErrNotAcquired is returned by Run when another holder owns the lock.
var ErrNotAcquired = errors.New("distlock: lock held elsewhere")

// Locker is the interface for distributed locking.
// A Locker instance represents one prospective owner; concurrent owners
// need separate instances.
type Locker interface {
	// TryAcquire attempts the lock without blocking. Returns true if acquired.
	TryAcquire(ctx context.Context) (bool, error)
	// Release releases the lock if this instance still owns it.
	Release(ctx context.Context) error
}

// Leaser is a Locker whose hold lapses after TTL unless it is extended.
type Leaser interface {
	Locker
	TTL() time.Duration
	Extend(ctx context.Context, ttl time.Duration) error
}

// Run acquires l, runs fn, and releases l. It returns ErrNotAcquired
// without calling fn when the lock is already held.
//
// A Leaser is extended every TTL/3 while fn runs. If an extension fails the
// lock may already belong to someone else, so fn's context is cancelled.
func Run(ctx context.Context, l Locker, fn func(ctx context.Context) error) error {
	ok, err := l.TryAcquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	defer func() {
		// Release on a fresh context; ctx may already be cancelled.
		_ = l.Release(context.Background())
	}()

	if ls, ok := l.(Leaser); ok && ls.TTL() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := keepAlive(ctx, cancel, ls)
		defer stop()
	}
	return fn(ctx)
}

// keepAlive extends l until stop is called or ctx ends. lost is called when
// an extension fails.
func keepAlive(ctx context.Context, lost context.CancelFunc, l Leaser) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		ticker := time.NewTicker(l.TTL() / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Extend(ctx, l.TTL()); err != nil {
					lost()
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

// =============================================================================
// PostgreSQL Advisory Lock
// =============================================================================
// pg_try_advisory_lock is session-scoped, so the lock must be taken and
// released on the same pooled connection. The lock goes away with the
// connection if the process dies.

// AdvisoryLock implements Locker using PostgreSQL advisory locks.
type AdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewAdvisoryLock creates an advisory lock whose ID is derived from key.
func NewAdvisoryLock(db *sql.DB, key string) *AdvisoryLock {
	return &AdvisoryLock{db: db, lockID: KeyID(key)}
}

// KeyID hashes a lock name into the int64 space advisory locks use.
func KeyID(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}

func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *AdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.conn.Close()
	l.conn = nil
	return err
}
