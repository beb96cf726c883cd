package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Extender is implemented by locks whose hold can be prolonged while a
// long-running operation (a fleet scan) is still making progress.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// NewLock creates a lock using the best available backend. Redis is
// preferred for cross-host locking; a PostgreSQL advisory lock is the
// fallback; with neither, the lock only guards within this process.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	if db != nil {
		return NewPGAdvisoryLock(db, key)
	}
	return NewLocalLock()
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// Uses pg_try_advisory_lock / pg_advisory_unlock which are session-scoped.
// The lock is automatically released if the DB connection drops, providing
// crash-safety similar to Redis TTL expiration.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks. The
// lock is session-scoped, so the connection it was taken on is pinned for
// the lock's lifetime; acquiring and unlocking through the pool at large
// would land on different sessions and strand the lock on an idle one.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn // non-nil while the lock is held
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
// Uses pg_try_advisory_lock which returns immediately (non-blocking).
// Not reentrant: a second Acquire while held returns false.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return false, nil
	}
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

// Release unlocks on the pinned connection and returns it to the pool.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	var released bool
	err := l.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID).Scan(&released)
	if cerr := l.conn.Close(); err == nil {
		err = cerr
	}
	l.conn = nil
	return err
}

// =============================================================================
// Local lock (single-process deployments and tests)
// =============================================================================

// LocalLock implements DistLock with an in-process atomic flag. It gives
// the same single-flight semantics as the other backends but only within
// one process.
type LocalLock struct {
	held atomic.Bool
}

// NewLocalLock creates an in-process lock.
func NewLocalLock() *LocalLock { return &LocalLock{} }

// Acquire takes the flag if it is free.
func (l *LocalLock) Acquire(ctx context.Context) (bool, error) {
	return l.held.CompareAndSwap(false, true), nil
}

// Release frees the flag.
func (l *LocalLock) Release(ctx context.Context) error {
	l.held.Store(false)
	return nil
}
