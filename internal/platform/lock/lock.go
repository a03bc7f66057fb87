// Package lock provides the run-level lock that keeps a single writer per
// shadow database.
package lock

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/bsm/redislock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained is returned when another run already holds the lock.
var ErrNotObtained = errors.New("run lock held by another process")

// Lease is a held lock.
type Lease interface {
	// Refresh extends the lease; backends without expiry treat it as a no-op.
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// Locker obtains leases keyed by name.
type Locker interface {
	Obtain(ctx context.Context, key string) (Lease, error)
}

// -- none --

type noopLocker struct{}

// NewNoop returns a Locker that always succeeds.
func NewNoop() Locker { return noopLocker{} }

func (noopLocker) Obtain(context.Context, string) (Lease, error) { return noopLease{}, nil }

type noopLease struct{}

func (noopLease) Refresh(context.Context) error { return nil }
func (noopLease) Release(context.Context) error { return nil }

// -- postgres advisory lock --

type advisoryLocker struct {
	pool *pgxpool.Pool
}

// NewAdvisory returns a Locker backed by pg_try_advisory_lock on a dedicated
// connection from pool. The lock lives as long as that session.
func NewAdvisory(pool *pgxpool.Pool) Locker {
	return &advisoryLocker{pool: pool}
}

// AdvisoryKey hashes a lock name into the bigint space used by pg advisory locks.
func AdvisoryKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

func (l *advisoryLocker) Obtain(ctx context.Context, key string) (Lease, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock conn: %w", err)
	}

	id := AdvisoryKey(key)
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, ErrNotObtained
	}
	return &advisoryLease{conn: conn, id: id}, nil
}

type advisoryLease struct {
	conn *pgxpool.Conn
	id   int64
}

func (l *advisoryLease) Refresh(context.Context) error { return nil }

func (l *advisoryLease) Release(ctx context.Context) error {
	defer l.conn.Release()
	if _, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.id); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}

// -- redis --

type redisLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

// NewRedis returns a Locker backed by redislock with the given lease TTL.
func NewRedis(rdb redis.UniversalClient, ttl time.Duration) Locker {
	return &redisLocker{client: redislock.New(rdb), ttl: ttl}
}

func (l *redisLocker) Obtain(ctx context.Context, key string) (Lease, error) {
	lk, err := l.client.Obtain(ctx, fmt.Sprintf("lock:%s", key), l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("obtain redis lock: %w", err)
	}
	return &redisLease{lock: lk, ttl: l.ttl}, nil
}

type redisLease struct {
	lock *redislock.Lock
	ttl  time.Duration
}

func (l *redisLease) Refresh(ctx context.Context) error {
	if err := l.lock.Refresh(ctx, l.ttl, nil); err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return ErrNotObtained
		}
		return fmt.Errorf("refresh redis lock: %w", err)
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return fmt.Errorf("release redis lock: %w", err)
	}
	return nil
}
