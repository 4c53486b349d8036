package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// qualitySchedulerLockKey is an arbitrary, stable advisory-lock key shared
// by every quality scheduler instance so exactly one holds leadership at a
// time (§4.10). pg_advisory_lock keys are a plain bigint namespace, so any
// fixed constant not reused elsewhere in the schema is sufficient.
const qualitySchedulerLockKey = 918_273_645

// AdvisoryLeaderLock implements service.LeaderLock with a session-level
// Postgres advisory lock, held for one call to QualitySchedulerService.Run
// at a time. Grounded in the teacher's worker-singleton shape (the thumbs
// analyser's single long-lived consumer), generalised here to allow several
// scheduler processes to run for availability while only one is ever active.
//
// Session-level advisory locks are scoped to the backend connection that
// took them, so TryAcquire checks out and pins a single *pgxpool.Conn for
// the lifetime of the lock rather than using the pool directly.
type AdvisoryLeaderLock struct {
	pool *pgxpool.Pool
	key  int64
	conn *pgxpool.Conn
}

// NewAdvisoryLeaderLock creates an AdvisoryLeaderLock over the quality
// scheduler's fixed lock key.
func NewAdvisoryLeaderLock(pool *pgxpool.Pool) *AdvisoryLeaderLock {
	return &AdvisoryLeaderLock{pool: pool, key: qualitySchedulerLockKey}
}

var _ service.LeaderLock = (*AdvisoryLeaderLock)(nil)

// TryAcquire attempts a non-blocking session-level advisory lock on a
// single pinned connection.
func (l *AdvisoryLeaderLock) TryAcquire(ctx context.Context) (bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("repository.TryAcquire: acquire conn: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&acquired); err != nil {
		conn.Release()
		return false, fmt.Errorf("repository.TryAcquire: %w", err)
	}
	if !acquired {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Release unlocks the advisory lock and returns the pinned connection to
// the pool.
func (l *AdvisoryLeaderLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()

	var released bool
	if err := l.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, l.key).Scan(&released); err != nil {
		return fmt.Errorf("repository.Release: %w", err)
	}
	return nil
}
