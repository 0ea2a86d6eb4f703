package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/photofinder/internal/config"
)

// photoLockSpace is the first key of every photo advisory lock, keeping them
// apart from other users of pg_advisory_lock on the same database.
const photoLockSpace = 0x70686f74 // "phot"

const unlockTimeout = 5 * time.Second

// AdvisoryLocks serialises work on a photo across every process connected to
// the same database. Each held lock pins one connection from its own pool: a
// session advisory lock lives on the connection that took it, and a separate
// pool keeps lock holders from starving the metadata writes they guard.
type AdvisoryLocks struct {
	pool *pgxpool.Pool
}

func NewAdvisoryLocks(ctx context.Context, cfg config.DatabaseConfig) (*AdvisoryLocks, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &AdvisoryLocks{pool: pool}, nil
}

func (l *AdvisoryLocks) Close() {
	l.pool.Close()
}

// Lock blocks until id is free or ctx is done. A failed or cancelled wait
// discards its connection, which drops anything the session held.
func (l *AdvisoryLocks) Lock(ctx context.Context, id uuid.UUID) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1, hashtext($2))", photoLockSpace, id.String()); err != nil {
		// The lock may have been granted as the wait was aborted.
		discard(conn)
		return nil, fmt.Errorf("lock photo %s: %w", id, err)
	}
	return l.unlocker(conn, id), nil
}

// TryLock takes the lock only if no session holds it.
func (l *AdvisoryLocks) TryLock(ctx context.Context, id uuid.UUID) (func(), bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1, hashtext($2))", photoLockSpace, id.String()).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try lock photo %s: %w", id, err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return l.unlocker(conn, id), true, nil
}

// unlocker releases the advisory lock and returns the connection. If the
// unlock statement fails the connection is closed instead, since a session
// still holding the lock must not go back into the pool.
func (l *AdvisoryLocks) unlocker(conn *pgxpool.Conn, id uuid.UUID) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()

			var released bool
			err := conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1, hashtext($2))", photoLockSpace, id.String()).Scan(&released)
			if err != nil || !released {
				discard(conn)
				return
			}
			conn.Release()
		})
	}
}

// discard closes conn and hands it back so the pool drops it.
func discard(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()
	_ = conn.Conn().Close(ctx)
	conn.Release()
}
