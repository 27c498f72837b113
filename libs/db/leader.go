package db

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// AdvisoryLeader elects one leader across instances sharing a database by
// holding a session-level advisory lock on a dedicated connection.
type AdvisoryLeader struct {
	pool   *Pool
	key    int64
	logger *slog.Logger
	retry  time.Duration
}

func NewAdvisoryLeader(pool *Pool, key int64, logger *slog.Logger) *AdvisoryLeader {
	return &AdvisoryLeader{pool: pool, key: key, logger: logger, retry: 30 * time.Second}
}

// Lead blocks until the lock is held, then runs fn with it. The lock is
// released when fn returns.
func (l *AdvisoryLeader) Lead(ctx context.Context, fn func(context.Context)) error {
	if l.pool == nil || l.pool.Pool == nil {
		return errors.New("advisory leader: db not configured")
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := l.pool.Acquire(ctx)
		if err != nil {
			l.logger.Error("advisory lock: acquire connection failed", "err", err)
			if !sleepCtx(ctx, 5*time.Second) {
				return ctx.Err()
			}
			continue
		}
		var locked bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&locked); err != nil || !locked {
			conn.Release()
			if err != nil {
				l.logger.Error("advisory lock: query failed", "err", err, "lock_key", l.key)
			} else {
				l.logger.Info("advisory lock held by another instance", "lock_key", l.key)
			}
			if !sleepCtx(ctx, l.retry) {
				return ctx.Err()
			}
			continue
		}

		l.logger.Info("advisory lock acquired", "lock_key", l.key)
		fn(ctx)
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, l.key)
		conn.Release()
		return nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
