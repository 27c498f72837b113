package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis is a lease based lock shared by all service instances. A held lease
// is renewed every third of its TTL until released, so it only lapses when
// the holder stops renewing (crash, partition).
type Redis struct {
	rdb        redis.Cmdable
	prefix     string
	ttl        time.Duration
	renewEvery time.Duration
	logger     *slog.Logger
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

func NewRedis(rdb redis.Cmdable, prefix string, ttl time.Duration, logger *slog.Logger) *Redis {
	if prefix == "" {
		prefix = "lock"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl, renewEvery: ttl / 3, logger: logger}
}

func (r *Redis) Acquire(ctx context.Context, key string) (Lease, error) {
	full := r.prefix + ":" + key
	token := uuid.NewString()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := r.rdb.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			return struct{}{}, ErrNotAcquired
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(0))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ErrNotAcquired) {
			return nil, fmt.Errorf("acquire %s: %w", full, ctxErr)
		}
		return nil, fmt.Errorf("acquire %s: %w", full, err)
	}

	l := &redisLease{
		r:     r,
		key:   full,
		token: token,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	l.renewedAt.Store(time.Now().UnixNano())
	go l.watch()
	return l, nil
}

type redisLease struct {
	r     *Redis
	key   string
	token string

	stop      chan struct{}
	done      chan struct{}
	once      sync.Once
	lost      atomic.Bool
	renewedAt atomic.Int64
}

// watch keeps the lease alive until Release or until renewal proves that
// someone else owns the key.
func (l *redisLease) watch() {
	defer close(l.done)
	t := time.NewTicker(l.r.renewEvery)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.r.renewEvery)
			err := l.renew(ctx)
			cancel()
			if errors.Is(err, ErrLeaseLost) {
				l.r.logger.Error("lock lease lost", "key", l.key)
				return
			}
			if err != nil {
				l.r.logger.Warn("lock renewal failed", "key", l.key, "err", err)
			}
		}
	}
}

func (l *redisLease) renew(ctx context.Context) error {
	if l.lost.Load() {
		return ErrLeaseLost
	}
	n, err := renewScript.Run(ctx, l.r.rdb, []string{l.key}, l.token, l.r.ttl.Milliseconds()).Int64()
	if err != nil {
		// Without a renewal inside the TTL the key may already be gone.
		if time.Since(time.Unix(0, l.renewedAt.Load())) >= l.r.ttl {
			l.lost.Store(true)
			return ErrLeaseLost
		}
		return err
	}
	if n == 0 {
		l.lost.Store(true)
		return ErrLeaseLost
	}
	l.renewedAt.Store(time.Now().UnixNano())
	return nil
}

// Held renews the lease once, so a nil result leaves a full TTL ahead.
func (l *redisLease) Held(ctx context.Context) error {
	select {
	case <-l.stop:
		return ErrLeaseLost
	default:
	}
	return l.renew(ctx)
}

func (l *redisLease) Release() {
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		// Release must run even when the caller's context is already done.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.r.rdb, []string{l.key}, l.token).Err(); err != nil {
			l.r.logger.Warn("lock release failed", "key", l.key, "err", err)
		}
	})
}
