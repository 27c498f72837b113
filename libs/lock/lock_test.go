package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := l.Acquire(context.Background(), "appt-1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			lease.Release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalMutualExclusion(t *testing.T) {
	l := NewLocal()
	exerciseMutualExclusion(t, l)
	assert.Equal(t, 0, l.size())
}

func TestLocalAcquireHonoursContext(t *testing.T) {
	l := NewLocal()
	lease, err := l.Acquire(context.Background(), "appt-1")
	require.NoError(t, err)
	require.NoError(t, lease.Held(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "appt-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Acquire(context.Background(), "appt-2")
	require.NoError(t, err)
	other.Release()

	lease.Release()
	lease.Release()
	assert.ErrorIs(t, lease.Held(context.Background()), ErrLeaseLost)
	assert.Equal(t, 0, l.size())
}

func TestRedisMutualExclusion(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	exerciseMutualExclusion(t, NewRedis(rdb, "payment", time.Minute, nil))
	assert.False(t, mr.Exists("payment:appt-1"))
}

func TestRedisReleaseDoesNotDropForeignLease(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := NewRedis(rdb, "payment", time.Second, nil)

	lease, err := l.Acquire(context.Background(), "appt-1")
	require.NoError(t, err)

	// Lease expires and another instance takes it over.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("payment:appt-1", "someone-else"))
	assert.ErrorIs(t, lease.Held(context.Background()), ErrLeaseLost)

	lease.Release()
	got, err := mr.Get("payment:appt-1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisAcquireTimesOutWhileHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := NewRedis(rdb, "payment", time.Minute, nil)

	lease, err := l.Acquire(context.Background(), "appt-1")
	require.NoError(t, err)
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "appt-1")
	assert.Error(t, err)
}

func TestRedisLeaseIsRenewedWhileHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := NewRedis(rdb, "payment", 300*time.Millisecond, nil)

	lease, err := l.Acquire(context.Background(), "appt-1")
	require.NoError(t, err)
	defer lease.Release()

	// Several TTLs pass; each step stays inside one TTL and waits for a renewal.
	for i := 0; i < 4; i++ {
		mr.FastForward(200 * time.Millisecond)
		require.True(t, mr.Exists("payment:appt-1"))
		require.Eventually(t, func() bool {
			return mr.TTL("payment:appt-1") > 150*time.Millisecond
		}, time.Second, 5*time.Millisecond)
	}
	require.NoError(t, lease.Held(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "appt-1")
	assert.Error(t, err)
}

func TestRedisLeaseHeldFailsOnceExpired(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := NewRedis(rdb, "payment", time.Minute, nil)

	lease, err := l.Acquire(context.Background(), "appt-1")
	require.NoError(t, err)
	defer lease.Release()

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, lease.Held(context.Background()), ErrLeaseLost)

	// a lost lease stays lost even if the key is taken again
	other, err := l.Acquire(context.Background(), "appt-1")
	require.NoError(t, err)
	defer other.Release()
	assert.ErrorIs(t, lease.Held(context.Background()), ErrLeaseLost)
	assert.NoError(t, other.Held(context.Background()))
}
