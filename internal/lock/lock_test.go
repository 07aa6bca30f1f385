package lock

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

func assertMutualExclusion(t *testing.T, l locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "worker:1")
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
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal()
	assertMutualExclusion(t, l)
	assert.Equal(t, 0, l.Len())
}

func TestLocal_IndependentKeys(t *testing.T) {
	l := NewLocal()
	unlockA, err := l.Lock(context.Background(), "worker:1")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(ctx, "worker:2")
	require.NoError(t, err)
	unlockB()
}

func TestLocal_ContextCancelled(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "worker:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "worker:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op
	assert.Equal(t, 0, l.Len())
}

func newRedisLock(t *testing.T, cfg RedisConfig) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := zerolog.New(io.Discard)
	return NewRedis(client, cfg, &logger), mr
}

func TestRedis_MutualExclusion(t *testing.T) {
	l, _ := newRedisLock(t, RedisConfig{RetryGap: time.Millisecond})
	assertMutualExclusion(t, l)
}

func TestRedis_ReleaseOnlyOwnToken(t *testing.T) {
	l, mr := newRedisLock(t, RedisConfig{TTL: time.Second})

	unlock, err := l.Lock(context.Background(), "worker:1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("rota:lock:worker:1"))

	// Simulate expiry and takeover by another holder.
	mr.Set("rota:lock:worker:1", "someone-else")
	unlock()
	got, err := mr.Get("rota:lock:worker:1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedis_Timeout(t *testing.T) {
	l, mr := newRedisLock(t, RedisConfig{MaxWait: 30 * time.Millisecond, RetryGap: 5 * time.Millisecond})
	mr.Set("rota:lock:worker:1", "held")

	_, err := l.Lock(context.Background(), "worker:1")
	assert.ErrorIs(t, err, ErrLockTimeout)
}
