package keylock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockSerializesSameKey(t *testing.T) {
	km := New()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(context.Background(), 5*time.Second, 1)
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
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, km.Len(), "released keys should be reclaimed")
}

func TestLockTimeout(t *testing.T) {
	km := New()
	unlock, err := km.Lock(context.Background(), time.Second, 1)
	require.NoError(t, err)
	defer unlock()

	start := time.Now()
	_, err = km.Lock(context.Background(), 20*time.Millisecond, 1)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLockTimeoutReleasesPartialSet(t *testing.T) {
	km := New()
	unlock2, err := km.Lock(context.Background(), time.Second, 2)
	require.NoError(t, err)

	// 已取得 1，卡在 2，逾時後 1 必須被釋放
	_, err = km.Lock(context.Background(), 20*time.Millisecond, 2, 1)
	require.ErrorIs(t, err, ErrTimeout)

	unlock1, err := km.Lock(context.Background(), 20*time.Millisecond, 1)
	require.NoError(t, err)
	unlock1()
	unlock2()
	assert.Zero(t, km.Len())
}

func TestLockContextCancel(t *testing.T) {
	km := New()
	unlock, err := km.Lock(context.Background(), 0, 1)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = km.Lock(ctx, 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLockOppositeOrderNoDeadlock(t *testing.T) {
	km := New()
	var wg sync.WaitGroup
	var failures int32

	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(context.Background(), 2*time.Second, 1, 2)
			if err != nil {
				atomic.AddInt32(&failures, 1)
				return
			}
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(context.Background(), 2*time.Second, 2, 1)
			if err != nil {
				atomic.AddInt32(&failures, 1)
				return
			}
			unlock()
		}()
	}
	wg.Wait()
	assert.Zero(t, failures)
}

func TestUnlockerIdempotent(t *testing.T) {
	km := New()
	unlock, err := km.Lock(context.Background(), time.Second, 1, 1, 3)
	require.NoError(t, err)
	unlock()
	unlock()
	assert.Zero(t, km.Len())
}
