package utils

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoizerCachesWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
	m := NewMemoizer(NewMemoryCache(clock.Now), 30*time.Minute)

	calls := 0
	load := func(context.Context) ([]byte, error) {
		calls++
		return []byte("body"), nil
	}

	ctx := context.Background()
	v, err := m.Do(ctx, "HYD", load)
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), v)

	clock.Advance(29 * time.Minute)
	_, err = m.Do(ctx, "HYD", load)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second call inside TTL must not reload")

	clock.Advance(2 * time.Minute)
	_, err = m.Do(ctx, "HYD", load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "call after expiry must reload")
}

func TestMemoizerKeysAreIndependent(t *testing.T) {
	m := NewMemoizer(NewMemoryCache(nil), time.Minute)
	calls := map[string]int{}
	for _, key := range []string{"HYD", "CHEN", "HYD"} {
		k := key
		_, err := m.Do(context.Background(), k, func(context.Context) ([]byte, error) {
			calls[k]++
			return []byte(k), nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, map[string]int{"HYD": 1, "CHEN": 1}, calls)
}

func TestMemoizerDoesNotCacheErrors(t *testing.T) {
	m := NewMemoizer(NewMemoryCache(nil), time.Minute)
	calls := 0
	boom := errors.New("upstream down")
	load := func(context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return []byte("ok"), nil
	}

	_, err := m.Do(context.Background(), "k", load)
	assert.ErrorIs(t, err, boom)

	v, err := m.Do(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), v)
	assert.Equal(t, 2, calls)
}

func TestMemoizerConcurrentMissesShareLoad(t *testing.T) {
	m := NewMemoizer(NewMemoryCache(nil), time.Minute)
	var calls int64
	release := make(chan struct{})

	load := func(context.Context) ([]byte, error) {
		atomic.AddInt64(&calls, 1)
		<-release
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := m.Do(context.Background(), "same", load)
			if err != nil || string(v) != "v" {
				t.Errorf("Do: got (%q, %v)", v, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&calls), int64(2))
}

func TestMemoizerLoadOutlivesCancelledCaller(t *testing.T) {
	m := NewMemoizer(NewMemoryCache(nil), time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	var loadErr error

	load := func(ctx context.Context) ([]byte, error) {
		close(started)
		<-release
		loadErr = ctx.Err()
		return []byte("v"), nil
	}

	// a dashboard request starts the load and then disconnects
	reqCtx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := m.Do(reqCtx, "HYD", load)
		first <- err
	}()
	<-started

	// the scheduled refresh waits on the same key
	type result struct {
		v   []byte
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := m.Do(context.Background(), "HYD", load)
		second <- result{v, err}
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, []byte("v"), got.v)
	assert.NoError(t, loadErr, "load must not see the first caller's cancellation")

	v, err := m.Do(context.Background(), "HYD", func(context.Context) ([]byte, error) {
		return nil, errors.New("should be served from cache")
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestMemoizerLoadTimeout(t *testing.T) {
	m := NewMemoizer(NewMemoryCache(nil), time.Minute).WithLoadTimeout(20 * time.Millisecond)

	_, err := m.Do(context.Background(), "slow", func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryCachePurge(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := NewMemoryCache(clock.Now)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Hour)
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	v, ok := c.Get(ctx, "b")
	assert.True(t, ok)
	assert.Equal(t, []byte("2"), v)
}
