package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestExpiresAfterTTL(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	c := New[string, int](time.Minute, clk)
	c.Set("k", 1)

	clk.Step(59 * time.Second)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clk.Step(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestGetOrLoadCachesWithinTTL(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	c := New[string, int](time.Minute, clk)
	var calls int
	load := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v, err := c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clk.Step(2 * time.Minute)
	v, err = c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	c := New[string, int](time.Minute, clocktesting.NewFakeClock(time.Unix(0, 0)))
	boom := errors.New("boom")
	_, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestInvalidate(t *testing.T) {
	c := New[string, int](time.Minute, clocktesting.NewFakeClock(time.Unix(0, 0)))
	c.Set("a", 1)
	c.Set("b", 2)

	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)

	c.InvalidateAll()
	assert.Zero(t, c.Len())
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	c := New[string, int](0, nil)
	c.Set("k", 1)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestConcurrentMissesShareLoad(t *testing.T) {
	c := New[string, int](time.Minute, clocktesting.NewFakeClock(time.Unix(0, 0)))
	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "k", load)
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	// Let the goroutines pile up on the in-flight load.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestInvalidateAllDropsInFlightLoad(t *testing.T) {
	c := New[string, int](time.Minute, clocktesting.NewFakeClock(time.Unix(0, 0)))
	_, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) {
		c.InvalidateAll()
		return 1, nil
	})
	require.NoError(t, err)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestReadAfterInvalidateAllDoesNotJoinOlderLoad(t *testing.T) {
	c := New[string, string](time.Minute, clocktesting.NewFakeClock(time.Unix(0, 0)))
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan string, 1)
	go func() {
		v, _ := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) {
			close(started)
			<-release
			return "old", nil
		})
		done <- v
	}()
	<-started
	c.InvalidateAll()

	v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) {
		return "new", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "new", v)

	close(release)
	assert.Equal(t, "old", <-done)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", got)
}
