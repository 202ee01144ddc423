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
)

func TestCache_SetGetExpire(t *testing.T) {
	c := New[string](time.Minute)
	defer c.Stop()

	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("a", "alice")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alice", v)
	assert.Equal(t, 1, c.Len())

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	c.removeExpired()
	c.mu.RLock()
	assert.Empty(t, c.items)
	c.mu.RUnlock()
}

func TestCache_Delete(t *testing.T) {
	c := New[int](time.Minute)
	defer c.Stop()

	c.Set("k", 1)
	c.Delete("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_GetOrLoadCollapsesConcurrentLoads(t *testing.T) {
	c := New[string](time.Minute)
	defer c.Stop()

	var calls int32
	release := make(chan struct{})
	load := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "bob", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "u", load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, v := range results {
		assert.Equal(t, "bob", v)
	}

	v, err := c.GetOrLoad(context.Background(), "u", func(context.Context) (string, error) {
		t.Fatal("loader called on a cache hit")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "bob", v)
}

func TestCache_GetOrLoadDoesNotCacheErrors(t *testing.T) {
	c := New[string](time.Minute)
	defer c.Stop()

	boom := errors.New("boom")
	_, err := c.GetOrLoad(context.Background(), "u", func(context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

func TestCache_StopIsIdempotent(t *testing.T) {
	c := New[int](time.Millisecond)
	c.Stop()
	assert.NotPanics(t, c.Stop)
}
