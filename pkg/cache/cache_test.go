package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLoadsAndCaches(t *testing.T) {
	c := New(Options{TTL: time.Minute})

	var loads int32
	loader := func(ctx context.Context, key string) (interface{}, bool, error) {
		atomic.AddInt32(&loads, 1)
		return "value-" + key, true, nil
	}

	val, ok, err := c.Get(context.Background(), "k1", loader)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value-k1", val)

	val, ok, err = c.Get(context.Background(), "k1", loader)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value-k1", val)

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestStaleEntryServedWhileRefreshing(t *testing.T) {
	c := New(Options{TTL: 10 * time.Millisecond, StaleWhileRevalidate: time.Minute})

	var loads int32
	loader := func(ctx context.Context, key string) (interface{}, bool, error) {
		n := atomic.AddInt32(&loads, 1)
		if n == 1 {
			return "first", true, nil
		}
		return "second", true, nil
	}

	_, _, err := c.Get(context.Background(), "k", loader)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	// Expired but within the stale window: the old value comes back
	// immediately and a background refresh kicks off
	val, ok, err := c.Get(context.Background(), "k", loader)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", val)

	assert.Eventually(t, func() bool {
		val, ok := c.Peek("k")
		return ok && val == "second"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNegativeCaching(t *testing.T) {
	c := New(Options{TTL: time.Minute, NegativeTTL: time.Minute})

	var loads int32
	loadErr := errors.New("not found")
	loader := func(ctx context.Context, key string) (interface{}, bool, error) {
		atomic.AddInt32(&loads, 1)
		return nil, false, loadErr
	}

	_, ok, err := c.Get(context.Background(), "missing", loader)
	assert.False(t, ok)
	assert.ErrorIs(t, err, loadErr)

	// Negative entry is cached, loader is not re-invoked
	_, ok, _ = c.Get(context.Background(), "missing", loader)
	assert.False(t, ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestNegativesNotStoredWithoutNegativeTTL(t *testing.T) {
	c := New(Options{TTL: time.Minute})

	var loads int32
	loader := func(ctx context.Context, key string) (interface{}, bool, error) {
		atomic.AddInt32(&loads, 1)
		return nil, false, errors.New("nope")
	}

	_, _, _ = c.Get(context.Background(), "k", loader)
	_, _, _ = c.Get(context.Background(), "k", loader)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loads))
}

func TestEvictionKeepsCapacity(t *testing.T) {
	c := New(Options{TTL: time.Minute, MaxEntries: 2})

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("c", 3, time.Minute)

	// FIFO: the oldest key is gone
	_, ok := c.Peek("a")
	assert.False(t, ok)

	_, ok = c.Peek("b")
	assert.True(t, ok)
	_, ok = c.Peek("c")
	assert.True(t, ok)
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := New(Options{TTL: time.Minute})
	c.Set("k", "v", time.Minute)

	c.Delete("k")
	_, ok := c.Peek("k")
	assert.False(t, ok)
}
