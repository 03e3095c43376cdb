package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryCacheRoundTripsJSON(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	type state struct {
		Symbol string  `json:"symbol"`
		Mark   float64 `json:"mark"`
	}
	require.NoError(t, mc.Set(ctx, "k", state{Symbol: "TQQQ", Mark: 51.2}, 0))

	var got state
	require.NoError(t, mc.Get(ctx, "k", &got))
	assert.Equal(t, state{Symbol: "TQQQ", Mark: 51.2}, got)

	var raw string
	require.NoError(t, mc.Get(ctx, "k", &raw))
	assert.JSONEq(t, `{"symbol":"TQQQ","mark":51.2}`, raw)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(0, 0)}
	mc := NewMemoryCache(WithMemoryClock(clock.now))
	require.NoError(t, mc.Set(ctx, "k", "v", time.Minute))

	clock.advance(59 * time.Second)
	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.advance(time.Second)
	var v string
	assert.ErrorIs(t, mc.Get(ctx, "k", &v), ErrCacheMiss)
	assert.Equal(t, 0, mc.Len())
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(0, 0)}
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryClock(clock.now))

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	clock.advance(time.Second)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	clock.advance(time.Second)
	var v string
	require.NoError(t, mc.Get(ctx, "a", &v))
	clock.advance(time.Second)
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "a", &v))
	assert.Equal(t, "1", v)
}

func TestMemoryCacheLock(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(0, 0)}
	mc := NewMemoryCache(WithMemoryClock(clock.now))

	ok, err := mc.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = mc.TryLock(ctx, "lock", time.Minute)
	assert.False(t, ok)

	clock.advance(time.Minute)
	ok, _ = mc.TryLock(ctx, "lock", time.Minute)
	assert.True(t, ok)

	require.NoError(t, mc.Unlock(ctx, "lock"))
	ok, _ = mc.Exists(ctx, "lock")
	assert.False(t, ok)
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, "p:id", GenerateKey("p", "id"))
	assert.Equal(t, "id", GenerateKey("", "id"))
}
