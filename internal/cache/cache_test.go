package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T, cfg *Config) (*memoryCache, *clockwork.FakeClock) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	clock := clockwork.NewFakeClock()
	c := newMemoryCache(cfg, logger, clock)
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

func TestMemoryCache_SetGetExpire(t *testing.T) {
	c, clock := newTestCache(t, &Config{TTL: time.Minute, MaxKeys: 10})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "votingpower:user:alice", []byte("6"), 0))

	got, ok := c.Get(ctx, "votingpower:user:alice")
	require.True(t, ok)
	assert.Equal(t, "6", string(got))

	clock.Advance(time.Minute)

	_, ok = c.Get(ctx, "votingpower:user:alice")
	assert.False(t, ok)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(0), stats.Keys)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, clock := newTestCache(t, &Config{TTL: time.Hour, MaxKeys: 2})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	clock.Advance(time.Second)
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	clock.Advance(time.Second)

	_, ok := c.Get(ctx, "a")
	require.True(t, ok)
	clock.Advance(time.Second)

	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, ok = c.Get(ctx, "b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get(ctx, "a")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestMemoryCache_DeletePattern(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "votingpower:user:alice", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "votingpower:user:bob", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "other", []byte("3"), 0))

	require.NoError(t, c.DeletePattern(ctx, "votingpower:*"))

	_, ok := c.Get(ctx, "votingpower:user:alice")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "other")
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "other", "missing"))
	_, ok = c.Get(ctx, "other")
	assert.False(t, ok)
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", value, 0))
	value[0] = 'z'

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	got[1] = 'z'

	again, _ := c.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestJSONHelpers(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	type preview struct {
		BigUpvote float64 `json:"bigUpvote"`
	}

	require.NoError(t, SetJSON(ctx, c, "p", preview{BigUpvote: 6}, 0))

	var got preview
	require.True(t, GetJSON(ctx, c, "p", &got))
	assert.Equal(t, 6.0, got.BigUpvote)

	require.NoError(t, c.Set(ctx, "broken", []byte("{"), 0))
	assert.False(t, GetJSON(ctx, c, "broken", &got))
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		str, pattern string
		want         bool
	}{
		{"anything", "*", true},
		{"votingpower:user:1", "votingpower:*", true},
		{"votingpower:user:1", "*:1", true},
		{"votingpower:user:1", "votingpower:user:1", true},
		{"votingpower:user:1", "karma:*", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, matchPattern(tt.str, tt.pattern))
		})
	}
}

func TestNewCache(t *testing.T) {
	c, err := NewCache(&Config{Provider: "memory", TTL: time.Minute}, nil)
	require.NoError(t, err)
	assert.NoError(t, c.Health(context.Background()))
	assert.NoError(t, c.Close())

	_, err = NewCache(&Config{Provider: "memcached"}, nil)
	assert.Error(t, err)

	_, err = NewCache(&Config{Provider: "redis", RedisURL: "not a url"}, nil)
	assert.Error(t, err)
}
