package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and returns a RedisCache instance
func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisCache(client), mr
}

func TestGet_Success(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	data, err := json.Marshal(cachedLines{Lines: []domain.CartLine{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 3},
	}})
	require.NoError(t, err)
	require.NoError(t, mr.Set(cacheKey("acc-1"), string(data)))

	lines, err := cache.Get(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, int64(1), lines[0].ProductID)
	assert.Equal(t, 3, lines[1].Quantity)
}

func TestGet_CacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	lines, err := cache.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, lines)
}

func TestGet_EmptyCartIsNotAMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "acc-1", nil, 0))

	lines, err := cache.Get(ctx, "acc-1")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestGet_InvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(cacheKey("acc-1"), `{"lines":[{"product_`))

	_, err := cache.Get(context.Background(), "acc-1")
	require.ErrorContains(t, err, "unmarshal cart failed")
}

func TestSet_StoresLinesWithTTL(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	err := cache.Set(ctx, "acc-2", []domain.CartLine{{ProductID: 10, Quantity: 5}}, 0)
	require.NoError(t, err)

	stored, err := mr.Get(cacheKey("acc-2"))
	require.NoError(t, err)
	var entry cachedLines
	require.NoError(t, json.Unmarshal([]byte(stored), &entry))
	assert.Len(t, entry.Lines, 1)

	ttl := mr.TTL(cacheKey("acc-2"))
	assert.GreaterOrEqual(t, ttl, defaultBaseTTL, "TTL should be at least base TTL")
	assert.LessOrEqual(t, ttl, defaultBaseTTL+maxJitter, "TTL should be base + max jitter")
}

func TestSet_ExpiresWithTTL(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "acc-3", []domain.CartLine{{ProductID: 1, Quantity: 1}}, 0))
	mr.FastForward(defaultBaseTTL + maxJitter + time.Second)

	_, err := cache.Get(ctx, "acc-3")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestDelete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(cacheKey("acc-4"), `{"lines":[]}`))
	require.NoError(t, cache.Delete(ctx, "acc-4"))
	assert.False(t, mr.Exists(cacheKey("acc-4")))

	assert.NoError(t, cache.Delete(ctx, "nonexistent"), "deleting a missing key is not an error")

	version, err := cache.Version(ctx, "acc-4")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Greater(t, mr.TTL(versionKey("acc-4")), time.Duration(0), "version key must expire")
}

func TestSet_SkipsWhenInvalidatedSinceVersion(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	stale := []domain.CartLine{{ProductID: 1, Quantity: 1}}

	version, err := cache.Version(ctx, "acc-6")
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, cache.Delete(ctx, "acc-6"))
	err = cache.Set(ctx, "acc-6", stale, version)
	assert.ErrorIs(t, err, ErrStaleVersion)
	assert.False(t, mr.Exists(cacheKey("acc-6")), "stale lines must not be cached")

	version, err = cache.Version(ctx, "acc-6")
	require.NoError(t, err)
	require.NoError(t, cache.Set(ctx, "acc-6", stale, version))
	assert.True(t, mr.Exists(cacheKey("acc-6")))
}

func TestGet_RedisDown(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.Close()

	_, err := cache.Get(context.Background(), "acc-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestCacheKey_Format(t *testing.T) {
	assert.Equal(t, "cart:test123", cacheKey("test123"))
	assert.Equal(t, "cart-version:test123", versionKey("test123"))
}
