package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultBaseTTL = 15 * time.Minute
	maxJitter      = 5 * time.Minute
	// outlives any cache entry and any fill in flight
	versionTTL = 24 * time.Hour
)

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: defaultBaseTTL,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

type cachedLines struct {
	Lines []domain.CartLine `json:"lines"`
}

func (r *RedisCache) Get(ctx context.Context, accountID string) ([]domain.CartLine, error) {
	data, err := r.client.Get(ctx, cacheKey(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var entry cachedLines
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return entry.Lines, nil
}

func (r *RedisCache) Version(ctx context.Context, accountID string) (int64, error) {
	v, err := r.client.Get(ctx, versionKey(accountID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get version failed: %w", err)
	}
	return v, nil
}

// Set stores lines unless the account version moved past version. The
// version key is watched so a Delete racing the write aborts it.
func (r *RedisCache) Set(ctx context.Context, accountID string, lines []domain.CartLine, version int64) error {
	data, err := json.Marshal(cachedLines{Lines: lines})
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	// jitter spreads expiry of carts cached in the same burst
	ttl := r.baseTTL + time.Duration(rand.Int63n(int64(maxJitter)))
	verKey := versionKey(accountID)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, verKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return ErrStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(accountID), data, ttl)
			return nil
		})
		return err
	}, verKey)
	switch {
	case errors.Is(err, ErrStaleVersion):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return ErrStaleVersion
	case err != nil:
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, accountID string) error {
	verKey := versionKey(accountID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, verKey)
		pipe.Expire(ctx, verKey, versionTTL)
		pipe.Del(ctx, cacheKey(accountID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(accountID string) string {
	return fmt.Sprintf("cart:%s", accountID)
}

func versionKey(accountID string) string {
	return fmt.Sprintf("cart-version:%s", accountID)
}
