// Package localstore keeps anonymous carts, one per browsing session, in Redis.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisStore(client *redis.Client, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{client: client, log: log}
}

// Session returns the store of one browsing session
func (s *RedisStore) Session(sessionID string) *SessionStore {
	return &SessionStore{store: s, key: sessionKey(sessionID)}
}

// SessionStore holds the single anonymous cart of a session. The key expires
// AnonymousTTL after the last write, mirroring the cart's own expiry.
type SessionStore struct {
	store *RedisStore
	key   string
}

func (s *SessionStore) Read(ctx context.Context) (*domain.AnonymousCart, error) {
	data, err := s.store.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.AnonymousCart
	if err := json.Unmarshal(data, &cart); err != nil {
		// unreadable payloads are dropped, the session starts over empty
		s.store.log.Warn("discarding corrupt anonymous cart", "key", s.key, "error", err)
		if errDel := s.store.client.Del(ctx, s.key).Err(); errDel != nil {
			return nil, fmt.Errorf("redis delete failed: %w", errDel)
		}
		return nil, nil
	}
	return &cart, nil
}

func (s *SessionStore) Write(ctx context.Context, cart domain.AnonymousCart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := s.store.client.Set(ctx, s.key, data, domain.AnonymousTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *SessionStore) Clear(ctx context.Context) error {
	if err := s.store.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("anon-cart:%s", sessionID)
}
