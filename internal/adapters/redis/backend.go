package redis

// Package redis provides a Redis-based storage backend for sessions that must be shared
// between processes or hosts.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// Backend is a Redis-based storage backend.
// Every key is written with the current TTL so idle sessions age out on the server.
type Backend struct {
	client redis.UniversalClient
	prefix string

	mu  sync.RWMutex
	ttl time.Duration
}

// NewBackend creates a Redis backend with the default "mmk-auth:" key prefix.
func NewBackend(client redis.UniversalClient, ttl time.Duration) *Backend {
	return NewBackendWithPrefix(client, "mmk-auth:", ttl)
}

// NewBackendWithPrefix creates a Redis backend with a custom key prefix.
func NewBackendWithPrefix(client redis.UniversalClient, prefix string, ttl time.Duration) *Backend {
	return &Backend{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// SetTTL changes the expiry applied to subsequent writes. Zero disables expiry.
func (b *Backend) SetTTL(ttl time.Duration) {
	b.mu.Lock()
	b.ttl = ttl
	b.mu.Unlock()
}

// TTL returns the expiry applied to writes.
func (b *Backend) TTL() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ttl
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, nil
	}

	v, err := b.client.Get(ctx, b.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

func (b *Backend) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("storage key cannot be empty")
	}
	if err := b.client.Set(ctx, b.prefix+key, value, b.TTL()).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (b *Backend) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil // Nothing to delete
	}
	if err := b.client.Del(ctx, b.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear deletes every key under the backend prefix.
func (b *Backend) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, b.prefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if delErr := b.client.Del(ctx, keys...).Err(); delErr != nil {
				return fmt.Errorf("redis del: %w", delErr)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
