// Package storage provides the shared key-value store with TTL that backs sessions,
// breaker state, the degradation level and concurrency accounting.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("storage: key not found")

// ErrWrongType is returned when a key holds a value of another kind.
var ErrWrongType = errors.New("storage: operation against a key holding the wrong kind of value")

// Store is the subset of Redis semantics the bot relies on. A zero ttl means no expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// GetEx reads a value and resets its TTL in one round trip
	GetEx(ctx context.Context, key string, ttl time.Duration) ([]byte, error)
	// MGet returns one slot per key, nil for missing keys
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	RPush(ctx context.Context, key string, values ...[]byte) error
	LPush(ctx context.Context, key string, values ...[]byte) error
	LPop(ctx context.Context, key string) ([]byte, error)
	LLen(ctx context.Context, key string) (int64, error)

	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	Ping(ctx context.Context) error
	Close() error
}
