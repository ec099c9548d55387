package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface used by the service.
type Cache interface {
	// Get returns "" and a nil error when the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist.
	// It reports whether the key was set.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Incr increments an integer key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)

	// TTL returns the remaining lifetime; negative when the key has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Expire sets a key's lifetime.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Ping verifies the connection is alive
	Ping(ctx context.Context) error

	// Close closes the connection
	Close() error
}
