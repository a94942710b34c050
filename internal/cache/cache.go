package cache

import (
	"context"
	"time"
)

// Cache is the shared key-value store behind the coordination primitives:
// distributed locks, idempotency keys and the generic value cache. All writes
// carrying a TTL are server-enforced; a zero TTL means no expiration.
type Cache interface {
	// SetIfNotExists performs an atomic set-if-absent and reports whether the
	// key was written by this call.
	SetIfNotExists(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// GetWithExpiry returns the value and its remaining TTL. found is false
	// when the key does not exist or has expired.
	GetWithExpiry(ctx context.Context, key string) (value string, ttl time.Duration, found bool, err error)
	Delete(ctx context.Context, key string) error
	// ExtendExpiry resets the key's TTL; it is a no-op on a missing key.
	ExtendExpiry(ctx context.Context, key string, ttl time.Duration) error
}
