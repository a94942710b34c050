package coordination

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yoma-network/export-worker/internal/cache"
	"github.com/yoma-network/export-worker/internal/errors"
)

const cacheKeyPrefix = "cache:"

// DistributedCacheService is a generic get-or-create cache over the shared
// store. Values are JSON-serialized. Expiration is either sliding (each hit
// re-extends the TTL) or absolute-relative-to-now, or both; when both are
// given the sliding extension never pushes the entry past the absolute window.
type DistributedCacheService struct {
	cache cache.Cache

	// now is swappable for tests
	now func() time.Time
}

func NewDistributedCacheService(c cache.Cache) *DistributedCacheService {
	return &DistributedCacheService{cache: c, now: time.Now}
}

// cacheEnvelope wraps a stored value. Deadline carries the absolute expiry so
// hits can cap their sliding extension against it; the store's own TTL shrinks
// with every extension and cannot serve as that reference.
type cacheEnvelope struct {
	Value    json.RawMessage `json:"value"`
	Deadline *time.Time      `json:"deadline,omitempty"`
}

// GetOrCreate returns the cached value for key, invoking valueProvider and
// storing its result on a miss.
func GetOrCreate[T any](ctx context.Context, s *DistributedCacheService, key string, valueProvider func(ctx context.Context) (*T, error), slidingExpiration, absoluteExpirationRelativeToNow *time.Duration) (*T, error) {
	if key == "" {
		return nil, errors.InvalidArgument("cache key is required")
	}
	if valueProvider == nil {
		return nil, errors.InvalidArgument("value provider is required")
	}
	if slidingExpiration != nil && *slidingExpiration <= 0 {
		return nil, errors.InvalidArgument("sliding expiration must be positive")
	}
	if absoluteExpirationRelativeToNow != nil && *absoluteExpirationRelativeToNow <= 0 {
		return nil, errors.InvalidArgument("absolute expiration must be positive")
	}
	if slidingExpiration != nil && absoluteExpirationRelativeToNow != nil &&
		*slidingExpiration > *absoluteExpirationRelativeToNow {
		return nil, errors.InvalidArgument("sliding expiration may not exceed the absolute expiration")
	}

	storeKey := cacheKeyPrefix + key

	raw, _, found, err := s.cache.GetWithExpiry(ctx, storeKey)
	if err != nil {
		return nil, errors.Internal("cache lookup failed", errors.WithCause(err))
	}
	if found {
		var envelope cacheEnvelope
		if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
			return nil, errors.Internal("cached value could not be deserialized", errors.WithCause(err))
		}
		var value T
		if err := json.Unmarshal(envelope.Value, &value); err != nil {
			return nil, errors.Internal("cached value could not be deserialized", errors.WithCause(err))
		}
		if slidingExpiration != nil {
			// Re-extend on hit, but never past the absolute deadline recorded
			// at creation.
			ttl := *slidingExpiration
			if envelope.Deadline != nil {
				if rem := envelope.Deadline.Sub(s.now()); rem < ttl {
					ttl = rem
				}
			}
			if ttl > 0 {
				if err := s.cache.ExtendExpiry(ctx, storeKey, ttl); err != nil {
					return nil, errors.Internal("failed to extend cache expiry", errors.WithCause(err))
				}
			}
		}
		return &value, nil
	}

	value, err := valueProvider(ctx)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, errors.Internal("value provider returned nil")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Internal("value could not be serialized", errors.WithCause(err))
	}
	envelope := cacheEnvelope{Value: data}

	var ttl time.Duration
	switch {
	case absoluteExpirationRelativeToNow != nil:
		deadline := s.now().Add(*absoluteExpirationRelativeToNow)
		envelope.Deadline = &deadline
		ttl = *absoluteExpirationRelativeToNow
		if slidingExpiration != nil && *slidingExpiration < ttl {
			ttl = *slidingExpiration
		}
	case slidingExpiration != nil:
		ttl = *slidingExpiration
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, errors.Internal("value could not be serialized", errors.WithCause(err))
	}
	if err := s.cache.Set(ctx, storeKey, string(payload), ttl); err != nil {
		return nil, errors.Internal("failed to store cache value", errors.WithCause(err))
	}
	return value, nil
}

// Remove evicts key from the cache.
func (s *DistributedCacheService) Remove(ctx context.Context, key string) error {
	if key == "" {
		return errors.InvalidArgument("cache key is required")
	}
	if err := s.cache.Delete(ctx, cacheKeyPrefix+key); err != nil {
		return errors.Internal("failed to remove cache value", errors.WithCause(err))
	}
	return nil
}
