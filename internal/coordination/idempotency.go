package coordination

import (
	"context"
	"time"

	"github.com/yoma-network/export-worker/internal/cache"
	"github.com/yoma-network/export-worker/internal/errors"
)

const idempotencyKeyPrefix = "idempotency:"

// IdempotencyService records one-time-use keys with a fixed TTL. There is no
// consume or release operation; entries expire naturally.
type IdempotencyService struct {
	cache      cache.Cache
	expiration time.Duration
}

func NewIdempotencyService(c cache.Cache, expirationInSeconds int) (*IdempotencyService, error) {
	if expirationInSeconds <= 0 {
		return nil, errors.InvalidArgument("idempotency key expiration must be positive")
	}
	return &IdempotencyService{
		cache:      c,
		expiration: time.Duration(expirationInSeconds) * time.Second,
	}, nil
}

// TryCreate reports whether this call is the first with the given key inside
// the TTL window. Callers short-circuit as a duplicate on false.
func (s *IdempotencyService) TryCreate(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.InvalidArgument("idempotency key is required")
	}
	created, err := s.cache.SetIfNotExists(ctx, idempotencyKeyPrefix+key, "1", s.expiration)
	if err != nil {
		return false, errors.Internal("failed to create idempotency key", errors.WithCause(err))
	}
	return created, nil
}
