package coordination

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/yoma-network/export-worker/internal/cache"
	"github.com/yoma-network/export-worker/internal/errors"
)

const lockKeyPrefix = "lock:"

// DistributedLockService provides advisory, non-blocking mutual exclusion
// across worker instances. A lock is a key in the shared store holding a
// per-acquisition owner token; existence means held, and the TTL bounds how
// long a crashed owner can wedge the lock.
type DistributedLockService struct {
	cache cache.Cache
	log   *slog.Logger

	// owner tokens of locks held by this instance, keyed by lock key
	tokens map[string]string
}

func NewDistributedLockService(c cache.Cache) *DistributedLockService {
	return &DistributedLockService{
		cache:  c,
		log:    slog.Default(),
		tokens: make(map[string]string),
	}
}

// TryAcquireLock attempts to take the named lock for lockDuration. It never
// blocks or waits; the caller is expected to back off on contention.
func (s *DistributedLockService) TryAcquireLock(ctx context.Context, key string, lockDuration time.Duration, processName string) (bool, error) {
	if key == "" {
		return false, errors.InvalidArgument("lock key is required")
	}
	if lockDuration <= 0 {
		return false, errors.InvalidArgument("lock duration must be positive")
	}
	if processName == "" {
		processName = callerName()
	}

	token := uuid.NewString()
	acquired, err := s.cache.SetIfNotExists(ctx, lockKeyPrefix+key, token, lockDuration)
	if err != nil {
		return false, errors.Internal("failed to acquire distributed lock", errors.WithCause(err))
	}

	if acquired {
		s.tokens[key] = token
		s.log.InfoContext(ctx, "coordination.lock_acquired",
			slog.String("key", key),
			slog.String("process", processName),
			slog.Duration("duration", lockDuration))
	} else {
		s.log.InfoContext(ctx, "coordination.lock_contended",
			slog.String("key", key),
			slog.String("process", processName))
	}
	return acquired, nil
}

// ReleaseLock releases the named lock, but only if this instance still owns
// it: the stored owner token must match the one recorded at acquisition.
// Releasing a lock that expired and was re-acquired elsewhere is a no-op.
func (s *DistributedLockService) ReleaseLock(ctx context.Context, key string, processName string) error {
	if key == "" {
		return errors.InvalidArgument("lock key is required")
	}
	if processName == "" {
		processName = callerName()
	}

	token, held := s.tokens[key]
	if !held {
		return nil
	}
	delete(s.tokens, key)

	value, _, found, err := s.cache.GetWithExpiry(ctx, lockKeyPrefix+key)
	if err != nil {
		return errors.Internal("failed to release distributed lock", errors.WithCause(err))
	}
	if !found || value != token {
		s.log.WarnContext(ctx, "coordination.lock_not_owned_on_release",
			slog.String("key", key),
			slog.String("process", processName))
		return nil
	}

	if err := s.cache.Delete(ctx, lockKeyPrefix+key); err != nil {
		return errors.Internal("failed to release distributed lock", errors.WithCause(err))
	}
	s.log.InfoContext(ctx, "coordination.lock_released",
		slog.String("key", key),
		slog.String("process", processName))
	return nil
}

func callerName() string {
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	return fn.Name()
}
