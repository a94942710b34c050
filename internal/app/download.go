package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yoma-network/export-worker/internal/errors"
	"github.com/yoma-network/export-worker/internal/model"
	"github.com/yoma-network/export-worker/internal/store"
	"github.com/yoma-network/export-worker/internal/util"
)

// DownloadService owns the download schedule lifecycle: request dedup on
// create, batch listing for the processor, and the status transition rules on
// update.
type DownloadService struct {
	store store.Store
	// maxRetryAttempts of 0 means unlimited retries.
	maxRetryAttempts int
}

func NewDownloadService(s store.Store, maxRetryAttempts int) *DownloadService {
	return &DownloadService{store: s, maxRetryAttempts: maxRetryAttempts}
}

// WithStore returns a view of the service bound to s, typically a
// transaction-bound store inside InTx.
func (d *DownloadService) WithStore(s store.Store) *DownloadService {
	clone := *d
	clone.store = s
	return &clone
}

// Schedule records an export request for the user. An equivalent Pending
// request (same user, type and canonicalized filter) is returned instead of
// creating a duplicate.
func (d *DownloadService) Schedule(ctx context.Context, userID uuid.UUID, scheduleType model.ScheduleType, filter any) (*model.DownloadSchedule, error) {
	if userID == uuid.Nil {
		return nil, errors.InvalidArgument("user id is required")
	}
	switch scheduleType {
	case model.ScheduleTypeOpportunities, model.ScheduleTypeMyOpportunityVerification, model.ScheduleTypeVerificationFiles:
	default:
		return nil, errors.InvalidArgument(fmt.Sprintf("unknown schedule type: %s", scheduleType))
	}

	raw, err := json.Marshal(filter)
	if err != nil {
		return nil, errors.InvalidArgument("filter is not serializable", errors.WithCause(err))
	}
	hash, err := util.HashFilter(filter)
	if err != nil {
		return nil, err
	}

	existing, err := d.store.DownloadSchedule().FindPending(ctx, userID, scheduleType, hash)
	if err == nil {
		slog.InfoContext(ctx, "download.schedule.dedup",
			slog.String("schedule_id", existing.ID.String()),
			slog.String("type", string(scheduleType)))
		return existing, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	item := &model.DownloadSchedule{
		ID:         uuid.New(),
		UserID:     userID,
		Type:       scheduleType,
		Filter:     string(raw),
		FilterHash: hash,
		Status:     model.ScheduleStatusPending,
	}
	if err := d.store.DownloadSchedule().Insert(ctx, item); err != nil {
		// A concurrent request won the race on the pending fingerprint; treat
		// its row as ours.
		if errors.IsUniqueViolation(err) {
			return d.store.DownloadSchedule().FindPending(ctx, userID, scheduleType, hash)
		}
		return nil, err
	}

	slog.InfoContext(ctx, "download.schedule.created",
		slog.String("schedule_id", item.ID.String()),
		slog.String("user_id", userID.String()),
		slog.String("type", string(scheduleType)))
	return item, nil
}

func (d *DownloadService) GetByID(ctx context.Context, id uuid.UUID) (*model.DownloadSchedule, error) {
	if id == uuid.Nil {
		return nil, errors.InvalidArgument("schedule id is required")
	}
	item, err := d.store.DownloadSchedule().GetByID(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NotFound(fmt.Sprintf("download schedule %s does not exist", id))
		}
		return nil, err
	}
	return item, nil
}

// ListPendingSchedule returns the next batch of Pending rows in FIFO order by
// last modification, excluding idsToSkip.
func (d *DownloadService) ListPendingSchedule(ctx context.Context, batchSize int, idsToSkip []uuid.UUID) ([]model.DownloadSchedule, error) {
	if batchSize <= 0 {
		return nil, errors.InvalidArgument("batch size must be positive")
	}
	return d.store.DownloadSchedule().ListPendingSchedule(ctx, batchSize, idsToSkip)
}

// ListPendingDeletion returns Processed rows last modified before cutoff,
// whose file should be cleaned up. The caller computes the cutoff from its own
// clock and the link expiration window.
func (d *DownloadService) ListPendingDeletion(ctx context.Context, batchSize int, idsToSkip []uuid.UUID, cutoff time.Time) ([]model.DownloadSchedule, error) {
	if batchSize <= 0 {
		return nil, errors.InvalidArgument("batch size must be positive")
	}
	if cutoff.IsZero() {
		return nil, errors.InvalidArgument("cutoff is required")
	}
	return d.store.DownloadSchedule().ListPendingDeletion(ctx, batchSize, idsToSkip, cutoff)
}

// UpdateSchedule applies the transition rules for the requested status and
// persists the row. See applyTransition for the per-status repairs.
func (d *DownloadService) UpdateSchedule(ctx context.Context, item *model.DownloadSchedule) error {
	if item == nil {
		return errors.InvalidArgument("schedule is required")
	}
	if err := d.applyTransition(item); err != nil {
		return err
	}
	return d.store.DownloadSchedule().Update(ctx, item)
}

// UpdateScheduleBatch applies the transition rules to every row and persists
// them in one statement. The slice is mutated in place.
func (d *DownloadService) UpdateScheduleBatch(ctx context.Context, items []model.DownloadSchedule) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		if err := d.applyTransition(&items[i]); err != nil {
			return err
		}
	}
	return d.store.DownloadSchedule().UpdateBatch(ctx, items)
}

// applyTransition normalizes a row for its requested status. Error rows are
// downgraded back to Pending while the retry budget allows another attempt.
func (d *DownloadService) applyTransition(item *model.DownloadSchedule) error {
	switch item.Status {
	case model.ScheduleStatusProcessed:
		if item.FileID == nil {
			return errors.InvalidArgument("a processed schedule requires a file")
		}
		item.ErrorReason = nil
		item.RetryCount = nil

	case model.ScheduleStatusError:
		if item.ErrorReason == nil || strings.TrimSpace(*item.ErrorReason) == "" {
			return errors.InvalidArgument("an errored schedule requires an error reason")
		}
		reason := strings.TrimSpace(*item.ErrorReason)
		item.ErrorReason = &reason

		count := 0
		if item.RetryCount != nil {
			count = *item.RetryCount + 1
		}
		item.RetryCount = &count
		if d.maxRetryAttempts == 0 || count < d.maxRetryAttempts {
			item.Status = model.ScheduleStatusPending
		}

	case model.ScheduleStatusDeleted:
		item.FileID = nil
		item.FileStorageType = nil
		item.FileKey = nil
		item.ErrorReason = nil
		item.RetryCount = nil

	default:
		return errors.InvalidArgument(fmt.Sprintf("unsupported schedule transition to %q", item.Status))
	}
	return nil
}
