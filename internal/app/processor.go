package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yoma-network/export-worker/config"
	"github.com/yoma-network/export-worker/internal/coordination"
	"github.com/yoma-network/export-worker/internal/errors"
	"github.com/yoma-network/export-worker/internal/metrics"
	"github.com/yoma-network/export-worker/internal/model"
	"github.com/yoma-network/export-worker/internal/notification"
	"github.com/yoma-network/export-worker/internal/store"
)

const (
	lockProcessSchedule = "download_process_schedule"
	lockProcessDeletion = "download_process_deletion"

	archiveFileName = "Download.zip"
)

// DownloadBackgroundService drains the download schedule: it exports pending
// rows into zip archives and cleans up rows whose download link has expired.
// Runs are mutually exclusive across instances via a distributed lock, with a
// per-row idempotency key as a second guard against double dispatch.
type DownloadBackgroundService struct {
	store       store.Store
	downloads   *DownloadService
	blobs       *BlobService
	exporters   *ExporterSet
	locks       *coordination.DistributedLockService
	idempotency *coordination.IdempotencyService
	urls        *coordination.DistributedCacheService
	notifier    notification.Dispatcher
	metrics     *metrics.Metrics
	cfg         *config.ExportConfig
	storageType model.StorageType
	log         *slog.Logger

	// now is swappable for tests
	now func() time.Time
}

func NewDownloadBackgroundService(
	s store.Store,
	downloads *DownloadService,
	blobs *BlobService,
	exporters *ExporterSet,
	locks *coordination.DistributedLockService,
	idempotency *coordination.IdempotencyService,
	urls *coordination.DistributedCacheService,
	notifier notification.Dispatcher,
	m *metrics.Metrics,
	cfg *config.ExportConfig,
	storageType model.StorageType,
) *DownloadBackgroundService {
	return &DownloadBackgroundService{
		store:       s,
		downloads:   downloads,
		blobs:       blobs,
		exporters:   exporters,
		locks:       locks,
		idempotency: idempotency,
		urls:        urls,
		notifier:    notifier,
		metrics:     m,
		cfg:         cfg,
		storageType: storageType,
		log:         slog.Default(),
		now:         time.Now,
	}
}

func (p *DownloadBackgroundService) maxInterval() time.Duration {
	return time.Duration(p.cfg.ProcessScheduleMaxIntervalInHours) * time.Hour
}

func (p *DownloadBackgroundService) lockDuration() time.Duration {
	return p.maxInterval() + time.Duration(p.cfg.LockDurationBufferInMinutes)*time.Minute
}

func (p *DownloadBackgroundService) linkExpiration() time.Duration {
	return time.Duration(p.cfg.DownloadLinkExpirationInHours) * time.Hour
}

// ProcessSchedule drains pending schedule rows until none remain or the run
// exceeds its time budget. Per-row failures are recorded on the row; run-level
// failures are logged and swallowed so the worker tick survives.
func (p *DownloadBackgroundService) ProcessSchedule(ctx context.Context) {
	acquired, err := p.locks.TryAcquireLock(ctx, lockProcessSchedule, p.lockDuration(), "ProcessSchedule")
	if err != nil {
		p.log.ErrorContext(ctx, "processor.lock_failed", slog.Any("error", err))
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := p.locks.ReleaseLock(ctx, lockProcessSchedule, "ProcessSchedule"); err != nil {
			p.log.ErrorContext(ctx, "processor.lock_release_failed", slog.Any("error", err))
		}
	}()

	started := p.now()
	executeUntil := started.Add(p.maxInterval())
	defer func() {
		p.metrics.RunDuration.Observe(p.now().Sub(started).Seconds())
	}()

	var idsToSkip []uuid.UUID
	for {
		items, err := p.downloads.ListPendingSchedule(ctx, p.cfg.ProcessScheduleBatchSize, idsToSkip)
		if err != nil {
			p.log.ErrorContext(ctx, "processor.list_pending_failed", slog.Any("error", err))
			return
		}
		if len(items) == 0 {
			return
		}

		for i := range items {
			item := &items[i]
			if p.now().After(executeUntil) {
				p.log.InfoContext(ctx, "processor.time_budget_exhausted",
					slog.Int("remaining", len(items)-i))
				return
			}
			// A row is attempted at most once per run, success or failure.
			idsToSkip = append(idsToSkip, item.ID)

			first, err := p.idempotency.TryCreate(ctx, "download_schedule:"+item.ID.String())
			if err != nil {
				p.log.ErrorContext(ctx, "processor.idempotency_failed",
					slog.String("schedule_id", item.ID.String()), slog.Any("error", err))
				continue
			}
			if !first {
				p.log.WarnContext(ctx, "processor.duplicate_dispatch_skipped",
					slog.String("schedule_id", item.ID.String()))
				continue
			}

			if err := p.processItem(ctx, item); err != nil {
				p.markError(ctx, item, err)
				continue
			}
			p.metrics.SchedulesProcessed.WithLabelValues(string(item.Type)).Inc()
			p.notifyCompleted(ctx, item)
		}
	}
}

// processItem exports one schedule row and publishes the result. The blob
// ledger insert and the row update commit atomically; if that transaction
// fails after the physical upload, the uploaded object is deleted so no
// orphaned bytes survive.
func (p *DownloadBackgroundService) processItem(ctx context.Context, item *model.DownloadSchedule) error {
	exporter, err := p.exporters.Resolve(item.Type)
	if err != nil {
		return err
	}
	file, err := exporter(ctx, item)
	if err != nil {
		return err
	}
	archive, err := p.toArchive(file)
	if err != nil {
		return err
	}

	// Snapshot the fields the transaction mutates so a rollback does not leave
	// the row pointing at a blob that no longer exists.
	prevStatus := item.Status
	prevFileID := item.FileID
	prevFileStorageType := item.FileStorageType
	prevFileKey := item.FileKey

	var obj *model.BlobObject
	err = p.store.InTx(ctx, func(s store.Store) error {
		created, err := p.blobs.WithStore(s).Create(ctx, model.FileTypeZipArchive, p.storageType, archive, nil)
		if err != nil {
			return err
		}
		obj = created

		item.Status = model.ScheduleStatusProcessed
		item.FileID = &created.ID
		item.FileStorageType = &created.StorageType
		item.FileKey = &created.Key
		return p.downloads.WithStore(s).UpdateSchedule(ctx, item)
	})
	if err != nil {
		item.Status = prevStatus
		item.FileID = prevFileID
		item.FileStorageType = prevFileStorageType
		item.FileKey = prevFileKey

		// The upload may have landed before the rollback; remove the bytes.
		if obj != nil {
			if delErr := p.blobs.DeletePhysical(ctx, obj); delErr != nil {
				p.log.ErrorContext(ctx, "processor.compensation_failed",
					slog.String("key", obj.Key), slog.Any("error", delErr))
			}
		}
		return err
	}

	p.log.InfoContext(ctx, "processor.schedule_processed",
		slog.String("schedule_id", item.ID.String()),
		slog.String("type", string(item.Type)),
		slog.String("file_id", obj.ID.String()))
	return nil
}

// toArchive wraps the exported file in the published zip. A file that is
// already a zip is renamed rather than double-compressed.
func (p *DownloadBackgroundService) toArchive(file *model.FileHandle) (*model.FileHandle, error) {
	if file.ContentType == "application/zip" {
		file.FileName = archiveFileName
		return file, nil
	}
	return buildZip(archiveFileName, []zipEntry{{Name: file.FileName, Data: file.Data}})
}

// markError records a failure on the row. The transition logic downgrades the
// row back to Pending while the retry budget allows another attempt.
func (p *DownloadBackgroundService) markError(ctx context.Context, item *model.DownloadSchedule, cause error) {
	p.metrics.SchedulesErrored.WithLabelValues(string(item.Type)).Inc()
	p.log.ErrorContext(ctx, "processor.schedule_failed",
		slog.String("schedule_id", item.ID.String()),
		slog.String("type", string(item.Type)),
		slog.Any("error", cause))

	reason := cause.Error()
	item.Status = model.ScheduleStatusError
	item.ErrorReason = &reason
	if err := p.downloads.UpdateSchedule(ctx, item); err != nil {
		p.log.ErrorContext(ctx, "processor.mark_error_failed",
			slog.String("schedule_id", item.ID.String()), slog.Any("error", err))
	}
}

// notifyCompleted tells the user their download is ready. Delivery is best
// effort; a failure never affects the processed row.
func (p *DownloadBackgroundService) notifyCompleted(ctx context.Context, item *model.DownloadSchedule) {
	if p.notifier == nil || item.FileID == nil {
		return
	}
	expiration := p.linkExpiration()
	expirationMinutes := int(expiration / time.Minute)
	// The signed URL is stable for its lifetime; cache it so repeated
	// notifications for the same file skip re-signing.
	url, err := coordination.GetOrCreate(ctx, p.urls, "download_url:"+item.FileID.String(),
		func(ctx context.Context) (*string, error) {
			u, err := p.blobs.GetURL(ctx, *item.FileID, archiveFileName, expirationMinutes)
			if err != nil {
				return nil, err
			}
			return &u, nil
		}, nil, &expiration)
	if err != nil {
		p.log.ErrorContext(ctx, "processor.notification_url_failed",
			slog.String("schedule_id", item.ID.String()), slog.Any("error", err))
		return
	}
	err = p.notifier.Send(ctx, notification.TypeDownloadCompleted, item.UserID, map[string]string{
		"file_name":  archiveFileName,
		"url":        *url,
		"expires_in": fmt.Sprintf("%d hours", p.cfg.DownloadLinkExpirationInHours),
	})
	if err != nil {
		p.log.ErrorContext(ctx, "processor.notification_failed",
			slog.String("schedule_id", item.ID.String()), slog.Any("error", err))
	}
}

// ProcessDeletion removes files behind expired download links and flips their
// rows to Deleted. Row update, ledger delete and physical delete commit or
// fail together per row.
func (p *DownloadBackgroundService) ProcessDeletion(ctx context.Context) {
	acquired, err := p.locks.TryAcquireLock(ctx, lockProcessDeletion, p.lockDuration(), "ProcessDeletion")
	if err != nil {
		p.log.ErrorContext(ctx, "processor.lock_failed", slog.Any("error", err))
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := p.locks.ReleaseLock(ctx, lockProcessDeletion, "ProcessDeletion"); err != nil {
			p.log.ErrorContext(ctx, "processor.lock_release_failed", slog.Any("error", err))
		}
	}()

	executeUntil := p.now().Add(p.maxInterval())
	cutoff := p.now().Add(-p.linkExpiration())

	var idsToSkip []uuid.UUID
	for {
		items, err := p.downloads.ListPendingDeletion(ctx, p.cfg.ProcessScheduleBatchSize, idsToSkip, cutoff)
		if err != nil {
			p.log.ErrorContext(ctx, "processor.list_deletion_failed", slog.Any("error", err))
			return
		}
		if len(items) == 0 {
			return
		}

		for i := range items {
			item := &items[i]
			if p.now().After(executeUntil) {
				return
			}
			idsToSkip = append(idsToSkip, item.ID)

			if err := p.deleteItem(ctx, item); err != nil {
				p.log.ErrorContext(ctx, "processor.deletion_failed",
					slog.String("schedule_id", item.ID.String()), slog.Any("error", err))
				continue
			}
			p.metrics.SchedulesDeleted.Inc()
		}
	}
}

func (p *DownloadBackgroundService) deleteItem(ctx context.Context, item *model.DownloadSchedule) error {
	if item.FileID == nil {
		return errors.Internal(fmt.Sprintf("schedule %s has no file to delete", item.ID))
	}
	fileID := *item.FileID

	return p.store.InTx(ctx, func(s store.Store) error {
		item.Status = model.ScheduleStatusDeleted
		if err := p.downloads.WithStore(s).UpdateSchedule(ctx, item); err != nil {
			return err
		}
		// Physical deletion runs last so its failure aborts the row update.
		return p.blobs.WithStore(s).Delete(ctx, fileID)
	})
}
