package app

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoma-network/export-worker/config"
	"github.com/yoma-network/export-worker/internal/blob"
	memcache "github.com/yoma-network/export-worker/internal/cache/memory"
	"github.com/yoma-network/export-worker/internal/coordination"
	"github.com/yoma-network/export-worker/internal/errors"
	"github.com/yoma-network/export-worker/internal/metrics"
	"github.com/yoma-network/export-worker/internal/model"
)

type processorFixture struct {
	store     *fakeStore
	backend   *blob.Memory
	cache     *memcache.Cache
	downloads *DownloadService
	blobs     *BlobService
	notifier  *recordingDispatcher
	processor *DownloadBackgroundService
	oppReader *fakeOpportunityReader
	verReader *fakeVerificationReader
	cfg       *config.ExportConfig
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()

	st := newFakeStore()
	backend := blob.NewMemory()
	registry := blob.NewRegistry()
	registry.Register(model.StorageTypeMemory, backend)
	c := memcache.New()

	cfg := &config.ExportConfig{
		ProcessScheduleMaxIntervalInHours: 1,
		LockDurationBufferInMinutes:       5,
		ProcessScheduleBatchSize:          10,
		DownloadLinkExpirationInHours:     1,
		MaximumRetryAttempts:              2,
		IdempotencyKeyExpirationInSecs:    300,
	}

	blobs := NewBlobService(st, registry, NewFileValidator(), nil, "local")
	downloads := NewDownloadService(st, cfg.MaximumRetryAttempts)
	oppReader := &fakeOpportunityReader{records: []model.OpportunityRecord{
		{ID: uuid.New(), Title: "Learn to Code", Organization: "Umuzi", Status: "Active", DateStart: time.Now()},
	}}
	verReader := &fakeVerificationReader{}
	notifier := &recordingDispatcher{}

	idempotency, err := coordination.NewIdempotencyService(c, cfg.IdempotencyKeyExpirationInSecs)
	require.NoError(t, err)

	processor := NewDownloadBackgroundService(
		st,
		downloads,
		blobs,
		NewExporterSet(oppReader, verReader, blobs),
		coordination.NewDistributedLockService(c),
		idempotency,
		coordination.NewDistributedCacheService(c),
		notifier,
		metrics.New(prometheus.NewRegistry()),
		cfg,
		model.StorageTypeMemory,
	)

	return &processorFixture{
		store:     st,
		backend:   backend,
		cache:     c,
		downloads: downloads,
		blobs:     blobs,
		notifier:  notifier,
		processor: processor,
		oppReader: oppReader,
		verReader: verReader,
		cfg:       cfg,
	}
}

func TestProcessSchedulePublishesArchive(t *testing.T) {
	fx := newProcessorFixture(t)
	userID := uuid.New()

	item, err := fx.downloads.Schedule(context.Background(), userID, model.ScheduleTypeOpportunities, model.OpportunityExportFilter{})
	require.NoError(t, err)

	fx.processor.ProcessSchedule(context.Background())

	updated, err := fx.downloads.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusProcessed, updated.Status)
	require.NotNil(t, updated.FileID)
	require.NotNil(t, updated.FileKey)
	assert.Nil(t, updated.ErrorReason)

	// Exactly one object: the published archive.
	require.Equal(t, 1, fx.backend.Len())
	assert.True(t, fx.backend.Exists(*updated.FileKey))

	_, archive, err := fx.blobs.Download(context.Background(), *updated.FileID)
	require.NoError(t, err)
	assert.Equal(t, "Download.zip", archive.FileName)

	zr, err := zip.NewReader(bytes.NewReader(archive.Data), int64(len(archive.Data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "Opportunities.csv", zr.File[0].Name)

	// The user was told the download is ready.
	require.Len(t, fx.notifier.sent, 1)
	assert.Equal(t, userID, fx.notifier.sent[0].Recipient)
	assert.Contains(t, fx.notifier.sent[0].Data["url"], *updated.FileKey)
}

func TestProcessScheduleEmptyQueueExitsCleanly(t *testing.T) {
	fx := newProcessorFixture(t)

	fx.processor.ProcessSchedule(context.Background())

	assert.Zero(t, fx.backend.Len())
	assert.Empty(t, fx.notifier.sent)
}

func TestProcessScheduleSkipsWhenLockHeld(t *testing.T) {
	fx := newProcessorFixture(t)
	item, err := fx.downloads.Schedule(context.Background(), uuid.New(), model.ScheduleTypeOpportunities, model.OpportunityExportFilter{})
	require.NoError(t, err)

	// Another instance holds the processing lock.
	other := coordination.NewDistributedLockService(fx.cache)
	acquired, err := other.TryAcquireLock(context.Background(), lockProcessSchedule, time.Hour, "other-instance")
	require.NoError(t, err)
	require.True(t, acquired)

	fx.processor.ProcessSchedule(context.Background())

	updated, err := fx.downloads.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusPending, updated.Status)
	assert.Zero(t, fx.backend.Len())
}

func TestProcessScheduleReleasesLock(t *testing.T) {
	fx := newProcessorFixture(t)

	fx.processor.ProcessSchedule(context.Background())

	other := coordination.NewDistributedLockService(fx.cache)
	acquired, err := other.TryAcquireLock(context.Background(), lockProcessSchedule, time.Hour, "other-instance")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestProcessScheduleHonorsIdempotencyGuard(t *testing.T) {
	fx := newProcessorFixture(t)
	item, err := fx.downloads.Schedule(context.Background(), uuid.New(), model.ScheduleTypeOpportunities, model.OpportunityExportFilter{})
	require.NoError(t, err)

	// The row was already dispatched inside the TTL window.
	idempotency, err := coordination.NewIdempotencyService(fx.cache, fx.cfg.IdempotencyKeyExpirationInSecs)
	require.NoError(t, err)
	first, err := idempotency.TryCreate(context.Background(), "download_schedule:"+item.ID.String())
	require.NoError(t, err)
	require.True(t, first)

	fx.processor.ProcessSchedule(context.Background())

	updated, err := fx.downloads.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusPending, updated.Status)
	assert.Zero(t, fx.backend.Len())
}

func TestProcessScheduleRecordsExporterFailure(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.oppReader.err = errors.Internal("platform database unavailable")

	item, err := fx.downloads.Schedule(context.Background(), uuid.New(), model.ScheduleTypeOpportunities, model.OpportunityExportFilter{})
	require.NoError(t, err)

	fx.processor.ProcessSchedule(context.Background())

	updated, err := fx.downloads.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	// First failure: attempt 0 recorded, row back to Pending for a retry.
	assert.Equal(t, model.ScheduleStatusPending, updated.Status)
	require.NotNil(t, updated.RetryCount)
	assert.Equal(t, 0, *updated.RetryCount)
	require.NotNil(t, updated.ErrorReason)
	assert.Contains(t, *updated.ErrorReason, "platform database unavailable")

	assert.Zero(t, fx.backend.Len())
	assert.Empty(t, fx.notifier.sent)
}

func TestProcessScheduleCompensatesOrphanedUpload(t *testing.T) {
	fx := newProcessorFixture(t)
	// The schedule update inside the publish transaction fails after the
	// archive bytes landed in the backend.
	fx.store.updateErrInTx = errors.Internal("connection reset")

	item, err := fx.downloads.Schedule(context.Background(), uuid.New(), model.ScheduleTypeOpportunities, model.OpportunityExportFilter{})
	require.NoError(t, err)

	fx.processor.ProcessSchedule(context.Background())

	// No orphaned bytes and no orphaned ledger row survive.
	assert.Zero(t, fx.backend.Len())
	assert.Empty(t, fx.store.blobs)

	updated, err := fx.downloads.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusPending, updated.Status)
	require.NotNil(t, updated.ErrorReason)
	require.NotNil(t, updated.RetryCount)
	assert.Equal(t, 0, *updated.RetryCount)

	// The rolled-back file reference must not be persisted: against the real
	// schema it would be a foreign key to a row that no longer exists.
	assert.Nil(t, updated.FileID)
	assert.Nil(t, updated.FileStorageType)
	assert.Nil(t, updated.FileKey)
}

func TestProcessScheduleBatchesInFIFOOrder(t *testing.T) {
	fx := newProcessorFixture(t)
	fx.cfg.ProcessScheduleBatchSize = 1

	first, err := fx.downloads.Schedule(context.Background(), uuid.New(), model.ScheduleTypeOpportunities, model.OpportunityExportFilter{Status: "Active"})
	require.NoError(t, err)
	second, err := fx.downloads.Schedule(context.Background(), uuid.New(), model.ScheduleTypeOpportunities, model.OpportunityExportFilter{Status: "Expired"})
	require.NoError(t, err)

	fx.processor.ProcessSchedule(context.Background())

	for _, id := range []uuid.UUID{first.ID, second.ID} {
		updated, err := fx.downloads.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.ScheduleStatusProcessed, updated.Status)
	}
	assert.Equal(t, 2, fx.backend.Len())
}

func TestProcessDeletionCleansExpiredDownloads(t *testing.T) {
	fx := newProcessorFixture(t)

	item, err := fx.downloads.Schedule(context.Background(), uuid.New(), model.ScheduleTypeOpportunities, model.OpportunityExportFilter{})
	require.NoError(t, err)
	fx.processor.ProcessSchedule(context.Background())

	processed, err := fx.downloads.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, model.ScheduleStatusProcessed, processed.Status)
	require.Equal(t, 1, fx.backend.Len())

	// Push the row behind the link expiration window.
	fx.store.setDateModified(item.ID, time.Now().Add(-2*time.Hour))

	fx.processor.ProcessDeletion(context.Background())

	updated, err := fx.downloads.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusDeleted, updated.Status)
	assert.Nil(t, updated.FileID)
	assert.Nil(t, updated.FileKey)

	assert.Zero(t, fx.backend.Len())
	assert.Empty(t, fx.store.blobs)
}

func TestProcessDeletionCutoffFollowsProcessorClock(t *testing.T) {
	fx := newProcessorFixture(t)

	item, err := fx.downloads.Schedule(context.Background(), uuid.New(), model.ScheduleTypeOpportunities, model.OpportunityExportFilter{})
	require.NoError(t, err)
	fx.processor.ProcessSchedule(context.Background())

	// Advance only the processor's clock past the link expiration; the row
	// itself keeps its real modification time.
	fx.processor.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	fx.processor.ProcessDeletion(context.Background())

	updated, err := fx.downloads.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusDeleted, updated.Status)
	assert.Zero(t, fx.backend.Len())
}

func TestProcessDeletionLeavesFreshDownloads(t *testing.T) {
	fx := newProcessorFixture(t)

	item, err := fx.downloads.Schedule(context.Background(), uuid.New(), model.ScheduleTypeOpportunities, model.OpportunityExportFilter{})
	require.NoError(t, err)
	fx.processor.ProcessSchedule(context.Background())

	fx.processor.ProcessDeletion(context.Background())

	updated, err := fx.downloads.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusProcessed, updated.Status)
	assert.Equal(t, 1, fx.backend.Len())
}
