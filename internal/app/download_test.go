package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoma-network/export-worker/internal/errors"
	"github.com/yoma-network/export-worker/internal/model"
)

func TestScheduleDedupReturnsExistingPendingRequest(t *testing.T) {
	st := newFakeStore()
	svc := NewDownloadService(st, 3)
	userID := uuid.New()

	filter := model.OpportunityExportFilter{Status: "Active"}
	first, err := svc.Schedule(context.Background(), userID, model.ScheduleTypeOpportunities, filter)
	require.NoError(t, err)

	second, err := svc.Schedule(context.Background(), userID, model.ScheduleTypeOpportunities, filter)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	items, err := svc.ListPendingSchedule(context.Background(), 10, nil)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestScheduleEquivalentFiltersDedupAcrossFieldOrder(t *testing.T) {
	st := newFakeStore()
	svc := NewDownloadService(st, 3)
	userID := uuid.New()
	orgs := []uuid.UUID{uuid.New()}

	first, err := svc.Schedule(context.Background(), userID, model.ScheduleTypeOpportunities,
		model.OpportunityExportFilter{Organizations: orgs, Status: "Active"})
	require.NoError(t, err)

	second, err := svc.Schedule(context.Background(), userID, model.ScheduleTypeOpportunities,
		model.OpportunityExportFilter{Status: "Active", Organizations: orgs})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestScheduleDifferentUsersDoNotDedup(t *testing.T) {
	st := newFakeStore()
	svc := NewDownloadService(st, 3)
	filter := model.OpportunityExportFilter{Status: "Active"}

	first, err := svc.Schedule(context.Background(), uuid.New(), model.ScheduleTypeOpportunities, filter)
	require.NoError(t, err)
	second, err := svc.Schedule(context.Background(), uuid.New(), model.ScheduleTypeOpportunities, filter)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestScheduleValidation(t *testing.T) {
	st := newFakeStore()
	svc := NewDownloadService(st, 3)

	_, err := svc.Schedule(context.Background(), uuid.Nil, model.ScheduleTypeOpportunities, model.OpportunityExportFilter{})
	assert.True(t, errors.IsInvalidArgument(err))

	_, err = svc.Schedule(context.Background(), uuid.New(), model.ScheduleType("Bogus"), model.OpportunityExportFilter{})
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestUpdateScheduleRetrySequence(t *testing.T) {
	st := newFakeStore()
	svc := NewDownloadService(st, 2)
	userID := uuid.New()

	item, err := svc.Schedule(context.Background(), userID, model.ScheduleTypeOpportunities, model.OpportunityExportFilter{})
	require.NoError(t, err)
	assert.Nil(t, item.RetryCount)

	fail := func() {
		reason := "exporter blew up"
		item.Status = model.ScheduleStatusError
		item.ErrorReason = &reason
		require.NoError(t, svc.UpdateSchedule(context.Background(), item))
	}

	// First failure records attempt 0 and stays retryable.
	fail()
	require.NotNil(t, item.RetryCount)
	assert.Equal(t, 0, *item.RetryCount)
	assert.Equal(t, model.ScheduleStatusPending, item.Status)

	// Second failure still below the budget of 2.
	fail()
	assert.Equal(t, 1, *item.RetryCount)
	assert.Equal(t, model.ScheduleStatusPending, item.Status)

	// Third failure exhausts the budget and the row stays in Error.
	fail()
	assert.Equal(t, 2, *item.RetryCount)
	assert.Equal(t, model.ScheduleStatusError, item.Status)
}

func TestUpdateScheduleUnlimitedRetries(t *testing.T) {
	st := newFakeStore()
	svc := NewDownloadService(st, 0)
	userID := uuid.New()

	item, err := svc.Schedule(context.Background(), userID, model.ScheduleTypeOpportunities, model.OpportunityExportFilter{})
	require.NoError(t, err)

	reason := "transient"
	for i := 0; i < 5; i++ {
		item.Status = model.ScheduleStatusError
		item.ErrorReason = &reason
		require.NoError(t, svc.UpdateSchedule(context.Background(), item))
		assert.Equal(t, model.ScheduleStatusPending, item.Status)
		assert.Equal(t, i, *item.RetryCount)
	}
}

func TestUpdateScheduleErrorRequiresReason(t *testing.T) {
	st := newFakeStore()
	svc := NewDownloadService(st, 3)

	item, err := svc.Schedule(context.Background(), uuid.New(), model.ScheduleTypeOpportunities, model.OpportunityExportFilter{})
	require.NoError(t, err)

	item.Status = model.ScheduleStatusError
	item.ErrorReason = nil
	assert.True(t, errors.IsInvalidArgument(svc.UpdateSchedule(context.Background(), item)))

	blank := "   "
	item.ErrorReason = &blank
	assert.True(t, errors.IsInvalidArgument(svc.UpdateSchedule(context.Background(), item)))
}

func TestUpdateScheduleProcessedClearsErrorState(t *testing.T) {
	st := newFakeStore()
	svc := NewDownloadService(st, 3)

	item, err := svc.Schedule(context.Background(), uuid.New(), model.ScheduleTypeOpportunities, model.OpportunityExportFilter{})
	require.NoError(t, err)

	reason := "first attempt failed"
	item.Status = model.ScheduleStatusError
	item.ErrorReason = &reason
	require.NoError(t, svc.UpdateSchedule(context.Background(), item))

	fileID := uuid.New()
	storageType := model.StorageTypeMemory
	key := "local/zips/" + fileID.String() + ".zip"
	item.Status = model.ScheduleStatusProcessed
	item.FileID = &fileID
	item.FileStorageType = &storageType
	item.FileKey = &key
	require.NoError(t, svc.UpdateSchedule(context.Background(), item))

	assert.Nil(t, item.ErrorReason)
	assert.Nil(t, item.RetryCount)
}

func TestUpdateScheduleProcessedRequiresFile(t *testing.T) {
	st := newFakeStore()
	svc := NewDownloadService(st, 3)

	item, err := svc.Schedule(context.Background(), uuid.New(), model.ScheduleTypeOpportunities, model.OpportunityExportFilter{})
	require.NoError(t, err)

	item.Status = model.ScheduleStatusProcessed
	item.FileID = nil
	assert.True(t, errors.IsInvalidArgument(svc.UpdateSchedule(context.Background(), item)))
}

func TestUpdateScheduleDeletedClearsFileReferences(t *testing.T) {
	st := newFakeStore()
	svc := NewDownloadService(st, 3)

	item, err := svc.Schedule(context.Background(), uuid.New(), model.ScheduleTypeOpportunities, model.OpportunityExportFilter{})
	require.NoError(t, err)

	fileID := uuid.New()
	storageType := model.StorageTypeMemory
	key := "local/zips/x.zip"
	item.Status = model.ScheduleStatusProcessed
	item.FileID = &fileID
	item.FileStorageType = &storageType
	item.FileKey = &key
	require.NoError(t, svc.UpdateSchedule(context.Background(), item))

	item.Status = model.ScheduleStatusDeleted
	require.NoError(t, svc.UpdateSchedule(context.Background(), item))

	assert.Nil(t, item.FileID)
	assert.Nil(t, item.FileStorageType)
	assert.Nil(t, item.FileKey)
}

func TestUpdateScheduleRejectsPendingTransition(t *testing.T) {
	st := newFakeStore()
	svc := NewDownloadService(st, 3)

	item, err := svc.Schedule(context.Background(), uuid.New(), model.ScheduleTypeOpportunities, model.OpportunityExportFilter{})
	require.NoError(t, err)

	item.Status = model.ScheduleStatusPending
	assert.True(t, errors.IsInvalidArgument(svc.UpdateSchedule(context.Background(), item)))
}

func TestListValidation(t *testing.T) {
	st := newFakeStore()
	svc := NewDownloadService(st, 3)

	_, err := svc.ListPendingSchedule(context.Background(), 0, nil)
	assert.True(t, errors.IsInvalidArgument(err))

	_, err = svc.ListPendingDeletion(context.Background(), 10, nil, time.Time{})
	assert.True(t, errors.IsInvalidArgument(err))

	_, err = svc.ListPendingDeletion(context.Background(), 0, nil, time.Now())
	assert.True(t, errors.IsInvalidArgument(err))
}
