package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	dberr "github.com/yoma-network/export-worker/internal/errors"
	"github.com/yoma-network/export-worker/internal/model"
	"github.com/yoma-network/export-worker/internal/notification"
	"github.com/yoma-network/export-worker/internal/store"
)

// fakeStore is an in-memory store.Store with snapshot-based transactions: a
// failed InTx restores the state from before the transaction began.
type fakeStore struct {
	mu        sync.Mutex
	blobs     map[uuid.UUID]model.BlobObject
	schedules map[uuid.UUID]model.DownloadSchedule
	base      time.Time
	seq       int

	// updateErrInTx forces schedule updates inside a transaction to fail,
	// after all earlier statements in the transaction succeeded.
	updateErrInTx error
	inTx          bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		blobs:     make(map[uuid.UUID]model.BlobObject),
		schedules: make(map[uuid.UUID]model.DownloadSchedule),
		base:      time.Now(),
	}
}

func (f *fakeStore) BlobObject() store.BlobObjectStore             { return &fakeBlobStore{f} }
func (f *fakeStore) DownloadSchedule() store.DownloadScheduleStore { return &fakeScheduleStore{f} }
func (f *fakeStore) Open() error                                   { return nil }
func (f *fakeStore) Close() error                                  { return nil }

func (f *fakeStore) InTx(_ context.Context, fn func(store.Store) error) error {
	if f.inTx {
		return fn(f)
	}

	f.mu.Lock()
	blobSnapshot := make(map[uuid.UUID]model.BlobObject, len(f.blobs))
	for k, v := range f.blobs {
		blobSnapshot[k] = v
	}
	scheduleSnapshot := make(map[uuid.UUID]model.DownloadSchedule, len(f.schedules))
	for k, v := range f.schedules {
		scheduleSnapshot[k] = v
	}
	f.inTx = true
	f.mu.Unlock()

	err := fn(f)

	f.mu.Lock()
	f.inTx = false
	if err != nil {
		f.blobs = blobSnapshot
		f.schedules = scheduleSnapshot
	}
	f.mu.Unlock()
	return err
}

// tick produces a strictly increasing near-now timestamp so list ordering by
// DateModified is deterministic. Callers must hold mu.
func (f *fakeStore) tick() time.Time {
	f.seq++
	return f.base.Add(time.Duration(f.seq) * time.Millisecond)
}

type fakeBlobStore struct{ s *fakeStore }

func (b *fakeBlobStore) Insert(_ context.Context, obj *model.BlobObject) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	for _, existing := range b.s.blobs {
		if existing.StorageType == obj.StorageType && existing.Key == obj.Key {
			return &dberr.DBUniqueViolationError{
				DBError: *dberr.NewDBError("insert_blob_object", "duplicate key"),
				Column:  "key",
			}
		}
	}
	b.s.blobs[obj.ID] = *obj
	return nil
}

func (b *fakeBlobStore) GetByID(_ context.Context, id uuid.UUID) (*model.BlobObject, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	obj, ok := b.s.blobs[id]
	if !ok {
		return nil, dberr.NewDBNotFoundError("get_blob_object", "no blob object found")
	}
	return &obj, nil
}

func (b *fakeBlobStore) UpdateParent(_ context.Context, id, parentID uuid.UUID) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	obj, ok := b.s.blobs[id]
	if !ok {
		return dberr.NewDBNotFoundError("update_blob_object_parent", "no blob object found")
	}
	obj.ParentID = &parentID
	b.s.blobs[id] = obj
	return nil
}

func (b *fakeBlobStore) Delete(_ context.Context, id uuid.UUID) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if _, ok := b.s.blobs[id]; !ok {
		return dberr.NewDBNotFoundError("delete_blob_object", "no blob object found")
	}
	delete(b.s.blobs, id)
	return nil
}

type fakeScheduleStore struct{ s *fakeStore }

func (d *fakeScheduleStore) Insert(_ context.Context, item *model.DownloadSchedule) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	for _, existing := range d.s.schedules {
		if existing.Status == model.ScheduleStatusPending &&
			existing.UserID == item.UserID &&
			existing.Type == item.Type &&
			existing.FilterHash == item.FilterHash {
			return &dberr.DBUniqueViolationError{
				DBError: *dberr.NewDBError("insert_download_schedule", "duplicate key"),
				Column:  "filter_hash",
			}
		}
	}
	now := d.s.tick()
	item.DateCreated = now
	item.DateModified = now
	d.s.schedules[item.ID] = *item
	return nil
}

func (d *fakeScheduleStore) GetByID(_ context.Context, id uuid.UUID) (*model.DownloadSchedule, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	item, ok := d.s.schedules[id]
	if !ok {
		return nil, dberr.NewDBNotFoundError("get_download_schedule", "no download schedule found")
	}
	return &item, nil
}

func (d *fakeScheduleStore) FindPending(_ context.Context, userID uuid.UUID, scheduleType model.ScheduleType, filterHash string) (*model.DownloadSchedule, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	for _, item := range d.s.schedules {
		if item.Status == model.ScheduleStatusPending &&
			item.UserID == userID &&
			item.Type == scheduleType &&
			item.FilterHash == filterHash {
			return &item, nil
		}
	}
	return nil, dberr.NewDBNotFoundError("find_pending_download_schedule", "no download schedule found")
}

func (d *fakeScheduleStore) ListPendingSchedule(_ context.Context, batchSize int, idsToSkip []uuid.UUID) ([]model.DownloadSchedule, error) {
	return d.list(batchSize, idsToSkip, func(item model.DownloadSchedule) bool {
		return item.Status == model.ScheduleStatusPending
	}), nil
}

func (d *fakeScheduleStore) ListPendingDeletion(_ context.Context, batchSize int, idsToSkip []uuid.UUID, cutoff time.Time) ([]model.DownloadSchedule, error) {
	return d.list(batchSize, idsToSkip, func(item model.DownloadSchedule) bool {
		return item.Status == model.ScheduleStatusProcessed &&
			item.FileID != nil &&
			item.DateModified.Before(cutoff)
	}), nil
}

func (d *fakeScheduleStore) list(batchSize int, idsToSkip []uuid.UUID, match func(model.DownloadSchedule) bool) []model.DownloadSchedule {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	skip := make(map[uuid.UUID]bool, len(idsToSkip))
	for _, id := range idsToSkip {
		skip[id] = true
	}

	var items []model.DownloadSchedule
	for _, item := range d.s.schedules {
		if match(item) && !skip[item.ID] {
			items = append(items, item)
		}
	}
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].DateModified.Before(items[j-1].DateModified); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
	if len(items) > batchSize {
		items = items[:batchSize]
	}
	return items
}

func (d *fakeScheduleStore) Update(_ context.Context, item *model.DownloadSchedule) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	if d.s.inTx && d.s.updateErrInTx != nil {
		return d.s.updateErrInTx
	}
	if _, ok := d.s.schedules[item.ID]; !ok {
		return dberr.NewDBNotFoundError("update_download_schedule", "no download schedule found")
	}
	item.DateModified = d.s.tick()
	d.s.schedules[item.ID] = *item
	return nil
}

func (d *fakeScheduleStore) UpdateBatch(ctx context.Context, items []model.DownloadSchedule) error {
	for i := range items {
		if err := d.Update(ctx, &items[i]); err != nil {
			return err
		}
	}
	return nil
}

// setDateModified backdates a row, bypassing the monotonic clock, so deletion
// tests can place it behind the expiration window.
func (f *fakeStore) setDateModified(id uuid.UUID, t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.schedules[id]
	item.DateModified = t
	f.schedules[id] = item
}

// fakeOpportunityReader serves a fixed record set.
type fakeOpportunityReader struct {
	records []model.OpportunityRecord
	err     error
}

func (r *fakeOpportunityReader) ListOpportunities(_ context.Context, _ model.OpportunityExportFilter) ([]model.OpportunityRecord, error) {
	return r.records, r.err
}

// fakeVerificationReader serves fixed verification rows and file ids.
type fakeVerificationReader struct {
	records []model.VerificationRecord
	fileIDs []uuid.UUID
	err     error
}

func (r *fakeVerificationReader) ListVerifications(_ context.Context, _ model.VerificationExportFilter) ([]model.VerificationRecord, error) {
	return r.records, r.err
}

func (r *fakeVerificationReader) ListVerificationFiles(_ context.Context, _ model.VerificationExportFilter) ([]uuid.UUID, error) {
	return r.fileIDs, r.err
}

// recordingDispatcher captures sent notifications.
type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sentNotification
}

type sentNotification struct {
	Type      notification.Type
	Recipient uuid.UUID
	Data      map[string]string
}

func (d *recordingDispatcher) Send(_ context.Context, notificationType notification.Type, recipient uuid.UUID, data map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentNotification{Type: notificationType, Recipient: recipient, Data: data})
	return nil
}
