package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yoma-network/export-worker/internal/model"
)

type Store interface {
	BlobObject() BlobObjectStore
	DownloadSchedule() DownloadScheduleStore

	// InTx runs fn against a transaction-bound view of the store. fn returning
	// an error rolls the transaction back; otherwise it commits.
	InTx(ctx context.Context, fn func(Store) error) error

	// ------------ Database Management ------------ //
	Open() error  // Return custom DB error
	Close() error // Return custom DB error
}

type BlobObjectStore interface {
	Insert(ctx context.Context, obj *model.BlobObject) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.BlobObject, error)
	// UpdateParent links an archived row to its replacement.
	UpdateParent(ctx context.Context, id, parentID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type DownloadScheduleStore interface {
	Insert(ctx context.Context, item *model.DownloadSchedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.DownloadSchedule, error)
	// FindPending returns the Pending row matching the dedup fingerprint, or a
	// DBNotFoundError.
	FindPending(ctx context.Context, userID uuid.UUID, scheduleType model.ScheduleType, filterHash string) (*model.DownloadSchedule, error)
	// ListPendingSchedule returns Pending rows oldest-modified-first, skipping
	// idsToSkip, capped at batchSize.
	ListPendingSchedule(ctx context.Context, batchSize int, idsToSkip []uuid.UUID) ([]model.DownloadSchedule, error)
	// ListPendingDeletion returns Processed rows with a file attached whose
	// DateModified is older than cutoff.
	ListPendingDeletion(ctx context.Context, batchSize int, idsToSkip []uuid.UUID, cutoff time.Time) ([]model.DownloadSchedule, error)
	Update(ctx context.Context, item *model.DownloadSchedule) error
	UpdateBatch(ctx context.Context, items []model.DownloadSchedule) error
}
