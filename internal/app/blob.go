package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yoma-network/export-worker/internal/blob"
	"github.com/yoma-network/export-worker/internal/errors"
	"github.com/yoma-network/export-worker/internal/model"
	"github.com/yoma-network/export-worker/internal/store"
	"github.com/yoma-network/export-worker/internal/util"
)

// ResumableUploadInfo describes a pre-staged upload held by the resumable
// upload store.
type ResumableUploadInfo struct {
	OriginalFileName string
	ContentType      string
	Length           int64
	Extension        string
	SourceBucket     string
	SourceKey        string
}

// ResumableUploadStore resolves metadata for uploads staged through the
// resumable-upload endpoint (owned by the API layer).
type ResumableUploadStore interface {
	GetInfo(ctx context.Context, uploadID uuid.UUID) (*ResumableUploadInfo, error)
}

// BlobService manages the blob ledger and the physical objects behind it.
// Ledger writes and uploads run inside one transaction: an upload failure
// aborts the ledger insert, and callers compensate the reverse case by
// deleting the physical object (see DownloadBackgroundService).
type BlobService struct {
	store       store.Store
	backends    *blob.Registry
	validator   *FileValidator
	resumables  ResumableUploadStore
	environment string
}

func NewBlobService(s store.Store, backends *blob.Registry, validator *FileValidator, resumables ResumableUploadStore, environment string) *BlobService {
	return &BlobService{
		store:       s,
		backends:    backends,
		validator:   validator,
		resumables:  resumables,
		environment: environment,
	}
}

// WithStore returns a view of the service bound to s, typically a
// transaction-bound store inside InTx.
func (b *BlobService) WithStore(s store.Store) *BlobService {
	clone := *b
	clone.store = s
	return &clone
}

func (b *BlobService) GetByID(ctx context.Context, id uuid.UUID) (*model.BlobObject, error) {
	if id == uuid.Nil {
		return nil, errors.InvalidArgument("blob id is required")
	}
	obj, err := b.store.BlobObject().GetByID(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NotFound(fmt.Sprintf("blob object %s does not exist", id))
		}
		return nil, err
	}
	return obj, nil
}

// Create stores a new blob from exactly one of file or uploadID.
func (b *BlobService) Create(ctx context.Context, fileType model.FileType, storageType model.StorageType, file *model.FileHandle, uploadID *uuid.UUID) (*model.BlobObject, error) {
	switch {
	case file != nil && uploadID != nil:
		return nil, errors.InvalidArgument("specify either a file or an upload id, not both")
	case file != nil:
		return b.createFromFile(ctx, fileType, storageType, file)
	case uploadID != nil:
		return b.createFromUpload(ctx, fileType, storageType, *uploadID)
	default:
		return nil, errors.InvalidArgument("either a file or an upload id is required")
	}
}

func (b *BlobService) createFromFile(ctx context.Context, fileType model.FileType, storageType model.StorageType, file *model.FileHandle) (*model.BlobObject, error) {
	if err := b.validator.Validate(fileType, file); err != nil {
		return nil, err
	}

	backend, err := b.backends.Resolve(storageType)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	obj := &model.BlobObject{
		ID:               id,
		StorageType:      storageType,
		FileType:         fileType,
		Key:              b.buildKey(fileType, id, file.FileName, file.ContentType),
		ContentType:      file.ContentType,
		OriginalFileName: file.FileName,
	}

	// The upload runs last inside the transaction so an upload failure aborts
	// the ledger insert. The reverse (commit then orphaned bytes) is the
	// caller's compensation, via Delete(blobObject).
	err = b.store.InTx(ctx, func(s store.Store) error {
		if err := s.BlobObject().Insert(ctx, obj); err != nil {
			return err
		}
		if file.Path != "" {
			return backend.UploadFile(ctx, obj.Key, obj.ContentType, file.Path)
		}
		return backend.Upload(ctx, obj.Key, obj.ContentType, file.Data)
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (b *BlobService) createFromUpload(ctx context.Context, fileType model.FileType, storageType model.StorageType, uploadID uuid.UUID) (*model.BlobObject, error) {
	if b.resumables == nil {
		return nil, errors.NotImplemented("no resumable upload store configured")
	}
	info, err := b.resumables.GetInfo(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if err := b.validator.ValidateName(fileType, info.OriginalFileName, info.Length); err != nil {
		return nil, err
	}

	backend, err := b.backends.Resolve(storageType)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	obj := &model.BlobObject{
		ID:               id,
		StorageType:      storageType,
		FileType:         fileType,
		Key:              fmt.Sprintf("%s/%s/%s%s", b.environment, fileType, id, info.Extension),
		ContentType:      info.ContentType,
		OriginalFileName: info.OriginalFileName,
	}

	err = b.store.InTx(ctx, func(s store.Store) error {
		if err := s.BlobObject().Insert(ctx, obj); err != nil {
			return err
		}
		// Server-side copy from the staging location, no bytes round-trip.
		return backend.UploadFromCopy(ctx, obj.Key, obj.ContentType, info.SourceBucket, info.SourceKey)
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// CreateRepair re-uploads bytes for an existing ledger row without creating a
// new row. It repairs the state where the row exists but the physical object
// is missing after a caller's partial compensation.
func (b *BlobService) CreateRepair(ctx context.Context, id uuid.UUID, file *model.FileHandle) error {
	if file == nil {
		return errors.InvalidArgument("file is required")
	}
	obj, err := b.GetByID(ctx, id)
	if err != nil {
		return err
	}
	backend, err := b.backends.Resolve(obj.StorageType)
	if err != nil {
		return err
	}
	if file.Path != "" {
		return backend.UploadFile(ctx, obj.Key, obj.ContentType, file.Path)
	}
	return backend.Upload(ctx, obj.Key, obj.ContentType, file.Data)
}

func (b *BlobService) Download(ctx context.Context, id uuid.UUID) (*model.BlobObject, *model.FileHandle, error) {
	obj, err := b.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	backend, err := b.backends.Resolve(obj.StorageType)
	if err != nil {
		return nil, nil, err
	}
	contentType, data, err := backend.Download(ctx, obj.Key)
	if err != nil {
		return nil, nil, err
	}
	if contentType == "" {
		contentType = obj.ContentType
	}
	return obj, &model.FileHandle{
		FileName:    obj.OriginalFileName,
		ContentType: contentType,
		Data:        data,
	}, nil
}

// DownloadRawToFile streams the object to a temp file and returns its content
// type and path. The caller owns the file.
func (b *BlobService) DownloadRawToFile(ctx context.Context, id uuid.UUID) (string, string, error) {
	obj, err := b.GetByID(ctx, id)
	if err != nil {
		return "", "", err
	}
	backend, err := b.backends.Resolve(obj.StorageType)
	if err != nil {
		return "", "", err
	}
	contentType, path, err := backend.DownloadToFile(ctx, obj.Key)
	if err != nil {
		return "", "", err
	}
	if contentType == "" {
		contentType = obj.ContentType
	}
	return contentType, path, nil
}

func (b *BlobService) GetURL(ctx context.Context, id uuid.UUID, fileName string, expirationMinutes int) (string, error) {
	obj, err := b.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if fileName == "" {
		fileName = obj.OriginalFileName
	}
	return b.GetURLByKey(ctx, obj.StorageType, obj.Key, fileName, expirationMinutes)
}

// GetURLByKey produces a retrieval URL without touching the ledger.
func (b *BlobService) GetURLByKey(ctx context.Context, storageType model.StorageType, key, fileName string, expirationMinutes int) (string, error) {
	backend, err := b.backends.Resolve(storageType)
	if err != nil {
		return "", err
	}
	return backend.URL(ctx, key, fileName, expirationMinutes)
}

// Delete removes the ledger row and the physical object together; failure of
// either aborts the whole operation.
func (b *BlobService) Delete(ctx context.Context, id uuid.UUID) error {
	obj, err := b.GetByID(ctx, id)
	if err != nil {
		return err
	}
	backend, err := b.backends.Resolve(obj.StorageType)
	if err != nil {
		return err
	}
	return b.store.InTx(ctx, func(s store.Store) error {
		if err := s.BlobObject().Delete(ctx, obj.ID); err != nil {
			return err
		}
		return backend.Delete(ctx, obj.Key)
	})
}

// DeletePhysical removes only the backend object for an in-memory descriptor,
// leaving the ledger untouched. It is the compensation half used when a
// caller's transaction rolled back a ledger insert after the bytes landed.
func (b *BlobService) DeletePhysical(ctx context.Context, obj *model.BlobObject) error {
	if obj == nil {
		return errors.InvalidArgument("blob object is required")
	}
	backend, err := b.backends.Resolve(obj.StorageType)
	if err != nil {
		return err
	}
	return backend.Delete(ctx, obj.Key)
}

// Archive links the old row to its replacement. Bytes are not moved or
// deleted; the original row is retained.
func (b *BlobService) Archive(ctx context.Context, id, replacementID uuid.UUID) error {
	if id == uuid.Nil || replacementID == uuid.Nil {
		return errors.InvalidArgument("blob id and replacement id are required")
	}
	if _, err := b.GetByID(ctx, replacementID); err != nil {
		return err
	}
	return b.store.BlobObject().UpdateParent(ctx, id, replacementID)
}

func (b *BlobService) buildKey(fileType model.FileType, id uuid.UUID, fileName, contentType string) string {
	return fmt.Sprintf("%s/%s/%s%s", b.environment, fileType, id, util.GetFileExt(fileName, contentType))
}
