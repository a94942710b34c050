// Package blob provides the pluggable object-storage backends behind the blob
// service. A backend owns physical bytes only; the relational ledger lives in
// the store layer.
package blob

import (
	"context"

	"github.com/yoma-network/export-worker/internal/errors"
	"github.com/yoma-network/export-worker/internal/model"
)

// Backend is a single object-storage implementation, selected per blob by
// model.StorageType.
type Backend interface {
	// Upload stores in-memory bytes under key.
	Upload(ctx context.Context, key, contentType string, data []byte) error
	// UploadFile streams an already-staged local file under key.
	UploadFile(ctx context.Context, key, contentType, path string) error
	// UploadFromCopy materializes key by a server-side copy from a staging
	// location, without a bytes round-trip through this process.
	UploadFromCopy(ctx context.Context, key, contentType, sourceBucket, sourceKey string) error
	Download(ctx context.Context, key string) (contentType string, data []byte, err error)
	// DownloadToFile writes the object to a temp file and returns its path.
	// The caller owns the file.
	DownloadToFile(ctx context.Context, key string) (contentType string, path string, err error)
	Delete(ctx context.Context, key string) error
	// URL returns a retrieval URL for key, signed/expiring where the backend
	// supports it. fileName, when set, drives the content-disposition name.
	URL(ctx context.Context, key, fileName string, expirationMinutes int) (string, error)
}

// Registry resolves backends by storage type.
type Registry struct {
	backends map[model.StorageType]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[model.StorageType]Backend)}
}

func (r *Registry) Register(storageType model.StorageType, backend Backend) {
	r.backends[storageType] = backend
}

func (r *Registry) Resolve(storageType model.StorageType) (Backend, error) {
	backend, ok := r.backends[storageType]
	if !ok {
		return nil, errors.InvalidArgument("no backend registered for storage type " + string(storageType))
	}
	return backend, nil
}
