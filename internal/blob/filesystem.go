package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
)

// ErrKeyNotFound is returned when a key has no object in the backend.
var ErrKeyNotFound = errors.New("key not found")

// FileSystem stores objects as files under a root directory. Keys may contain
// slashes; intermediate directories are created on demand. The content type is
// kept in a sidecar metadata file so downloads can report it back.
type FileSystem struct {
	root string
	// publicBaseURL prefixes retrieval URLs. URLs are not signed or expiring.
	publicBaseURL string
}

func NewFileSystem(root, publicBaseURL string) *FileSystem {
	return &FileSystem{root: root, publicBaseURL: publicBaseURL}
}

type fsMeta struct {
	ContentType string `json:"contentType"`
}

func (s *FileSystem) Upload(_ context.Context, key, contentType string, data []byte) error {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	return s.writeMeta(path, contentType)
}

func (s *FileSystem) UploadFile(ctx context.Context, key, contentType, stagedPath string) error {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	src, err := os.Open(stagedPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(path)
		return err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return s.writeMeta(path, contentType)
}

func (s *FileSystem) UploadFromCopy(ctx context.Context, key, contentType, _, sourceKey string) error {
	// Staging and destination share the filesystem, so a copy is a local read.
	return s.UploadFile(ctx, key, contentType, filepath.Join(s.root, filepath.FromSlash(sourceKey)))
}

func (s *FileSystem) Download(_ context.Context, key string) (string, []byte, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, fmt.Errorf("filesystem get %q: %w", key, ErrKeyNotFound)
		}
		return "", nil, err
	}
	return s.readMeta(path), data, nil
}

func (s *FileSystem) DownloadToFile(ctx context.Context, key string) (string, string, error) {
	contentType, data, err := s.Download(ctx, key)
	if err != nil {
		return "", "", err
	}
	f, err := os.CreateTemp("", "blob-*")
	if err != nil {
		return "", "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", "", err
	}
	return contentType, f.Name(), nil
}

func (s *FileSystem) Delete(_ context.Context, key string) error {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	_ = os.Remove(path + ".meta")
	return nil
}

func (s *FileSystem) URL(_ context.Context, key, fileName string, _ int) (string, error) {
	u := s.publicBaseURL + "/" + key
	if fileName != "" {
		u += "?filename=" + url.QueryEscape(fileName)
	}
	return u, nil
}

func (s *FileSystem) writeMeta(path, contentType string) error {
	raw, err := json.Marshal(fsMeta{ContentType: contentType})
	if err != nil {
		return err
	}
	return os.WriteFile(path+".meta", raw, 0o644)
}

func (s *FileSystem) readMeta(path string) string {
	raw, err := os.ReadFile(path + ".meta")
	if err != nil {
		return "application/octet-stream"
	}
	var meta fsMeta
	if err := json.Unmarshal(raw, &meta); err != nil || meta.ContentType == "" {
		return "application/octet-stream"
	}
	return meta.ContentType
}
