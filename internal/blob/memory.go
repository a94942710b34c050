package blob

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Memory is an in-memory backend for tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	contentType string
	data        []byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

func (m *Memory) Upload(_ context.Context, key, contentType string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{contentType: contentType, data: append([]byte(nil), data...)}
	return nil
}

func (m *Memory) UploadFile(ctx context.Context, key, contentType, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return m.Upload(ctx, key, contentType, data)
}

func (m *Memory) UploadFromCopy(_ context.Context, key, contentType, _, sourceKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.objects[sourceKey]
	if !ok {
		return fmt.Errorf("memory copy %q: %w", sourceKey, ErrKeyNotFound)
	}
	m.objects[key] = memObject{contentType: contentType, data: append([]byte(nil), src.data...)}
	return nil
}

func (m *Memory) Download(_ context.Context, key string) (string, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return "", nil, fmt.Errorf("memory get %q: %w", key, ErrKeyNotFound)
	}
	return obj.contentType, append([]byte(nil), obj.data...), nil
}

func (m *Memory) DownloadToFile(ctx context.Context, key string) (string, string, error) {
	contentType, data, err := m.Download(ctx, key)
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

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) URL(_ context.Context, key, fileName string, _ int) (string, error) {
	u := "memory://" + key
	if fileName != "" {
		u += "?filename=" + fileName
	}
	return u, nil
}

// Len reports the number of stored objects. Tests use it to assert that
// compensation left no orphans.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Exists reports whether key holds an object.
func (m *Memory) Exists(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}
