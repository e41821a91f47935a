package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"repovault/internal/core"
	"repovault/internal/model"
)

// MemoryArchive is an in-memory implementation of the archive store.
// It mimics the restore behavior of cold storage classes, making it
// useful for testing. Safe for concurrent use.
type MemoryArchive struct {
	mu      sync.RWMutex
	objects map[string]*memObject
}

type memObject struct {
	data    []byte
	class   model.StorageClass
	restore core.RestoreState
}

// NewMemoryArchive creates an empty in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{objects: make(map[string]*memObject)}
}

func (a *MemoryArchive) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading object: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[key] = &memObject{data: data, class: model.ClassHot}
	return nil
}

func (a *MemoryArchive) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	obj, ok := a.objects[key]
	if !ok {
		return nil, core.NotFound(fmt.Errorf("object not found: %s", key))
	}
	if obj.class.Cold() && obj.restore != core.RestoreReady {
		return nil, fmt.Errorf("object %s is in class %s and has no restored copy", key, obj.class)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (a *MemoryArchive) Head(ctx context.Context, key string) (*core.ObjectInfo, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	obj, ok := a.objects[key]
	if !ok {
		return nil, core.NotFound(fmt.Errorf("object not found: %s", key))
	}
	return &core.ObjectInfo{
		Key:          key,
		SizeBytes:    int64(len(obj.data)),
		StorageClass: obj.class,
		Restore:      obj.restore,
	}, nil
}

func (a *MemoryArchive) Transition(ctx context.Context, key string, class model.StorageClass) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	obj, ok := a.objects[key]
	if !ok {
		return core.NotFound(fmt.Errorf("object not found: %s", key))
	}
	if obj.class == class {
		return nil // already there
	}
	obj.class = class
	obj.restore = core.RestoreNone
	return nil
}

func (a *MemoryArchive) Restore(ctx context.Context, key string, tier model.RetrievalTier, days int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	obj, ok := a.objects[key]
	if !ok {
		return core.NotFound(fmt.Errorf("object not found: %s", key))
	}
	if !obj.class.Cold() {
		return fmt.Errorf("object %s is in class %s and needs no restore", key, obj.class)
	}
	// Re-requesting an in-flight or finished restore is a no-op.
	if obj.restore == core.RestoreNone {
		obj.restore = core.RestoreInProgress
	}
	return nil
}

func (a *MemoryArchive) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if _, ok := a.objects[key]; !ok {
		return "", core.NotFound(fmt.Errorf("object not found: %s", key))
	}
	return fmt.Sprintf("memory://%s?ttl=%ds", key, int(ttl.Seconds())), nil
}

// FinishRestore marks an in-flight restore as ready. Tests drive restore
// progress through this; the real backends progress on their own.
func (a *MemoryArchive) FinishRestore(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if obj, ok := a.objects[key]; ok {
		obj.restore = core.RestoreReady
	}
}

// LapseRestore drops a restored copy, as storage does when its window passes.
func (a *MemoryArchive) LapseRestore(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if obj, ok := a.objects[key]; ok {
		obj.restore = core.RestoreNone
	}
}
