package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"repovault/internal/core"
	"repovault/internal/model"
)

// FilesystemArchive stores archive objects under a root directory:
//
//	<root>/
//	  objects/
//	    <key>        (object content, key slashes become directories)
//	  meta/
//	    <key>.json   (storage class and restore window)
//
// Cold classes are simulated: a restore of a cold object opens a window
// during which Get succeeds, mirroring how the S3 backend behaves.
type FilesystemArchive struct {
	root       string
	objectsDir string
	metaDir    string
	clock      core.Clock
}

type fsMeta struct {
	Class        model.StorageClass `json:"class"`
	RestoreUntil *time.Time         `json:"restore_until,omitempty"`
}

// NewFilesystemArchive creates a filesystem archive rooted at the given path.
func NewFilesystemArchive(root string, clock core.Clock) (*FilesystemArchive, error) {
	objectsDir := filepath.Join(root, "objects")
	metaDir := filepath.Join(root, "meta")
	if err := os.MkdirAll(objectsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create objects directory: %w", err)
	}
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create meta directory: %w", err)
	}
	return &FilesystemArchive{
		root:       root,
		objectsDir: objectsDir,
		metaDir:    metaDir,
		clock:      clock,
	}, nil
}

func (a *FilesystemArchive) objectPath(key string) (string, error) {
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key: %s", key)
	}
	return filepath.Join(a.objectsDir, filepath.FromSlash(key)), nil
}

func (a *FilesystemArchive) metaPath(key string) string {
	return filepath.Join(a.metaDir, filepath.FromSlash(key)+".json")
}

func (a *FilesystemArchive) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	path, err := a.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating object directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating object file: %w", err)
	}
	written, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("writing object: %w", err)
	}
	if written != size {
		os.Remove(path)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d", size, written)
	}

	return a.writeMeta(key, fsMeta{Class: model.ClassHot})
}

func (a *FilesystemArchive) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	meta, err := a.readMeta(key)
	if err != nil {
		return nil, err
	}
	if meta.Class.Cold() && !a.restoreReady(meta) {
		return nil, fmt.Errorf("object %s is in class %s and has no restored copy", key, meta.Class)
	}

	path, err := a.objectPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.NotFound(fmt.Errorf("object not found: %s", key))
		}
		return nil, fmt.Errorf("opening object: %w", err)
	}
	return f, nil
}

func (a *FilesystemArchive) Head(ctx context.Context, key string) (*core.ObjectInfo, error) {
	meta, err := a.readMeta(key)
	if err != nil {
		return nil, err
	}
	path, err := a.objectPath(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, core.NotFound(fmt.Errorf("object not found: %s", key))
	}

	restore := core.RestoreNone
	if meta.Class.Cold() && meta.RestoreUntil != nil {
		if a.restoreReady(meta) {
			restore = core.RestoreReady
		}
		// A lapsed window reads as RestoreNone.
	}
	return &core.ObjectInfo{
		Key:          key,
		SizeBytes:    info.Size(),
		StorageClass: meta.Class,
		Restore:      restore,
	}, nil
}

func (a *FilesystemArchive) Transition(ctx context.Context, key string, class model.StorageClass) error {
	meta, err := a.readMeta(key)
	if err != nil {
		return err
	}
	if meta.Class == class {
		return nil // already there
	}
	meta.Class = class
	meta.RestoreUntil = nil
	return a.writeMeta(key, *meta)
}

func (a *FilesystemArchive) Restore(ctx context.Context, key string, tier model.RetrievalTier, days int) error {
	meta, err := a.readMeta(key)
	if err != nil {
		return err
	}
	if !meta.Class.Cold() {
		return fmt.Errorf("object %s is in class %s and needs no restore", key, meta.Class)
	}
	if a.restoreReady(meta) {
		return nil // already restored
	}
	// Local disk has no thaw delay; the restored copy is ready at once.
	until := a.clock.Now().Add(time.Duration(days) * 24 * time.Hour)
	meta.RestoreUntil = &until
	return a.writeMeta(key, *meta)
}

func (a *FilesystemArchive) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	path, err := a.objectPath(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", core.NotFound(fmt.Errorf("object not found: %s", key))
	}
	// No signing on local disk; the file URL stands in for a signed one.
	return (&url.URL{Scheme: "file", Path: path}).String(), nil
}

func (a *FilesystemArchive) restoreReady(meta *fsMeta) bool {
	return meta.RestoreUntil != nil && a.clock.Now().Before(*meta.RestoreUntil)
}

func (a *FilesystemArchive) readMeta(key string) (*fsMeta, error) {
	body, err := os.ReadFile(a.metaPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.NotFound(fmt.Errorf("object not found: %s", key))
		}
		return nil, fmt.Errorf("reading object meta: %w", err)
	}
	var meta fsMeta
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("decoding object meta: %w", err)
	}
	return &meta, nil
}

func (a *FilesystemArchive) writeMeta(key string, meta fsMeta) error {
	path := a.metaPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating meta directory: %w", err)
	}
	body, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding object meta: %w", err)
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		return fmt.Errorf("writing object meta: %w", err)
	}
	return nil
}
