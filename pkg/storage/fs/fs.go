// Package fs implements a filesystem object store on top of afero.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/marmos91/dittosafe/internal/logger"
	"github.com/marmos91/dittosafe/pkg/storage"
)

// tempPrefix marks in-flight writes. Such files are never listed.
const tempPrefix = ".tmp-"

// Store implements storage.Store on a directory tree.
//
// Object keys map to paths below the root ("vault/data/x" is stored at
// <root>/vault/data/x). Writes go to a temporary file in the destination
// directory which is fsynced and renamed over the target, so a crash
// leaves either the old object or the new one.
//
// Thread Safety:
// Safe for concurrent use. Concurrent puts to the same key each write
// their own temporary file; the last rename wins.
type Store struct {
	url string
	fs  afero.Fs
}

// New creates a store rooted at root inside afs. The root directory is
// created if it doesn't exist.
func New(ctx context.Context, afs afero.Fs, root, url string) (*Store, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Create the root directory if it doesn't exist
	// ========================================================================

	if err := afs.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", root, err)
	}

	logger.Debug("Filesystem store opened: root=%s", root)

	return &Store{
		url: url,
		fs:  afero.NewBasePathFs(afs, root),
	}, nil
}

// NewOS creates a store on the local disk.
func NewOS(ctx context.Context, root, url string) (*Store, error) {
	return New(ctx, afero.NewOsFs(), root, url)
}

// URL implements storage.Store.
func (s *Store) URL() string {
	return s.url
}

func objectPath(key string) string {
	return filepath.FromSlash("/" + key)
}

func notFound(key string, err error) error {
	if errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("object %s: %w", key, storage.ErrObjectNotFound)
	}
	return nil
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}

	f, err := s.fs.Open(objectPath(key))
	if err != nil {
		if nf := notFound(key, err); nf != nil {
			return nil, nf
		}
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return f, nil
}

// Put implements storage.Store.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	// ========================================================================
	// Step 1: Validate and prepare the destination directory
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	target := objectPath(key)
	dir := filepath.Dir(target)
	if err := s.fs.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	// ========================================================================
	// Step 2: Write and fsync a temporary file next to the target
	// ========================================================================

	tmp := filepath.Join(dir, tempPrefix+uuid.NewString())
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temporary file for %s: %w", key, err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
	}

	if _, err := io.Copy(f, r); err != nil {
		cleanup()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", key, err)
	}

	// ========================================================================
	// Step 3: Atomically replace the target
	// ========================================================================

	if err := ctx.Err(); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := s.fs.Rename(tmp, target); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	return nil
}

// Stat implements storage.Store.
func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.ObjectInfo{}, err
	}
	if err := storage.ValidateKey(key); err != nil {
		return storage.ObjectInfo{}, err
	}

	info, err := s.fs.Stat(objectPath(key))
	if err != nil {
		if nf := notFound(key, err); nf != nil {
			return storage.ObjectInfo{}, nf
		}
		return storage.ObjectInfo{}, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	if info.IsDir() {
		return storage.ObjectInfo{}, fmt.Errorf("object %s: %w", key, storage.ErrObjectNotFound)
	}
	return storage.ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	if err := s.fs.Remove(objectPath(key)); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// List implements storage.Store.
//
// Only the directory holding the prefix's last complete segment is walked.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	walkRoot := "/"
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		walkRoot = objectPath(prefix[:i])
	}

	out := make([]storage.ObjectInfo, 0)
	err := afero.Walk(s.fs, walkRoot, func(p string, info iofs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), tempPrefix) {
			return nil
		}

		key := strings.TrimPrefix(filepath.ToSlash(p), "/")
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DeletePrefix implements storage.PrefixDeleter. A prefix ending in "/"
// removes the whole directory.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if strings.HasSuffix(prefix, "/") {
		dir := strings.TrimSuffix(prefix, "/")
		if err := storage.ValidateKey(dir); err != nil {
			return err
		}
		if err := s.fs.RemoveAll(objectPath(dir)); err != nil {
			return fmt.Errorf("failed to delete %q: %w", prefix, err)
		}
		return nil
	}

	objects, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := s.Delete(ctx, obj.Key); err != nil {
			return err
		}
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return nil
}
