// Package storage defines the object store abstraction that holds safe
// containers.
//
// A Store is a flat namespace of objects addressed by slash-separated keys
// ("vault/headers/0190c3..."). Stores are reachable by URL:
//
//	mem://<name>              process-wide in-memory store
//	file:///abs/path          local directory
//	file://relative/path      directory under the configured filesystem root
//	s3://bucket[/prefix]      S3 or S3-compatible bucket
//
// Every Put is atomic: readers observe either the previous object or the
// complete new one, never a partial write.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	// Key is the object key relative to the store root
	Key string

	// Size is the object size in bytes
	Size int64

	// ModTime is the last modification time reported by the backend
	ModTime time.Time
}

// Store is the interface implemented by object store backends.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type Store interface {
	// URL returns the location the store was opened from.
	URL() string

	// Get returns a reader for the object's content.
	// Returns ErrObjectNotFound if the object does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put atomically creates or replaces the object.
	// size is a hint (-1 if unknown).
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Stat returns object information.
	// Returns ErrObjectNotFound if the object does not exist.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all objects whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Close releases backend resources.
	Close() error
}

// PrefixDeleter is implemented by stores that can remove a whole key range
// more efficiently than one object at a time.
type PrefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// DeletePrefix removes every object under prefix.
func DeletePrefix(ctx context.Context, s Store, prefix string) error {
	if pd, ok := s.(PrefixDeleter); ok {
		return pd.DeletePrefix(ctx, prefix)
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

// ReadAll reads a whole object.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	r, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// PutBytes stores data under key.
func PutBytes(ctx context.Context, s Store, key string, data []byte) error {
	return s.Put(ctx, key, bytes.NewReader(data), int64(len(data)))
}

// Exists reports whether key exists.
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// ValidateKey checks that key is a clean, relative, slash-separated key.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key: %w", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.ContainsAny(key, "\\\x00") {
		return fmt.Errorf("key %q: %w", key, ErrInvalidKey)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("key %q is not clean: %w", key, ErrInvalidKey)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("key %q: %w", key, ErrInvalidKey)
		}
	}
	return nil
}
