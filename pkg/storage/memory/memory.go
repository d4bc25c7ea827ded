// Package memory implements an in-memory object store.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittosafe/pkg/storage"
)

// Store implements storage.Store using a map.
//
// It's designed for tests and ephemeral safes. Data lives as long as the
// Store value; named stores obtained through Shared live for the whole
// process so that several connections to the same mem:// URL see the same
// objects.
//
// Thread Safety:
// All operations are protected by a sync.RWMutex. Data is copied on put and
// get, so callers never share buffers with the store.
type Store struct {
	url string

	mu      sync.RWMutex
	objects map[string]object
}

type object struct {
	data    []byte
	modTime time.Time
}

// New creates an empty, unnamed store.
func New() *Store {
	return &Store{url: "mem://", objects: make(map[string]object)}
}

var (
	sharedMu sync.Mutex
	shared   = make(map[string]*Store)
)

// Shared returns the process-wide store registered under name, creating it
// on first use.
func Shared(name string) *Store {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	s, ok := shared[name]
	if !ok {
		s = New()
		s.url = "mem://" + name
		shared[name] = s
	}
	return s
}

// URL implements storage.Store.
func (s *Store) URL() string {
	return s.url
}

// Get implements storage.Store. The returned reader reads from a copy.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, storage.ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(obj.data))), nil
}

// Put implements storage.Store.
//
// The body is fully read before the map is touched, so a failed read leaves
// the previous object in place.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("failed to read body for %s: %w", key, err)
	}

	s.mu.Lock()
	s.objects[key] = object{data: buf.Bytes(), modTime: time.Now()}
	s.mu.Unlock()
	return nil
}

// Stat implements storage.Store.
func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.ObjectInfo{}, err
	}

	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return storage.ObjectInfo{}, fmt.Errorf("object %s: %w", key, storage.ErrObjectNotFound)
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(obj.data)), ModTime: obj.modTime}, nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// List implements storage.Store.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]storage.ObjectInfo, 0)
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(obj.data)), ModTime: obj.modTime})
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DeletePrefix implements storage.PrefixDeleter.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
		}
	}
	return nil
}

// Close implements storage.Store. Shared stores keep their data.
func (s *Store) Close() error {
	return nil
}
