package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/marmos91/dittosafe/internal/logger"
)

// Replicated fans writes out to several stores and serves reads from the
// first one (the primary).
//
// A write succeeds when the primary accepted it. Replica failures are
// logged and otherwise ignored: a lagging replica is repaired by the next
// write of the same object.
type Replicated struct {
	primary  Store
	replicas []Store

	// spool holds bodies above memoryLimit while replicas copy them
	spool afero.Fs
}

// memoryLimit is the largest body of known size that Put buffers in RAM.
const memoryLimit = 1 << 20

// NewReplicated combines stores; stores[0] is the primary. A single store
// is returned unchanged.
func NewReplicated(stores []Store) Store {
	return newReplicated(stores, afero.NewOsFs())
}

func newReplicated(stores []Store, spool afero.Fs) Store {
	if len(stores) == 1 {
		return stores[0]
	}
	return &Replicated{primary: stores[0], replicas: stores[1:], spool: spool}
}

// URL implements Store.
func (r *Replicated) URL() string {
	return r.primary.URL()
}

// Get implements Store.
func (r *Replicated) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return r.primary.Get(ctx, key)
}

// Stat implements Store.
func (r *Replicated) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	return r.primary.Stat(ctx, key)
}

// List implements Store.
func (r *Replicated) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	return r.primary.List(ctx, prefix)
}

// Put implements Store.
//
// Small bodies of known size are buffered and written to every store
// concurrently. Larger ones stream to the primary while being spooled to a
// temporary file, which the replicas then read concurrently.
func (r *Replicated) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	if size >= 0 && size <= memoryLimit {
		data, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("failed to read body for %s: %w", key, err)
		}
		return r.fanOut(ctx, "put "+key, func(ctx context.Context, s Store) error {
			return s.Put(ctx, key, bytes.NewReader(data), int64(len(data)))
		})
	}

	tmp, err := afero.TempFile(r.spool, "", "dittosafe-replica-*")
	if err != nil {
		return fmt.Errorf("failed to create spool for %s: %w", key, err)
	}
	defer func() {
		_ = tmp.Close()
		_ = r.spool.Remove(tmp.Name())
	}()

	counted := &countingWriter{w: tmp}
	if err := r.primary.Put(ctx, key, io.TeeReader(body, counted), size); err != nil {
		return err
	}
	if counted.err != nil {
		logger.Warn("Replica spool failed: key=%s error=%v", key, counted.err)
		return nil
	}

	n := counted.n
	p := pool.New().WithContext(ctx)
	for _, replica := range r.replicas {
		p.Go(func(ctx context.Context) error {
			if err := replica.Put(ctx, key, io.NewSectionReader(tmp, 0, n), n); err != nil {
				logger.Warn("Replica write failed: url=%s op=put %s error=%v", replica.URL(), key, err)
			}
			return nil
		})
	}
	return p.Wait()
}

// countingWriter records the bytes written and the first error without
// failing the tee it sits behind.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err == nil {
		var n int
		n, c.err = c.w.Write(p)
		c.n += int64(n)
	}
	return len(p), nil
}

// Delete implements Store.
func (r *Replicated) Delete(ctx context.Context, key string) error {
	return r.fanOut(ctx, "delete "+key, func(ctx context.Context, s Store) error {
		return s.Delete(ctx, key)
	})
}

// DeletePrefix implements PrefixDeleter.
func (r *Replicated) DeletePrefix(ctx context.Context, prefix string) error {
	return r.fanOut(ctx, "delete prefix "+prefix, func(ctx context.Context, s Store) error {
		return DeletePrefix(ctx, s, prefix)
	})
}

func (r *Replicated) fanOut(ctx context.Context, op string, fn func(context.Context, Store) error) error {
	p := pool.New().WithContext(ctx)

	p.Go(func(ctx context.Context) error {
		return fn(ctx, r.primary)
	})
	for _, replica := range r.replicas {
		p.Go(func(ctx context.Context) error {
			if err := fn(ctx, replica); err != nil {
				logger.Warn("Replica write failed: url=%s op=%s error=%v", replica.URL(), op, err)
			}
			return nil
		})
	}

	return p.Wait()
}

// Close implements Store.
func (r *Replicated) Close() error {
	errs := []error{r.primary.Close()}
	for _, replica := range r.replicas {
		errs = append(errs, replica.Close())
	}
	return errors.Join(errs...)
}
