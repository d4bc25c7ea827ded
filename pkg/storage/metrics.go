package storage

import (
	"context"
	"io"
	"time"
)

// Metrics provides observability for store operations.
//
// This is optional: stores opened without metrics are not wrapped.
// pkg/metrics provides the Prometheus implementation.
type Metrics interface {
	// ObserveOperation records an operation with its duration and outcome
	ObserveOperation(backend, operation string, duration time.Duration, err error)

	// RecordBytes records bytes transferred by get/put operations
	RecordBytes(backend, operation string, bytes int64)
}

// instrumented records metrics for every request sent to the wrapped store.
type instrumented struct {
	Store
	backend string
	metrics Metrics
}

// WithMetrics wraps s so that operations are reported to m under the
// backend label. A nil m returns s unchanged.
func WithMetrics(s Store, backend string, m Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumented{Store: s, backend: backend, metrics: m}
}

func (i *instrumented) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	r, err := i.Store.Get(ctx, key)
	i.metrics.ObserveOperation(i.backend, "get", time.Since(start), ignoreNotFound(err))
	if err != nil {
		return nil, err
	}
	return &metricsReadCloser{ReadCloser: r, metrics: i.metrics, backend: i.backend}, nil
}

func (i *instrumented) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	start := time.Now()
	cr := &countingReader{Reader: body}
	err := i.Store.Put(ctx, key, cr, size)
	i.metrics.ObserveOperation(i.backend, "put", time.Since(start), err)
	if err == nil {
		i.metrics.RecordBytes(i.backend, "put", cr.n)
	}
	return err
}

func (i *instrumented) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	start := time.Now()
	info, err := i.Store.Stat(ctx, key)
	i.metrics.ObserveOperation(i.backend, "stat", time.Since(start), ignoreNotFound(err))
	return info, err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.Store.Delete(ctx, key)
	i.metrics.ObserveOperation(i.backend, "delete", time.Since(start), err)
	return err
}

func (i *instrumented) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	start := time.Now()
	out, err := i.Store.List(ctx, prefix)
	i.metrics.ObserveOperation(i.backend, "list", time.Since(start), err)
	return out, err
}

func (i *instrumented) DeletePrefix(ctx context.Context, prefix string) error {
	start := time.Now()
	err := DeletePrefix(ctx, i.Store, prefix)
	i.metrics.ObserveOperation(i.backend, "delete_prefix", time.Since(start), err)
	return err
}

// A missing object is an expected answer, not a backend failure.
func ignoreNotFound(err error) error {
	if IsNotFound(err) {
		return nil
	}
	return err
}

// metricsReadCloser wraps an io.ReadCloser to track bytes read
type metricsReadCloser struct {
	io.ReadCloser
	metrics   Metrics
	backend   string
	bytesRead int64
}

func (m *metricsReadCloser) Read(p []byte) (n int, err error) {
	n, err = m.ReadCloser.Read(p)
	if n > 0 {
		m.bytesRead += int64(n)
	}
	return n, err
}

func (m *metricsReadCloser) Close() error {
	err := m.ReadCloser.Close()
	// Record bytes read regardless of close error
	if m.bytesRead > 0 {
		m.metrics.RecordBytes(m.backend, "get", m.bytesRead)
	}
	return err
}

type countingReader struct {
	io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.Reader.Read(p)
	c.n += int64(n)
	return n, err
}
