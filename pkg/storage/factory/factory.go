// Package factory opens object stores from storage URLs.
package factory

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/sourcegraph/conc/pool"

	"github.com/marmos91/dittosafe/internal/logger"
	"github.com/marmos91/dittosafe/internal/ratelimiter"
	"github.com/marmos91/dittosafe/pkg/config"
	"github.com/marmos91/dittosafe/pkg/storage"
	"github.com/marmos91/dittosafe/pkg/storage/fs"
	"github.com/marmos91/dittosafe/pkg/storage/memory"
	s3store "github.com/marmos91/dittosafe/pkg/storage/s3"
)

// Options contains settings shared by every store opened by a Factory.
type Options struct {
	// FilesystemRoot anchors relative file:// URLs
	FilesystemRoot string

	// S3 holds the raw storage.s3 config section
	S3 map[string]any

	// MaxRequestsPerSecond throttles each store (0 = unlimited)
	MaxRequestsPerSecond uint

	// Burst is the rate limiter burst size
	Burst uint

	// Metrics receives per-operation metrics (nil = disabled)
	Metrics storage.Metrics
}

// FromConfig builds Options from the storage config section.
func FromConfig(cfg config.StorageConfig, m storage.Metrics) Options {
	var root string
	if r, ok := cfg.Filesystem["root"].(string); ok {
		root = r
	}
	return Options{
		FilesystemRoot:       root,
		S3:                   cfg.S3,
		MaxRequestsPerSecond: cfg.MaxRequestsPerSecond,
		Burst:                cfg.Burst,
		Metrics:              m,
	}
}

// Factory opens stores by URL.
type Factory struct {
	opts Options
}

// New creates a Factory.
func New(opts Options) *Factory {
	return &Factory{opts: opts}
}

// Open connects to the store at rawURL, wrapped with the configured rate
// limiter and metrics.
func (f *Factory) Open(ctx context.Context, rawURL string) (storage.Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", rawURL, storage.ErrInvalidURL)
	}

	var store storage.Store
	switch u.Scheme {
	case "mem":
		name := u.Host + u.Path
		if name == "" {
			return nil, fmt.Errorf("%q: missing store name: %w", rawURL, storage.ErrInvalidURL)
		}
		store = memory.Shared(name)

	case "file":
		store, err = f.openFilesystem(ctx, u, rawURL)

	case "s3":
		store, err = f.openS3(ctx, u, rawURL)

	default:
		return nil, fmt.Errorf("%q: unsupported scheme %q: %w", rawURL, u.Scheme, storage.ErrInvalidURL)
	}
	if err != nil {
		return nil, err
	}

	if f.opts.MaxRequestsPerSecond > 0 {
		store = storage.WithRateLimit(store, ratelimiter.New(f.opts.MaxRequestsPerSecond, f.opts.Burst))
	}
	store = storage.WithMetrics(store, u.Scheme, f.opts.Metrics)

	logger.Debug("Store connected: url=%s", rawURL)
	return store, nil
}

// openFilesystem resolves file:///abs/path directly and file://rel/path
// under the filesystem root.
func (f *Factory) openFilesystem(ctx context.Context, u *url.URL, rawURL string) (storage.Store, error) {
	var dir string
	if u.Host == "" {
		dir = filepath.FromSlash(u.Path)
	} else {
		if f.opts.FilesystemRoot == "" {
			return nil, fmt.Errorf("%q: relative path without a filesystem root: %w", rawURL, storage.ErrInvalidURL)
		}
		dir = filepath.Join(f.opts.FilesystemRoot, filepath.FromSlash(u.Host+u.Path))
	}
	if dir == "" {
		return nil, fmt.Errorf("%q: missing path: %w", rawURL, storage.ErrInvalidURL)
	}
	return fs.NewOS(ctx, dir, rawURL)
}

// openS3 opens s3://bucket/prefix. Query parameters (region, endpoint,
// force_path_style, ...) override the storage.s3 config section.
func (f *Factory) openS3(ctx context.Context, u *url.URL, rawURL string) (storage.Store, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%q: missing bucket: %w", rawURL, storage.ErrInvalidURL)
	}

	settings := make(map[string]any, len(f.opts.S3))
	for k, v := range f.opts.S3 {
		settings[k] = v
	}
	for k, v := range u.Query() {
		if len(v) > 0 {
			settings[k] = v[0]
		}
	}

	var clientCfg s3store.ClientConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &clientCfg,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("invalid S3 config: %w", err)
	}

	client, err := s3store.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return s3store.New(ctx, client, u.Host, strings.TrimPrefix(u.Path, "/"), rawURL)
}

// Connect opens every URL concurrently and combines them into a single
// store whose primary is urls[0]. If any connection fails, the stores
// already opened are closed.
func (f *Factory) Connect(ctx context.Context, urls []string) (storage.Store, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("no storage urls: %w", storage.ErrInvalidURL)
	}

	stores := make([]storage.Store, len(urls))
	p := pool.New().WithContext(ctx)
	for i, rawURL := range urls {
		p.Go(func(ctx context.Context) error {
			s, err := f.Open(ctx, rawURL)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", rawURL, err)
			}
			stores[i] = s
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		for _, s := range stores {
			if s != nil {
				_ = s.Close()
			}
		}
		return nil, err
	}

	return storage.NewReplicated(stores), nil
}
