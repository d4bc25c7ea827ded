package storage

import (
	"context"
	"io"

	"github.com/marmos91/dittosafe/internal/ratelimiter"
)

// rateLimited throttles every request sent to the wrapped store.
type rateLimited struct {
	Store
	limiter *ratelimiter.RateLimiter
}

// WithRateLimit wraps s so that each request first takes a token from
// limiter. A nil limiter returns s unchanged.
func WithRateLimit(s Store, limiter *ratelimiter.RateLimiter) Store {
	if limiter == nil {
		return s
	}
	return &rateLimited{Store: s, limiter: limiter}
}

func (r *rateLimited) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Store.Get(ctx, key)
}

func (r *rateLimited) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.Store.Put(ctx, key, body, size)
}

func (r *rateLimited) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return ObjectInfo{}, err
	}
	return r.Store.Stat(ctx, key)
}

func (r *rateLimited) Delete(ctx context.Context, key string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.Store.Delete(ctx, key)
}

func (r *rateLimited) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Store.List(ctx, prefix)
}

func (r *rateLimited) DeletePrefix(ctx context.Context, prefix string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return DeletePrefix(ctx, r.Store, prefix)
}
