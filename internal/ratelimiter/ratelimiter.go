// Package ratelimiter throttles requests sent to storage backends.
//
// Remote object stores bill and throttle per request, so every store opened
// by the engine can be wrapped with a token bucket shared by all safes that
// use it. A nil *RateLimiter is valid and never blocks.
package ratelimiter

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing requestsPerSecond sustained and burst
// immediate requests. A zero rate means unlimited; a zero burst defaults to
// the rate.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = requestsPerSecond
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow consumes a token if one is available and reports whether it did.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// WaitN blocks until n tokens are available. Requests larger than the burst
// are split so a batch never fails just for being large.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	if r == nil || r.limiter.Limit() == rate.Inf {
		return nil
	}
	burst := r.limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := r.limiter.WaitN(ctx, step); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		n -= step
	}
	return nil
}

// Tokens returns the number of tokens currently available.
func (r *RateLimiter) Tokens() float64 {
	if r == nil {
		return 0
	}
	return r.limiter.Tokens()
}
