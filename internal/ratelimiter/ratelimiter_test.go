package ratelimiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name              string
		requestsPerSecond uint
		burst             uint
	}{
		{"standard rate", 100, 200},
		{"default burst", 50, 0},
		{"low rate", 1, 2},
		{"unlimited", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.requestsPerSecond, tt.burst)
			require.NotNil(t, limiter)
			require.NotNil(t, limiter.limiter)
		})
	}
}

func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Allow(), "request %d should be allowed within burst", i)
	}
	assert.False(t, limiter.Allow(), "bucket should be empty after burst")

	time.Sleep(110 * time.Millisecond)
	assert.True(t, limiter.Allow(), "token should be replenished")
}

func TestWait(t *testing.T) {
	limiter := New(10, 1)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx))

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 300*time.Millisecond)
}

func TestWaitContextCancellation(t *testing.T) {
	limiter := New(1, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	require.Error(t, err)
	<-ctx.Done()
	assert.True(t, errors.Is(ctx.Err(), context.DeadlineExceeded))
}

func TestWaitNLargerThanBurst(t *testing.T) {
	limiter := New(1000, 10)

	start := time.Now()
	require.NoError(t, limiter.WaitN(context.Background(), 25))
	assert.Less(t, time.Since(start), time.Second)
}

func TestUnlimited(t *testing.T) {
	limiter := New(0, 0)
	for i := 0; i < 1000; i++ {
		require.True(t, limiter.Allow(), "unlimited limiter should allow request %d", i)
	}
	require.NoError(t, limiter.WaitN(context.Background(), 1_000_000))
}

func TestNilLimiter(t *testing.T) {
	var limiter *RateLimiter

	assert.True(t, limiter.Allow())
	assert.NoError(t, limiter.Wait(context.Background()))
	assert.NoError(t, limiter.WaitN(context.Background(), 5))
}

func BenchmarkAllow(b *testing.B) {
	limiter := New(1_000_000, 1_000_000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Allow()
	}
}
