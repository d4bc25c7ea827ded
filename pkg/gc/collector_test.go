package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittosafe/pkg/storage"
	"github.com/marmos91/dittosafe/pkg/storage/memory"
)

func seed(t *testing.T, s storage.Store, keys ...string) {
	t.Helper()
	for _, key := range keys {
		require.NoError(t, storage.PutBytes(context.Background(), s, key, []byte(key)))
	}
}

func referencing(keys ...string) Source {
	return SourceFunc(func(context.Context) (map[string]struct{}, error) {
		set := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			set[k] = struct{}{}
		}
		return set, nil
	})
}

func TestCollector_DeletesOrphansAfterGracePeriod(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "vault/data/a", "vault/data/b", "vault/data/c", "vault/headers/x")

	c := NewCollector(referencing("vault/data/a"), store, "vault/data/", Config{BatchSize: 1})
	c.now = func() time.Time { return time.Now().Add(time.Hour) }

	stats, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.ExistingCount)
	assert.Equal(t, uint64(2), stats.OrphanedCount)
	assert.Equal(t, uint64(2), stats.DeletedCount)
	assert.Zero(t, stats.FailedCount)

	objects, err := store.List(ctx, "vault/")
	require.NoError(t, err)
	var keys []string
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	assert.Equal(t, []string{"vault/data/a", "vault/headers/x"}, keys)
}

func TestCollector_GracePeriodProtectsRecentObjects(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "vault/data/fresh")

	c := NewCollector(referencing(), store, "vault/data/", Config{GracePeriod: time.Minute})

	stats, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.SkippedCount)
	assert.Zero(t, stats.DeletedCount)

	ok, err := storage.Exists(ctx, store, "vault/data/fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCollector_DryRun(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "vault/data/orphan")

	c := NewCollector(referencing(), store, "vault/data/", Config{DryRun: true})
	c.now = func() time.Time { return time.Now().Add(time.Hour) }

	stats, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.OrphanedCount)
	assert.Zero(t, stats.DeletedCount)

	ok, err := storage.Exists(ctx, store, "vault/data/orphan")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCollector_StartStop(t *testing.T) {
	store := memory.New()
	c := NewCollector(referencing(), store, "vault/data/", Config{Interval: 10 * time.Millisecond})

	c.Start()
	c.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
}

func TestCollector_StopWithoutStart(t *testing.T) {
	c := NewCollector(referencing(), memory.New(), "p/", Config{})
	c.Start()
	assert.NoError(t, c.Stop(context.Background()))
}

func TestStats_Summary(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Stats{StartTime: start, EndTime: start.Add(2 * time.Second), OrphanedCount: 3, DeletedCount: 2, FailedCount: 1}
	assert.Equal(t, 2*time.Second, s.Duration())
	assert.Contains(t, s.Summary(), "orphaned=3 deleted=2 failed=1 duration=2s")
}
