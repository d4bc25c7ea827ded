package identity

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittosafe/pkg/db"
	"github.com/marmos91/dittosafe/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	d, err := db.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return NewRegistry(d)
}

func TestNewIdentity(t *testing.T) {
	a, err := New("alice")
	require.NoError(t, err)
	b, err := New("alice")
	require.NoError(t, err)

	assert.Equal(t, "alice", a.Nick)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.NoError(t, a.Verify())

	enc, sign, err := PublicKeys(a.ID)
	require.NoError(t, err)
	assert.Len(t, enc, 32)
	assert.Len(t, sign, 32)
}

func TestFromPrivateRebuildsSameID(t *testing.T) {
	a, err := New("alice")
	require.NoError(t, err)

	b, err := FromPrivate("alice2", a.Private)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "alice2", b.Nick)
}

func TestFromPrivateRejectsGarbage(t *testing.T) {
	_, err := FromPrivate("x", "not-base64!!")
	assert.ErrorIs(t, err, errs.ErrGeneration)

	_, err = FromPrivate("x", "AAAA")
	assert.ErrorIs(t, err, errs.ErrGeneration)
}

func TestGenerationFailure(t *testing.T) {
	_, err := generate(bytes.NewReader(nil), "x")
	assert.ErrorIs(t, err, errs.ErrGeneration)
}

func TestRegistryCreateGet(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	created, err := r.Create(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), created.Version)

	got, err := r.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.Private, got.Private)
	assert.True(t, created.ModTime.Equal(got.ModTime))

	_, err = r.Get(ctx, "unknown")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRegistryUpdateModTimeIncreases(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	id, err := r.Create(ctx, "carol")
	require.NoError(t, err)

	prev := id.ModTime
	for i := 0; i < 3; i++ {
		id.Email = "carol@example.com"
		id, err = r.Update(ctx, id)
		require.NoError(t, err)
		assert.True(t, id.ModTime.After(prev), "modTime must strictly increase even with a frozen clock")
		prev = id.ModTime
	}
	assert.Equal(t, uint64(4), id.Version)

	stored, err := r.Get(ctx, id.ID)
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", stored.Email)
}

func TestRegistryUpdateConflict(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	id, err := r.Create(ctx, "dave")
	require.NoError(t, err)

	first := id
	first.Nick = "dave-1"
	_, err = r.Update(ctx, first)
	require.NoError(t, err)

	stale := id
	stale.Nick = "dave-2"
	_, err = r.Update(ctx, stale)
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestRegistryUpdateUnknown(t *testing.T) {
	id, err := New("eve")
	require.NoError(t, err)

	_, err = newRegistry(t).Update(context.Background(), id)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRegistryUpdateKeepsKeys(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	id, err := r.Create(ctx, "frank")
	require.NoError(t, err)
	other, err := New("frank")
	require.NoError(t, err)

	id.Private = other.Private
	_, err = r.Update(ctx, id)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestRegistryPutRejectsMismatchedKeys(t *testing.T) {
	a, err := New("a")
	require.NoError(t, err)
	b, err := New("b")
	require.NoError(t, err)

	a.Private = b.Private
	_, err = newRegistry(t).Put(context.Background(), a)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestRegistryConcurrentUpdatesOneWins(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	id, err := r.Create(ctx, "grace")
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Update(ctx, id)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		if err == nil {
			ok++
		} else if assert.ErrorIs(t, err, errs.ErrConflict) {
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, conflicts)
}

func TestRegistryList(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	empty, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = r.Create(ctx, "h1")
	require.NoError(t, err)
	_, err = r.Create(ctx, "h2")
	require.NoError(t, err)

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
