package engine

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittosafe/pkg/access"
	"github.com/marmos91/dittosafe/pkg/config"
	"github.com/marmos91/dittosafe/pkg/errs"
	"github.com/marmos91/dittosafe/pkg/identity"
	"github.com/marmos91/dittosafe/pkg/safe"
	"github.com/marmos91/dittosafe/pkg/settings"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.GetDefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "db")
	cfg.Database.AsyncWrites = true
	cfg.App.Dir = filepath.Join(dir, "app")
	cfg.Storage.Filesystem["root"] = filepath.Join(dir, "stores")
	return cfg
}

func startEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := New(testConfig(t), opts...)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		if err := e.Stop(context.Background()); err != nil && !errs.IsKind(err, errs.KindNotStarted) {
			t.Errorf("stop: %v", err)
		}
	})
	return e
}

func creatorAndToken(t *testing.T, e *Engine, storeURL string) (identity.Identity, string) {
	t.Helper()
	reg, err := e.Identities()
	require.NoError(t, err)
	creator, err := reg.Create(context.Background(), "alice")
	require.NoError(t, err)

	token, err := access.Encode(creator.ID, "docs", creator.ID, []string{storeURL}, nil)
	require.NoError(t, err)
	return creator, token
}

func TestEndToEnd(t *testing.T) {
	tests := []struct {
		name string
		url  func(t *testing.T) string
	}{
		{name: "memory", url: func(*testing.T) string { return "mem://" + uuid.NewString() }},
		{name: "filesystem absolute", url: func(t *testing.T) string {
			return (&url.URL{Scheme: "file", Path: filepath.ToSlash(t.TempDir())}).String()
		}},
		{name: "filesystem relative to root", url: func(*testing.T) string { return "file://shared/docs" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e := startEngine(t)
			creator, token := creatorAndToken(t, e, tt.url(t))

			created, err := e.CreateSafe(ctx, creator, token, nil, safe.CreateOptions{Wipe: true})
			require.NoError(t, err)
			require.NoError(t, e.CloseSafe(ctx, created))

			h, err := e.OpenSafe(ctx, creator, token, safe.OpenOptions{})
			require.NoError(t, err)
			s, err := e.Safe(h)
			require.NoError(t, err)

			files, err := s.ListFiles(ctx, "", safe.ListOptions{})
			require.NoError(t, err)
			assert.Empty(t, files)

			_, err = s.PutBytes(ctx, "test.txt", []byte("hello world"), safe.PutOptions{})
			require.NoError(t, err)

			files, err = s.ListFiles(ctx, "", safe.ListOptions{})
			require.NoError(t, err)
			require.Len(t, files, 1)
			assert.Equal(t, "test.txt", files[0].Name)

			data, err := s.GetBytes(ctx, "test.txt", safe.GetOptions{})
			require.NoError(t, err)
			assert.Equal(t, []byte("hello world"), data)

			require.NoError(t, e.CloseSafe(ctx, h))
		})
	}
}

func TestCloseSafe_Twice(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t)
	creator, token := creatorAndToken(t, e, "mem://"+uuid.NewString())

	h, err := e.CreateSafe(ctx, creator, token, nil, safe.CreateOptions{})
	require.NoError(t, err)
	s, err := e.Safe(h)
	require.NoError(t, err)

	require.NoError(t, e.CloseSafe(ctx, h))
	assert.ErrorIs(t, e.CloseSafe(ctx, h), errs.ErrInvalidHandle)

	_, err = e.Safe(h)
	assert.ErrorIs(t, err, errs.ErrInvalidHandle)
	_, err = s.ListFiles(ctx, "", safe.ListOptions{})
	assert.ErrorIs(t, err, errs.ErrInvalidHandle)

	assert.ErrorIs(t, e.CloseSafe(ctx, 0), errs.ErrInvalidHandle)
}

func TestHandlesAreDistinct(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t)
	creator, token := creatorAndToken(t, e, "mem://"+uuid.NewString())

	first, err := e.CreateSafe(ctx, creator, token, nil, safe.CreateOptions{})
	require.NoError(t, err)
	second, err := e.OpenSafe(ctx, creator, token, safe.OpenOptions{})
	require.NoError(t, err)

	assert.Positive(t, first)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, e.OpenSessions())
}

func TestLifecycle_NotStarted(t *testing.T) {
	ctx := context.Background()
	e := New(testConfig(t))

	_, err := e.Settings()
	assert.ErrorIs(t, err, errs.ErrNotStarted)
	_, err = e.Safe(1)
	assert.ErrorIs(t, err, errs.ErrNotStarted)
	assert.ErrorIs(t, e.Stop(ctx), errs.ErrNotStarted)
	assert.ErrorIs(t, e.FactoryReset(ctx), errs.ErrNotStarted)

	require.NoError(t, e.Start(ctx))
	assert.ErrorIs(t, e.Start(ctx), errs.ErrAlreadyExists)
	require.NoError(t, e.Stop(ctx))

	_, err = e.Identities()
	assert.ErrorIs(t, err, errs.ErrNotStarted)
}

func TestStop_ClosesSessions(t *testing.T) {
	ctx := context.Background()
	e := New(testConfig(t))
	require.NoError(t, e.Start(ctx))

	creator, token := creatorAndToken(t, e, "mem://"+uuid.NewString())
	h, err := e.CreateSafe(ctx, creator, token, nil, safe.CreateOptions{})
	require.NoError(t, err)
	s, err := e.Safe(h)
	require.NoError(t, err)
	_, err = s.PutBytes(ctx, "a.txt", []byte("a"), safe.PutOptions{})
	require.NoError(t, err)

	require.NoError(t, e.Stop(ctx))

	_, err = s.GetBytes(ctx, "a.txt", safe.GetOptions{})
	assert.ErrorIs(t, err, errs.ErrInvalidHandle)
	assert.Zero(t, e.OpenSessions())

	// data survives a restart
	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Stop(ctx) }()

	reg, err := e.Identities()
	require.NoError(t, err)
	stored, err := reg.Get(ctx, creator.ID)
	require.NoError(t, err)

	h, err = e.OpenSafe(ctx, stored, token, safe.OpenOptions{})
	require.NoError(t, err)
	s, err = e.Safe(h)
	require.NoError(t, err)
	data, err := s.GetBytes(ctx, "a.txt", safe.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestFactoryReset(t *testing.T) {
	ctx := context.Background()
	files := afero.NewMemMapFs()
	e := startEngine(t, WithFiles(files))

	store, err := e.Settings()
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "node1", "k", settings.Value{S: "v"}))

	creator, token := creatorAndToken(t, e, "mem://"+uuid.NewString())
	h, err := e.CreateSafe(ctx, creator, token, nil, safe.CreateOptions{})
	require.NoError(t, err)

	cache := filepath.Join(e.Config().App.Dir, cacheDir)
	require.NoError(t, afero.WriteFile(files, filepath.Join(cache, "thumb"), []byte("x"), 0o600))

	require.NoError(t, e.FactoryReset(ctx))

	_, err = e.Safe(h)
	assert.ErrorIs(t, err, errs.ErrInvalidHandle)

	_, err = store.Get(ctx, "node1", "k")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	reg, err := e.Identities()
	require.NoError(t, err)
	all, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	exists, err := afero.DirExists(files, cache)
	require.NoError(t, err)
	assert.False(t, exists)

	// the container survives: the creator can open it again with the same token
	_, err = e.OpenSafe(ctx, creator, token, safe.OpenOptions{})
	require.NoError(t, err)
}
