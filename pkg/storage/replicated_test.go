package storage_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittosafe/pkg/storage"
	"github.com/marmos91/dittosafe/pkg/storage/memory"
	storagetesting "github.com/marmos91/dittosafe/pkg/storage/testing"
)

// sizeRecorder remembers the size hint of the last Put and can reject
// every Put.
type sizeRecorder struct {
	storage.Store
	size int64
	fail bool
}

func (s *sizeRecorder) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	s.size = size
	if s.fail {
		return errors.New("injected put failure")
	}
	return s.Store.Put(ctx, key, r, size)
}

func TestReplicatedStore(t *testing.T) {
	suite := &storagetesting.StoreTestSuite{
		NewStore: func() storage.Store {
			return storage.NewReplicatedWithSpool([]storage.Store{memory.New(), memory.New()}, afero.NewMemMapFs())
		},
	}
	suite.Run(t)
}

func TestReplicated_LargeBodyIsSpooled(t *testing.T) {
	ctx := context.Background()
	spool := afero.NewMemMapFs()
	primary := &sizeRecorder{Store: memory.New()}
	replica := &sizeRecorder{Store: memory.New()}
	s := storage.NewReplicatedWithSpool([]storage.Store{primary, replica}, spool)

	data := bytes.Repeat([]byte("0123456789abcdef"), 1<<17) // 2 MiB
	require.NoError(t, s.Put(ctx, "big", bytes.NewReader(data), -1))

	assert.Equal(t, int64(-1), primary.size)
	assert.Equal(t, int64(len(data)), replica.size)
	for _, store := range []storage.Store{primary, replica} {
		got, err := storage.ReadAll(ctx, store, "big")
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}

	left, err := afero.ReadDir(spool, os.TempDir())
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestReplicated_Failures(t *testing.T) {
	ctx := context.Background()
	data := bytes.Repeat([]byte("x"), 2<<20)

	t.Run("primary", func(t *testing.T) {
		primary := &sizeRecorder{Store: memory.New(), fail: true}
		replica := memory.New()
		s := storage.NewReplicatedWithSpool([]storage.Store{primary, replica}, afero.NewMemMapFs())

		assert.Error(t, s.Put(ctx, "big", bytes.NewReader(data), -1))
		ok, err := storage.Exists(ctx, replica, "big")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("replica", func(t *testing.T) {
		primary := memory.New()
		replica := &sizeRecorder{Store: memory.New(), fail: true}
		s := storage.NewReplicatedWithSpool([]storage.Store{primary, replica}, afero.NewMemMapFs())

		require.NoError(t, s.Put(ctx, "big", bytes.NewReader(data), -1))
		require.NoError(t, storage.PutBytes(ctx, s, "small", []byte("s")))
		ok, err := storage.Exists(ctx, primary, "big")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
