package memory

import (
	"context"
	"testing"

	"github.com/marmos91/dittosafe/pkg/storage"
	storagetesting "github.com/marmos91/dittosafe/pkg/storage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryStore runs the complete Store test suite against the memory
// implementation.
func TestMemoryStore(t *testing.T) {
	suite := &storagetesting.StoreTestSuite{
		NewStore: func() storage.Store {
			return New()
		},
	}

	suite.Run(t)
}

func TestSharedStoresAreNamed(t *testing.T) {
	ctx := context.Background()

	a := Shared("memory-test-shared")
	require.NoError(t, storage.PutBytes(ctx, a, "k", []byte("v")))

	b := Shared("memory-test-shared")
	data, err := storage.ReadAll(ctx, b, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)
	assert.Equal(t, "mem://memory-test-shared", b.URL())

	other := Shared("memory-test-other")
	_, err = storage.ReadAll(ctx, other, "k")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}
