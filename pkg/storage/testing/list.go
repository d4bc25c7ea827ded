package testing

import (
	"testing"

	"github.com/marmos91/dittosafe/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunListTests executes the listing and prefix deletion tests.
func (suite *StoreTestSuite) RunListTests(t *testing.T) {
	t.Run("List_Empty", suite.testListEmpty)
	t.Run("List_SortedAndScoped", suite.testListSortedAndScoped)
	t.Run("List_PartialSegment", suite.testListPartialSegment)
	t.Run("DeletePrefix", suite.testDeletePrefix)
}

func (suite *StoreTestSuite) testListEmpty(t *testing.T) {
	store := suite.NewStore()

	objects, err := store.List(testContext(), "nothing/")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func (suite *StoreTestSuite) testListSortedAndScoped(t *testing.T) {
	store := suite.NewStore()

	mustPut(t, store, "vault/headers/b", []byte("2"))
	mustPut(t, store, "vault/headers/a", []byte("1"))
	mustPut(t, store, "vault/headers/c", []byte("333"))
	mustPut(t, store, "vault/data/x", []byte("x"))
	mustPut(t, store, "vault2/headers/z", []byte("z"))

	objects, err := store.List(testContext(), "vault/headers/")
	require.NoError(t, err)
	assert.Equal(t, []string{"vault/headers/a", "vault/headers/b", "vault/headers/c"}, keysOf(objects))
	assert.Equal(t, int64(3), objects[2].Size)

	objects, err = store.List(testContext(), "vault/")
	require.NoError(t, err)
	assert.Equal(t, []string{"vault/data/x", "vault/headers/a", "vault/headers/b", "vault/headers/c"}, keysOf(objects))
}

func (suite *StoreTestSuite) testListPartialSegment(t *testing.T) {
	store := suite.NewStore()

	mustPut(t, store, "p/abc", []byte("1"))
	mustPut(t, store, "p/abd", []byte("2"))
	mustPut(t, store, "p/x", []byte("3"))

	objects, err := store.List(testContext(), "p/ab")
	require.NoError(t, err)
	assert.Equal(t, []string{"p/abc", "p/abd"}, keysOf(objects))
}

func (suite *StoreTestSuite) testDeletePrefix(t *testing.T) {
	store := suite.NewStore()

	mustPut(t, store, "gone/a", []byte("1"))
	mustPut(t, store, "gone/sub/b", []byte("2"))
	mustPut(t, store, "kept/a", []byte("3"))

	require.NoError(t, storage.DeletePrefix(testContext(), store, "gone/"))

	assertExists(t, store, "gone/a", false)
	assertExists(t, store, "gone/sub/b", false)
	assertExists(t, store, "kept/a", true)
}
