package testing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/marmos91/dittosafe/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBasicTests executes the get/put/stat/delete tests.
func (suite *StoreTestSuite) RunBasicTests(t *testing.T) {
	t.Run("Put_Get", suite.testPutGet)
	t.Run("Put_Overwrite", suite.testPutOverwrite)
	t.Run("Put_Binary", suite.testPutBinary)
	t.Run("Put_Empty", suite.testPutEmpty)
	t.Run("Put_Large", suite.testPutLarge)
	t.Run("Put_InvalidKey", suite.testPutInvalidKey)
	t.Run("Put_FailingReaderKeepsOld", suite.testPutFailingReader)
	t.Run("Get_NotFound", suite.testGetNotFound)
	t.Run("Stat", suite.testStat)
	t.Run("Stat_NotFound", suite.testStatNotFound)
	t.Run("Delete", suite.testDelete)
	t.Run("Delete_Idempotent", suite.testDeleteIdempotent)
	t.Run("CancelledContext", suite.testCancelledContext)
}

func (suite *StoreTestSuite) testPutGet(t *testing.T) {
	store := suite.NewStore()

	mustPut(t, store, "safe/data/a", []byte("Hello, World!"))
	assert.Equal(t, []byte("Hello, World!"), mustGet(t, store, "safe/data/a"))
}

func (suite *StoreTestSuite) testPutOverwrite(t *testing.T) {
	store := suite.NewStore()

	mustPut(t, store, "k", []byte("Old data"))
	mustPut(t, store, "k", []byte("New data that is longer"))
	assert.Equal(t, []byte("New data that is longer"), mustGet(t, store, "k"))

	mustPut(t, store, "k", []byte("short"))
	assert.Equal(t, []byte("short"), mustGet(t, store, "k"))
}

func (suite *StoreTestSuite) testPutBinary(t *testing.T) {
	store := suite.NewStore()
	data := []byte{0x00, 0xff, 0x00, '\n', '\r', 0x7f}

	mustPut(t, store, "bin", data)
	assert.Equal(t, data, mustGet(t, store, "bin"))
}

func (suite *StoreTestSuite) testPutEmpty(t *testing.T) {
	store := suite.NewStore()

	mustPut(t, store, "empty", []byte{})
	assert.Empty(t, mustGet(t, store, "empty"))
	assertExists(t, store, "empty", true)
}

func (suite *StoreTestSuite) testPutLarge(t *testing.T) {
	store := suite.NewStore()
	data := generateTestData(3*1024*1024 + 17)

	mustPut(t, store, "large", data)
	assert.Equal(t, data, mustGet(t, store, "large"))
}

func (suite *StoreTestSuite) testPutInvalidKey(t *testing.T) {
	store := suite.NewStore()

	for _, key := range []string{"", "/abs", "a/../b", "a//b", "a/./b"} {
		err := storage.PutBytes(testContext(), store, key, []byte("x"))
		assert.ErrorIs(t, err, storage.ErrInvalidKey, "key %q", key)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("read failure")
}

func (suite *StoreTestSuite) testPutFailingReader(t *testing.T) {
	store := suite.NewStore()

	mustPut(t, store, "k", []byte("old"))

	err := store.Put(testContext(), "k", failingReader{}, -1)
	require.Error(t, err)
	assert.Equal(t, []byte("old"), mustGet(t, store, "k"), "a failed put must not tear the object")
}

func (suite *StoreTestSuite) testGetNotFound(t *testing.T) {
	store := suite.NewStore()

	_, err := store.Get(testContext(), "missing")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func (suite *StoreTestSuite) testStat(t *testing.T) {
	store := suite.NewStore()

	mustPut(t, store, "dir/stat", []byte("12345"))
	info, err := store.Stat(testContext(), "dir/stat")
	require.NoError(t, err)
	assert.Equal(t, "dir/stat", info.Key)
	assert.Equal(t, int64(5), info.Size)
	assert.False(t, info.ModTime.IsZero())
}

func (suite *StoreTestSuite) testStatNotFound(t *testing.T) {
	store := suite.NewStore()

	_, err := store.Stat(testContext(), "dir/missing")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	store := suite.NewStore()

	mustPut(t, store, "del", []byte("x"))
	require.NoError(t, store.Delete(testContext(), "del"))
	assertExists(t, store, "del", false)
}

func (suite *StoreTestSuite) testDeleteIdempotent(t *testing.T) {
	store := suite.NewStore()

	require.NoError(t, store.Delete(testContext(), "never-existed"))
	mustPut(t, store, "twice", []byte("x"))
	require.NoError(t, store.Delete(testContext(), "twice"))
	require.NoError(t, store.Delete(testContext(), "twice"))
}

func (suite *StoreTestSuite) testCancelledContext(t *testing.T) {
	store := suite.NewStore()
	ctx, cancel := context.WithCancel(testContext())
	cancel()

	err := store.Put(ctx, "k", bytes.NewReader([]byte("x")), 1)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
