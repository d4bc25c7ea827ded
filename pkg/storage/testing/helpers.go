package testing

import (
	"testing"

	"github.com/marmos91/dittosafe/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mustPut writes data and fails the test if it errors.
func mustPut(t *testing.T, store storage.Store, key string, data []byte) {
	t.Helper()
	err := storage.PutBytes(testContext(), store, key, data)
	require.NoError(t, err, "Put should succeed")
}

// mustGet reads an object and fails the test if it errors.
func mustGet(t *testing.T, store storage.Store, key string) []byte {
	t.Helper()
	data, err := storage.ReadAll(testContext(), store, key)
	require.NoError(t, err, "Get should succeed")
	return data
}

// assertExists checks whether an object exists.
func assertExists(t *testing.T, store storage.Store, key string, expected bool) {
	t.Helper()
	exists, err := storage.Exists(testContext(), store, key)
	require.NoError(t, err, "Stat should not error")
	assert.Equal(t, expected, exists, "Object existence mismatch")
}

// keysOf returns the keys of a listing.
func keysOf(objects []storage.ObjectInfo) []string {
	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	return keys
}

// generateTestData creates test data of specified size.
func generateTestData(size int) []byte {
	data := make([]byte, size)
	for i := 0; i < size; i++ {
		data[i] = byte(i % 256)
	}
	return data
}
