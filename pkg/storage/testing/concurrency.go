package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/marmos91/dittosafe/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunConcurrencyTests executes tests with concurrent writers.
func (suite *StoreTestSuite) RunConcurrencyTests(t *testing.T) {
	t.Run("ConcurrentPutsDistinctKeys", suite.testConcurrentDistinct)
	t.Run("ConcurrentPutsSameKey", suite.testConcurrentSameKey)
}

func (suite *StoreTestSuite) testConcurrentDistinct(t *testing.T) {
	store := suite.NewStore()
	const writers = 16

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := storage.PutBytes(testContext(), store, fmt.Sprintf("c/%02d", i), []byte(fmt.Sprintf("value-%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	objects, err := store.List(testContext(), "c/")
	require.NoError(t, err)
	assert.Len(t, objects, writers)
}

// Concurrent writers to one key must leave exactly one writer's complete
// value behind.
func (suite *StoreTestSuite) testConcurrentSameKey(t *testing.T) {
	store := suite.NewStore()
	const writers = 8
	size := 64 * 1024

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := storage.PutBytes(testContext(), store, "same", bytes.Repeat([]byte{byte('a' + i)}, size))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	data := mustGet(t, store, "same")
	require.Len(t, data, size)
	assert.Equal(t, bytes.Repeat(data[:1], size), data, "object must hold a single writer's value")
}
