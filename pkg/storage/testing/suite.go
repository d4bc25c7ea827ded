// Package testing provides a conformance suite for storage.Store
// implementations.
package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittosafe/pkg/storage"
)

// StoreTestSuite is a comprehensive test suite for Store implementations.
// It tests the interface contract, not implementation details, making it
// reusable across the memory, filesystem and S3 backends.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &storagetesting.StoreTestSuite{
//	        NewStore: func() storage.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore is a factory function that creates a fresh, empty Store
	// for each test. This ensures test isolation.
	NewStore func() storage.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("BasicOperations", suite.RunBasicTests)
	t.Run("ListOperations", suite.RunListTests)
	t.Run("Concurrency", suite.RunConcurrencyTests)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}
