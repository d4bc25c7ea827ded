//go:build integration
// +build integration

package s3

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/dittosafe/pkg/storage"
	storagetesting "github.com/marmos91/dittosafe/pkg/storage/testing"
)

// TestS3Store_Integration runs the complete Store test suite against a real
// S3-compatible service (Localstack).
//
// Prerequisites:
//   - Localstack running on localhost:4566
//   - Run with: go test -tags=integration ./pkg/storage/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3Store_Integration(t *testing.T) {
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	client, err := NewClient(ctx, ClientConfig{
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		ForcePathStyle:  true, // Required for Localstack
		MaxRetries:      3,
	})
	if err != nil {
		t.Fatalf("Failed to create S3 client: %v", err)
	}

	bucketName := "dittosafe-test-bucket"
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		t.Fatalf("Failed to create test bucket: %v", err)
	}

	defer func() {
		store, err := New(ctx, client, bucketName, "", "")
		if err == nil {
			_ = store.DeletePrefix(ctx, "")
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucketName)})
	}()

	// Each store gets its own key prefix so tests stay isolated
	var counter atomic.Int64
	suite := &storagetesting.StoreTestSuite{
		NewStore: func() storage.Store {
			prefix := fmt.Sprintf("suite-%d", counter.Add(1))
			store, err := New(ctx, client, bucketName, prefix, "s3://"+bucketName+"/"+prefix)
			if err != nil {
				t.Fatalf("Failed to create S3 store: %v", err)
			}
			return store
		},
	}

	suite.Run(t)
}
