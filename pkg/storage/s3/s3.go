// Package s3 implements an object store on Amazon S3 or S3-compatible
// services.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/dittosafe/internal/logger"
	"github.com/marmos91/dittosafe/pkg/storage"
)

// maxBatchSize is the S3 limit of objects per DeleteObjects request.
const maxBatchSize = 1000

// Store implements storage.Store on an S3 bucket.
//
// Object keys are stored under an optional key prefix:
//
//	URL:    s3://my-bucket/team-a
//	Key:    vault/headers/0190c3...
//	Object: team-a/vault/headers/0190c3...
//
// PutObject replaces objects atomically, so readers never see a partial
// upload. Listing S3 returns keys in lexicographic order.
//
// Thread Safety:
// This implementation is safe for concurrent use by multiple goroutines.
type Store struct {
	url       string
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// New creates a store on bucket and verifies that the bucket is reachable.
// The bucket must already exist.
func New(ctx context.Context, client *s3.Client, bucket, keyPrefix, url string) (*Store, error) {
	// ========================================================================
	// Step 1: Validate configuration
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	keyPrefix = strings.Trim(keyPrefix, "/")
	if keyPrefix != "" {
		keyPrefix += "/"
	}

	// ========================================================================
	// Step 2: Verify bucket access
	// ========================================================================

	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", bucket, err)
	}

	logger.Debug("S3 store opened: bucket=%s prefix=%s", bucket, keyPrefix)

	return &Store{
		url:       url,
		client:    client,
		bucket:    bucket,
		keyPrefix: keyPrefix,
	}, nil
}

func (s *Store) objectKey(key string) string {
	return s.keyPrefix + key
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// URL implements storage.Store.
func (s *Store) URL() string {
	return s.url
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("object %s: %w", key, storage.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return result.Body, nil
}

// Put implements storage.Store.
//
// The SDK signs the payload, which requires a seekable body; other readers
// are buffered in memory first.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("failed to read body for %s: %w", key, err)
		}
		body = bytes.NewReader(data)
		size = int64(len(data))
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// Stat implements storage.Store.
func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.ObjectInfo{}, err
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return storage.ObjectInfo{}, fmt.Errorf("object %s: %w", key, storage.ErrObjectNotFound)
		}
		return storage.ObjectInfo{}, fmt.Errorf("failed to head object %s: %w", key, err)
	}

	info := storage.ObjectInfo{Key: key}
	if result.ContentLength != nil {
		info.Size = *result.ContentLength
	}
	if result.LastModified != nil {
		info.ModTime = *result.LastModified
	}
	return info, nil
}

// Delete implements storage.Store. S3 deletes are idempotent.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// List implements storage.Store.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]storage.ObjectInfo, 0)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	})

	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			info := storage.ObjectInfo{Key: strings.TrimPrefix(*obj.Key, s.keyPrefix)}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.ModTime = *obj.LastModified
			}
			out = append(out, info)
		}
	}

	return out, nil
}

// DeletePrefix implements storage.PrefixDeleter using DeleteObjects in
// batches of up to 1000 keys.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}

	for i := 0; i < len(objects); i += maxBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(i+maxBatchSize, len(objects))
		ids := make([]types.ObjectIdentifier, 0, end-i)
		for _, obj := range objects[i:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(s.objectKey(obj.Key))})
		}

		result, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: ids,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects under %q: %w", prefix, err)
		}
		if len(result.Errors) > 0 {
			first := result.Errors[0]
			return fmt.Errorf("failed to delete %d objects under %q (first: %s: %s)",
				len(result.Errors), prefix, aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}

	logger.Debug("S3 prefix deleted: bucket=%s prefix=%s objects=%d", s.bucket, prefix, len(objects))
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return nil
}
