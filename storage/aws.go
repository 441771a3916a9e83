package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API defines the subset of the AWS S3 client the blob store uses. This
// allows mocking in tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Options configures an S3BlobStore.
type S3Options struct {
	Bucket string
	Region string
	// Prefix is prepended to every object key.
	Prefix string
	// EndpointURL overrides the S3 endpoint, for MinIO and other
	// S3-compatible services.
	EndpointURL  string
	UsePathStyle bool
	// AccessKeyID and SecretAccessKey select static credentials. When
	// either is empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// S3BlobStore stores blobs as objects in one S3 bucket.
type S3BlobStore struct {
	// Bucket is the S3 bucket name.
	Bucket string
	// Prefix is the key prefix for all objects in the bucket.
	Prefix string

	client S3API
}

// NewS3BlobStore creates an S3BlobStore using the AWS SDK, with optional
// overrides for custom endpoint, path-style addressing and static
// credentials. It verifies the bucket is reachable.
func NewS3BlobStore(ctx context.Context, opts S3Options) (*S3BlobStore, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.EndpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		})
	}
	if opts.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, s3Opts...)

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(opts.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot access S3 bucket %q: %w", opts.Bucket, err)
	}

	slog.Info("S3 blob store initialized", "bucket", opts.Bucket, "region", opts.Region, "prefix", opts.Prefix)
	return NewS3BlobStoreWithClient(opts.Bucket, opts.Prefix, client), nil
}

// NewS3BlobStoreWithClient creates an S3BlobStore with a pre-configured
// client. This is primarily used for testing with mock clients.
func NewS3BlobStoreWithClient(bucket, prefix string, client S3API) *S3BlobStore {
	return &S3BlobStore{Bucket: bucket, Prefix: prefix, client: client}
}

func (s *S3BlobStore) objectKey(key string) string {
	return s.Prefix + key
}

// Get downloads the object for key.
func (s *S3BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("getting object %q from S3: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object %q from S3: %w", key, err)
	}
	return data, nil
}

// Put uploads data as the object for key.
func (s *S3BlobStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("putting object %q to S3: %w", key, err)
	}
	return nil
}

// Delete removes the object for key. S3 returns success for missing keys.
func (s *S3BlobStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isAWSNotFound(err) {
		return fmt.Errorf("deleting object %q from S3: %w", key, err)
	}
	return nil
}

// isAWSNotFound checks if an AWS error indicates a missing object. A
// missing bucket is not treated as a missing object.
func isAWSNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		case "NoSuchBucket":
			return false
		}
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() == 404 {
			return true
		}
	}
	return false
}
