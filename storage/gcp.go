package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	gcs "cloud.google.com/go/storage"
)

// GCSAPI defines the subset of the GCS client the blob store uses. This
// allows mocking in tests.
type GCSAPI interface {
	// NewWriter returns a writer for the given GCS object.
	NewWriter(ctx context.Context, bucket, object string) io.WriteCloser
	// NewReader returns a reader for the given GCS object.
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	// Delete deletes the given GCS object.
	Delete(ctx context.Context, bucket, object string) error
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object string) io.WriteCloser {
	return c.client.Bucket(bucket).Object(object).NewWriter(ctx)
}

func (c *realGCSClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return c.client.Bucket(bucket).Object(object).NewReader(ctx)
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) Close() error {
	return c.client.Close()
}

// GCSBlobStore stores blobs as objects in one GCS bucket. Credentials are
// resolved via Application Default Credentials.
type GCSBlobStore struct {
	// Bucket is the GCS bucket name.
	Bucket string
	// Prefix is the key prefix for all objects in the bucket.
	Prefix string

	client GCSAPI
}

// NewGCSBlobStore creates a GCSBlobStore and verifies the bucket exists.
func NewGCSBlobStore(ctx context.Context, bucket, prefix string) (*GCSBlobStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("cannot access GCS bucket %q: %w", bucket, err)
	}

	slog.Info("GCS blob store initialized", "bucket", bucket, "prefix", prefix)
	return NewGCSBlobStoreWithClient(bucket, prefix, &realGCSClient{client: client}), nil
}

// NewGCSBlobStoreWithClient creates a GCSBlobStore with a pre-configured
// client. This is primarily used for testing with mock clients.
func NewGCSBlobStoreWithClient(bucket, prefix string, client GCSAPI) *GCSBlobStore {
	return &GCSBlobStore{Bucket: bucket, Prefix: prefix, client: client}
}

func (s *GCSBlobStore) objectName(key string) string {
	return s.Prefix + key
}

// Get downloads the object for key.
func (s *GCSBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.client.NewReader(ctx, s.Bucket, s.objectName(key))
	if err != nil {
		if isGCSNotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("opening GCS object %q: %w", key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading GCS object %q: %w", key, err)
	}
	return data, nil
}

// Put uploads data as the object for key. The upload is committed when
// the writer is closed.
func (s *GCSBlobStore) Put(ctx context.Context, key string, data []byte) error {
	w := s.client.NewWriter(ctx, s.Bucket, s.objectName(key))
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("writing GCS object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("committing GCS object %q: %w", key, err)
	}
	return nil
}

// Delete removes the object for key. A missing object is not an error.
func (s *GCSBlobStore) Delete(ctx context.Context, key string) error {
	err := s.client.Delete(ctx, s.Bucket, s.objectName(key))
	if err != nil && !isGCSNotFound(err) {
		return fmt.Errorf("deleting GCS object %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying client when it holds resources.
func (s *GCSBlobStore) Close() error {
	if c, ok := s.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// isGCSNotFound checks if a GCS error reports a missing object.
func isGCSNotFound(err error) bool {
	return errors.Is(err, gcs.ErrObjectNotExist)
}
