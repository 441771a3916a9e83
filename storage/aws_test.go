package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/bleepstore/rastore/randomaccess"
	"github.com/bleepstore/rastore/randomaccess/storagetest"
)

// mockS3Client implements S3API for unit testing.
type mockS3Client struct {
	// objects stores all objects keyed by their S3 key.
	objects map[string][]byte
	// getObjectCalls tracks the number of GetObject calls.
	getObjectCalls int
	// putObjectCalls tracks the number of PutObject calls.
	putObjectCalls int
	// deleteObjectCalls tracks the number of DeleteObject calls.
	deleteObjectCalls int
	// failGet, when set, is returned by every GetObject call.
	failGet error
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.putObjectCalls++
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.getObjectCalls++
	if m.failGet != nil {
		return nil, m.failGet
	}
	data, ok := m.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &mockAPIError{code: "NoSuchKey", message: "The specified key does not exist.", httpStatus: 404}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (m *mockS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.deleteObjectCalls++
	delete(m.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

// mockAPIError implements smithy.APIError for the mock client.
type mockAPIError struct {
	code       string
	message    string
	httpStatus int
}

func (e *mockAPIError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *mockAPIError) ErrorCode() string {
	return e.code
}

func (e *mockAPIError) ErrorMessage() string {
	return e.message
}

func (e *mockAPIError) ErrorFault() smithy.ErrorFault {
	if e.httpStatus >= 500 {
		return smithy.FaultServer
	}
	return smithy.FaultClient
}

var _ smithy.APIError = (*mockAPIError)(nil)

func TestS3BlobStore(t *testing.T) {
	testBlobStore(t, NewS3BlobStoreWithClient("bucket", "ra/", newMockS3Client()))
}

func TestS3Conformance(t *testing.T) {
	storagetest.Run(t, blobFactory(func(t *testing.T) BlobStore {
		return NewS3BlobStoreWithClient("bucket", "ra/", newMockS3Client())
	}))
}

func TestS3Durability(t *testing.T) {
	mock := newMockS3Client()
	storagetest.RunDurability(t, func(t *testing.T) randomaccess.Storage {
		return NewBlob(NewS3BlobStoreWithClient("bucket", "ra/", mock), "vol", BlobOptions{BlockSize: 32})
	})
}

func TestS3KeyMapping(t *testing.T) {
	mock := newMockS3Client()
	store := NewS3BlobStoreWithClient("bucket", "ra/", mock)

	if err := store.Put(context.Background(), "vol/meta", []byte("m")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := mock.objects["ra/vol/meta"]; !ok {
		t.Errorf("expected object key %q, have %v", "ra/vol/meta", mock.objects)
	}
}

func TestS3OutOfBoundsReadDoesNoIO(t *testing.T) {
	mock := newMockS3Client()
	s := NewBlob(NewS3BlobStoreWithClient("bucket", "", mock), "vol", BlobOptions{BlockSize: 8})
	ctx := context.Background()

	if err := s.Write(ctx, 0, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	gets, puts := mock.getObjectCalls, mock.putObjectCalls

	if _, err := s.Read(ctx, 3, 10); !randomaccess.IsOutOfBounds(err) {
		t.Fatalf("Read(3, 10) = %v, want out of bounds", err)
	}
	if mock.getObjectCalls != gets || mock.putObjectCalls != puts {
		t.Error("out-of-bounds read reached S3")
	}
}

func TestS3ErrorsAreIO(t *testing.T) {
	mock := newMockS3Client()
	mock.failGet = &mockAPIError{code: "InternalError", message: "We encountered an internal error.", httpStatus: 500}
	s := NewBlob(NewS3BlobStoreWithClient("bucket", "", mock), "vol", BlobOptions{})

	_, err := s.Len(context.Background())
	if !randomaccess.IsIO(err) {
		t.Fatalf("Len with failing S3 = %v, want IO error", err)
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "InternalError" {
		t.Errorf("error chain lost the S3 error: %v", err)
	}
	if s.Opened() {
		t.Error("adapter should stay unopened after a failed open")
	}

	mock.failGet = nil
	if _, err := s.Len(context.Background()); err != nil {
		t.Errorf("retry after failure: %v", err)
	}
}

func TestIsAWSNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no such key", &mockAPIError{code: "NoSuchKey"}, true},
		{"not found", &mockAPIError{code: "NotFound"}, true},
		{"no such bucket", &mockAPIError{code: "NoSuchBucket", httpStatus: 404}, false},
		{"access denied", &mockAPIError{code: "AccessDenied"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAWSNotFound(tt.err); got != tt.want {
				t.Errorf("isAWSNotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
