package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bleepstore/rastore/randomaccess"
	"github.com/bleepstore/rastore/randomaccess/storagetest"
)

// mockAzureClient implements AzureBlobAPI for unit testing.
type mockAzureClient struct {
	// blobs stores all blobs keyed by "container/blobName".
	blobs map[string][]byte
	// uploadCalls tracks the number of upload operations.
	uploadCalls int
	// downloadCalls tracks the number of download operations.
	downloadCalls int
	// deleteCalls tracks the number of delete operations.
	deleteCalls int
}

func newMockAzureClient() *mockAzureClient {
	return &mockAzureClient{blobs: make(map[string][]byte)}
}

func (m *mockAzureClient) blobKey(containerName, blobName string) string {
	return containerName + "/" + blobName
}

func (m *mockAzureClient) UploadBlob(ctx context.Context, containerName, blobName string, data []byte) error {
	m.uploadCalls++
	m.blobs[m.blobKey(containerName, blobName)] = append([]byte(nil), data...)
	return nil
}

func (m *mockAzureClient) DownloadBlob(ctx context.Context, containerName, blobName string) ([]byte, error) {
	m.downloadCalls++
	data, ok := m.blobs[m.blobKey(containerName, blobName)]
	if !ok {
		return nil, fmt.Errorf("BlobNotFound: the specified blob does not exist")
	}
	return append([]byte(nil), data...), nil
}

func (m *mockAzureClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	m.deleteCalls++
	key := m.blobKey(containerName, blobName)
	if _, ok := m.blobs[key]; !ok {
		return fmt.Errorf("BlobNotFound: the specified blob does not exist")
	}
	delete(m.blobs, key)
	return nil
}

func TestAzureBlobStore(t *testing.T) {
	testBlobStore(t, NewAzureBlobStoreWithClient("container", "ra/", newMockAzureClient()))
}

func TestAzureConformance(t *testing.T) {
	storagetest.Run(t, blobFactory(func(t *testing.T) BlobStore {
		return NewAzureBlobStoreWithClient("container", "ra/", newMockAzureClient())
	}))
}

func TestAzureDurability(t *testing.T) {
	mock := newMockAzureClient()
	storagetest.RunDurability(t, func(t *testing.T) randomaccess.Storage {
		return NewBlob(NewAzureBlobStoreWithClient("container", "", mock), "vol", BlobOptions{BlockSize: 32})
	})
}

func TestAzureBlobNaming(t *testing.T) {
	mock := newMockAzureClient()
	store := NewAzureBlobStoreWithClient("container", "ra/", mock)
	if err := store.Put(context.Background(), "vol/meta", []byte("m")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := mock.blobs["container/ra/vol/meta"]; !ok {
		t.Errorf("blob not stored under prefixed name, have %v", mock.blobs)
	}
}

func TestIsAzureNotFound(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("BlobNotFound: the specified blob does not exist"), true},
		{errors.New("AuthorizationFailure"), false},
		{errors.New("ContainerNotFound"), false},
	}
	for _, tt := range tests {
		if got := isAzureNotFound(tt.err); got != tt.want {
			t.Errorf("isAzureNotFound(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
