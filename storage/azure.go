package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureBlobAPI defines the subset of the Azure Blob Storage client the blob
// store uses. This allows mocking in tests.
type AzureBlobAPI interface {
	// UploadBlob uploads data to a blob, overwriting if it already exists.
	UploadBlob(ctx context.Context, containerName, blobName string, data []byte) error
	// DownloadBlob downloads a blob's contents.
	DownloadBlob(ctx context.Context, containerName, blobName string) ([]byte, error)
	// DeleteBlob deletes a blob. Returns an error if the blob does not exist.
	DeleteBlob(ctx context.Context, containerName, blobName string) error
}

// AzureOptions configures an AzureBlobStore.
type AzureOptions struct {
	Container string
	// AccountURL is the storage account URL, e.g.
	// https://account.blob.core.windows.net.
	AccountURL string
	Prefix     string
	// ConnectionString, when set, takes precedence over AccountURL.
	ConnectionString   string
	UseManagedIdentity bool
}

// AzureBlobStore stores blobs as block blobs in one Azure container.
type AzureBlobStore struct {
	// Container is the Azure Blob container name.
	Container string
	// Prefix is the key prefix for all blobs in the container.
	Prefix string

	client AzureBlobAPI
}

// NewAzureBlobStore creates an AzureBlobStore and verifies the container
// is reachable.
func NewAzureBlobStore(ctx context.Context, opts AzureOptions) (*AzureBlobStore, error) {
	client, err := newServiceAzureClient(opts.AccountURL, opts.ConnectionString, opts.UseManagedIdentity)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}
	if err := client.checkContainer(ctx, opts.Container); err != nil {
		return nil, fmt.Errorf("cannot access Azure container %q: %w", opts.Container, err)
	}

	slog.Info("Azure blob store initialized", "container", opts.Container, "account_url", opts.AccountURL, "prefix", opts.Prefix)
	return NewAzureBlobStoreWithClient(opts.Container, opts.Prefix, client), nil
}

// NewAzureBlobStoreWithClient creates an AzureBlobStore with a
// pre-configured client. This is primarily used for testing with mock
// clients.
func NewAzureBlobStoreWithClient(container, prefix string, client AzureBlobAPI) *AzureBlobStore {
	return &AzureBlobStore{Container: container, Prefix: prefix, client: client}
}

func (s *AzureBlobStore) blobName(key string) string {
	return s.Prefix + key
}

// Get downloads the blob for key.
func (s *AzureBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.DownloadBlob(ctx, s.Container, s.blobName(key))
	if err != nil {
		if isAzureNotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("downloading Azure blob %q: %w", key, err)
	}
	return data, nil
}

// Put uploads data as the blob for key.
func (s *AzureBlobStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.client.UploadBlob(ctx, s.Container, s.blobName(key), data); err != nil {
		return fmt.Errorf("uploading Azure blob %q: %w", key, err)
	}
	return nil
}

// Delete removes the blob for key. A missing blob is not an error.
func (s *AzureBlobStore) Delete(ctx context.Context, key string) error {
	err := s.client.DeleteBlob(ctx, s.Container, s.blobName(key))
	if err != nil && !isAzureNotFound(err) {
		return fmt.Errorf("deleting Azure blob %q: %w", key, err)
	}
	return nil
}

// isAzureNotFound checks if an Azure error reports a missing blob. Service
// errors carry a code; the message check covers wrapped transport errors.
func isAzureNotFound(err error) bool {
	if err == nil {
		return false
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blobnotfound") ||
		strings.Contains(msg, "the specified blob does not exist")
}
