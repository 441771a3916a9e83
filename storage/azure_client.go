package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
)

// serviceAzureClient implements AzureBlobAPI on top of an azblob service
// client, resolving container and blob clients per call.
type serviceAzureClient struct {
	svc *service.Client
}

// newServiceAzureClient builds a service client. A connection string wins;
// otherwise accountURL is used with managed identity or the default
// credential chain.
func newServiceAzureClient(accountURL, connectionString string, useManagedIdentity bool) (*serviceAzureClient, error) {
	if connectionString != "" {
		svc, err := service.NewClientFromConnectionString(connectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("parsing Azure connection string: %w", err)
		}
		return &serviceAzureClient{svc: svc}, nil
	}
	if accountURL == "" {
		return nil, fmt.Errorf("azure account URL or connection string is required")
	}

	cred, err := azureCredential(useManagedIdentity)
	if err != nil {
		return nil, err
	}
	svc, err := service.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure service client for %s: %w", accountURL, err)
	}
	return &serviceAzureClient{svc: svc}, nil
}

func azureCredential(useManagedIdentity bool) (azcore.TokenCredential, error) {
	if useManagedIdentity {
		cred, err := azidentity.NewManagedIdentityCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("managed identity credential: %w", err)
		}
		return cred, nil
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("default Azure credential: %w", err)
	}
	return cred, nil
}

// UploadBlob writes data as a block blob in a single Put Blob request.
func (c *serviceAzureClient) UploadBlob(ctx context.Context, containerName, blobName string, data []byte) error {
	bb := c.svc.NewContainerClient(containerName).NewBlockBlobClient(blobName)
	_, err := bb.Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), nil)
	return err
}

func (c *serviceAzureClient) DownloadBlob(ctx context.Context, containerName, blobName string) ([]byte, error) {
	resp, err := c.svc.NewContainerClient(containerName).NewBlobClient(blobName).DownloadStream(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *serviceAzureClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	_, err := c.svc.NewContainerClient(containerName).NewBlobClient(blobName).Delete(ctx, nil)
	return err
}

// checkContainer fails when the container is missing or not accessible.
func (c *serviceAzureClient) checkContainer(ctx context.Context, containerName string) error {
	_, err := c.svc.NewContainerClient(containerName).GetProperties(ctx, nil)
	return err
}
