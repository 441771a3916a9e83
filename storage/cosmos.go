package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
)

// cosmosBlobType is the partition key value of every blob item. The
// container is partitioned on /type.
const cosmosBlobType = "blob"

// CosmosAPI defines the subset of *azcosmos.ContainerClient the blob store
// uses. This allows mocking in tests.
type CosmosAPI interface {
	ReadItem(ctx context.Context, partitionKey azcosmos.PartitionKey, itemID string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	UpsertItem(ctx context.Context, partitionKey azcosmos.PartitionKey, item []byte, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	DeleteItem(ctx context.Context, partitionKey azcosmos.PartitionKey, itemID string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
}

// CosmosOptions configures a CosmosBlobStore.
type CosmosOptions struct {
	Endpoint string
	// MasterKey authenticates with an account key. Empty uses
	// DefaultAzureCredential.
	MasterKey string
	Database  string
	Container string
	// Prefix is prepended to every key before it is encoded.
	Prefix string
}

// cosmosBlobItem is the JSON document stored per blob. Data is base64 in
// the JSON encoding.
type cosmosBlobItem struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Key  string `json:"key"`
	Data []byte `json:"data"`
}

// CosmosBlobStore stores each blob as a JSON item in an Azure Cosmos DB
// container. Items are limited to 2 MB including the base64 expansion.
type CosmosBlobStore struct {
	Container string
	Prefix    string

	client CosmosAPI
}

// NewCosmosBlobStore connects to Cosmos DB and verifies the container
// exists.
func NewCosmosBlobStore(ctx context.Context, opts CosmosOptions) (*CosmosBlobStore, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("cosmos endpoint is required")
	}
	if opts.Database == "" || opts.Container == "" {
		return nil, fmt.Errorf("cosmos database and container names are required")
	}

	clientOpts := &azcosmos.ClientOptions{ClientOptions: policy.ClientOptions{}}
	var client *azcosmos.Client
	if opts.MasterKey != "" {
		cred, err := azcosmos.NewKeyCredential(opts.MasterKey)
		if err != nil {
			return nil, fmt.Errorf("creating cosmos key credential: %w", err)
		}
		client, err = azcosmos.NewClientWithKey(opts.Endpoint, cred, clientOpts)
		if err != nil {
			return nil, fmt.Errorf("creating cosmos client: %w", err)
		}
	} else {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("creating azure credential: %w", err)
		}
		client, err = azcosmos.NewClient(opts.Endpoint, cred, clientOpts)
		if err != nil {
			return nil, fmt.Errorf("creating cosmos client: %w", err)
		}
	}

	container, err := client.NewContainer(opts.Database, opts.Container)
	if err != nil {
		return nil, fmt.Errorf("getting container client: %w", err)
	}
	if _, err := container.Read(ctx, nil); err != nil {
		return nil, fmt.Errorf("cannot access cosmos container %q: %w", opts.Container, err)
	}

	slog.Info("Cosmos blob store initialized", "database", opts.Database, "container", opts.Container, "prefix", opts.Prefix)
	return NewCosmosBlobStoreWithClient(opts.Container, opts.Prefix, container), nil
}

// NewCosmosBlobStoreWithClient creates a CosmosBlobStore with a
// pre-configured client. This is primarily used for testing with mock
// clients.
func NewCosmosBlobStoreWithClient(container, prefix string, client CosmosAPI) *CosmosBlobStore {
	return &CosmosBlobStore{Container: container, Prefix: prefix, client: client}
}

// itemID maps a key to an item ID. IDs may not contain '/', so keys are
// base64url-encoded.
func (s *CosmosBlobStore) itemID(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s.Prefix + key))
}

func (s *CosmosBlobStore) partition() azcosmos.PartitionKey {
	return azcosmos.NewPartitionKeyString(cosmosBlobType)
}

// Get reads the item for key.
func (s *CosmosBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.ReadItem(ctx, s.partition(), s.itemID(key), nil)
	if err != nil {
		if isCosmosNotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("reading item for %q: %w", key, err)
	}

	var item cosmosBlobItem
	if err := json.Unmarshal(resp.Value, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling item for %q: %w", key, err)
	}
	if item.Data == nil {
		return []byte{}, nil
	}
	return item.Data, nil
}

// Put upserts the item for key.
func (s *CosmosBlobStore) Put(ctx context.Context, key string, data []byte) error {
	item, err := json.Marshal(&cosmosBlobItem{
		ID:   s.itemID(key),
		Type: cosmosBlobType,
		Key:  s.Prefix + key,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("marshaling item for %q: %w", key, err)
	}
	if _, err := s.client.UpsertItem(ctx, s.partition(), item, nil); err != nil {
		return fmt.Errorf("upserting item for %q: %w", key, err)
	}
	return nil
}

// Delete removes the item for key. A missing item is not an error.
func (s *CosmosBlobStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, s.partition(), s.itemID(key), nil)
	if err != nil && !isCosmosNotFound(err) {
		return fmt.Errorf("deleting item for %q: %w", key, err)
	}
	return nil
}

// isCosmosNotFound reports whether err is a 404 from Cosmos DB.
func isCosmosNotFound(err error) bool {
	if err == nil {
		return false
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	msg := err.Error()
	return strings.Contains(msg, "NotFound") || strings.Contains(msg, "404")
}
