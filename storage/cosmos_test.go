package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"

	"github.com/bleepstore/rastore/randomaccess"
	"github.com/bleepstore/rastore/randomaccess/storagetest"
)

// mockCosmosClient implements CosmosAPI for unit testing. Items are stored
// as the raw JSON documents the store sends.
type mockCosmosClient struct {
	items       map[string][]byte
	deleteCalls int
}

func newMockCosmosClient() *mockCosmosClient {
	return &mockCosmosClient{items: make(map[string][]byte)}
}

func cosmosNotFound() error {
	return &azcore.ResponseError{ErrorCode: "NotFound", StatusCode: http.StatusNotFound}
}

func (m *mockCosmosClient) ReadItem(ctx context.Context, pk azcosmos.PartitionKey, id string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error) {
	item, ok := m.items[id]
	if !ok {
		return azcosmos.ItemResponse{}, cosmosNotFound()
	}
	return azcosmos.ItemResponse{Value: append([]byte{}, item...)}, nil
}

func (m *mockCosmosClient) UpsertItem(ctx context.Context, pk azcosmos.PartitionKey, item []byte, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error) {
	var doc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(item, &doc); err != nil {
		return azcosmos.ItemResponse{}, err
	}
	m.items[doc.ID] = append([]byte{}, item...)
	return azcosmos.ItemResponse{}, nil
}

func (m *mockCosmosClient) DeleteItem(ctx context.Context, pk azcosmos.PartitionKey, id string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error) {
	m.deleteCalls++
	if _, ok := m.items[id]; !ok {
		return azcosmos.ItemResponse{}, cosmosNotFound()
	}
	delete(m.items, id)
	return azcosmos.ItemResponse{}, nil
}

func TestCosmosBlobStore(t *testing.T) {
	testBlobStore(t, NewCosmosBlobStoreWithClient("blobs", "ra/", newMockCosmosClient()))
}

func TestCosmosConformance(t *testing.T) {
	storagetest.Run(t, blobFactory(func(t *testing.T) BlobStore {
		return NewCosmosBlobStoreWithClient("blobs", "", newMockCosmosClient())
	}))
}

func TestCosmosDurability(t *testing.T) {
	mock := newMockCosmosClient()
	storagetest.RunDurability(t, func(t *testing.T) randomaccess.Storage {
		return NewBlob(NewCosmosBlobStoreWithClient("blobs", "", mock), "vol", BlobOptions{BlockSize: 32})
	})
}

func TestCosmosItemLayout(t *testing.T) {
	mock := newMockCosmosClient()
	store := NewCosmosBlobStoreWithClient("blobs", "p/", mock)
	if err := store.Put(context.Background(), "vol/meta", []byte{0, 1, 2}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	raw, ok := mock.items[store.itemID("vol/meta")]
	if !ok {
		t.Fatal("item not stored under its encoded id")
	}
	var item cosmosBlobItem
	if err := json.Unmarshal(raw, &item); err != nil {
		t.Fatalf("stored item is not JSON: %v", err)
	}
	if item.Type != cosmosBlobType || item.Key != "p/vol/meta" {
		t.Errorf("unexpected item %+v", item)
	}
	if string(item.Data) != "\x00\x01\x02" {
		t.Errorf("data = %v", item.Data)
	}
}

func TestCosmosDeleteMissingIsNotAnError(t *testing.T) {
	mock := newMockCosmosClient()
	store := NewCosmosBlobStoreWithClient("blobs", "", mock)
	if err := store.Delete(context.Background(), "nope"); err != nil {
		t.Errorf("Delete(missing) = %v", err)
	}
	if mock.deleteCalls != 1 {
		t.Errorf("deleteCalls = %d, want 1", mock.deleteCalls)
	}
}

func TestIsCosmosNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"response 404", cosmosNotFound(), true},
		{"response 429", &azcore.ResponseError{ErrorCode: "TooManyRequests", StatusCode: http.StatusTooManyRequests}, false},
		{"message", errors.New("Entity NotFound"), true},
		{"unrelated", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isCosmosNotFound(tt.err); got != tt.want {
				t.Errorf("isCosmosNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}
