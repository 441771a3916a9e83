package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/bleepstore/rastore/randomaccess"
	"github.com/bleepstore/rastore/randomaccess/storagetest"
)

// mockDynamoDBClient implements DynamoDBAPI for unit testing.
type mockDynamoDBClient struct {
	// items stores item data keyed by the partition key value.
	items map[string][]byte
	// getCalls tracks the number of GetItem calls.
	getCalls int
	// consistent records whether every GetItem asked for a consistent read.
	consistent bool
}

func newMockDynamoDBClient() *mockDynamoDBClient {
	return &mockDynamoDBClient{items: make(map[string][]byte), consistent: true}
}

func (m *mockDynamoDBClient) keyOf(key map[string]types.AttributeValue) string {
	return key["key"].(*types.AttributeValueMemberS).Value
}

func (m *mockDynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.getCalls++
	if !aws.ToBool(params.ConsistentRead) {
		m.consistent = false
	}
	data, ok := m.items[m.keyOf(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"key":  params.Key["key"],
		"data": &types.AttributeValueMemberB{Value: append([]byte(nil), data...)},
	}}, nil
}

func (m *mockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	data := params.Item["data"].(*types.AttributeValueMemberB).Value
	m.items[m.keyOf(params.Item)] = append([]byte(nil), data...)
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDBClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(m.items, m.keyOf(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoDBBlobStore(t *testing.T) {
	mock := newMockDynamoDBClient()
	testBlobStore(t, NewDynamoDBBlobStoreWithClient("blobs", "ra/", mock))
	if !mock.consistent {
		t.Error("reads should be strongly consistent")
	}
}

func TestDynamoDBConformance(t *testing.T) {
	storagetest.Run(t, blobFactory(func(t *testing.T) BlobStore {
		return NewDynamoDBBlobStoreWithClient("blobs", "ra/", newMockDynamoDBClient())
	}))
}

func TestDynamoDBDurability(t *testing.T) {
	mock := newMockDynamoDBClient()
	storagetest.RunDurability(t, func(t *testing.T) randomaccess.Storage {
		return NewBlob(NewDynamoDBBlobStoreWithClient("blobs", "", mock), "vol", BlobOptions{BlockSize: 32})
	})
}

func TestDynamoDBWrongAttributeType(t *testing.T) {
	store := NewDynamoDBBlobStoreWithClient("blobs", "", &stringDataClient{})
	_, err := store.Get(context.Background(), "k")
	if err == nil || errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Get with string data attribute = %v, want a type error", err)
	}
}

// stringDataClient returns items whose data attribute has the wrong type.
type stringDataClient struct {
	mockDynamoDBClient
}

func (c *stringDataClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"key":  params.Key["key"],
		"data": &types.AttributeValueMemberS{Value: "not binary"},
	}}, nil
}
