package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Attribute names of a blob item. The table's partition key is a string
// attribute named "key".
const (
	dynamoKeyAttr  = "key"
	dynamoDataAttr = "data"
)

// DynamoDBAPI defines the subset of the DynamoDB client the blob store
// uses. This allows mocking in tests.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDBOptions configures a DynamoDBBlobStore.
type DynamoDBOptions struct {
	Table       string
	Region      string
	EndpointURL string
	// Prefix is prepended to every item key.
	Prefix string
}

// DynamoDBBlobStore stores each blob as one item with a binary data
// attribute. Items are limited to 400 KB, so block sizes must stay below
// that.
type DynamoDBBlobStore struct {
	Table  string
	Prefix string

	client DynamoDBAPI
}

// NewDynamoDBBlobStore creates a DynamoDBBlobStore using the default AWS
// credential chain and verifies the table exists.
func NewDynamoDBBlobStore(ctx context.Context, opts DynamoDBOptions) (*DynamoDBBlobStore, error) {
	if opts.Table == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if opts.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(opts.EndpointURL)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	if _, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(opts.Table),
	}); err != nil {
		return nil, fmt.Errorf("cannot access dynamodb table %q: %w", opts.Table, err)
	}

	slog.Info("DynamoDB blob store initialized", "table", opts.Table, "region", region, "prefix", opts.Prefix)
	return NewDynamoDBBlobStoreWithClient(opts.Table, opts.Prefix, client), nil
}

// NewDynamoDBBlobStoreWithClient creates a DynamoDBBlobStore with a
// pre-configured client. This is primarily used for testing with mock
// clients.
func NewDynamoDBBlobStoreWithClient(table, prefix string, client DynamoDBAPI) *DynamoDBBlobStore {
	return &DynamoDBBlobStore{Table: table, Prefix: prefix, client: client}
}

func (s *DynamoDBBlobStore) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoKeyAttr: &types.AttributeValueMemberS{Value: s.Prefix + key},
	}
}

// Get reads the item for key with a strongly consistent read.
func (s *DynamoDBBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.Table),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting item %q: %w", key, err)
	}
	if resp.Item == nil {
		return nil, ErrBlobNotFound
	}

	attr, ok := resp.Item[dynamoDataAttr]
	if !ok {
		return []byte{}, nil
	}
	data, ok := attr.(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("item %q: data attribute has type %T", key, attr)
	}
	return data.Value, nil
}

// Put writes the item for key, replacing any existing item.
func (s *DynamoDBBlobStore) Put(ctx context.Context, key string, data []byte) error {
	item := s.itemKey(key)
	item[dynamoDataAttr] = &types.AttributeValueMemberB{Value: data}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.Table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("putting item %q: %w", key, err)
	}
	return nil
}

// Delete removes the item for key. DynamoDB succeeds for missing items.
func (s *DynamoDBBlobStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.Table),
		Key:       s.itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("deleting item %q: %w", key, err)
	}
	return nil
}
