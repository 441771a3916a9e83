package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreAPI defines the document operations the blob store uses. This
// allows mocking in tests.
type FirestoreAPI interface {
	GetDoc(ctx context.Context, collection, id string) (map[string]any, error)
	SetDoc(ctx context.Context, collection, id string, data map[string]any) error
	DeleteDoc(ctx context.Context, collection, id string) error
}

// realFirestoreClient adapts *firestore.Client to FirestoreAPI.
type realFirestoreClient struct {
	client *firestore.Client
}

func (c *realFirestoreClient) GetDoc(ctx context.Context, collection, id string) (map[string]any, error) {
	snap, err := c.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	return snap.Data(), nil
}

func (c *realFirestoreClient) SetDoc(ctx context.Context, collection, id string, data map[string]any) error {
	_, err := c.client.Collection(collection).Doc(id).Set(ctx, data)
	return err
}

func (c *realFirestoreClient) DeleteDoc(ctx context.Context, collection, id string) error {
	_, err := c.client.Collection(collection).Doc(id).Delete(ctx)
	return err
}

func (c *realFirestoreClient) Close() error {
	return c.client.Close()
}

// FirestoreOptions configures a FirestoreBlobStore.
type FirestoreOptions struct {
	ProjectID  string
	Collection string
	// CredentialsFile is a service account key file. Empty uses application
	// default credentials.
	CredentialsFile string
	// Prefix is prepended to every key before it is encoded.
	Prefix string
}

// FirestoreBlobStore stores each blob as a document holding a bytes field.
// Documents are limited to 1 MiB, so block sizes must stay below that.
type FirestoreBlobStore struct {
	Collection string
	Prefix     string

	client FirestoreAPI
}

// NewFirestoreBlobStore connects to Firestore and verifies the collection
// can be queried.
func NewFirestoreBlobStore(ctx context.Context, opts FirestoreOptions) (*FirestoreBlobStore, error) {
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("firestore project id is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = "rastore"
	}

	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, opts.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	_, err = client.Collection(collection).Limit(1).Documents(ctx).Next()
	if err != nil && err != iterator.Done {
		client.Close()
		return nil, fmt.Errorf("cannot access firestore collection %q: %w", collection, err)
	}

	slog.Info("Firestore blob store initialized", "project", opts.ProjectID, "collection", collection, "prefix", opts.Prefix)
	return NewFirestoreBlobStoreWithClient(collection, opts.Prefix, &realFirestoreClient{client: client}), nil
}

// NewFirestoreBlobStoreWithClient creates a FirestoreBlobStore with a
// pre-configured client. This is primarily used for testing with mock
// clients.
func NewFirestoreBlobStoreWithClient(collection, prefix string, client FirestoreAPI) *FirestoreBlobStore {
	return &FirestoreBlobStore{Collection: collection, Prefix: prefix, client: client}
}

// docID maps a key to a document ID. Document IDs may not contain '/', so
// keys are base64url-encoded.
func (s *FirestoreBlobStore) docID(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s.Prefix + key))
}

// Get reads the document for key.
func (s *FirestoreBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	doc, err := s.client.GetDoc(ctx, s.Collection, s.docID(key))
	if errors.Is(err, ErrBlobNotFound) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting document for %q: %w", key, err)
	}

	switch v := doc["data"].(type) {
	case []byte:
		return v, nil
	case nil:
		return []byte{}, nil
	default:
		return nil, fmt.Errorf("document for %q: data field has type %T", key, v)
	}
}

// Put writes the document for key, replacing any existing one.
func (s *FirestoreBlobStore) Put(ctx context.Context, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	doc := map[string]any{
		"key":  s.Prefix + key,
		"data": data,
	}
	if err := s.client.SetDoc(ctx, s.Collection, s.docID(key), doc); err != nil {
		return fmt.Errorf("setting document for %q: %w", key, err)
	}
	return nil
}

// Delete removes the document for key. Firestore succeeds for missing
// documents.
func (s *FirestoreBlobStore) Delete(ctx context.Context, key string) error {
	if err := s.client.DeleteDoc(ctx, s.Collection, s.docID(key)); err != nil {
		return fmt.Errorf("deleting document for %q: %w", key, err)
	}
	return nil
}

// Close releases the client when it holds a connection.
func (s *FirestoreBlobStore) Close() error {
	if c, ok := s.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
