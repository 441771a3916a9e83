package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/bleepstore/rastore/randomaccess"
	"github.com/bleepstore/rastore/randomaccess/storagetest"
)

// testBlobStore checks the BlobStore contract shared by every
// implementation.
func testBlobStore(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrBlobNotFound", err)
	}

	if err := store.Put(ctx, "a/blocks/0000000000000000", []byte("first")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, "a/blocks/0000000000000000")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("first")) {
		t.Errorf("Get = %q, want %q", got, "first")
	}

	if err := store.Put(ctx, "a/blocks/0000000000000000", []byte("second")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, err = store.Get(ctx, "a/blocks/0000000000000000")
	if err != nil {
		t.Fatalf("Get after overwrite: %v", err)
	}
	if !bytes.Equal(got, []byte("second")) {
		t.Errorf("Get after overwrite = %q, want %q", got, "second")
	}

	if err := store.Delete(ctx, "a/blocks/0000000000000000"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "a/blocks/0000000000000000"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Get after Delete = %v, want ErrBlobNotFound", err)
	}
	if err := store.Delete(ctx, "a/blocks/0000000000000000"); err != nil {
		t.Errorf("Delete should be idempotent, got %v", err)
	}
}

// blobFactory returns a storagetest factory that builds a blob storage
// with a small block size over a fresh store, so the suite crosses many
// block boundaries.
func blobFactory(newStore func(t *testing.T) BlobStore) storagetest.Factory {
	return func(t *testing.T) randomaccess.Storage {
		return NewBlob(newStore(t), "suite", BlobOptions{BlockSize: 4096})
	}
}

// countingBlobStore wraps a BlobStore and counts calls.
type countingBlobStore struct {
	BlobStore
	gets, puts, deletes int
	failGet             error
}

func (c *countingBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets++
	if c.failGet != nil {
		return nil, c.failGet
	}
	return c.BlobStore.Get(ctx, key)
}

func (c *countingBlobStore) Put(ctx context.Context, key string, data []byte) error {
	c.puts++
	return c.BlobStore.Put(ctx, key, data)
}

func (c *countingBlobStore) Delete(ctx context.Context, key string) error {
	c.deletes++
	return c.BlobStore.Delete(ctx, key)
}
