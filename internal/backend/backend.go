// Package backend builds a randomaccess.Storage from configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bleepstore/rastore/internal/config"
	"github.com/bleepstore/rastore/internal/metrics"
	"github.com/bleepstore/rastore/randomaccess"
	"github.com/bleepstore/rastore/storage"
)

// Opened is a storage together with the resources backing it. Close must
// be called once the storage is no longer used.
type Opened struct {
	randomaccess.Storage

	adapter interface {
		Close() error
		Opened() bool
	}
	// store is closed directly when the adapter never opened its handler,
	// since the handler only releases it on Close after a successful open.
	store storage.BlobStore
}

// Close releases the storage and its blob store.
func (o *Opened) Close() error {
	err := o.adapter.Close()
	if o.store != nil && !o.adapter.Opened() {
		if c, ok := o.store.(interface{ Close() error }); ok {
			err = errors.Join(err, c.Close())
		}
	}
	return err
}

// Open validates cfg and constructs the configured backend. When metrics
// are enabled the returned storage is instrumented.
func Open(ctx context.Context, cfg *config.Config) (*Opened, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sc := cfg.Storage
	sc.Backend = strings.ToLower(sc.Backend)

	var opened *Opened
	switch sc.Backend {
	case config.BackendMemory:
		a := storage.NewMemory(storage.MemoryOptions{
			MaxSize:      sc.Memory.MaxSize,
			SnapshotPath: sc.Memory.SnapshotPath,
		})
		opened = &Opened{Storage: a, adapter: a}
		slog.Info("Storage backend initialized", "backend", sc.Backend, "snapshot", sc.Memory.SnapshotPath)

	case config.BackendLocal:
		a := storage.NewLocal(sc.Local.Path, storage.LocalOptions{
			AutoSync: sc.Local.AutoSync,
			Lock:     sc.Local.Lock,
		})
		opened = &Opened{Storage: a, adapter: a}
		slog.Info("Storage backend initialized", "backend", sc.Backend, "path", sc.Local.Path)

	default:
		store, err := openBlobStore(ctx, sc)
		if err != nil {
			return nil, err
		}
		a := storage.NewBlob(store, sc.Name, storage.BlobOptions{
			BlockSize: sc.Blob.BlockSize,
			MaxSize:   sc.Blob.MaxSize,
		})
		opened = &Opened{Storage: a, adapter: a, store: store}
		slog.Info("Storage backend initialized", "backend", sc.Backend, "name", sc.Name, "block_size", sc.Blob.BlockSize)
	}

	if cfg.Metrics.Enabled {
		metrics.Register()
		opened.Storage = metrics.Instrument(sc.Backend, opened.Storage)
	}
	return opened, nil
}

// openBlobStore constructs the blob store for a block-based backend.
func openBlobStore(ctx context.Context, sc config.StorageConfig) (storage.BlobStore, error) {
	switch sc.Backend {
	case config.BackendS3:
		store, err := storage.NewS3BlobStore(ctx, storage.S3Options{
			Bucket:          sc.AWS.Bucket,
			Region:          sc.AWS.Region,
			Prefix:          sc.AWS.Prefix,
			EndpointURL:     sc.AWS.EndpointURL,
			UsePathStyle:    sc.AWS.UsePathStyle,
			AccessKeyID:     sc.AWS.AccessKeyID,
			SecretAccessKey: sc.AWS.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing S3 blob store: %w", err)
		}
		return store, nil

	case config.BackendGCS:
		store, err := storage.NewGCSBlobStore(ctx, sc.GCP.Bucket, sc.GCP.Prefix)
		if err != nil {
			return nil, fmt.Errorf("initializing GCS blob store: %w", err)
		}
		return store, nil

	case config.BackendAzure:
		store, err := storage.NewAzureBlobStore(ctx, storage.AzureOptions{
			Container:          sc.Azure.Container,
			AccountURL:         sc.Azure.AccountURL,
			Prefix:             sc.Azure.Prefix,
			ConnectionString:   sc.Azure.ConnectionString,
			UseManagedIdentity: sc.Azure.UseManagedIdentity,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing Azure blob store: %w", err)
		}
		return store, nil

	case config.BackendDynamoDB:
		store, err := storage.NewDynamoDBBlobStore(ctx, storage.DynamoDBOptions{
			Table:       sc.DynamoDB.Table,
			Region:      sc.DynamoDB.Region,
			EndpointURL: sc.DynamoDB.EndpointURL,
			Prefix:      sc.DynamoDB.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing DynamoDB blob store: %w", err)
		}
		return store, nil

	case config.BackendFirestore:
		store, err := storage.NewFirestoreBlobStore(ctx, storage.FirestoreOptions{
			ProjectID:       sc.Firestore.ProjectID,
			Collection:      sc.Firestore.Collection,
			CredentialsFile: sc.Firestore.CredentialsFile,
			Prefix:          sc.Firestore.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing Firestore blob store: %w", err)
		}
		return store, nil

	case config.BackendCosmos:
		store, err := storage.NewCosmosBlobStore(ctx, storage.CosmosOptions{
			Endpoint:  sc.Cosmos.Endpoint,
			MasterKey: sc.Cosmos.MasterKey,
			Database:  sc.Cosmos.Database,
			Container: sc.Cosmos.Container,
			Prefix:    sc.Cosmos.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing Cosmos blob store: %w", err)
		}
		return store, nil

	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(sc.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite directory: %w", err)
		}
		store, err := storage.NewSQLiteBlobStore(sc.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing SQLite blob store: %w", err)
		}
		return store, nil

	case config.BackendBadger:
		store, err := storage.NewBadgerBlobStore(storage.BadgerOptions{
			Dir:      sc.Badger.Dir,
			InMemory: sc.Badger.InMemory,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing Badger blob store: %w", err)
		}
		return store, nil

	case config.BackendPebble:
		store, err := storage.NewPebbleBlobStore(storage.PebbleOptions{Dir: sc.Pebble.Dir})
		if err != nil {
			return nil, fmt.Errorf("initializing Pebble blob store: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
}
