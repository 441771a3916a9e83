package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
)

// PebbleOptions configures a PebbleBlobStore.
type PebbleOptions struct {
	// Dir is the database directory.
	Dir string
	// FS overrides the filesystem, e.g. vfs.NewMem() in tests. Nil uses
	// the OS filesystem.
	FS vfs.FS
}

// PebbleBlobStore keeps blobs in an embedded Pebble database. Every write
// is synced to the WAL.
type PebbleBlobStore struct {
	db *pebble.DB
}

// NewPebbleBlobStore opens the Pebble database in opts.Dir.
func NewPebbleBlobStore(opts PebbleOptions) (*PebbleBlobStore, error) {
	if opts.Dir == "" {
		return nil, errors.New("pebble directory is required")
	}
	pebbleOpts := &pebble.Options{Logger: pebbleLogger{}}
	if opts.FS != nil {
		pebbleOpts.FS = opts.FS
	}

	db, err := pebble.Open(opts.Dir, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("opening pebble at %q: %w", opts.Dir, err)
	}
	return &PebbleBlobStore{db: db}, nil
}

// Get returns a copy of the value for key.
func (s *PebbleBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get %q: %w", key, err)
	}
	defer closer.Close()

	return append([]byte{}, val...), nil
}

// Put stores data under key.
func (s *PebbleBlobStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.db.Set([]byte(key), data, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *PebbleBlobStore) Delete(ctx context.Context, key string) error {
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete %q: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *PebbleBlobStore) Close() error {
	return s.db.Close()
}

// pebbleLogger silences info logs and keeps errors.
type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...any) {}

func (pebbleLogger) Errorf(format string, args ...any) {
	slog.Error(fmt.Sprintf("pebble: "+format, args...))
}

func (pebbleLogger) Fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf("pebble: "+format, args...))
	os.Exit(1)
}
