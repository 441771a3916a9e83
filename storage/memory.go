package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/bleepstore/rastore/internal/uid"
	"github.com/bleepstore/rastore/randomaccess"
)

// MemoryOptions configures a MemoryBackend.
type MemoryOptions struct {
	// MaxSize is a fixed capacity in bytes. Writes and truncations past it
	// fail with an out-of-bounds error. Zero, or anything larger than
	// randomaccess.MaxAlloc, means randomaccess.MaxAlloc.
	MaxSize uint64
	// SnapshotPath, when set, is a SQLite file the contents are loaded from
	// on open and written to on SyncAll and Close.
	SnapshotPath string
}

// MemoryBackend keeps the storage contents in a single byte slice. With a
// snapshot path it survives restarts by persisting to SQLite on SyncAll.
type MemoryBackend struct {
	mu   sync.RWMutex
	data []byte
	opts MemoryOptions
}

// NewMemoryBackend creates an empty MemoryBackend. Nothing is loaded until
// the first operation opens it.
func NewMemoryBackend(opts MemoryOptions) *MemoryBackend {
	return &MemoryBackend{opts: opts}
}

// NewMemory returns a MemoryBackend wrapped in a lazy-open adapter.
func NewMemory(opts MemoryOptions) *randomaccess.Adapter[*MemoryBackend] {
	return randomaccess.New(NewMemoryBackend(opts))
}

// Open loads the snapshot, if one is configured and exists.
func (m *MemoryBackend) Open(ctx context.Context) error {
	if m.opts.SnapshotPath == "" {
		return nil
	}
	if err := m.loadSnapshot(ctx); err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	slog.Debug("memory backend opened", "snapshot", m.opts.SnapshotPath, "length", len(m.data))
	return nil
}

// resizeLocked sets the length to n. Bytes exposed by growth are always
// zero, including those left in spare capacity by an earlier shrink.
// The caller must hold m.mu.
func (m *MemoryBackend) resizeLocked(n uint64) {
	old := uint64(len(m.data))
	switch {
	case n <= old:
		m.data = m.data[:n]
	case n <= uint64(cap(m.data)):
		m.data = m.data[:n]
		clear(m.data[old:n])
	default:
		newData := make([]byte, n, growCap(old, n))
		copy(newData, m.data)
		m.data = newData
	}
}

// growCap doubles the capacity for small appends so sequential writes are
// amortized.
func growCap(old, n uint64) uint64 {
	if c := old * 2; c > n && c <= randomaccess.MaxAlloc {
		return c
	}
	return n
}

// Write copies data into memory at offset, growing the buffer as needed.
func (m *MemoryBackend) Write(ctx context.Context, offset uint64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	end, err := randomaccess.CheckWrite(offset, len(data), m.capacity())
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if end > uint64(len(m.data)) {
		m.resizeLocked(end)
	}
	copy(m.data[offset:], data)
	return nil
}

// Read returns a copy of length bytes at offset.
func (m *MemoryBackend) Read(ctx context.Context, offset, length uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := randomaccess.CheckRead(offset, length, uint64(len(m.data))); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.data[offset:offset+length])
	return out, nil
}

// ReadTo writes length bytes at offset straight from the buffer into w.
func (m *MemoryBackend) ReadTo(ctx context.Context, offset, length uint64, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := randomaccess.CheckRead(offset, length, uint64(len(m.data))); err != nil {
		return err
	}
	n, err := w.Write(m.data[offset : offset+length])
	if err != nil {
		return fmt.Errorf("writing to sink: %w", err)
	}
	if uint64(n) != length {
		return fmt.Errorf("writing to sink: %w", io.ErrShortWrite)
	}
	return nil
}

// Del zeroes a range, or truncates when the range reaches the end.
func (m *MemoryBackend) Del(ctx context.Context, offset, length uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	truncate, err := randomaccess.CheckDel(offset, length, uint64(len(m.data)))
	if err != nil {
		return err
	}
	if truncate {
		m.resizeLocked(offset)
		return nil
	}
	clear(m.data[offset : offset+length])
	return nil
}

// Truncate resizes the buffer.
func (m *MemoryBackend) Truncate(ctx context.Context, length uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := randomaccess.CheckCapacity(length, m.capacity()); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.resizeLocked(length)
	return nil
}

// Len returns the current length.
func (m *MemoryBackend) Len(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.data)), nil
}

// IsEmpty reports whether the buffer holds no bytes.
func (m *MemoryBackend) IsEmpty(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data) == 0, nil
}

// SyncAll writes a snapshot when persistence is configured. Without a
// snapshot path there is nothing to flush.
func (m *MemoryBackend) SyncAll(ctx context.Context) error {
	if m.opts.SnapshotPath == "" {
		return nil
	}
	return m.writeSnapshot(ctx)
}

// Close writes a final snapshot when persistence is configured.
func (m *MemoryBackend) Close() error {
	if m.opts.SnapshotPath == "" {
		return nil
	}
	if err := m.writeSnapshot(context.Background()); err != nil {
		return fmt.Errorf("writing final snapshot: %w", err)
	}
	return nil
}

// Bytes returns a copy of the current contents.
func (m *MemoryBackend) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]byte, len(m.data))
	copy(result, m.data)
	return result
}

func (m *MemoryBackend) capacity() uint64 {
	if m.opts.MaxSize > 0 {
		return min(m.opts.MaxSize, randomaccess.MaxAlloc)
	}
	return randomaccess.MaxAlloc
}

// loadSnapshot restores the contents from the SQLite snapshot file. A
// missing file leaves the backend empty.
func (m *MemoryBackend) loadSnapshot(ctx context.Context) error {
	if _, err := os.Stat(m.opts.SnapshotPath); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", m.opts.SnapshotPath)
	if err != nil {
		return fmt.Errorf("opening snapshot database: %w", err)
	}
	defer db.Close()

	var tableCount int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name = 'memory_snapshot'`).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("checking snapshot table: %w", err)
	}
	if tableCount == 0 {
		return nil
	}

	var data []byte
	err = db.QueryRowContext(ctx, `SELECT data FROM memory_snapshot WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading snapshot row: %w", err)
	}
	if uint64(len(data)) > m.capacity() {
		return randomaccess.OutOfLength(uint64(len(data)), m.capacity())
	}

	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

// writeSnapshot writes the contents to a temporary SQLite file and renames
// it over the snapshot path.
func (m *MemoryBackend) writeSnapshot(ctx context.Context) error {
	m.mu.RLock()
	data := append([]byte{}, m.data...)
	m.mu.RUnlock()

	dir := filepath.Dir(m.opts.SnapshotPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmpPath := m.opts.SnapshotPath + ".tmp-" + uid.New()

	db, err := sql.Open("sqlite", tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp snapshot database: %w", err)
	}

	schema := `
		PRAGMA synchronous = FULL;

		CREATE TABLE memory_snapshot (
			id   INTEGER PRIMARY KEY CHECK (id = 1),
			data BLOB NOT NULL
		);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("creating snapshot schema: %w", err)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO memory_snapshot (id, data) VALUES (1, ?)`, data); err != nil {
		db.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("inserting snapshot: %w", err)
	}

	if err := db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp snapshot database: %w", err)
	}

	if err := os.Rename(tmpPath, m.opts.SnapshotPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming snapshot file: %w", err)
	}
	return nil
}

var (
	_ randomaccess.Handler      = (*MemoryBackend)(nil)
	_ randomaccess.Truncater    = (*MemoryBackend)(nil)
	_ randomaccess.Lengther     = (*MemoryBackend)(nil)
	_ randomaccess.EmptyChecker = (*MemoryBackend)(nil)
	_ randomaccess.Syncer       = (*MemoryBackend)(nil)
	_ randomaccess.ReaderTo     = (*MemoryBackend)(nil)
)
