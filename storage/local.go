package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/bleepstore/rastore/randomaccess"
)

// maxFileSize is the largest offset the os.File API can address.
const maxFileSize = uint64(math.MaxInt64)

// zeroChunk is the write size used when a hole cannot be punched.
const zeroChunk = 64 * 1024

// errClosed is returned by operations on a LocalBackend after Close.
var errClosed = errors.New("storage closed")

// LocalOptions configures a LocalBackend.
type LocalOptions struct {
	// AutoSync fsyncs the file after every mutation.
	AutoSync bool
	// Lock takes an exclusive advisory lock on the file when it is opened.
	Lock bool
	// Truncate discards any existing contents when the file is opened.
	Truncate bool
}

// LocalBackend stores the bytes in a single file on the local filesystem.
type LocalBackend struct {
	// Path is the file the storage lives in. Parent directories are
	// created on open.
	Path string

	opts   LocalOptions
	mu     sync.RWMutex
	file   *os.File
	size   uint64
	locked bool
}

// NewLocalBackend creates a LocalBackend for path. The file is not touched
// until the first operation opens it.
func NewLocalBackend(path string, opts LocalOptions) *LocalBackend {
	return &LocalBackend{Path: path, opts: opts}
}

// NewLocal returns a LocalBackend wrapped in a lazy-open adapter.
func NewLocal(path string, opts LocalOptions) *randomaccess.Adapter[*LocalBackend] {
	return randomaccess.New(NewLocalBackend(path, opts))
}

// Open creates parent directories, opens or creates the file, and applies
// the lock and truncate options. A failed open leaves no file handle
// behind so the next call starts over.
func (b *LocalBackend) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(b.Path), 0o755); err != nil {
		return fmt.Errorf("creating parent directories for %q: %w", b.Path, err)
	}

	f, err := os.OpenFile(b.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening %q: %w", b.Path, err)
	}

	if b.opts.Lock {
		if err := lockFile(f); err != nil {
			f.Close()
			return fmt.Errorf("locking %q: %w", b.Path, err)
		}
		b.locked = true
	}

	if b.opts.Truncate {
		if err := f.Truncate(0); err != nil {
			b.releaseLocked(f)
			return fmt.Errorf("truncating %q: %w", b.Path, err)
		}
	}

	info, err := f.Stat()
	if err != nil {
		b.releaseLocked(f)
		return fmt.Errorf("stat %q: %w", b.Path, err)
	}

	b.file = f
	b.size = uint64(info.Size())
	slog.Debug("local backend opened", "path", b.Path, "length", b.size, "locked", b.locked)
	return nil
}

// releaseLocked unlocks and closes f. The caller must hold b.mu.
func (b *LocalBackend) releaseLocked(f *os.File) error {
	if b.locked {
		unlockFile(f)
		b.locked = false
	}
	return f.Close()
}

// Write writes data at offset. An empty write past the end extends the file
// to offset.
func (b *LocalBackend) Write(ctx context.Context, offset uint64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	end, err := randomaccess.CheckWrite(offset, len(data), maxFileSize)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.file == nil {
		return errClosed
	}

	if len(data) == 0 {
		if end > b.size {
			if err := b.file.Truncate(int64(end)); err != nil {
				return fmt.Errorf("extending to %d: %w", end, err)
			}
			b.size = end
		}
		return b.autoSyncLocked()
	}

	if _, err := b.file.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("writing %d bytes at %d: %w", len(data), offset, err)
	}
	if end > b.size {
		b.size = end
	}
	return b.autoSyncLocked()
}

// Read reads exactly length bytes at offset.
func (b *LocalBackend) Read(ctx context.Context, offset, length uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := randomaccess.CheckRead(offset, length, b.size); err != nil {
		return nil, err
	}
	if err := randomaccess.CheckAlloc(offset, length); err != nil {
		return nil, err
	}
	if b.file == nil {
		return nil, errClosed
	}

	buf := make([]byte, length)
	n, err := b.file.ReadAt(buf, int64(offset))
	if uint64(n) == length {
		return buf, nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("reading %d bytes at %d: %w", length, offset, err)
}

// ReadTo streams length bytes at offset into w through a section reader.
func (b *LocalBackend) ReadTo(ctx context.Context, offset, length uint64, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := randomaccess.CheckRead(offset, length, b.size); err != nil {
		return err
	}
	if b.file == nil {
		return errClosed
	}

	section := io.NewSectionReader(b.file, int64(offset), int64(length))
	copied, err := io.Copy(w, section)
	if err != nil {
		return fmt.Errorf("streaming %d bytes at %d: %w", length, offset, err)
	}
	if uint64(copied) != length {
		return fmt.Errorf("streaming %d bytes at %d: %w", length, offset, io.ErrUnexpectedEOF)
	}
	return nil
}

// Del zeroes a range in the middle of the file by punching a hole, or
// truncates when the range reaches the end.
func (b *LocalBackend) Del(ctx context.Context, offset, length uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	truncate, err := randomaccess.CheckDel(offset, length, b.size)
	if err != nil {
		return err
	}
	if b.file == nil {
		return errClosed
	}

	if truncate {
		return b.truncateLocked(offset)
	}
	if length == 0 {
		return nil
	}

	if err := punchHole(b.file, int64(offset), int64(length)); err != nil {
		slog.Debug("punch hole unavailable, writing zeros", "path", b.Path, "error", err)
		if err := b.writeZerosLocked(offset, length); err != nil {
			return err
		}
	}
	return b.autoSyncLocked()
}

// writeZerosLocked overwrites [offset, offset+length) with zeros.
func (b *LocalBackend) writeZerosLocked(offset, length uint64) error {
	zeros := make([]byte, min(length, zeroChunk))
	for length > 0 {
		n := min(length, uint64(len(zeros)))
		if _, err := b.file.WriteAt(zeros[:n], int64(offset)); err != nil {
			return fmt.Errorf("zeroing %d bytes at %d: %w", n, offset, err)
		}
		offset += n
		length -= n
	}
	return nil
}

// Truncate resizes the file.
func (b *LocalBackend) Truncate(ctx context.Context, length uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := randomaccess.CheckCapacity(length, maxFileSize); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.file == nil {
		return errClosed
	}
	return b.truncateLocked(length)
}

func (b *LocalBackend) truncateLocked(length uint64) error {
	if err := b.file.Truncate(int64(length)); err != nil {
		return fmt.Errorf("truncating to %d: %w", length, err)
	}
	b.size = length
	return b.autoSyncLocked()
}

// Len returns the file length tracked since open.
func (b *LocalBackend) Len(ctx context.Context) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.file == nil {
		return 0, errClosed
	}
	return b.size, nil
}

// IsEmpty stats the path. A missing file is empty.
func (b *LocalBackend) IsEmpty(ctx context.Context) (bool, error) {
	info, err := os.Stat(b.Path)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %q: %w", b.Path, err)
	}
	return info.Size() == 0, nil
}

// SyncAll fsyncs the file.
func (b *LocalBackend) SyncAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.file == nil {
		return errClosed
	}
	if err := b.file.Sync(); err != nil {
		return fmt.Errorf("syncing %q: %w", b.Path, err)
	}
	return nil
}

func (b *LocalBackend) autoSyncLocked() error {
	if !b.opts.AutoSync {
		return nil
	}
	if err := b.file.Sync(); err != nil {
		return fmt.Errorf("syncing %q: %w", b.Path, err)
	}
	return nil
}

// Close releases the lock and closes the file.
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.file == nil {
		return nil
	}
	f := b.file
	b.file = nil
	if err := b.releaseLocked(f); err != nil {
		return fmt.Errorf("closing %q: %w", b.Path, err)
	}
	return nil
}

var (
	_ randomaccess.Handler      = (*LocalBackend)(nil)
	_ randomaccess.Truncater    = (*LocalBackend)(nil)
	_ randomaccess.Lengther     = (*LocalBackend)(nil)
	_ randomaccess.EmptyChecker = (*LocalBackend)(nil)
	_ randomaccess.Syncer       = (*LocalBackend)(nil)
	_ randomaccess.ReaderTo     = (*LocalBackend)(nil)
)
