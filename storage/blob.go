package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/bleepstore/rastore/randomaccess"
)

// ErrBlobNotFound is returned by BlobStore.Get when the key does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is a key/value store for immutable blobs: an object storage
// bucket, a document table or an embedded KV database. Implementations map
// their own not-found condition to ErrBlobNotFound, and Delete of a missing
// key succeeds.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// BlobSyncer is implemented by blob stores that buffer writes and need an
// explicit flush to make them durable.
type BlobSyncer interface {
	Sync(ctx context.Context) error
}

// DefaultBlockSize is the block size used for new blob storages.
const DefaultBlockSize = 64 * 1024

const blobMetaVersion = 1

// noCut marks that no shrink is pending against stored blocks.
const noCut = math.MaxUint64

// blobMeta is the msgpack record stored under {name}/meta.
//
// Extent is the number of leading block slots that may hold stored data.
// Clean is false while a flush is in progress; a storage found unclean on
// open is repaired before use.
type blobMeta struct {
	Version   int    `msgpack:"version"`
	BlockSize uint64 `msgpack:"block_size"`
	Length    uint64 `msgpack:"length"`
	Extent    uint64 `msgpack:"extent"`
	Clean     bool   `msgpack:"clean"`
}

// BlobOptions configures a BlobBackend.
type BlobOptions struct {
	// BlockSize is the block size for a storage created by this backend.
	// An existing storage keeps the block size it was created with.
	BlockSize uint64
	// MaxSize is a fixed capacity in bytes. Zero means unbounded.
	MaxSize uint64
}

// BlobBackend provides random access over a BlobStore by splitting the
// bytes into fixed-size blocks. Each block is one blob; a missing block
// reads as zeros. Mutations are buffered in memory and reach the store on
// SyncAll or Close.
type BlobBackend struct {
	// Name prefixes every key this storage writes.
	Name string

	store BlobStore
	opts  BlobOptions

	mu        sync.Mutex
	blockSize uint64
	length    uint64

	// dirty holds blocks changed since the last flush. A nil entry is a
	// tombstone: the block reads as zeros and is deleted on flush.
	dirty map[uint64][]byte
	// cut is the first block index whose stored copy is stale after a
	// shrink. Blocks at or past it read as zeros unless dirty.
	cut uint64
	// persisted mirrors the metadata last written to the store.
	persisted blobMeta
	metaDirty bool
	closed    bool
}

// NewBlobBackend creates a BlobBackend for the storage called name inside
// store. Once opened, the backend owns the store and closes it on Close
// when the store implements io.Closer. A lazy-open adapter that was never
// used does not close its handler, so callers close the store themselves
// in that case.
func NewBlobBackend(store BlobStore, name string, opts BlobOptions) *BlobBackend {
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	return &BlobBackend{
		Name:  name,
		store: store,
		opts:  opts,
		cut:   noCut,
	}
}

// NewBlob returns a BlobBackend wrapped in a lazy-open adapter.
func NewBlob(store BlobStore, name string, opts BlobOptions) *randomaccess.Adapter[*BlobBackend] {
	return randomaccess.New(NewBlobBackend(store, name, opts))
}

func (b *BlobBackend) metaKey() string {
	return b.Name + "/meta"
}

func (b *BlobBackend) blockKey(index uint64) string {
	return fmt.Sprintf("%s/blocks/%016x", b.Name, index)
}

// blocksFor returns the number of blocks needed to hold length bytes.
func (b *BlobBackend) blocksFor(length uint64) uint64 {
	n := length / b.blockSize
	if length%b.blockSize != 0 {
		n++
	}
	return n
}

// Open loads the metadata and repairs a storage left unclean by an
// interrupted flush.
func (b *BlobBackend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := b.store.Get(ctx, b.metaKey())
	switch {
	case errors.Is(err, ErrBlobNotFound):
		b.blockSize = b.opts.BlockSize
		b.length = 0
		b.persisted = blobMeta{Version: blobMetaVersion, BlockSize: b.blockSize, Clean: true}
	case err != nil:
		return fmt.Errorf("loading metadata %q: %w", b.metaKey(), err)
	default:
		var meta blobMeta
		if err := msgpack.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("decoding metadata %q: %w", b.metaKey(), err)
		}
		if meta.Version != blobMetaVersion {
			return fmt.Errorf("metadata %q: unsupported version %d", b.metaKey(), meta.Version)
		}
		if meta.BlockSize == 0 {
			return fmt.Errorf("metadata %q: zero block size", b.metaKey())
		}
		b.blockSize = meta.BlockSize
		b.length = meta.Length
		b.persisted = meta
	}

	b.dirty = make(map[uint64][]byte)
	b.cut = noCut
	b.metaDirty = false

	if !b.persisted.Clean {
		if err := b.recoverLocked(ctx); err != nil {
			return fmt.Errorf("recovering %q: %w", b.Name, err)
		}
	}

	slog.Debug("blob backend opened",
		"name", b.Name,
		"block_size", b.blockSize,
		"length", b.length,
	)
	return nil
}

// recoverLocked brings the store back in line with the persisted length
// after a flush was interrupted: blocks past the length are deleted and the
// tail of the last block is zeroed.
func (b *BlobBackend) recoverLocked(ctx context.Context) error {
	slog.Warn("blob storage was not closed cleanly, recovering",
		"name", b.Name,
		"length", b.length,
		"extent", b.persisted.Extent,
	)

	keep := b.blocksFor(b.length)
	for i := keep; i < b.persisted.Extent; i++ {
		if err := b.store.Delete(ctx, b.blockKey(i)); err != nil {
			return fmt.Errorf("deleting block %d: %w", i, err)
		}
	}

	if tail := b.length % b.blockSize; tail != 0 {
		last := b.length / b.blockSize
		blk, err := b.store.Get(ctx, b.blockKey(last))
		switch {
		case errors.Is(err, ErrBlobNotFound):
		case err != nil:
			return fmt.Errorf("loading block %d: %w", last, err)
		default:
			blk = b.normalize(blk)
			clear(blk[tail:])
			if err := b.store.Put(ctx, b.blockKey(last), blk); err != nil {
				return fmt.Errorf("storing block %d: %w", last, err)
			}
		}
	}

	meta := blobMeta{
		Version:   blobMetaVersion,
		BlockSize: b.blockSize,
		Length:    b.length,
		Extent:    keep,
		Clean:     true,
	}
	if err := b.putMeta(ctx, meta); err != nil {
		return err
	}
	b.persisted = meta
	return nil
}

// normalize pads or cuts a stored block to the block size.
func (b *BlobBackend) normalize(blk []byte) []byte {
	if uint64(len(blk)) == b.blockSize {
		return blk
	}
	out := make([]byte, b.blockSize)
	copy(out, blk)
	return out
}

// blockLocked returns the current contents of block index. The result may
// be shared with the dirty set and must not be modified.
func (b *BlobBackend) blockLocked(ctx context.Context, index uint64) ([]byte, error) {
	if blk, ok := b.dirty[index]; ok {
		if blk == nil {
			return make([]byte, b.blockSize), nil
		}
		return blk, nil
	}
	if index >= b.cut || index*b.blockSize >= b.length {
		return make([]byte, b.blockSize), nil
	}

	blk, err := b.store.Get(ctx, b.blockKey(index))
	if errors.Is(err, ErrBlobNotFound) {
		return make([]byte, b.blockSize), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading block %d: %w", index, err)
	}
	return b.normalize(blk), nil
}

// blockCopyLocked returns a private copy of block index that the caller may
// modify.
func (b *BlobBackend) blockCopyLocked(ctx context.Context, index uint64) ([]byte, error) {
	blk, err := b.blockLocked(ctx, index)
	if err != nil {
		return nil, err
	}
	out := make([]byte, b.blockSize)
	copy(out, blk)
	return out, nil
}

// Write writes data at offset. Every block the write touches is loaded
// before any of them is changed, so a failed load leaves the storage as it
// was.
func (b *BlobBackend) Write(ctx context.Context, offset uint64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	end, err := randomaccess.CheckWrite(offset, len(data), b.opts.MaxSize)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(data) == 0 {
		if end > b.length {
			b.length = end
			b.metaDirty = true
		}
		return nil
	}

	first := offset / b.blockSize
	last := (end - 1) / b.blockSize
	blocks := make([][]byte, 0, last-first+1)
	for i := first; i <= last; i++ {
		start := i * b.blockSize
		if offset <= start && start+b.blockSize <= end {
			blocks = append(blocks, make([]byte, b.blockSize))
			continue
		}
		blk, err := b.blockCopyLocked(ctx, i)
		if err != nil {
			return err
		}
		blocks = append(blocks, blk)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for j, blk := range blocks {
		i := first + uint64(j)
		start := i * b.blockSize
		var src []byte
		var dst []byte
		if start < offset {
			dst = blk[offset-start:]
			src = data
		} else {
			dst = blk
			src = data[start-offset:]
		}
		copy(dst, src)
		b.dirty[i] = blk
	}
	if end > b.length {
		b.length = end
	}
	b.metaDirty = true
	return nil
}

// Read returns exactly length bytes at offset.
func (b *BlobBackend) Read(ctx context.Context, offset, length uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := randomaccess.CheckRead(offset, length, b.length); err != nil {
		return nil, err
	}
	if err := randomaccess.CheckAlloc(offset, length); err != nil {
		return nil, err
	}

	out := make([]byte, 0, length)
	err := b.eachBlockLocked(ctx, offset, length, func(chunk []byte) error {
		out = append(out, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadTo streams length bytes at offset into w one block at a time.
func (b *BlobBackend) ReadTo(ctx context.Context, offset, length uint64, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := randomaccess.CheckRead(offset, length, b.length); err != nil {
		return err
	}

	return b.eachBlockLocked(ctx, offset, length, func(chunk []byte) error {
		n, err := w.Write(chunk)
		if err != nil {
			return fmt.Errorf("writing to sink: %w", err)
		}
		if n != len(chunk) {
			return fmt.Errorf("writing to sink: %w", io.ErrShortWrite)
		}
		return nil
	})
}

// eachBlockLocked calls fn with consecutive slices covering
// [offset, offset+length), one per block.
func (b *BlobBackend) eachBlockLocked(ctx context.Context, offset, length uint64, fn func([]byte) error) error {
	for length > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		index := offset / b.blockSize
		within := offset % b.blockSize
		n := min(length, b.blockSize-within)

		blk, err := b.blockLocked(ctx, index)
		if err != nil {
			return err
		}
		if err := fn(blk[within : within+n]); err != nil {
			return err
		}
		offset += n
		length -= n
	}
	return nil
}

// Del zeroes a range, or truncates when the range reaches the end. Blocks
// fully inside the range become tombstones.
func (b *BlobBackend) Del(ctx context.Context, offset, length uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	truncate, err := randomaccess.CheckDel(offset, length, b.length)
	if err != nil {
		return err
	}
	if truncate {
		return b.truncateLocked(ctx, offset)
	}
	if length == 0 {
		return nil
	}

	end := offset + length
	first := offset / b.blockSize
	last := (end - 1) / b.blockSize

	partial := make(map[uint64][]byte, 2)
	for _, i := range []uint64{first, last} {
		start := i * b.blockSize
		if offset <= start && start+b.blockSize <= end {
			continue
		}
		if _, ok := partial[i]; ok {
			continue
		}
		blk, err := b.blockCopyLocked(ctx, i)
		if err != nil {
			return err
		}
		partial[i] = blk
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for i := first; i <= last; i++ {
		blk, ok := partial[i]
		if !ok {
			b.dirty[i] = nil
			continue
		}
		start := i * b.blockSize
		from := max(offset, start) - start
		to := min(end, start+b.blockSize) - start
		clear(blk[from:to])
		b.dirty[i] = blk
	}
	return nil
}

// Truncate resizes the storage.
func (b *BlobBackend) Truncate(ctx context.Context, length uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := randomaccess.CheckCapacity(length, b.opts.MaxSize); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.truncateLocked(ctx, length)
}

// truncateLocked resizes to length. Growing only moves the length: bytes
// past the old length are already zero. Shrinking zeroes the tail of the
// new last block and marks every later block stale.
func (b *BlobBackend) truncateLocked(ctx context.Context, length uint64) error {
	if length >= b.length {
		if length > b.length {
			b.length = length
			b.metaDirty = true
		}
		return nil
	}

	var tail []byte
	tailIndex := length / b.blockSize
	if within := length % b.blockSize; within != 0 {
		blk, err := b.blockCopyLocked(ctx, tailIndex)
		if err != nil {
			return err
		}
		clear(blk[within:])
		tail = blk
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	keep := b.blocksFor(length)
	for i := range b.dirty {
		if i >= keep {
			delete(b.dirty, i)
		}
	}
	if tail != nil {
		b.dirty[tailIndex] = tail
	}
	b.cut = min(b.cut, keep)
	b.length = length
	b.metaDirty = true
	return nil
}

// Len returns the current length.
func (b *BlobBackend) Len(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length, nil
}

// IsEmpty reports whether the length is zero.
func (b *BlobBackend) IsEmpty(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length == 0, nil
}

// SyncAll flushes buffered blocks and metadata to the store.
//
// The flush first records an unclean marker covering every block slot it is
// about to write, then deletes stale blocks, writes dirty blocks, and
// finally stores clean metadata with the new length. An interrupted flush
// is repaired on the next open.
func (b *BlobBackend) SyncAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.dirty) == 0 && b.cut == noCut && !b.metaDirty {
		return nil
	}

	extent := b.persisted.Extent
	for i := range b.dirty {
		extent = max(extent, i+1)
	}
	marker := b.persisted
	marker.Extent = extent
	marker.Clean = false
	if err := b.putMeta(ctx, marker); err != nil {
		return err
	}
	b.persisted = marker

	if b.cut != noCut {
		for i := b.cut; i < b.persisted.Extent; i++ {
			if _, ok := b.dirty[i]; ok {
				continue
			}
			if err := b.store.Delete(ctx, b.blockKey(i)); err != nil {
				return fmt.Errorf("deleting block %d: %w", i, err)
			}
		}
		b.cut = noCut
	}

	indexes := make([]uint64, 0, len(b.dirty))
	for i := range b.dirty {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(x, y int) bool { return indexes[x] < indexes[y] })

	for _, i := range indexes {
		blk := b.dirty[i]
		if blk == nil {
			if err := b.store.Delete(ctx, b.blockKey(i)); err != nil {
				return fmt.Errorf("deleting block %d: %w", i, err)
			}
		} else if err := b.store.Put(ctx, b.blockKey(i), blk); err != nil {
			return fmt.Errorf("storing block %d: %w", i, err)
		}
		delete(b.dirty, i)
	}

	if syncer, ok := b.store.(BlobSyncer); ok {
		if err := syncer.Sync(ctx); err != nil {
			return fmt.Errorf("syncing blob store: %w", err)
		}
	}

	meta := blobMeta{
		Version:   blobMetaVersion,
		BlockSize: b.blockSize,
		Length:    b.length,
		Extent:    b.blocksFor(b.length),
		Clean:     true,
	}
	if err := b.putMeta(ctx, meta); err != nil {
		return err
	}
	b.persisted = meta
	b.metaDirty = false

	slog.Debug("blob backend synced", "name", b.Name, "length", b.length, "blocks", len(indexes))
	return nil
}

func (b *BlobBackend) putMeta(ctx context.Context, meta blobMeta) error {
	raw, err := msgpack.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := b.store.Put(ctx, b.metaKey(), raw); err != nil {
		return fmt.Errorf("storing metadata %q: %w", b.metaKey(), err)
	}
	return nil
}

// Close flushes buffered changes and closes the store. Closing twice is a
// no-op.
func (b *BlobBackend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if b.dirty != nil {
		if err := b.SyncAll(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("flushing on close: %w", err))
		}
	}
	if closer, ok := b.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing blob store: %w", err))
		}
	}
	return errors.Join(errs...)
}

var (
	_ randomaccess.Handler      = (*BlobBackend)(nil)
	_ randomaccess.Truncater    = (*BlobBackend)(nil)
	_ randomaccess.Lengther     = (*BlobBackend)(nil)
	_ randomaccess.EmptyChecker = (*BlobBackend)(nil)
	_ randomaccess.Syncer       = (*BlobBackend)(nil)
	_ randomaccess.ReaderTo     = (*BlobBackend)(nil)
)

// MapBlobStore is an in-memory BlobStore. It is safe for concurrent use.
type MapBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMapBlobStore creates an empty MapBlobStore.
func NewMapBlobStore() *MapBlobStore {
	return &MapBlobStore{blobs: make(map[string][]byte)}
}

func (s *MapBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MapBlobStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (s *MapBlobStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs, key)
	return nil
}

// Keys returns the stored keys in sorted order.
func (s *MapBlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
