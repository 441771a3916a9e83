// Package randomaccess defines the contract for randomly addressable byte
// storage and a lazy-open adapter that promotes a minimal backend to the
// full contract.
//
// A storage resource is an ordered sequence of bytes of length L addressed
// by a zero-based offset. Writes past L extend it and zero-fill any gap,
// reads must be satisfied exactly, and deletes either zero a range in place
// or, when the range reaches the end, truncate.
//
// Every operation reports failures with one of two error types:
//
//	*OutOfBoundsError  the request is outside the current length or capacity
//	*IOError           the underlying medium failed
//
// Out-of-bounds requests are rejected before the backend performs any I/O.
// Implementations are not required to be safe for concurrent use; callers
// serialize access to a single instance.
package randomaccess

import (
	"context"
	"io"
)

// Storage is the full capability contract every backend exposes.
type Storage interface {
	// Write writes data at offset, extending the length to offset+len(data)
	// when that is larger and zero-filling any gap.
	Write(ctx context.Context, offset uint64, data []byte) error

	// Read returns exactly length bytes starting at offset.
	Read(ctx context.Context, offset, length uint64) ([]byte, error)

	// ReadTo streams exactly length bytes starting at offset into w. It has
	// the same bounds contract as Read.
	ReadTo(ctx context.Context, offset, length uint64, w io.Writer) error

	// Del zeroes [offset, offset+length). When the range reaches the end of
	// the storage it is equivalent to Truncate(offset).
	Del(ctx context.Context, offset, length uint64) error

	// Truncate resizes the storage to length, discarding bytes past it or
	// zero-padding the new region.
	Truncate(ctx context.Context, length uint64) error

	// Len returns the current length in bytes.
	Len(ctx context.Context) (uint64, error)

	// IsEmpty reports whether the length is zero. Some backends answer this
	// more cheaply than Len.
	IsEmpty(ctx context.Context) (bool, error)

	// SyncAll makes every prior successful mutation durable.
	SyncAll(ctx context.Context) error
}

// Handler is the minimal primitive set a backend must provide to be wrapped
// by an Adapter. Open is called lazily, before the first other operation,
// until it succeeds once.
type Handler interface {
	Open(ctx context.Context) error
	Write(ctx context.Context, offset uint64, data []byte) error
	Read(ctx context.Context, offset, length uint64) ([]byte, error)
	Del(ctx context.Context, offset, length uint64) error
}

// Truncater is implemented by handlers that can resize their storage.
type Truncater interface {
	Truncate(ctx context.Context, length uint64) error
}

// Lengther is implemented by handlers that can report their length.
type Lengther interface {
	Len(ctx context.Context) (uint64, error)
}

// EmptyChecker is implemented by handlers with a dedicated emptiness check.
type EmptyChecker interface {
	IsEmpty(ctx context.Context) (bool, error)
}

// Syncer is implemented by handlers that buffer mutations.
type Syncer interface {
	SyncAll(ctx context.Context) error
}

// ReaderTo is implemented by handlers that can stream a range into a
// writer without allocating an intermediate buffer.
type ReaderTo interface {
	ReadTo(ctx context.Context, offset, length uint64, w io.Writer) error
}
