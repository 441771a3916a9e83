// Package transfer copies the contents of one storage into another, for
// exporting a storage to a local file or importing one into any backend.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bleepstore/rastore/randomaccess"
)

// DefaultChunkSize is the read size used when Options.ChunkSize is zero.
const DefaultChunkSize = 1 << 20

// ErrDestinationNotEmpty is returned when the destination holds data and
// Options.Replace is not set.
var ErrDestinationNotEmpty = errors.New("destination is not empty")

// Options configures a copy.
type Options struct {
	ChunkSize uint64
	// Replace discards any existing destination contents. Without it the
	// destination must be empty.
	Replace bool
}

// Result summarizes a completed copy.
type Result struct {
	// Length is the source length, and the final destination length.
	Length uint64
	// Written counts bytes written to the destination.
	Written uint64
	// Skipped counts bytes in all-zero chunks that were not written, since
	// the destination already reads them as zeros.
	Skipped uint64
	// Chunks counts chunks written.
	Chunks int
}

// Copy makes dst a byte-for-byte copy of src and syncs it. The destination
// is sized first, so chunks that are entirely zero are skipped.
func Copy(ctx context.Context, dst, src randomaccess.Storage, opts *Options) (*Result, error) {
	if opts == nil {
		opts = &Options{}
	}
	chunk := opts.ChunkSize
	if chunk == 0 {
		chunk = DefaultChunkSize
	}

	length, err := src.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading source length: %w", err)
	}

	empty, err := dst.IsEmpty(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking destination: %w", err)
	}
	if !empty {
		if !opts.Replace {
			return nil, ErrDestinationNotEmpty
		}
		if err := dst.Truncate(ctx, 0); err != nil {
			return nil, fmt.Errorf("clearing destination: %w", err)
		}
	}
	if err := dst.Truncate(ctx, length); err != nil {
		return nil, fmt.Errorf("sizing destination: %w", err)
	}

	res := &Result{Length: length}
	for offset := uint64(0); offset < length; offset += chunk {
		n := min(chunk, length-offset)
		buf, err := src.Read(ctx, offset, n)
		if err != nil {
			return res, fmt.Errorf("reading source at %d: %w", offset, err)
		}
		if allZero(buf) {
			res.Skipped += n
			continue
		}
		if err := dst.Write(ctx, offset, buf); err != nil {
			return res, fmt.Errorf("writing destination at %d: %w", offset, err)
		}
		res.Written += n
		res.Chunks++
	}

	if err := dst.SyncAll(ctx); err != nil {
		return res, fmt.Errorf("syncing destination: %w", err)
	}
	slog.Debug("Copy complete", "length", res.Length, "written", res.Written, "skipped", res.Skipped, "chunks", res.Chunks)
	return res, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
