// Package storagetest provides a conformance suite for implementations of
// randomaccess.Storage. Backend packages call Run from their own tests with
// a factory that returns a fresh, empty storage.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleepstore/rastore/randomaccess"
)

// Factory returns a new, empty storage. Storages that implement io.Closer
// are closed when the sub-test ends.
type Factory func(t *testing.T) randomaccess.Storage

// Opener opens the same underlying resource every time it is called. It is
// used to check that synced data survives a reopen.
type Opener func(t *testing.T) randomaccess.Storage

// Run exercises every property of the storage contract against storages
// produced by newStorage.
func Run(t *testing.T, newStorage Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s randomaccess.Storage)
	}{
		{"EndToEnd", testEndToEnd},
		{"StartsEmpty", testStartsEmpty},
		{"ZeroFillOnExtend", testZeroFillOnExtend},
		{"EmptyWriteExtends", testEmptyWriteExtends},
		{"Overwrite", testOverwrite},
		{"LargeWrite", testLargeWrite},
		{"ReadBounds", testReadBounds},
		{"ReadToMatchesRead", testReadToMatchesRead},
		{"ReadToBounds", testReadToBounds},
		{"TruncateIdempotent", testTruncateIdempotent},
		{"TruncateExtendsWithZeros", testTruncateExtendsWithZeros},
		{"TruncateShrinkThenGrow", testTruncateShrinkThenGrow},
		{"DelInMiddle", testDelInMiddle},
		{"DelEndingAtLength", testDelEndingAtLength},
		{"DelEndingPastLength", testDelEndingPastLength},
		{"DelStartingPastLength", testDelStartingPastLength},
		{"DelZeroLength", testDelZeroLength},
		{"ReadZeroLength", testReadZeroLength},
		{"EmptyWriteAtEnd", testEmptyWriteAtEnd},
		{"HugeOffset", testHugeOffset},
		{"CanceledWrite", testCanceledWrite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStorage(t)
			if c, ok := s.(io.Closer); ok {
				t.Cleanup(func() { c.Close() })
			}
			tt.fn(t, s)
		})
	}
}

// RunDurability checks that data written and synced through one storage is
// visible after reopening the resource.
func RunDurability(t *testing.T, open Opener) {
	ctx := context.Background()

	s := open(t)
	require.NoError(t, s.Write(ctx, 0, []byte("durable bytes")))
	require.NoError(t, s.Write(ctx, 100, []byte("tail")))
	require.NoError(t, s.Del(ctx, 0, 8))
	require.NoError(t, s.SyncAll(ctx))
	if c, ok := s.(io.Closer); ok {
		require.NoError(t, c.Close())
	}

	s = open(t)
	if c, ok := s.(io.Closer); ok {
		t.Cleanup(func() { c.Close() })
	}
	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(104), n)

	got, err := s.Read(ctx, 0, 13)
	require.NoError(t, err)
	assert.Equal(t, append(make([]byte, 8), "bytes"...), got)

	got, err = s.Read(ctx, 100, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("tail"), got)
}

func requireLen(t *testing.T, s randomaccess.Storage, want uint64) {
	t.Helper()
	n, err := s.Len(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, n, "length")
}

func requireRead(t *testing.T, s randomaccess.Storage, offset uint64, want []byte) {
	t.Helper()
	got, err := s.Read(context.Background(), offset, uint64(len(want)))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func requireOutOfBounds(t *testing.T, err error, offset, end, length uint64) {
	t.Helper()
	var oob *randomaccess.OutOfBoundsError
	require.True(t, errors.As(err, &oob), "want *OutOfBoundsError, got %v", err)
	assert.Equal(t, randomaccess.OutOfBoundsError{Offset: offset, End: end, HasEnd: true, Length: length}, *oob)
}

func testEndToEnd(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 0, []byte("hello")))
	requireLen(t, s, 5)
	require.NoError(t, s.Write(ctx, 5, []byte(" world")))
	requireLen(t, s, 11)
	requireRead(t, s, 0, []byte("hello world"))

	require.NoError(t, s.Truncate(ctx, 5))
	requireLen(t, s, 5)
	requireRead(t, s, 0, []byte("hello"))

	_, err := s.Read(ctx, 0, 6)
	requireOutOfBounds(t, err, 0, 6, 5)
}

func testStartsEmpty(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	empty, err := s.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)
	requireLen(t, s, 0)

	require.NoError(t, s.Write(ctx, 0, []byte{1}))
	empty, err = s.IsEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)

	require.NoError(t, s.Truncate(ctx, 0))
	empty, err = s.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)
}

func testZeroFillOnExtend(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 0, []byte("abc")))
	require.NoError(t, s.Write(ctx, 10, []byte("xyz")))
	requireLen(t, s, 13)
	requireRead(t, s, 3, make([]byte, 7))
	requireRead(t, s, 0, []byte("abc\x00\x00\x00\x00\x00\x00\x00xyz"))
}

func testEmptyWriteExtends(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 4, nil))
	requireLen(t, s, 4)
	requireRead(t, s, 0, make([]byte, 4))

	require.NoError(t, s.Write(ctx, 2, nil))
	requireLen(t, s, 4)
}

func testOverwrite(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 0, []byte("0123456789")))
	require.NoError(t, s.Write(ctx, 3, []byte("abc")))
	requireLen(t, s, 10)
	requireRead(t, s, 0, []byte("012abc6789"))

	require.NoError(t, s.Write(ctx, 8, []byte("XYZ")))
	requireLen(t, s, 11)
	requireRead(t, s, 0, []byte("012abc67XYZ"))
}

func testLargeWrite(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	data := make([]byte, 300_000)
	rand.New(rand.NewSource(1)).Read(data)

	require.NoError(t, s.Write(ctx, 1000, data))
	requireLen(t, s, 301_000)
	requireRead(t, s, 1000, data)
	requireRead(t, s, 0, make([]byte, 1000))
	requireRead(t, s, 70_000, data[69_000:140_000])

	var buf bytes.Buffer
	require.NoError(t, s.ReadTo(ctx, 1000, uint64(len(data)), &buf))
	assert.True(t, bytes.Equal(data, buf.Bytes()), "ReadTo content mismatch")
}

func testReadBounds(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 0, []byte("12345678")))

	_, err := s.Read(ctx, 4, 5)
	requireOutOfBounds(t, err, 4, 9, 8)

	_, err = s.Read(ctx, 9, 0)
	requireOutOfBounds(t, err, 9, 9, 8)

	got, err := s.Read(ctx, 8, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testReadToMatchesRead(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 0, []byte("stream this range")))

	var buf bytes.Buffer
	require.NoError(t, s.ReadTo(ctx, 7, 4, &buf))
	assert.Equal(t, "this", buf.String())

	direct, err := s.Read(ctx, 7, 4)
	require.NoError(t, err)
	assert.Equal(t, direct, buf.Bytes())
}

func testReadToBounds(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 0, []byte("abc")))

	var buf bytes.Buffer
	err := s.ReadTo(ctx, 1, 3, &buf)
	requireOutOfBounds(t, err, 1, 4, 3)
	assert.Zero(t, buf.Len(), "nothing may be written to the sink on a bounds violation")
}

func testTruncateIdempotent(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 0, []byte("truncate me twice")))
	require.NoError(t, s.Truncate(ctx, 8))
	requireLen(t, s, 8)
	first, err := s.Read(ctx, 0, 8)
	require.NoError(t, err)

	require.NoError(t, s.Truncate(ctx, 8))
	requireLen(t, s, 8)
	requireRead(t, s, 0, first)
}

func testTruncateExtendsWithZeros(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 0, []byte("grow")))
	require.NoError(t, s.Truncate(ctx, 4+70_000))
	requireLen(t, s, 70_004)
	requireRead(t, s, 0, []byte("grow"))
	requireRead(t, s, 4, make([]byte, 70_000))
}

func testTruncateShrinkThenGrow(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	data := bytes.Repeat([]byte{0xAB}, 100_000)
	require.NoError(t, s.Write(ctx, 0, data))
	require.NoError(t, s.Truncate(ctx, 10))
	require.NoError(t, s.Truncate(ctx, 100_000))
	requireLen(t, s, 100_000)
	requireRead(t, s, 0, data[:10])
	requireRead(t, s, 10, make([]byte, 99_990))

	require.NoError(t, s.Truncate(ctx, 5))
	require.NoError(t, s.Write(ctx, 20, []byte{1}))
	requireRead(t, s, 0, append(append(bytes.Repeat([]byte{0xAB}, 5), make([]byte, 15)...), 1))
}

func testDelInMiddle(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	data := bytes.Repeat([]byte("0123456789"), 20_000)
	require.NoError(t, s.Write(ctx, 0, data))

	require.NoError(t, s.Del(ctx, 5, 150_000))
	requireLen(t, s, uint64(len(data)))
	requireRead(t, s, 5, make([]byte, 150_000))
	requireRead(t, s, 0, data[:5])
	requireRead(t, s, 150_005, data[150_005:])
}

func testDelEndingAtLength(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 0, []byte("0123456789")))
	require.NoError(t, s.Del(ctx, 4, 6))
	requireLen(t, s, 4)
	requireRead(t, s, 0, []byte("0123"))

	require.NoError(t, s.Truncate(ctx, 10))
	requireRead(t, s, 0, []byte("0123\x00\x00\x00\x00\x00\x00"))
}

func testDelEndingPastLength(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 0, []byte("0123456789")))
	require.NoError(t, s.Del(ctx, 4, 7))
	requireLen(t, s, 4)
	requireRead(t, s, 0, []byte("0123"))

	require.NoError(t, s.Del(ctx, 4, 100))
	requireLen(t, s, 4)
}

func testDelStartingPastLength(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 0, []byte("0123456789")))
	err := s.Del(ctx, 11, 1)
	requireOutOfBounds(t, err, 11, 12, 10)
	requireLen(t, s, 10)
	requireRead(t, s, 0, []byte("0123456789"))
}

func testDelZeroLength(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 0, []byte("0123456789")))
	require.NoError(t, s.Del(ctx, 0, 0))
	require.NoError(t, s.Del(ctx, 3, 0))
	require.NoError(t, s.Del(ctx, 10, 0))
	requireLen(t, s, 10)
	requireRead(t, s, 0, []byte("0123456789"))

	err := s.Del(ctx, 11, 0)
	requireOutOfBounds(t, err, 11, 11, 10)

	require.NoError(t, s.SyncAll(ctx))
	requireRead(t, s, 0, []byte("0123456789"))
}

func testReadZeroLength(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	got, err := s.Read(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Write(ctx, 0, []byte("abc")))
	for _, off := range []uint64{0, 1, 3} {
		got, err := s.Read(ctx, off, 0)
		require.NoError(t, err)
		assert.Empty(t, got)

		var buf bytes.Buffer
		require.NoError(t, s.ReadTo(ctx, off, 0, &buf))
		assert.Zero(t, buf.Len())
	}
}

func testEmptyWriteAtEnd(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 0, []byte("abc")))
	require.NoError(t, s.Write(ctx, 3, nil))
	require.NoError(t, s.Write(ctx, 1, []byte{}))
	requireLen(t, s, 3)
	requireRead(t, s, 0, []byte("abc"))
}

// testHugeOffset writes one byte far past anything a buffer could hold. A
// backend may refuse with an error of either kind, but must not panic or
// hang, and a refused write leaves the storage untouched.
func testHugeOffset(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()
	const huge = uint64(1) << 50

	err := s.Write(ctx, huge, []byte("x"))
	if err != nil {
		assert.True(t, randomaccess.IsOutOfBounds(err) || randomaccess.IsIO(err), "unexpected error %v", err)
		requireLen(t, s, 0)
		return
	}
	requireLen(t, s, huge+1)
	requireRead(t, s, huge, []byte("x"))
	requireRead(t, s, huge-3, []byte{0, 0, 0, 'x'})

	_, err = s.Read(ctx, 0, huge+1)
	require.Error(t, err)
	assert.True(t, randomaccess.IsOutOfBounds(err) || randomaccess.IsIO(err), "unexpected error %v", err)

	require.NoError(t, s.Truncate(ctx, 0))
	requireLen(t, s, 0)
}

func testCanceledWrite(t *testing.T, s randomaccess.Storage) {
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, 0, []byte("before")))

	canceled, cancel := context.WithCancel(ctx)
	cancel()

	err := s.Write(canceled, 3, []byte("after the cancel"))
	require.Error(t, err)
	assert.True(t, randomaccess.IsIO(err), "want IO error, got %v", err)
	assert.ErrorIs(t, err, context.Canceled)

	requireLen(t, s, 6)
	requireRead(t, s, 0, []byte("before"))
}
