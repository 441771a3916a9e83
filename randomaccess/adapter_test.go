package randomaccess

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

// countingHandler is a minimal in-memory Handler that records how often
// each primitive is invoked.
type countingHandler struct {
	data []byte

	// failOpens makes the next N Open calls fail.
	failOpens int
	openErr   error

	openCalls  int
	writeCalls int
	readCalls  int
	delCalls   int
}

func (h *countingHandler) Open(ctx context.Context) error {
	h.openCalls++
	if h.failOpens > 0 {
		h.failOpens--
		return h.openErr
	}
	return nil
}

func (h *countingHandler) Write(ctx context.Context, offset uint64, data []byte) error {
	h.writeCalls++
	end := offset + uint64(len(data))
	if end > uint64(len(h.data)) {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}
	copy(h.data[offset:], data)
	return nil
}

func (h *countingHandler) Read(ctx context.Context, offset, length uint64) ([]byte, error) {
	if err := CheckRead(offset, length, uint64(len(h.data))); err != nil {
		return nil, err
	}
	h.readCalls++
	out := make([]byte, length)
	copy(out, h.data[offset:])
	return out, nil
}

func (h *countingHandler) Del(ctx context.Context, offset, length uint64) error {
	truncate, err := CheckDel(offset, length, uint64(len(h.data)))
	if err != nil {
		return err
	}
	h.delCalls++
	if truncate {
		h.data = h.data[:offset]
		return nil
	}
	clear(h.data[offset : offset+length])
	return nil
}

// fullHandler adds every optional capability to countingHandler.
type fullHandler struct {
	countingHandler
	syncCalls   int
	closeCalls  int
	readToCalls int
}

func (h *fullHandler) Truncate(ctx context.Context, length uint64) error {
	if length > uint64(len(h.data)) {
		grown := make([]byte, length)
		copy(grown, h.data)
		h.data = grown
		return nil
	}
	h.data = h.data[:length]
	return nil
}

func (h *fullHandler) Len(ctx context.Context) (uint64, error) {
	return uint64(len(h.data)), nil
}

func (h *fullHandler) SyncAll(ctx context.Context) error {
	h.syncCalls++
	return nil
}

func (h *fullHandler) ReadTo(ctx context.Context, offset, length uint64, w io.Writer) error {
	if err := CheckRead(offset, length, uint64(len(h.data))); err != nil {
		return err
	}
	h.readToCalls++
	_, err := w.Write(h.data[offset : offset+length])
	return err
}

func (h *fullHandler) Close() error {
	h.closeCalls++
	return nil
}

func TestAdapterOpensExactlyOnce(t *testing.T) {
	h := &fullHandler{}
	a := New(h)
	ctx := context.Background()

	if a.Opened() {
		t.Fatal("new adapter should be unopened")
	}

	if err := a.Write(ctx, 0, []byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := a.Read(ctx, 0, 3); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := a.Del(ctx, 0, 1); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := a.Len(ctx); err != nil {
		t.Fatalf("Len: %v", err)
	}
	if err := a.Truncate(ctx, 10); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if _, err := a.IsEmpty(ctx); err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if err := a.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if err := a.ReadTo(ctx, 0, 3, io.Discard); err != nil {
		t.Fatalf("ReadTo: %v", err)
	}

	if h.openCalls != 1 {
		t.Errorf("openCalls = %d, want 1", h.openCalls)
	}
	if a.State() != Opened {
		t.Errorf("state = %v, want opened", a.State())
	}
}

func TestAdapterEveryOperationOpens(t *testing.T) {
	ops := map[string]func(context.Context, *Adapter[*fullHandler]) error{
		"write":    func(ctx context.Context, a *Adapter[*fullHandler]) error { return a.Write(ctx, 0, []byte{1}) },
		"read":     func(ctx context.Context, a *Adapter[*fullHandler]) error { _, err := a.Read(ctx, 0, 0); return err },
		"readTo":   func(ctx context.Context, a *Adapter[*fullHandler]) error { return a.ReadTo(ctx, 0, 0, io.Discard) },
		"del":      func(ctx context.Context, a *Adapter[*fullHandler]) error { return a.Del(ctx, 0, 0) },
		"truncate": func(ctx context.Context, a *Adapter[*fullHandler]) error { return a.Truncate(ctx, 0) },
		"len":      func(ctx context.Context, a *Adapter[*fullHandler]) error { _, err := a.Len(ctx); return err },
		"isEmpty":  func(ctx context.Context, a *Adapter[*fullHandler]) error { _, err := a.IsEmpty(ctx); return err },
		"syncAll":  func(ctx context.Context, a *Adapter[*fullHandler]) error { return a.SyncAll(ctx) },
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			h := &fullHandler{}
			a := New(h)
			if err := op(context.Background(), a); err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if h.openCalls != 1 {
				t.Errorf("openCalls = %d, want 1", h.openCalls)
			}
			if !a.Opened() {
				t.Error("adapter should be opened")
			}
		})
	}
}

func TestAdapterOpenFailureRetries(t *testing.T) {
	openErr := errors.New("device not ready")
	h := &fullHandler{countingHandler: countingHandler{failOpens: 2, openErr: openErr}}
	a := New(h)
	ctx := context.Background()

	err := a.Write(ctx, 0, []byte("x"))
	if err == nil {
		t.Fatal("expected open failure")
	}
	if !errors.Is(err, openErr) {
		t.Errorf("error chain should contain the open error, got %v", err)
	}
	if !IsIO(err) {
		t.Errorf("open failure should be an IO error, got %T", err)
	}
	if h.writeCalls != 0 {
		t.Errorf("writeCalls = %d, want 0 after failed open", h.writeCalls)
	}
	if a.Opened() {
		t.Error("adapter must stay unopened after a failed open")
	}

	if _, err := a.Len(ctx); err == nil {
		t.Fatal("expected second open failure")
	}
	if h.openCalls != 2 {
		t.Errorf("openCalls = %d, want 2", h.openCalls)
	}

	if err := a.Write(ctx, 0, []byte("x")); err != nil {
		t.Fatalf("Write after recovery: %v", err)
	}
	if h.openCalls != 3 {
		t.Errorf("openCalls = %d, want 3", h.openCalls)
	}
	if h.writeCalls != 1 {
		t.Errorf("writeCalls = %d, want 1", h.writeCalls)
	}

	if _, err := a.Read(ctx, 0, 1); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if h.openCalls != 3 {
		t.Errorf("openCalls = %d after open succeeded, want 3", h.openCalls)
	}
}

func TestAdapterPreservesTaxonomyErrors(t *testing.T) {
	oob := OutOfLength(7, 3)
	h := &fullHandler{countingHandler: countingHandler{failOpens: 1, openErr: oob}}
	a := New(h)

	err := a.Write(context.Background(), 0, nil)
	if err != oob {
		t.Fatalf("open error = %v, want the handler's error unchanged", err)
	}
}

func TestAdapterReadBoundsNoBackendIO(t *testing.T) {
	h := &fullHandler{}
	a := New(h)
	ctx := context.Background()

	if err := a.Write(ctx, 0, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, err := a.Read(ctx, 0, 6)
	var oob *OutOfBoundsError
	if !errors.As(err, &oob) {
		t.Fatalf("Read past end: got %v, want *OutOfBoundsError", err)
	}
	want := OutOfBoundsError{Offset: 0, End: 6, HasEnd: true, Length: 5}
	if *oob != want {
		t.Errorf("error = %+v, want %+v", *oob, want)
	}
	if h.readCalls != 0 {
		t.Errorf("readCalls = %d, want 0", h.readCalls)
	}
}

func TestAdapterReadToFallback(t *testing.T) {
	h := &countingHandler{}
	a := New(h)
	ctx := context.Background()

	if err := a.Write(ctx, 0, []byte("stream me")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var buf bytes.Buffer
	if err := a.ReadTo(ctx, 7, 2, &buf); err != nil {
		t.Fatalf("ReadTo: %v", err)
	}
	if buf.String() != "me" {
		t.Errorf("ReadTo wrote %q, want %q", buf.String(), "me")
	}
	if h.readCalls != 1 {
		t.Errorf("readCalls = %d, want 1", h.readCalls)
	}

	err := a.ReadTo(ctx, 7, 3, &buf)
	if !IsOutOfBounds(err) {
		t.Errorf("ReadTo past end: got %v, want out of bounds", err)
	}
}

func TestAdapterReadToUsesHandler(t *testing.T) {
	h := &fullHandler{}
	a := New(h)
	ctx := context.Background()

	if err := a.Write(ctx, 0, []byte("direct")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var buf bytes.Buffer
	if err := a.ReadTo(ctx, 0, 6, &buf); err != nil {
		t.Fatalf("ReadTo: %v", err)
	}
	if buf.String() != "direct" {
		t.Errorf("ReadTo wrote %q", buf.String())
	}
	if h.readToCalls != 1 || h.readCalls != 0 {
		t.Errorf("readToCalls=%d readCalls=%d, want 1 and 0", h.readToCalls, h.readCalls)
	}
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return len(p) - 1, nil
}

func TestAdapterReadToShortSink(t *testing.T) {
	a := New(&countingHandler{})
	ctx := context.Background()

	if err := a.Write(ctx, 0, []byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	err := a.ReadTo(ctx, 0, 3, shortWriter{})
	if !errors.Is(err, io.ErrShortWrite) || !IsIO(err) {
		t.Errorf("ReadTo into short sink: got %v, want IO error wrapping io.ErrShortWrite", err)
	}
}

func TestAdapterMissingCapabilities(t *testing.T) {
	a := New(&countingHandler{})
	ctx := context.Background()

	err := a.Truncate(ctx, 4)
	if !errors.Is(err, errors.ErrUnsupported) || !IsIO(err) {
		t.Errorf("Truncate: got %v, want IO error wrapping ErrUnsupported", err)
	}
	if _, err := a.Len(ctx); !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("Len: got %v, want ErrUnsupported", err)
	}
	if _, err := a.IsEmpty(ctx); !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("IsEmpty: got %v, want ErrUnsupported", err)
	}
	if err := a.SyncAll(ctx); err != nil {
		t.Errorf("SyncAll without Syncer: %v", err)
	}
}

// shortHandler returns fewer bytes than requested.
type shortHandler struct{ countingHandler }

func (h *shortHandler) Read(ctx context.Context, offset, length uint64) ([]byte, error) {
	return make([]byte, length/2), nil
}

func TestAdapterRejectsShortRead(t *testing.T) {
	a := New(&shortHandler{})
	_, err := a.Read(context.Background(), 0, 8)
	if !errors.Is(err, io.ErrUnexpectedEOF) || !IsIO(err) {
		t.Errorf("short read: got %v, want IO error wrapping io.ErrUnexpectedEOF", err)
	}
}

func TestAdapterClose(t *testing.T) {
	h := &fullHandler{}
	a := New(h)

	if err := a.Close(); err != nil {
		t.Fatalf("Close unopened: %v", err)
	}
	if h.closeCalls != 0 {
		t.Errorf("closeCalls = %d, want 0 for an unopened adapter", h.closeCalls)
	}

	if err := a.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h.closeCalls != 1 {
		t.Errorf("closeCalls = %d, want 1", h.closeCalls)
	}
	if h.syncCalls != 1 {
		t.Errorf("syncCalls = %d, want 1", h.syncCalls)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Unopened, "unopened"},
		{Opened, "opened"},
		{State(9), "State(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}
