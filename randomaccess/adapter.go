package randomaccess

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// State is the open-state of an Adapter.
type State int

const (
	// Unopened is the initial state: the handler has not been initialized.
	Unopened State = iota
	// Opened means the handler's Open succeeded. It is never left.
	Opened
)

func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case Opened:
		return "opened"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Adapter wraps a Handler and exposes it as a Storage. The handler is
// opened on the first operation; a failed open leaves the adapter Unopened
// so the next operation tries again.
//
// An Adapter holds no lock. Callers serialize access.
type Adapter[H Handler] struct {
	handler H
	state   State
}

// New wraps h in an Unopened adapter.
func New[H Handler](h H) *Adapter[H] {
	return &Adapter[H]{handler: h}
}

// Handler returns the wrapped handler.
func (a *Adapter[H]) Handler() H {
	return a.handler
}

// State returns the current open-state.
func (a *Adapter[H]) State() State {
	return a.state
}

// Opened reports whether the handler has been opened.
func (a *Adapter[H]) Opened() bool {
	return a.state == Opened
}

// ensureOpen performs the Unopened -> Opened transition.
func (a *Adapter[H]) ensureOpen(ctx context.Context) error {
	if a.state == Opened {
		return nil
	}
	if err := a.handler.Open(ctx); err != nil {
		return WrapIO(err, "open")
	}
	a.state = Opened
	return nil
}

// Write implements Storage.
func (a *Adapter[H]) Write(ctx context.Context, offset uint64, data []byte) error {
	if err := a.ensureOpen(ctx); err != nil {
		return err
	}
	return WrapIOf(a.handler.Write(ctx, offset, data), "write at %d", offset)
}

// Read implements Storage.
func (a *Adapter[H]) Read(ctx context.Context, offset, length uint64) ([]byte, error) {
	if err := a.ensureOpen(ctx); err != nil {
		return nil, err
	}
	buf, err := a.handler.Read(ctx, offset, length)
	if err != nil {
		return nil, WrapIOf(err, "read %d bytes at %d", length, offset)
	}
	if uint64(len(buf)) != length {
		return nil, &IOError{
			Context: fmt.Sprintf("read %d bytes at %d", length, offset),
			Err:     io.ErrUnexpectedEOF,
		}
	}
	return buf, nil
}

// ReadTo implements Storage. Handlers without a streaming primitive are
// served by Read followed by a single write to w.
func (a *Adapter[H]) ReadTo(ctx context.Context, offset, length uint64, w io.Writer) error {
	if err := a.ensureOpen(ctx); err != nil {
		return err
	}
	if rt, ok := any(a.handler).(ReaderTo); ok {
		return WrapIOf(rt.ReadTo(ctx, offset, length, w), "read %d bytes at %d", length, offset)
	}
	buf, err := a.Read(ctx, offset, length)
	if err != nil {
		return err
	}
	n, err := w.Write(buf)
	if err == nil && n != len(buf) {
		err = io.ErrShortWrite
	}
	return WrapIO(err, "writing to sink")
}

// Del implements Storage.
func (a *Adapter[H]) Del(ctx context.Context, offset, length uint64) error {
	if err := a.ensureOpen(ctx); err != nil {
		return err
	}
	return WrapIOf(a.handler.Del(ctx, offset, length), "del %d bytes at %d", length, offset)
}

// Truncate implements Storage.
func (a *Adapter[H]) Truncate(ctx context.Context, length uint64) error {
	if err := a.ensureOpen(ctx); err != nil {
		return err
	}
	t, ok := any(a.handler).(Truncater)
	if !ok {
		return &IOError{Context: "truncate", Err: errors.ErrUnsupported}
	}
	return WrapIOf(t.Truncate(ctx, length), "truncate to %d", length)
}

// Len implements Storage.
func (a *Adapter[H]) Len(ctx context.Context) (uint64, error) {
	if err := a.ensureOpen(ctx); err != nil {
		return 0, err
	}
	l, ok := any(a.handler).(Lengther)
	if !ok {
		return 0, &IOError{Context: "len", Err: errors.ErrUnsupported}
	}
	n, err := l.Len(ctx)
	if err != nil {
		return 0, WrapIO(err, "len")
	}
	return n, nil
}

// IsEmpty implements Storage. Handlers without a dedicated check fall back
// to Len.
func (a *Adapter[H]) IsEmpty(ctx context.Context) (bool, error) {
	if err := a.ensureOpen(ctx); err != nil {
		return false, err
	}
	if ec, ok := any(a.handler).(EmptyChecker); ok {
		empty, err := ec.IsEmpty(ctx)
		if err != nil {
			return false, WrapIO(err, "is empty")
		}
		return empty, nil
	}
	n, err := a.Len(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// SyncAll implements Storage. Handlers that do not buffer have nothing to
// flush.
func (a *Adapter[H]) SyncAll(ctx context.Context) error {
	if err := a.ensureOpen(ctx); err != nil {
		return err
	}
	if s, ok := any(a.handler).(Syncer); ok {
		return WrapIO(s.SyncAll(ctx), "sync")
	}
	return nil
}

// Close releases the handler if it was opened and implements io.Closer.
func (a *Adapter[H]) Close() error {
	if a.state != Opened {
		return nil
	}
	if c, ok := any(a.handler).(io.Closer); ok {
		return WrapIO(c.Close(), "close")
	}
	return nil
}

var _ Storage = (*Adapter[Handler])(nil)
