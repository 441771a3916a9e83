package randomaccess

import (
	"errors"
	"fmt"
	"syscall"
)

// Sentinels for matching the two error kinds with errors.Is.
var (
	// ErrOutOfBounds matches every *OutOfBoundsError.
	ErrOutOfBounds = errors.New("out of bounds")

	// ErrIO matches every *IOError.
	ErrIO = errors.New("i/o failure")
)

// OutOfBoundsError reports a request whose offset or range exceeds the
// storage's current length or its fixed capacity. It is always detected
// before the backend is touched.
type OutOfBoundsError struct {
	// Offset is the requested start offset (or the requested length for
	// Truncate).
	Offset uint64
	// End is the exclusive end of the requested range. Only meaningful when
	// HasEnd is set.
	End    uint64
	HasEnd bool
	// Length is the current length or the backend capacity the request was
	// checked against.
	Length uint64
}

// Error implements the error interface.
func (e *OutOfBoundsError) Error() string {
	if e.HasEnd {
		return fmt.Sprintf("out of bounds: range %d..%d exceeds length %d", e.Offset, e.End, e.Length)
	}
	return fmt.Sprintf("out of bounds: offset %d exceeds length %d", e.Offset, e.Length)
}

// Is reports whether target is ErrOutOfBounds.
func (e *OutOfBoundsError) Is(target error) bool {
	return target == ErrOutOfBounds
}

// IOError wraps an unrecoverable failure of the underlying storage medium.
type IOError struct {
	// ReturnCode is the platform return code (errno) when one was found in
	// the error chain.
	ReturnCode    int
	HasReturnCode bool
	// Context describes what the backend was doing.
	Context string
	// Err is the source error.
	Err error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	msg := "i/o failure"
	if e.Context != "" {
		msg += ": " + e.Context
	}
	if e.HasReturnCode {
		msg += fmt.Sprintf(" (code %d)", e.ReturnCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the source error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrIO.
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

// OutOfRange builds an OutOfBoundsError for the range [offset, end).
func OutOfRange(offset, end, length uint64) *OutOfBoundsError {
	return &OutOfBoundsError{Offset: offset, End: end, HasEnd: true, Length: length}
}

// OutOfLength builds an OutOfBoundsError for a single offset with no range
// end, as returned by Truncate past a capacity.
func OutOfLength(offset, length uint64) *OutOfBoundsError {
	return &OutOfBoundsError{Offset: offset, Length: length}
}

// WrapIO converts err into the storage error taxonomy. Nil stays nil, errors
// that already are an *OutOfBoundsError or *IOError are returned unchanged,
// and anything else becomes an *IOError carrying context and, when a
// syscall.Errno is present in the chain, its numeric value.
func WrapIO(err error, context string) error {
	if err == nil {
		return nil
	}
	var oob *OutOfBoundsError
	if errors.As(err, &oob) {
		return err
	}
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return err
	}
	e := &IOError{Context: context, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.ReturnCode = int(errno)
		e.HasReturnCode = true
	}
	return e
}

// WrapIOf is WrapIO with a formatted context string.
func WrapIOf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return WrapIO(err, fmt.Sprintf(format, args...))
}

// IsOutOfBounds reports whether err is, or wraps, an *OutOfBoundsError.
func IsOutOfBounds(err error) bool {
	return errors.Is(err, ErrOutOfBounds)
}

// IsIO reports whether err is, or wraps, an *IOError.
func IsIO(err error) bool {
	return errors.Is(err, ErrIO)
}
