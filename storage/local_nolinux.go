//go:build !linux

package storage

import (
	"errors"
	"os"
)

func punchHole(f *os.File, offset, length int64) error {
	return errors.ErrUnsupported
}
