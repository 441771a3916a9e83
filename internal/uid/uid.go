// Package uid provides unique identifier generation for rastore.
package uid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a 32-character lowercase hex identifier built from a random
// UUID. It is used for temp file names and log correlation.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
