package uid

import (
	"encoding/hex"
	"testing"
)

func TestNewFormat(t *testing.T) {
	id := New()
	if len(id) != 32 {
		t.Fatalf("len(New()) = %d, want 32", len(id))
	}
	if _, err := hex.DecodeString(id); err != nil {
		t.Errorf("New() = %q is not hex: %v", id, err)
	}
}

func TestNewUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate id %q after %d calls", id, i)
		}
		seen[id] = true
	}
}
