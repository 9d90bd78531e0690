package sessionid

import (
	"strings"
	"testing"
)

func TestNewLengthAndAlphabet(t *testing.T) {
	for i := 0; i < 100; i++ {
		id, err := New()
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if len(id) != Length {
			t.Fatalf("len(%q) = %d, want %d", id, len(id), Length)
		}
		if strings.ToLower(id) != id {
			t.Fatalf("%q is not lowercase", id)
		}
		for _, r := range id {
			if !strings.ContainsRune("0123456789abcdef", r) {
				t.Fatalf("%q contains non-hex rune %q", id, r)
			}
		}
	}
}

func TestNewIsNotConstant(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		id, err := New()
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("minted duplicate id %q within 50 draws", id)
		}
		seen[id] = struct{}{}
	}
}
