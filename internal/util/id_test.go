package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("tab")
	if !strings.HasPrefix(id, "tab_") {
		t.Fatalf("expected tab_ prefix, got %q", id)
	}
	if len(id) != len("tab_")+32 {
		t.Fatalf("unexpected id length %d for %q", len(id), id)
	}
	if strings.Contains(id, "-") {
		t.Fatalf("id must be safe for search index keys, got %q", id)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := NewID("")
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
