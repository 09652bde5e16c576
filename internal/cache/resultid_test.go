package cache

import (
	"strings"
	"testing"
)

func TestCanonicalize_StableKeyOrdering(t *testing.T) {
	a := Canonicalize(map[string]any{"studyDbId": "1", "locationDbId": "80", "active": true})
	b := Canonicalize(map[string]any{"active": true, "locationDbId": "80", "studyDbId": "1"})

	if a != b {
		t.Errorf("canonicalization differs for equal params:\n%s\n%s", a, b)
	}
}

func TestCanonicalize_NestedMaps(t *testing.T) {
	a := Canonicalize(map[string]any{"filter": map[string]any{"x": 1, "y": 2}})
	b := Canonicalize(map[string]any{"filter": map[string]any{"y": 2, "x": 1}})

	if a != b {
		t.Error("nested map key order must not affect canonicalization")
	}
}

func TestCanonicalize_Empty(t *testing.T) {
	if got := Canonicalize(nil); got != "{}" {
		t.Errorf("Canonicalize(nil) = %q, want {}", got)
	}
}

func TestResultID_Deterministic(t *testing.T) {
	params := map[string]any{"studyTypes": []string{"Trial"}, "page": 0}

	first := ResultID("studies", params)
	second := ResultID("studies", params)
	if first != second {
		t.Errorf("identical queries must map to the same slot: %q vs %q", first, second)
	}

	other := ResultID("studies", map[string]any{"studyTypes": []string{"Nursery"}})
	if other == first {
		t.Error("different params should map to different slots")
	}
}

func TestResultID_Shape(t *testing.T) {
	id := ResultID("search/studies", map[string]any{"q": 1})

	// sanitizeService turns "search/studies" into "search_studies", so the
	// last underscore separates the hash.
	idx := strings.LastIndex(id, "_")
	if idx < 0 {
		t.Fatalf("result id %q has no hash separator", id)
	}
	prefix, hash := id[:idx], id[idx+1:]

	if prefix != "search_studies" {
		t.Errorf("prefix = %q, want search_studies", prefix)
	}
	if len(hash) != resultIDHashLen {
		t.Errorf("hash length = %d, want %d", len(hash), resultIDHashLen)
	}
}

func TestSanitizeService(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"studies", "studies"},
		{"search/studies", "search_studies"},
		{"/studies/", "studies"},
		{"variantsets/vs1/calls", "variantsets_vs1_calls"},
		{"", "result"},
	}

	for _, tt := range tests {
		if got := sanitizeService(tt.in); got != tt.want {
			t.Errorf("sanitizeService(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
