package session

import (
	"os"
	"testing"
	"time"

	"github.com/cropbase/brapi-mcp/internal/brapi"
	"github.com/cropbase/brapi-mcp/internal/cache"
)

func TestSweep_RemovesStaleSessions(t *testing.T) {
	baseDir := t.TempDir()
	m, err := New(baseDir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	c, _, err := m.GetOrCreate("stale", "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if _, err := c.Save("r_1", "stale", []brapi.Record{{"a": "1"}}, nil, cache.FormatJSONL); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	staleDir := c.Dir()

	if _, _, err := m.GetOrCreate("fresh", ""); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	// Age the stale session's registry entry directly.
	m.mu.Lock()
	m.registry["stale"].LastAccessed = time.Now().UTC().Add(-40 * 24 * time.Hour)
	m.mu.Unlock()

	removed, err := m.Sweep(30*24*time.Hour, nil)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(removed) != 1 || removed[0] != "stale" {
		t.Fatalf("removed = %v, want [stale]", removed)
	}

	if m.Exists("stale") {
		t.Error("stale session should be deregistered")
	}
	if !m.Exists("fresh") {
		t.Error("fresh session must survive the sweep")
	}
	if _, err := os.Stat(staleDir); !os.IsNotExist(err) {
		t.Error("stale session cache directory should be deleted")
	}

	// The deletion persists across restart.
	restarted, err := New(baseDir)
	if err != nil {
		t.Fatalf("New(restart) error = %v", err)
	}
	if restarted.Exists("stale") {
		t.Error("sweep result should be durable")
	}
}

func TestSweep_NothingToRemove(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, _, err := m.GetOrCreate("active", ""); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	removed, err := m.Sweep(time.Hour, nil)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != nil {
		t.Errorf("removed = %v, want nil", removed)
	}
}
