package session

import (
	"log/slog"
	"os"
	"time"
)

// Sweep removes sessions whose lastAccessed timestamp is older than maxAge,
// deleting each session's cache directory and registry entry. Sweeping is
// the only path that deletes sessions; nothing expires them implicitly.
// Returns the ids of the removed sessions.
func (m *Manager) Sweep(maxAge time.Duration, log *slog.Logger) ([]string, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for id, info := range m.registry {
		if !info.LastAccessed.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(info.CacheDir); err != nil {
			if log != nil {
				log.Warn("failed to remove session cache dir", "session", id, "error", err)
			}
			continue
		}
		delete(m.registry, id)
		delete(m.caches, id)
		removed = append(removed, id)
	}

	if len(removed) == 0 {
		return nil, nil
	}
	if err := m.persistRegistryLocked(); err != nil {
		return removed, err
	}
	if log != nil {
		log.Info("session sweep complete", "removed", len(removed), "max_age", maxAge)
	}
	return removed, nil
}
