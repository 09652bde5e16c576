// Package session maps an agent's conversational session to a durable
// result cache. Sessions are created lazily on first use, recorded in a
// registry file, and survive process restarts: a returning session
// reattaches to its prior results.
package session

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cropbase/brapi-mcp/internal/cache"
)

const registryFileName = "sessions.json"

// shortIDLen is the length of generated session ids.
const shortIDLen = 8

// Info is one registry entry.
type Info struct {
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	CacheDir     string    `json:"cache_dir"`
}

// Manager owns the session registry and lazily instantiates one result
// cache per session id. Cache instances live for the process lifetime; the
// underlying directories and metadata persist across restarts.
type Manager struct {
	baseDir string

	mu       sync.Mutex
	registry map[string]*Info
	caches   map[string]*cache.Cache
}

// New opens (or creates) the session registry under baseDir.
func New(baseDir string) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}

	m := &Manager{
		baseDir:  baseDir,
		registry: make(map[string]*Info),
		caches:   make(map[string]*cache.Cache),
	}

	data, err := os.ReadFile(filepath.Join(baseDir, registryFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &m.registry); err != nil {
		return nil, err
	}
	return m, nil
}

// GetOrCreate resolves a session and returns its cache. Resolution order:
// explicit id parameter, then ambient context-supplied id, then a freshly
// generated short random id. Every resolution updates the session's
// lastAccessed timestamp in the registry.
func (m *Manager) GetOrCreate(explicitID, ambientID string) (*cache.Cache, string, error) {
	id := strings.TrimSpace(explicitID)
	if id == "" {
		id = strings.TrimSpace(ambientID)
	}
	if id == "" {
		id = newSessionID()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	info, ok := m.registry[id]
	if !ok {
		info = &Info{
			CreatedAt:    now,
			LastAccessed: now,
			CacheDir:     filepath.Join(m.baseDir, id),
		}
		m.registry[id] = info
	} else {
		info.LastAccessed = now
	}
	if err := m.persistRegistryLocked(); err != nil {
		return nil, "", err
	}

	c, ok := m.caches[id]
	if !ok {
		var err error
		c, err = cache.New(info.CacheDir)
		if err != nil {
			return nil, "", err
		}
		m.caches[id] = c
	}
	return c, id, nil
}

// Get returns the session's registry entry without touching lastAccessed.
func (m *Manager) Get(sessionID string) (*Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.registry[sessionID]
	return info, ok
}

// Cache returns the session's result cache without creating the session.
// Unknown ids report false; known sessions get their cache opened lazily,
// the same instance GetOrCreate would hand out.
func (m *Manager) Cache(sessionID string) (*cache.Cache, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.registry[sessionID]
	if !ok {
		return nil, false
	}
	c, ok := m.caches[sessionID]
	if !ok {
		var err error
		c, err = cache.New(info.CacheDir)
		if err != nil {
			return nil, false
		}
		m.caches[sessionID] = c
	}
	return c, true
}

// Exists reports whether a session id is registered.
func (m *Manager) Exists(sessionID string) bool {
	_, ok := m.Get(sessionID)
	return ok
}

// List returns all session ids with their registry entries, most recently
// accessed first.
func (m *Manager) List() []ListedSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions := make([]ListedSession, 0, len(m.registry))
	for id, info := range m.registry {
		sessions = append(sessions, ListedSession{ID: id, Info: *info})
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastAccessed.After(sessions[j].LastAccessed)
	})
	return sessions
}

// ListedSession pairs a session id with its registry entry.
type ListedSession struct {
	ID string `json:"session_id"`
	Info
}

// persistRegistryLocked atomically rewrites the registry file. Callers must
// hold m.mu.
func (m *Manager) persistRegistryLocked() error {
	data, err := json.MarshalIndent(m.registry, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(m.baseDir, registryFileName+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(m.baseDir, registryFileName))
}

// newSessionID generates a short random session id: the entropy tail of a
// ULID, lowercased. The leading ULID characters are timestamp bits and
// would collide for ids minted in the same instant.
func newSessionID() string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	s := strings.ToLower(id.String())
	return s[len(s)-shortIDLen:]
}
