// Package adminkey generates and persists the broker's single shared
// admin secret, compared by internal/middleware.AdminAuth.
//
// Grounded on ServerState._load_or_create_admin_key in
// original_source/remote_browser_server.py, which generates the key
// with Python's secrets.token_urlsafe(32) on first run and persists it
// to disk; crypto/rand is the direct Go analogue of secrets, and no
// pack library offers a more idiomatic way to generate or compare a
// random shared secret than the standard library already does.
package adminkey

import (
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hibiki-broker/cookiebroker/internal/debug"
)

const keyFile = "admin_key.txt"

// keyBytes is 32 random bytes (256 bits) before base64 encoding,
// matching token_urlsafe(32)'s entropy.
const keyBytes = 32

// Manager holds the current admin key in memory and persists it to
// disk. Safe for concurrent use; AdminAuth calls Current() on every
// request.
type Manager struct {
	mu   sync.RWMutex
	path string
	key  string
}

// Load reads dataDir/admin_key.txt, generating and persisting a new
// key if none exists yet.
func Load(dataDir string) (*Manager, error) {
	m := &Manager{path: filepath.Join(dataDir, keyFile)}

	data, err := os.ReadFile(m.path)
	if err == nil {
		m.key = strings.TrimSpace(string(data))
		debug.Log("admin", "loaded admin key from disk")
		return m, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key, genErr := generate()
	if genErr != nil {
		return nil, genErr
	}
	m.key = key
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(m.path, []byte(key), 0o600); err != nil {
		return nil, err
	}
	debug.Log("admin", "generated new admin key")
	return m, nil
}

func generate() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Current returns the active admin key.
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key
}

// Regenerate replaces the admin key with a freshly generated one and
// persists it, invalidating the previous value immediately.
func (m *Manager) Regenerate() (string, error) {
	key, err := generate()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.key = key
	m.mu.Unlock()

	if err := os.WriteFile(m.path, []byte(key), 0o600); err != nil {
		return "", err
	}
	debug.Log("admin", "admin key regenerated")
	return key, nil
}
