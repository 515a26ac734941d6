// Package session implements the Session Registry: the set of
// worker-held sessions that may request access through the
// coordinator and receive pushed notifications over the hub.
//
// Grounded on original_source/remote_browser_server.py's
// ConnectionManager (session bookkeeping, client IP extraction) and
// spec.md §4.B. Session IDs are 128-bit, generated with
// github.com/google/uuid — the same library the teacher uses for
// resource IDs in internal/storage/ds.go.
package session

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiki-broker/cookiebroker/internal/debug"
	"github.com/hibiki-broker/cookiebroker/internal/middleware"
)

// ErrNotFound is returned by operations on an unknown session ID.
var ErrNotFound = errors.New("session not found")

// ErrChannelInUse is returned by AttachChannel when a push channel is
// already attached to the session. A channel must be detached (closed)
// before a new one may attach — attaching is idempotent across time,
// not concurrently.
var ErrChannelInUse = errors.New("channel already attached to session")

// Session is one worker's registered identity. Mutable fields
// (LastSeenAt, attached) are only ever touched through the owning
// Registry, under registryMutex.
type Session struct {
	ID         string
	CreatedAt  time.Time
	RemoteAddr string
	UserAgent  string

	lastSeenAt time.Time
	attached   bool
}

// LastSeenAt returns the last recorded activity time.
func (s *Session) LastSeenAt() time.Time { return s.lastSeenAt }

// Registry tracks every live session. registryMutex is the outermost
// lock in the broker's lock ordering (registryMutex → coordinatorMutex
// → storeMutex → hubMutex) — Registry methods never call into the
// coordinator, store, or hub while holding mu.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	reaperStop chan struct{}
	reaperWG   sync.WaitGroup
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:   make(map[string]*Session),
		reaperStop: make(chan struct{}),
	}
}

// Create registers a new session for the caller of r and returns it.
// The remote address is extracted with the same X-Forwarded-For /
// X-Real-IP / RemoteAddr precedence the teacher's rate limiter uses,
// per spec.md §4.B.
func (reg *Registry) Create(r *http.Request) *Session {
	id := uuid.NewString()
	now := time.Now()
	s := &Session{
		ID:         id,
		CreatedAt:  now,
		lastSeenAt: now,
		RemoteAddr: middleware.ExtractIP(r),
		UserAgent:  r.UserAgent(),
	}

	reg.mu.Lock()
	reg.sessions[id] = s
	reg.mu.Unlock()

	debug.Log("session", "created session=%s remote=%s", id, s.RemoteAddr)
	return s
}

// Get returns the session for id, if any.
func (reg *Registry) Get(id string) (*Session, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	s, ok := reg.sessions[id]
	return s, ok
}

// Touch records activity for id. Returns ErrNotFound if the session
// does not exist.
func (reg *Registry) Touch(id string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	s, ok := reg.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.lastSeenAt = time.Now()
	return nil
}

// AttachChannel marks id as having a live push channel. It is
// idempotent-per-id over time (attach, detach, attach again succeeds)
// but rejects a second concurrent attach with ErrChannelInUse.
func (reg *Registry) AttachChannel(id string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	s, ok := reg.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.attached {
		return ErrChannelInUse
	}
	s.attached = true
	return nil
}

// DetachChannel clears the attached flag for id, if present. It is a
// no-op for an unknown session — detach always succeeds from the
// caller's point of view.
func (reg *Registry) DetachChannel(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if s, ok := reg.sessions[id]; ok {
		s.attached = false
	}
}

// Destroy removes a session entirely.
func (reg *Registry) Destroy(id string) {
	reg.mu.Lock()
	delete(reg.sessions, id)
	reg.mu.Unlock()
	debug.Log("session", "destroyed session=%s", id)
}

// List returns a snapshot of every live session, for the admin
// surface's detailed-clients view.
func (reg *Registry) List() []*Session {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Session, 0, len(reg.sessions))
	for _, s := range reg.sessions {
		out = append(out, s)
	}
	return out
}
