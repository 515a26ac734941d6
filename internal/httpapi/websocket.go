package httpapi

import (
	"errors"
	"net/http"

	"github.com/hibiki-broker/cookiebroker/internal/api"
	"github.com/hibiki-broker/cookiebroker/internal/session"
)

// handleWebSocket backs GET /ws/{id}: the push-channel contract of
// spec.md §4.F. The session must already exist (created via
// POST /create_session); attaching is exclusive per session, rejecting
// a concurrent second attach with Conflict.
//
// Disconnect handling — releaseAccess(id, "disconnected") and
// DetachChannel — is wired through hub.SetOnDisconnect in
// cmd/server/main.go, not here, since it must fire for every
// disconnect path (remote close, write failure, lossless overflow),
// not just the one this handler happens to return from.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.sessions.Get(id); !ok {
		api.NotFound(w, "unknown session")
		return
	}

	if err := s.sessions.AttachChannel(id); err != nil {
		if errors.Is(err, session.ErrChannelInUse) {
			api.Conflict(w, "a channel is already attached to this session")
			return
		}
		api.NotFound(w, "unknown session")
		return
	}

	if err := s.hub.HandleWebSocket(w, r, id); err != nil {
		s.sessions.DetachChannel(id)
		return
	}
}
