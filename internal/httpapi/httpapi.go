// Package httpapi implements the External Interface Layer: the
// request/response endpoints and the push-channel upgrade that
// translate wire calls into calls on the Session Registry, Access
// Coordinator, Credential Store, and Notification Hub.
//
// Grounded on spec.md §4.F/§6 for the contract and on the teacher's
// cmd/server/main.go for how routes are registered: a stdlib
// http.ServeMux with Go 1.22+ method-and-pattern strings
// ("POST /access/release/{id}"), not a third-party router — the
// example pack's only router-like dependencies (goflash) are a web
// framework, not a bare mux, and pulling one in to replace three
// lines of stdlib routing isn't a trade worth making.
package httpapi

import (
	"net/http"

	"github.com/hibiki-broker/cookiebroker/internal/access"
	"github.com/hibiki-broker/cookiebroker/internal/adminkey"
	"github.com/hibiki-broker/cookiebroker/internal/api"
	"github.com/hibiki-broker/cookiebroker/internal/config"
	"github.com/hibiki-broker/cookiebroker/internal/cookie"
	"github.com/hibiki-broker/cookiebroker/internal/hub"
	"github.com/hibiki-broker/cookiebroker/internal/session"
)

// Server holds every dependency the public handlers need.
type Server struct {
	store       *cookie.Store
	coordinator *access.Coordinator
	sessions    *session.Registry
	hub         *hub.Hub
	settings    *config.SettingsStore
	adminKey    *adminkey.Manager
}

// NewServer builds the external interface layer.
func NewServer(store *cookie.Store, coordinator *access.Coordinator, sessions *session.Registry, h *hub.Hub, settings *config.SettingsStore, key *adminkey.Manager) *Server {
	return &Server{
		store:       store,
		coordinator: coordinator,
		sessions:    sessions,
		hub:         h,
		settings:    settings,
		adminKey:    key,
	}
}

// Routes returns the public handler tree. cmd/server/main.go mounts
// it at the root and mounts internal/admin.Server's routes under
// /admin/ separately, since the admin tree carries its own auth
// middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /create_session", s.handleCreateSession)
	mux.HandleFunc("POST /access/request", s.handleAccessRequest)
	mux.HandleFunc("POST /access/release/{id}", s.handleAccessRelease)
	mux.HandleFunc("POST /access/heartbeat/{id}", s.handleAccessHeartbeat)
	mux.HandleFunc("GET /access/status", s.handleAccessStatus)
	mux.HandleFunc("GET /domains", s.handleDomains)
	mux.HandleFunc("POST /cookies/domains", s.handleCookiesForDomains)
	mux.HandleFunc("GET /cookies", s.handleCookies)
	mux.HandleFunc("GET /ws/{id}", s.handleWebSocket)

	return mux
}

// AdminKeyBootstrap backs GET /admin/key. Exported and registered
// directly by cmd/server/main.go on the root mux, rather than inside
// Routes()'s tree, because /admin/key must NOT fall under the
// AdminAuth-gated "/admin/" prefix that internal/admin.Server.Routes
// is mounted at — it is the bootstrap endpoint that hands the key
// out in the first place.
func (s *Server) AdminKeyBootstrap(w http.ResponseWriter, r *http.Request) {
	s.handleAdminKeyBootstrap(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.Raw(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// handleAdminKeyBootstrap backs GET /admin/key: a bootstrap
// convenience, opt-in behind ExposeAdminKeyEndpoint per spec.md's
// Open Question #3. Disabled by default.
func (s *Server) handleAdminKeyBootstrap(w http.ResponseWriter, r *http.Request) {
	if !s.settings.Current().ExposeAdminKeyEndpoint {
		http.NotFound(w, r)
		return
	}
	api.Raw(w, http.StatusOK, map[string]interface{}{"admin_key": s.adminKey.Current()})
}
