// Package admin implements the Admin Surface: the adminKey-gated
// mutation API over the credential store and the access coordinator.
//
// Grounded on ServerManager in
// original_source/server_api_extensions.py (import_cookies,
// smart_import_cookies, delete_selected_cookies, kick_client,
// update_client_priority, update_max_clients, get_detailed_clients)
// and spec.md §4.E. Route registration follows the teacher's
// cmd/server/main.go convention of method-and-pattern strings on a
// stdlib http.ServeMux (e.g. "DELETE /api/redirects/{id}").
package admin

import (
	"net/http"
	"time"

	"github.com/hibiki-broker/cookiebroker/internal/access"
	"github.com/hibiki-broker/cookiebroker/internal/adminkey"
	"github.com/hibiki-broker/cookiebroker/internal/config"
	"github.com/hibiki-broker/cookiebroker/internal/cookie"
	"github.com/hibiki-broker/cookiebroker/internal/hub"
	"github.com/hibiki-broker/cookiebroker/internal/middleware"
	"github.com/hibiki-broker/cookiebroker/internal/session"
)

// Server holds every dependency the admin handlers need. All fields
// are shared with internal/httpapi's Server — admin is a privileged
// view over the same core singletons, not a separate subsystem.
type Server struct {
	store       *cookie.Store
	coordinator *access.Coordinator
	sessions    *session.Registry
	hub         *hub.Hub
	settings    *config.SettingsStore
	adminKey    *adminkey.Manager
	startedAt   time.Time
	audit       *auditRing
}

// NewServer builds the admin surface. startedAt feeds uptime into
// get-server-info.
func NewServer(store *cookie.Store, coordinator *access.Coordinator, sessions *session.Registry, h *hub.Hub, settings *config.SettingsStore, key *adminkey.Manager, startedAt time.Time) *Server {
	return &Server{
		store:       store,
		coordinator: coordinator,
		sessions:    sessions,
		hub:         h,
		settings:    settings,
		adminKey:    key,
		startedAt:   startedAt,
		audit:       newAuditRing(),
	}
}

// Routes returns the admin surface's handler tree, already wrapped in
// middleware.AdminAuth. Mount it under /admin/ in cmd/server/main.go.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /cookies", s.handleImport)
	mux.HandleFunc("POST /cookies/import", s.handleImport) // alias, matches spec.md §6's two listed paths
	mux.HandleFunc("DELETE /cookies", s.handleClear)
	mux.HandleFunc("POST /cookies/delete", s.handleDeleteByKey)
	mux.HandleFunc("POST /cookies/smart-import", s.handleSmartImport)

	mux.HandleFunc("GET /server/info", s.handleServerInfo)
	mux.HandleFunc("POST /server/config/max-clients", s.handleSetMaxClients)

	mux.HandleFunc("POST /clients/{id}/kick", s.handleKick)
	mux.HandleFunc("POST /clients/{id}/priority", s.handlePriority)
	mux.HandleFunc("GET /clients/detailed", s.handleDetailedClients)

	return middleware.AdminAuth(s.adminKey.Current)(mux)
}
