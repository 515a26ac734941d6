package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hibiki-broker/cookiebroker/internal/api"
	"github.com/hibiki-broker/cookiebroker/internal/cookie"
	"github.com/hibiki-broker/cookiebroker/internal/debug"
	"github.com/hibiki-broker/cookiebroker/internal/hub"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		api.MalformedInput(w, "invalid JSON body", map[string]interface{}{"error": err.Error()})
		return false
	}
	return true
}

// handleImport backs POST /admin/cookies and /admin/cookies/import:
// import-cookies(forceReplace) from spec.md §4.E.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if details := api.ValidateStruct(req); details != nil {
		api.MalformedInput(w, "invalid cookie payload", details)
		return
	}

	var count int
	var err error
	if req.ForceReplace {
		count, err = s.store.AdminReplace(req.Cookies, req.LoggedIn)
	} else {
		count, err = s.store.AdminMerge(req.Cookies)
	}
	if err != nil {
		api.MalformedInput(w, err.Error(), nil)
		return
	}

	// A newly imported domain may unblock a queued request that was
	// waiting on it, per spec.md §8 scenario 4 — re-run promotion now
	// rather than waiting for the next release/ceiling change.
	s.coordinator.PromoteQueued()

	all, loggedIn, lastUpdated := s.store.GetAll()
	s.broadcastCookiesUpdated(len(all), loggedIn)
	api.Raw(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"count":        count,
		"total_count":  len(all),
		"logged_in":    loggedIn,
		"last_updated": lastUpdated,
	})
}

// handleClear backs DELETE /admin/cookies: adminClear.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.store.AdminClear()
	s.hub.BroadcastAll(hub.Message{Type: hub.CookiesCleared})
	api.Raw(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleDeleteByKey backs POST /admin/cookies/delete: adminDelete.
func (s *Server) handleDeleteByKey(w http.ResponseWriter, r *http.Request) {
	var req DeleteKeysRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if details := api.ValidateStruct(req); details != nil {
		api.MalformedInput(w, "no keys given to delete", details)
		return
	}

	keys := make([]cookie.Key, len(req.Keys))
	for i, k := range req.Keys {
		keys[i] = k.toKey()
	}
	deleted, remaining := s.store.AdminDelete(keys)
	s.hub.BroadcastAll(hub.Message{Type: hub.CookiesDeleted, DeletedCount: deleted, RemainingCount: remaining})
	api.Raw(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"deleted_count":  deleted,
		"remaining_count": remaining,
	})
}

// notificationTypeFor mirrors _get_notification_type in
// original_source/server_api_extensions.py.
func notificationTypeFor(strategy ImportStrategy) hub.MessageType {
	switch {
	case strategy.Sharing == "none":
		return hub.CookiesPrivateUpdate
	case strategy.Security == "highest":
		return hub.CookiesSecureUpdate
	case strategy.Sharing == "high":
		return hub.CookiesSharedUpdate
	default:
		return hub.CookiesUpdated
	}
}

// handleSmartImport backs POST /admin/cookies/smart-import: the
// pre-grouped-by-domain merge plus advisory strategy handling of
// spec.md §4.E's "smart import" variant.
func (s *Server) handleSmartImport(w http.ResponseWriter, r *http.Request) {
	var req SmartImportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if details := api.ValidateStruct(req); details != nil {
		api.MalformedInput(w, "invalid smart-import payload", details)
		return
	}

	var flat []cookie.Cookie
	domainCounts := make(map[string]int, len(req.CookiesByDomain))
	for domain, cookies := range req.CookiesByDomain {
		domainCounts[domain] = len(cookies)
		for _, c := range cookies {
			if c.Domain == "" {
				c.Domain = domain
			}
			flat = append(flat, c)
		}
	}
	if len(flat) == 0 {
		api.MalformedInput(w, "no cookies in cookies_by_domain", nil)
		return
	}

	newCount, err := s.store.AdminMerge(flat)
	if err != nil {
		api.MalformedInput(w, err.Error(), nil)
		return
	}

	audit := SmartImportAudit{
		At:                 time.Now(),
		StrategyName:       req.Strategy.Name,
		Sharing:            req.Strategy.Sharing,
		Security:           req.Strategy.Security,
		DomainCookieCounts: domainCounts,
		NewCookies:         newCount,
	}

	settings := s.settings.Current()
	if settings.SmartImportAdjustsMaxClients {
		_, _, maxConcurrent := s.coordinator.Status()
		adjusted := maxConcurrent
		switch req.Strategy.Sharing {
		case "high":
			adjusted = maxConcurrent + 1
			if adjusted > 5 {
				adjusted = 5
			}
		case "none":
			adjusted = 1
		}
		if adjusted != maxConcurrent {
			s.coordinator.SetMaxConcurrent(adjusted)
			if err := s.settings.SetMaxConcurrentClients(adjusted); err != nil {
				debug.Warn("admin", "failed to persist smart-import max_clients=%d: %v", adjusted, err)
			}
			audit.MaxClientsAdjusted = adjusted
			debug.Log("admin", "smart-import strategy=%s adjusted max_clients %d -> %d", req.Strategy.Name, maxConcurrent, adjusted)
		}
	}
	s.audit.record(audit)

	// Same reasoning as handleImport: newly imported domains may fit a
	// queued request now.
	s.coordinator.PromoteQueued()

	all, loggedIn, lastUpdated := s.store.GetAll()
	if settings.SmartImportAdjustsMaxClients && req.Strategy.Sharing != "none" {
		s.hub.BroadcastAll(hub.Message{Type: notificationTypeFor(req.Strategy), Count: len(all), LoggedIn: loggedIn})
	} else if !settings.SmartImportAdjustsMaxClients {
		s.broadcastCookiesUpdated(len(all), loggedIn)
	}

	api.Raw(w, http.StatusOK, map[string]interface{}{
		"success":            true,
		"new_cookies":        newCount,
		"total_cookies":      len(all),
		"domains_count":      len(req.CookiesByDomain),
		"cookies_by_domain":  domainCounts,
		"logged_in":          loggedIn,
		"last_updated":       lastUpdated,
		"max_clients_adjusted": audit.MaxClientsAdjusted,
		"analysis":           req.Analysis,
	})
}

func (s *Server) broadcastCookiesUpdated(count int, loggedIn bool) {
	s.hub.BroadcastAll(hub.Message{Type: hub.CookiesUpdated, Count: count, LoggedIn: loggedIn})
}

// handleServerInfo backs GET /admin/server/info: get-server-info plus
// the supplemented smart-import audit trail.
func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	active, queue, maxConcurrent := s.coordinator.Status()
	all, loggedIn, lastUpdated := s.store.GetAll()
	settings := s.settings.Current()

	api.Raw(w, http.StatusOK, map[string]interface{}{
		"max_concurrent_clients":     maxConcurrent,
		"heartbeat_interval_seconds": settings.HeartbeatIntervalSeconds,
		"max_inactive_minutes":       settings.MaxInactiveMinutes,
		"active_count":               len(active),
		"queue_length":               len(queue),
		"cookie_count":               len(all),
		"logged_in":                  loggedIn,
		"last_updated":               lastUpdated,
		"uptime_seconds":             int(time.Since(s.startedAt).Seconds()),
		"smart_import_audit":         s.audit.recent(),
	})
}

// handleSetMaxClients backs POST /admin/server/config/max-clients:
// setMaxConcurrent, range-validated to 1..10 per spec.md §7.
func (s *Server) handleSetMaxClients(w http.ResponseWriter, r *http.Request) {
	var req MaxClientsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if details := api.ValidateStruct(req); details != nil {
		api.MalformedInput(w, "max_clients must be between 1 and 10", details)
		return
	}

	promoted := s.coordinator.SetMaxConcurrent(req.MaxClients)
	if err := s.settings.SetMaxConcurrentClients(req.MaxClients); err != nil {
		debug.Warn("admin", "failed to persist max_clients=%d: %v", req.MaxClients, err)
	}
	api.Raw(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"max_clients": req.MaxClients,
		"promoted":    promoted,
	})
}

// handleKick backs POST /admin/clients/{id}/kick.
func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req KickRequest
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "kicked_by_admin"
	}

	result := s.coordinator.Kick(id, req.Reason)
	if !result.Released {
		s.coordinator.RemoveFromQueue(id)
	}
	api.Raw(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"released": result.Released,
		"promoted": result.Promoted,
	})
}

// handlePriority backs POST /admin/clients/{id}/priority:
// update_client_priority in server_api_extensions.py.
func (s *Server) handlePriority(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req PriorityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.coordinator.SetPriority(id, req.Priority) {
		api.NotFound(w, "session is not currently queued")
		return
	}
	api.Raw(w, http.StatusOK, map[string]interface{}{"success": true})
}

// clientDetail is one row of GET /admin/clients/detailed: the
// coordinator's state joined with the session registry's connection
// metadata, per spec.md §4.E.
type clientDetail struct {
	SessionID        string   `json:"session_id"`
	RemoteAddr       string   `json:"remote_addr"`
	ConnectedAt      time.Time `json:"connected_at"`
	Status           string   `json:"status"` // "active" | "queued"
	AllocatedDomains []string `json:"allocated_domains,omitempty"`
	RequestedDomains []string `json:"requested_domains,omitempty"`
	Position         int      `json:"position,omitempty"`
	Priority         int      `json:"priority,omitempty"`
	GrantedAt        *time.Time `json:"granted_at,omitempty"`
	EnqueuedAt       *time.Time `json:"enqueued_at,omitempty"`
	UsageMinutes     float64  `json:"usage_minutes,omitempty"`
	WaitMinutes      float64  `json:"wait_minutes,omitempty"`
}

// handleDetailedClients backs GET /admin/clients/detailed:
// get_detailed_clients in server_api_extensions.py.
func (s *Server) handleDetailedClients(w http.ResponseWriter, r *http.Request) {
	active, queue, _ := s.coordinator.Status()
	now := time.Now()

	details := make([]clientDetail, 0, len(active)+len(queue))
	for _, rec := range active {
		d := clientDetail{
			SessionID:        rec.SessionID,
			Status:           "active",
			AllocatedDomains: rec.AllocatedDomains,
			GrantedAt:        &rec.GrantedAt,
			UsageMinutes:     now.Sub(rec.GrantedAt).Minutes(),
		}
		if sess, ok := s.sessions.Get(rec.SessionID); ok {
			d.RemoteAddr = sess.RemoteAddr
			d.ConnectedAt = sess.CreatedAt
		}
		details = append(details, d)
	}
	for _, e := range queue {
		d := clientDetail{
			SessionID:        e.SessionID,
			Status:           "queued",
			RequestedDomains: e.RequestedDomains,
			Position:         e.Position,
			Priority:         e.Priority,
			EnqueuedAt:       &e.EnqueuedAt,
			WaitMinutes:      now.Sub(e.EnqueuedAt).Minutes(),
		}
		if sess, ok := s.sessions.Get(e.SessionID); ok {
			d.RemoteAddr = sess.RemoteAddr
			d.ConnectedAt = sess.CreatedAt
		}
		details = append(details, d)
	}

	api.Raw(w, http.StatusOK, map[string]interface{}{"clients": details})
}
