package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/hibiki-broker/cookiebroker/internal/api"
	"github.com/hibiki-broker/cookiebroker/internal/cookie"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		api.MalformedInput(w, "invalid JSON body", map[string]interface{}{"error": err.Error()})
		return false
	}
	return true
}

// handleCreateSession backs POST /create_session: Registry.Create.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create(r)
	api.Raw(w, http.StatusCreated, map[string]interface{}{"session_id": sess.ID})
}

// handleAccessRequest backs POST /access/request: Coordinator.RequestAccess.
func (s *Server) handleAccessRequest(w http.ResponseWriter, r *http.Request) {
	var req AccessRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if details := api.ValidateStruct(req); details != nil {
		api.MalformedInput(w, "session_id is required", details)
		return
	}
	if _, ok := s.sessions.Get(req.SessionID); !ok {
		api.NotFound(w, "unknown session")
		return
	}
	if err := s.sessions.Touch(req.SessionID); err != nil {
		api.NotFound(w, "unknown session")
		return
	}

	decision := s.coordinator.RequestAccess(req.SessionID, req.Priority, req.Domains)

	body := map[string]interface{}{
		"granted": decision.Granted,
		"status":  decision.Status,
		"message": decision.Message,
	}
	if decision.AllocatedDomains != nil {
		body["allocated_domains"] = decision.AllocatedDomains
	}
	if decision.Status == "queued" {
		body["position"] = decision.Position
	}
	if decision.Reason != "" {
		body["reason"] = decision.Reason
	}
	status := http.StatusOK
	if decision.Status == "conflict" {
		status = http.StatusConflict
	}
	api.Raw(w, status, body)
}

// handleAccessRelease backs POST /access/release/{id}:
// Coordinator.ReleaseAccess. Includes the Open-Question promoted
// summary in the response — see DESIGN.md.
func (s *Server) handleAccessRelease(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result := s.coordinator.ReleaseAccess(id, "released")
	api.Raw(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"released": result.Released,
		"promoted": result.Promoted,
	})
}

// handleAccessHeartbeat backs POST /access/heartbeat/{id}:
// Coordinator.Heartbeat. Also touches the session registry's
// lastSeen, per spec.md §3's Session lifecycle.
func (s *Server) handleAccessHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	_ = s.sessions.Touch(id)
	updated := s.coordinator.Heartbeat(id)
	api.Raw(w, http.StatusOK, map[string]interface{}{"updated": updated})
}

// handleAccessStatus backs GET /access/status: a coordinator snapshot.
func (s *Server) handleAccessStatus(w http.ResponseWriter, r *http.Request) {
	active, queue, maxConcurrent := s.coordinator.Status()
	api.Raw(w, http.StatusOK, map[string]interface{}{
		"active_count":        len(active),
		"queue_length":        len(queue),
		"max_concurrent":      maxConcurrent,
		"active":              active,
		"queue":               queue,
	})
}

// domainInfo is one row of GET /domains: spec.md §6's shape, enriched
// per SUPPLEMENTED FEATURES with the allocation join the original's
// get_domains_info performs, computed directly against the
// coordinator's domainAllocations table.
type domainInfo struct {
	Domain      string   `json:"domain"`
	CookieCount int      `json:"cookie_count"`
	Available   bool     `json:"available"`
	AllocatedTo []string `json:"allocated_to,omitempty"`
}

// handleDomains backs GET /domains.
func (s *Server) handleDomains(w http.ResponseWriter, r *http.Request) {
	counts := s.store.DomainCounts()
	allocations := s.coordinator.DomainAllocations()

	domains := make([]domainInfo, 0, len(counts))
	for domain, count := range counts {
		info := domainInfo{Domain: domain, CookieCount: count, Available: true}
		if owner, ok := allocations[domain]; ok {
			info.Available = false
			info.AllocatedTo = []string{owner}
		}
		domains = append(domains, info)
	}
	api.Raw(w, http.StatusOK, domains)
}

// handleCookiesForDomains backs POST /cookies/domains: cookies
// scoped to the caller's own allocation, 403 if the caller does not
// hold every requested domain.
func (s *Server) handleCookiesForDomains(w http.ResponseWriter, r *http.Request) {
	var req CookiesDomainsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if details := api.ValidateStruct(req); details != nil {
		api.MalformedInput(w, "session_id and domains are required", details)
		return
	}

	allocations := s.coordinator.DomainAllocations()
	for _, d := range req.Domains {
		owner, ok := allocations[cookie.NormalizeDomain(d)]
		if !ok || owner != req.SessionID {
			api.Forbidden(w, "not authorized for domain: "+d)
			return
		}
	}

	cookies := s.store.GetForDomains(req.Domains)
	api.Raw(w, http.StatusOK, map[string]interface{}{"cookies": cookies})
}

// handleCookies backs GET /cookies: the full snapshot. Spec.md §6
// notes this layer deliberately has no auth gate here — operators
// deploy it behind a trust boundary.
func (s *Server) handleCookies(w http.ResponseWriter, r *http.Request) {
	cookies, loggedIn, lastUpdated := s.store.GetAll()
	api.Raw(w, http.StatusOK, map[string]interface{}{
		"cookies":      cookies,
		"logged_in":    loggedIn,
		"last_updated": lastUpdated,
		"count":        len(cookies),
	})
}
