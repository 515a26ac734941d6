package admin

import (
	"sync"
	"time"
)

// auditRingSize bounds the in-memory smart-import audit history.
// There is no persisted audit file — spec.md's persisted-state layout
// is closed — so this is lost on restart, same as the original's
// log-only _save_smart_analysis.
const auditRingSize = 50

// SmartImportAudit records one applied smart-import strategy, for
// GET /admin/server/info. Grounded on _apply_cookies_strategy /
// _save_smart_analysis in original_source/server_api_extensions.py.
type SmartImportAudit struct {
	At                 time.Time      `json:"at"`
	StrategyName       string         `json:"strategy_name"`
	Sharing            string         `json:"sharing"`
	Security           string         `json:"security"`
	DomainCookieCounts map[string]int `json:"domain_cookie_counts"`
	NewCookies         int            `json:"new_cookies"`
	MaxClientsAdjusted int            `json:"max_clients_adjusted,omitempty"`
}

// auditRing is a fixed-size ring buffer of the most recent smart
// imports, newest first on recent().
type auditRing struct {
	mu      sync.Mutex
	entries []SmartImportAudit
}

func newAuditRing() *auditRing {
	return &auditRing{}
}

func (r *auditRing) record(e SmartImportAudit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > auditRingSize {
		r.entries = r.entries[len(r.entries)-auditRingSize:]
	}
}

// recent returns the ring's entries newest-first.
func (r *auditRing) recent() []SmartImportAudit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SmartImportAudit, len(r.entries))
	for i, e := range r.entries {
		out[len(r.entries)-1-i] = e
	}
	return out
}
