package access

import (
	"sort"
	"time"

	"github.com/hibiki-broker/cookiebroker/internal/debug"
	"github.com/hibiki-broker/cookiebroker/internal/hub"
)

// sortQueueLocked orders the queue by priority descending, then
// enqueuedAt ascending — spec.md §4.D's admission order.
func (c *Coordinator) sortQueueLocked() {
	sort.SliceStable(c.queue, func(i, j int) bool {
		if c.queue[i].priority != c.queue[j].priority {
			return c.queue[i].priority > c.queue[j].priority
		}
		return c.queue[i].enqueuedAt.Before(c.queue[j].enqueuedAt)
	})
}

func (c *Coordinator) positionLocked(sessionID string) int {
	for i, e := range c.queue {
		if e.sessionID == sessionID {
			return i + 1
		}
	}
	return 0
}

// canAdmitLocked reports whether a request for reqSet (domain-aware
// when hasDomains) can be granted right now.
func (c *Coordinator) canAdmitLocked(hasDomains bool, reqSet map[string]struct{}) (ok bool, reason, message string) {
	if len(c.active) >= c.maxConcurrent {
		return false, ReasonSlotsExhausted, "max concurrent clients reached"
	}
	if hasDomains {
		for d := range reqSet {
			if c.store != nil && !c.store.DomainExists(d) {
				return false, ReasonDomainUnknown, "domain not known: " + d
			}
			if owner, taken := c.domainAllocations[d]; taken && owner != "" {
				return false, ReasonDomainConflict, "domain already allocated: " + d
			}
		}
	}
	return true, "", ""
}

func (c *Coordinator) admitLocked(sessionID string, reqSet map[string]struct{}, now time.Time) {
	rec := &activeRecord{
		sessionID:        sessionID,
		grantedAt:        now,
		lastActivity:     now,
		allocatedDomains: reqSet,
	}
	c.active[sessionID] = rec
	for d := range reqSet {
		c.domainAllocations[d] = sessionID
	}
}

func setDiff(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for k := range a {
		if _, ok := b[k]; !ok {
			out[k] = struct{}{}
		}
	}
	return out
}

// reallocateLocked handles a RequestAccess call for an already-active
// session whose requested domain set differs from what it currently
// holds: it tries to atomically swap the difference, leaving the
// session's state untouched on any conflict.
func (c *Coordinator) reallocateLocked(rec *activeRecord, reqSet map[string]struct{}, now time.Time) Decision {
	toAcquire := setDiff(reqSet, rec.allocatedDomains)
	toRelease := setDiff(rec.allocatedDomains, reqSet)

	for d := range toAcquire {
		if c.store != nil && !c.store.DomainExists(d) {
			return Decision{Status: "conflict", Reason: ReasonDomainUnknown, Message: "domain not known: " + d}
		}
		if owner, taken := c.domainAllocations[d]; taken && owner != rec.sessionID {
			return Decision{Status: "conflict", Reason: ReasonDomainConflict, Message: "domain already allocated: " + d}
		}
	}

	for d := range toRelease {
		delete(c.domainAllocations, d)
	}
	for d := range toAcquire {
		c.domainAllocations[d] = rec.sessionID
	}
	rec.allocatedDomains = reqSet
	rec.lastActivity = now
	return Decision{Granted: true, Status: "reallocated", AllocatedDomains: keys(reqSet)}
}

// RequestAccess is the single entry point a session uses both to
// request a new grant and to refresh/change an existing one.
// requestedDomains == nil means "traditional" (no domain preference);
// an empty non-nil slice means domain-aware with no domains named.
func (c *Coordinator) RequestAccess(sessionID string, priority int, requestedDomains []string) Decision {
	hasDomains := requestedDomains != nil
	reqSet := domainSet(requestedDomains)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.active[sessionID]; ok {
		if !hasDomains || sameSet(rec.allocatedDomains, reqSet) {
			rec.lastActivity = now
			return Decision{Granted: true, Status: "already_active", AllocatedDomains: keys(rec.allocatedDomains)}
		}
		return c.reallocateLocked(rec, reqSet, now)
	}

	for _, e := range c.queue {
		if e.sessionID == sessionID {
			e.priority = priority
			e.requestedDomains = reqSet
			e.hasDomains = hasDomains
			c.sortQueueLocked()
			_, reason, msg := c.canAdmitLocked(hasDomains, reqSet)
			return Decision{Status: "queued", Position: c.positionLocked(sessionID), Reason: reason, Message: msg}
		}
	}

	if ok, reason, msg := c.canAdmitLocked(hasDomains, reqSet); ok {
		c.admitLocked(sessionID, reqSet, now)
		status := "direct_grant"
		if hasDomains {
			status = "direct_grant_with_domains"
		}
		debug.Log("access", "granted session=%s status=%s domains=%v", sessionID, status, keys(reqSet))
		return Decision{Granted: true, Status: status, AllocatedDomains: keys(reqSet)}
	} else {
		c.queue = append(c.queue, &queueEntry{
			sessionID:        sessionID,
			enqueuedAt:       now,
			priority:         priority,
			requestedDomains: reqSet,
			hasDomains:       hasDomains,
		})
		c.sortQueueLocked()
		debug.Log("access", "queued session=%s reason=%s position=%d", sessionID, reason, c.positionLocked(sessionID))
		return Decision{Status: "queued", Position: c.positionLocked(sessionID), Reason: reason, Message: msg}
	}
}

// promoteLocked walks the sorted queue, admitting every entry that
// currently fits. A per-domain failure (unknown domain or conflict)
// is skipped so later entries still get a chance; a slots-exhausted
// failure stops the walk entirely, since no later entry can fit
// either.
func (c *Coordinator) promoteLocked() []Promoted {
	if len(c.queue) == 0 {
		return nil
	}
	c.sortQueueLocked()

	var promoted []Promoted
	kept := make([]*queueEntry, 0, len(c.queue))
	stopped := false
	now := time.Now()

	for _, e := range c.queue {
		if stopped {
			kept = append(kept, e)
			continue
		}
		if len(c.active) >= c.maxConcurrent {
			stopped = true
			kept = append(kept, e)
			continue
		}
		ok, _, _ := c.canAdmitLocked(e.hasDomains, e.requestedDomains)
		if !ok {
			kept = append(kept, e)
			continue
		}
		c.admitLocked(e.sessionID, e.requestedDomains, now)
		promoted = append(promoted, Promoted{SessionID: e.sessionID, AllocatedDomains: keys(e.requestedDomains)})
	}

	c.queue = kept
	return promoted
}

// ReleaseAccess releases sessionID's active grant or removes it from
// the queue, then promotes as many waiting sessions as now fit.
// Idempotent: releasing a session with no active grant and no queue
// entry is not an error.
func (c *Coordinator) ReleaseAccess(sessionID, reason string) ReleaseResult {
	c.mu.Lock()
	released := false
	if rec, ok := c.active[sessionID]; ok {
		for d := range rec.allocatedDomains {
			delete(c.domainAllocations, d)
		}
		delete(c.active, sessionID)
		released = true
	} else {
		for i, e := range c.queue {
			if e.sessionID == sessionID {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				released = true
				break
			}
		}
	}

	var promoted []Promoted
	if released {
		promoted = c.promoteLocked()
	}
	positions := c.queuePositionsLocked()
	c.mu.Unlock()

	if released {
		debug.Log("access", "released session=%s reason=%s promoted=%d", sessionID, reason, len(promoted))
	}
	for _, p := range promoted {
		c.notifier.Send(p.SessionID, hub.Message{Type: hub.AccessGranted, AllocatedDomains: p.AllocatedDomains})
	}
	for id, pos := range positions {
		c.notifier.Send(id, hub.Message{Type: hub.QueuePosition, Position: pos})
	}
	return ReleaseResult{Released: released, Promoted: promoted}
}

// PromoteQueued re-runs queue promotion without any change to the
// active set or the admission ceiling. Callers use this after an
// out-of-band event that can make a previously-unadmittable queued
// request fit — most notably an admin cookie import naming a domain
// the queue was blocked on (spec.md §4.D's "next promotion cycle
// re-evaluates" unknown-domain policy).
func (c *Coordinator) PromoteQueued() []Promoted {
	c.mu.Lock()
	promoted := c.promoteLocked()
	positions := c.queuePositionsLocked()
	c.mu.Unlock()

	for _, p := range promoted {
		c.notifier.Send(p.SessionID, hub.Message{Type: hub.AccessGranted, AllocatedDomains: p.AllocatedDomains})
	}
	for id, pos := range positions {
		c.notifier.Send(id, hub.Message{Type: hub.QueuePosition, Position: pos})
	}
	return promoted
}

func (c *Coordinator) queuePositionsLocked() map[string]int {
	out := make(map[string]int, len(c.queue))
	for i, e := range c.queue {
		out[e.sessionID] = i + 1
	}
	return out
}

// Kick forcibly revokes sessionID's access (active or queued),
// notifies it, and closes its push channel.
func (c *Coordinator) Kick(sessionID, reason string) ReleaseResult {
	result := c.ReleaseAccess(sessionID, reason)
	c.notifier.Send(sessionID, hub.Message{Type: hub.AccessRevoked, Reason: reason})
	c.notifier.Close(sessionID)
	return result
}

// Heartbeat records activity for an active session. Returns false if
// the session holds no active grant.
func (c *Coordinator) Heartbeat(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.active[sessionID]
	if !ok {
		return false
	}
	rec.lastActivity = time.Now()
	rec.warned = false
	return true
}

// SetMaxConcurrent changes the admission ceiling and promotes any
// newly fitting queued sessions. The ceiling is persisted to
// server_config.ini via the registered persist function; a persist
// failure is logged but does not roll back the in-memory change.
func (c *Coordinator) SetMaxConcurrent(n int) []Promoted {
	c.mu.Lock()
	c.maxConcurrent = n
	var promoted []Promoted
	if n > len(c.active) {
		promoted = c.promoteLocked()
	}
	persistFn := c.persist
	c.mu.Unlock()

	if persistFn != nil {
		if err := persistFn(n); err != nil {
			debug.Warn("access", "failed to persist max_concurrent_clients=%d: %v", n, err)
		}
	}
	for _, p := range promoted {
		c.notifier.Send(p.SessionID, hub.Message{Type: hub.AccessGranted, AllocatedDomains: p.AllocatedDomains})
	}
	return promoted
}
