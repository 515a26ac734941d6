package access

import (
	"time"

	"github.com/hibiki-broker/cookiebroker/internal/debug"
	"github.com/hibiki-broker/cookiebroker/internal/hub"
)

// Start launches the background liveness monitor: every minute it
// checks every active session's last activity against
// maxInactiveMinutes, optionally warning a session one minute before
// its timeout and releasing it once the limit is reached. Mirrors
// _monitor_active_client's 60-second tick in
// original_source/remote_browser_server.py.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.livenessLoop()
}

// Stop halts the liveness monitor and waits for it to exit.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Coordinator) livenessLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.checkLiveness()
		}
	}
}

func (c *Coordinator) checkLiveness() {
	now := time.Now()
	maxInactive := time.Duration(c.maxInactiveMinutes) * time.Minute

	c.mu.Lock()
	var toWarn, toRelease []string
	for id, rec := range c.active {
		idle := now.Sub(rec.lastActivity)
		switch {
		case idle >= maxInactive:
			toRelease = append(toRelease, id)
		case !rec.warned && idle >= maxInactive-time.Minute:
			rec.warned = true
			toWarn = append(toWarn, id)
		}
	}
	c.mu.Unlock()

	for _, id := range toWarn {
		debug.Log("access", "timeout warning session=%s", id)
		c.notifier.Send(id, hub.Message{Type: hub.TimeoutWarning, Reason: "inactive"})
	}
	for _, id := range toRelease {
		debug.Log("access", "releasing idle session=%s", id)
		c.ReleaseAccess(id, "timeout")
		c.notifier.Send(id, hub.Message{Type: hub.AccessRevoked, Reason: "timeout"})
		c.notifier.Close(id)
	}
}

// StatusEntry is a read-only snapshot of one active grant, for
// GET /access/status and the admin surface's detailed-clients view.
type StatusEntry struct {
	SessionID        string
	AllocatedDomains []string
	GrantedAt        time.Time
	LastActivity     time.Time
}

// QueueSnapshot is a read-only snapshot of one queued request.
type QueueSnapshot struct {
	SessionID        string
	Position         int
	Priority         int
	RequestedDomains []string
	EnqueuedAt       time.Time
}

// Status returns a consistent snapshot of active grants, the queue,
// and the current admission ceiling.
func (c *Coordinator) Status() (active []StatusEntry, queue []QueueSnapshot, maxConcurrent int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, rec := range c.active {
		active = append(active, StatusEntry{
			SessionID:        id,
			AllocatedDomains: keys(rec.allocatedDomains),
			GrantedAt:        rec.grantedAt,
			LastActivity:     rec.lastActivity,
		})
	}
	for i, e := range c.queue {
		queue = append(queue, QueueSnapshot{
			SessionID:        e.sessionID,
			Position:         i + 1,
			Priority:         e.priority,
			RequestedDomains: keys(e.requestedDomains),
			EnqueuedAt:       e.enqueuedAt,
		})
	}
	return active, queue, c.maxConcurrent
}

// DomainAllocations returns a snapshot of which normalized domain is
// currently allocated to which session.
func (c *Coordinator) DomainAllocations() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.domainAllocations))
	for d, id := range c.domainAllocations {
		out[d] = id
	}
	return out
}

// RemoveFromQueue removes sessionID from the waiting queue without
// touching any active grant. The admin surface's kick handler calls it
// as a fallback when Kick reports nothing released (Kick itself already
// dequeues a queued session). Returns whether it was found.
func (c *Coordinator) RemoveFromQueue(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.queue {
		if e.sessionID == sessionID {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

// SetPriority updates a queued session's priority and re-sorts the
// queue. Returns false if sessionID is not currently queued. Mirrors
// update_client_priority in server_api_extensions.py.
func (c *Coordinator) SetPriority(sessionID string, priority int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.queue {
		if e.sessionID == sessionID {
			e.priority = priority
			c.sortQueueLocked()
			return true
		}
	}
	return false
}
