package access

import (
	"sync"
	"testing"

	"github.com/hibiki-broker/cookiebroker/internal/hub"
)

type fakeDomains struct {
	known map[string]bool
}

func (f *fakeDomains) DomainExists(d string) bool { return f.known[d] }

type fakeNotifier struct {
	mu   sync.Mutex
	sent []hub.Message
}

func (f *fakeNotifier) Send(sessionID string, msg hub.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return true
}

func (f *fakeNotifier) Close(sessionID string) {}

func newTestCoordinator(max int, domains ...string) (*Coordinator, *fakeNotifier) {
	known := make(map[string]bool)
	for _, d := range domains {
		known[d] = true
	}
	n := &fakeNotifier{}
	c := NewCoordinator(Config{MaxConcurrentClients: max, MaxInactiveMinutes: 30}, &fakeDomains{known: known}, n)
	return c, n
}

func TestDirectGrantUnderCapacity(t *testing.T) {
	c, _ := newTestCoordinator(2)
	d := c.RequestAccess("s1", 0, nil)
	if !d.Granted || d.Status != "direct_grant" {
		t.Fatalf("expected direct grant, got %+v", d)
	}
}

func TestQueuedWhenSlotsExhausted(t *testing.T) {
	c, _ := newTestCoordinator(1)
	c.RequestAccess("s1", 0, nil)
	d := c.RequestAccess("s2", 0, nil)
	if d.Granted || d.Status != "queued" || d.Reason != ReasonSlotsExhausted {
		t.Fatalf("expected queued with slots_exhausted, got %+v", d)
	}
	if d.Position != 1 {
		t.Fatalf("expected position 1, got %d", d.Position)
	}
}

func TestReleaseFrees_QueuedSessionPromoted(t *testing.T) {
	c, n := newTestCoordinator(1)
	c.RequestAccess("s1", 0, nil)
	c.RequestAccess("s2", 0, nil)

	result := c.ReleaseAccess("s1", "done")
	if !result.Released {
		t.Fatal("expected release to succeed")
	}
	if len(result.Promoted) != 1 || result.Promoted[0].SessionID != "s2" {
		t.Fatalf("expected s2 promoted, got %+v", result.Promoted)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	found := false
	for _, m := range n.sent {
		if m.Type == hub.AccessGranted {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an access_granted notification to have been sent")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(2)
	c.RequestAccess("s1", 0, nil)
	if first := c.ReleaseAccess("s1", "done"); !first.Released {
		t.Fatal("expected the first release of an active session to succeed")
	}
	if second := c.ReleaseAccess("s1", "done"); second.Released {
		t.Fatal("expected a repeated release to be a no-op")
	}

	result := c.ReleaseAccess("ghost", "n/a")
	if result.Released {
		t.Fatal("expected release of unknown session to report not-released")
	}
}

func TestHigherPriorityPromotedFirst(t *testing.T) {
	c, _ := newTestCoordinator(1)
	c.RequestAccess("s1", 0, nil)
	c.RequestAccess("low", 0, nil)
	c.RequestAccess("high", 10, nil)

	result := c.ReleaseAccess("s1", "done")
	if len(result.Promoted) != 1 || result.Promoted[0].SessionID != "high" {
		t.Fatalf("expected 'high' promoted first, got %+v", result.Promoted)
	}
}

func TestDomainGrantAndConflict(t *testing.T) {
	c, _ := newTestCoordinator(5, "example.com")
	d1 := c.RequestAccess("s1", 0, []string{"example.com"})
	if !d1.Granted || d1.Status != "direct_grant_with_domains" {
		t.Fatalf("expected domain grant, got %+v", d1)
	}

	d2 := c.RequestAccess("s2", 0, []string{"example.com"})
	if d2.Granted || d2.Reason != ReasonDomainConflict {
		t.Fatalf("expected domain conflict, got %+v", d2)
	}
}

func TestUnknownDomainQueued(t *testing.T) {
	c, _ := newTestCoordinator(5)
	d := c.RequestAccess("s1", 0, []string{"unknown.com"})
	if d.Granted || d.Status != "queued" || d.Reason != ReasonDomainUnknown {
		t.Fatalf("expected domain_not_exists, got %+v", d)
	}
}

func TestPromoteQueuedAdmitsOnceDomainBecomesKnown(t *testing.T) {
	c, n := newTestCoordinator(5)
	d := c.RequestAccess("s1", 0, []string{"example.com"})
	if d.Granted || d.Reason != ReasonDomainUnknown {
		t.Fatalf("expected s1 to queue on an unknown domain, got %+v", d)
	}

	c.store.(*fakeDomains).known["example.com"] = true
	promoted := c.PromoteQueued()
	if len(promoted) != 1 || promoted[0].SessionID != "s1" {
		t.Fatalf("expected s1 promoted once example.com became known, got %+v", promoted)
	}
	if !c.Heartbeat("s1") {
		t.Fatal("expected s1 to be active after PromoteQueued")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	found := false
	for _, m := range n.sent {
		if m.Type == hub.AccessGranted {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an access_granted notification to have been sent")
	}
}

func TestAlreadyActiveRefreshesWithoutDoubleCounting(t *testing.T) {
	c, _ := newTestCoordinator(1)
	c.RequestAccess("s1", 0, nil)
	d := c.RequestAccess("s1", 0, nil)
	if !d.Granted || d.Status != "already_active" {
		t.Fatalf("expected already_active, got %+v", d)
	}
	active, _, _ := c.Status()
	if len(active) != 1 {
		t.Fatalf("expected exactly one active record, got %d", len(active))
	}
}

func TestReallocationConflictLeavesStateUnchanged(t *testing.T) {
	c, _ := newTestCoordinator(5, "a.com", "b.com")
	c.RequestAccess("s1", 0, []string{"a.com"})
	c.RequestAccess("s2", 0, []string{"b.com"})

	d := c.RequestAccess("s1", 0, []string{"b.com"})
	if d.Granted || d.Status != "conflict" {
		t.Fatalf("expected conflict, got %+v", d)
	}

	active, _, _ := c.Status()
	for _, a := range active {
		if a.SessionID == "s1" && (len(a.AllocatedDomains) != 1 || a.AllocatedDomains[0] != "a.com") {
			t.Fatalf("expected s1's domains unchanged after failed reallocation, got %+v", a.AllocatedDomains)
		}
	}
}

func TestReallocationSuccessSwapsDomains(t *testing.T) {
	c, _ := newTestCoordinator(5, "a.com", "b.com")
	c.RequestAccess("s1", 0, []string{"a.com"})

	d := c.RequestAccess("s1", 0, []string{"b.com"})
	if !d.Granted || d.Status != "reallocated" {
		t.Fatalf("expected reallocated, got %+v", d)
	}
	alloc := c.DomainAllocations()
	if alloc["a.com"] != "" {
		t.Fatalf("expected a.com released, allocations=%v", alloc)
	}
	if alloc["b.com"] != "s1" {
		t.Fatalf("expected b.com allocated to s1, allocations=%v", alloc)
	}
}

func TestSetMaxConcurrentPromotesQueued(t *testing.T) {
	c, _ := newTestCoordinator(1)
	c.RequestAccess("s1", 0, nil)
	c.RequestAccess("s2", 0, nil)

	promoted := c.SetMaxConcurrent(2)
	if len(promoted) != 1 || promoted[0].SessionID != "s2" {
		t.Fatalf("expected s2 promoted after raising cap, got %+v", promoted)
	}
}

func TestKickReleasesAndNotifies(t *testing.T) {
	c, n := newTestCoordinator(1)
	c.RequestAccess("s1", 0, nil)
	result := c.Kick("s1", "admin_kick")
	if !result.Released {
		t.Fatal("expected kick to release the active grant")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	found := false
	for _, m := range n.sent {
		if m.Type == hub.AccessRevoked && m.Reason == "admin_kick" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected access_revoked notification with reason admin_kick")
	}
}

func TestHeartbeatRequiresActiveGrant(t *testing.T) {
	c, _ := newTestCoordinator(1)
	if c.Heartbeat("nobody") {
		t.Fatal("expected heartbeat on unknown session to fail")
	}
	c.RequestAccess("s1", 0, nil)
	if !c.Heartbeat("s1") {
		t.Fatal("expected heartbeat on active session to succeed")
	}
}
