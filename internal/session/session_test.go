package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestRequest() *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/create_session", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	r.Header.Set("User-Agent", "worker/1.0")
	return r
}

func TestCreateRecordsRemoteAddrAndUserAgent(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create(newTestRequest())
	if s.RemoteAddr != "203.0.113.5" {
		t.Fatalf("expected first XFF hop, got %q", s.RemoteAddr)
	}
	if s.UserAgent != "worker/1.0" {
		t.Fatalf("unexpected user agent: %q", s.UserAgent)
	}
	if s.ID == "" {
		t.Fatal("expected a generated session ID")
	}
}

func TestGetUnknownSession(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.Get("missing"); ok {
		t.Fatal("expected unknown session to be absent")
	}
}

func TestTouchUpdatesLastSeen(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create(newTestRequest())
	s.lastSeenAt = time.Now().Add(-time.Hour)
	before := s.LastSeenAt()
	if err := reg.Touch(s.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.LastSeenAt().After(before) {
		t.Fatal("expected lastSeenAt to be updated")
	}
}

func TestTouchUnknownSession(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Touch("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAttachChannelExclusivity(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create(newTestRequest())

	if err := reg.AttachChannel(s.ID); err != nil {
		t.Fatalf("first attach should succeed: %v", err)
	}
	if err := reg.AttachChannel(s.ID); err != ErrChannelInUse {
		t.Fatalf("expected ErrChannelInUse, got %v", err)
	}

	reg.DetachChannel(s.ID)
	if err := reg.AttachChannel(s.ID); err != nil {
		t.Fatalf("re-attach after detach should succeed: %v", err)
	}
}

func TestDestroyRemovesSession(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create(newTestRequest())
	reg.Destroy(s.ID)
	if _, ok := reg.Get(s.ID); ok {
		t.Fatal("expected session to be gone after Destroy")
	}
}

func TestListReturnsAllSessions(t *testing.T) {
	reg := NewRegistry()
	reg.Create(newTestRequest())
	reg.Create(newTestRequest())
	if len(reg.List()) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(reg.List()))
	}
}
