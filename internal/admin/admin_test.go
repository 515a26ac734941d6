package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiki-broker/cookiebroker/internal/access"
	"github.com/hibiki-broker/cookiebroker/internal/adminkey"
	"github.com/hibiki-broker/cookiebroker/internal/config"
	"github.com/hibiki-broker/cookiebroker/internal/cookie"
	"github.com/hibiki-broker/cookiebroker/internal/hub"
	"github.com/hibiki-broker/cookiebroker/internal/session"
)

func newTestServer(t *testing.T) (*Server, *adminkey.Manager) {
	t.Helper()
	dir := t.TempDir()
	store := cookie.NewStore(dir)
	h := hub.NewHub()
	coord := access.NewCoordinator(access.Config{MaxConcurrentClients: 2, MaxInactiveMinutes: 30}, store, h)
	sessions := session.NewRegistry()
	settings, err := config.NewSettingsStore(dir)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	key, err := adminkey.Load(dir)
	if err != nil {
		t.Fatalf("adminkey: %v", err)
	}
	return NewServer(store, coord, sessions, h, settings, key, time.Now()), key
}

func doRequest(t *testing.T, srv *Server, key *adminkey.Manager, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Admin-Key", key.Current())
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)
	return rr
}

func TestRoutesRejectWrongAdminKey(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/server/info", nil)
	req.Header.Set("X-Admin-Key", "wrong")
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestImportReplaceAndMerge(t *testing.T) {
	srv, key := newTestServer(t)

	rr := doRequest(t, srv, key, http.MethodPost, "/cookies", ImportRequest{
		Cookies: []cookie.Cookie{
			{Name: "session_id", Value: "abc", Domain: "a.com"},
		},
		ForceReplace: true,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	all, loggedIn, _ := srv.store.GetAll()
	if len(all) != 1 || !loggedIn {
		t.Fatalf("expected 1 cookie and logged_in=true, got %d / %v", len(all), loggedIn)
	}

	rr = doRequest(t, srv, key, http.MethodPost, "/cookies", ImportRequest{
		Cookies: []cookie.Cookie{
			{Name: "other", Value: "v2", Domain: "b.com"},
		},
		ForceReplace: false,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	all, _, _ = srv.store.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected merge to keep both, got %d", len(all))
	}
}

func TestImportRejectsMalformedCookie(t *testing.T) {
	srv, key := newTestServer(t)
	rr := doRequest(t, srv, key, http.MethodPost, "/cookies", ImportRequest{
		Cookies:      []cookie.Cookie{{Name: "", Value: "v", Domain: "a.com"}},
		ForceReplace: true,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestDeleteByKey(t *testing.T) {
	srv, key := newTestServer(t)
	srv.store.AdminReplace([]cookie.Cookie{{Name: "n", Value: "v", Domain: "a.com", Path: "/"}}, nil)

	rr := doRequest(t, srv, key, http.MethodPost, "/cookies/delete", DeleteKeysRequest{
		Keys: []CookieKeyInput{{Name: "n", Domain: "a.com", Path: "/"}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	all, loggedIn, _ := srv.store.GetAll()
	if len(all) != 0 || loggedIn {
		t.Fatalf("expected empty store and logged_in=false, got %d / %v", len(all), loggedIn)
	}
}

func TestSetMaxClientsValidatesRange(t *testing.T) {
	srv, key := newTestServer(t)
	rr := doRequest(t, srv, key, http.MethodPost, "/server/config/max-clients", MaxClientsRequest{MaxClients: 20})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range max_clients, got %d", rr.Code)
	}

	rr = doRequest(t, srv, key, http.MethodPost, "/server/config/max-clients", MaxClientsRequest{MaxClients: 5})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if srv.settings.Current().MaxConcurrentClients != 5 {
		t.Fatalf("expected persisted max_clients=5, got %d", srv.settings.Current().MaxConcurrentClients)
	}
}

func TestKickReleasesActiveSession(t *testing.T) {
	srv, key := newTestServer(t)
	srv.store.AdminReplace([]cookie.Cookie{{Name: "n", Value: "v", Domain: "a.com"}}, nil)
	srv.coordinator.RequestAccess("s1", 0, nil)

	rr := doRequest(t, srv, key, http.MethodPost, "/clients/s1/kick", KickRequest{Reason: "test"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if srv.coordinator.Heartbeat("s1") {
		t.Fatal("expected s1 to no longer be active after kick")
	}
}

func TestSmartImportGatedMaxClientsAdjustment(t *testing.T) {
	srv, key := newTestServer(t)

	// Flag off by default: strategy must not touch max_clients.
	rr := doRequest(t, srv, key, http.MethodPost, "/cookies/smart-import", SmartImportRequest{
		CookiesByDomain: map[string][]cookie.Cookie{
			"a.com": {{Name: "session_id", Value: "v", Domain: "a.com"}},
		},
		Strategy: ImportStrategy{Name: "aggressive", Sharing: "high"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if _, _, max := srv.coordinator.Status(); max != 2 {
		t.Fatalf("expected max_clients unchanged at 2 when flag is off, got %d", max)
	}

	if len(srv.audit.recent()) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(srv.audit.recent()))
	}
}

func TestImportPromotesQueuedSessionWaitingOnNewDomain(t *testing.T) {
	srv, key := newTestServer(t)

	// No cookies for b.com exist yet, so this request queues instead of
	// being granted or rejected outright.
	decision := srv.coordinator.RequestAccess("s1", 0, []string{"b.com"})
	if decision.Status != "queued" {
		t.Fatalf("expected s1 to queue on an unknown domain, got status=%s", decision.Status)
	}

	rr := doRequest(t, srv, key, http.MethodPost, "/cookies", ImportRequest{
		Cookies: []cookie.Cookie{
			{Name: "session_id", Value: "v", Domain: "b.com"},
		},
		ForceReplace: false,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if !srv.coordinator.Heartbeat("s1") {
		t.Fatal("expected s1 to be promoted to active once b.com was imported")
	}
}

func TestDetailedClientsJoinsSessionMetadata(t *testing.T) {
	srv, key := newTestServer(t)
	srv.store.AdminReplace([]cookie.Cookie{{Name: "n", Value: "v", Domain: "a.com"}}, nil)

	req := httptest.NewRequest(http.MethodPost, "/create", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.5")
	sess := srv.sessions.Create(req)
	srv.coordinator.RequestAccess(sess.ID, 0, []string{"a.com"})

	rr := doRequest(t, srv, key, http.MethodGet, "/clients/detailed", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Clients []clientDetail `json:"clients"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Clients) != 1 || body.Clients[0].RemoteAddr != "10.0.0.5" {
		t.Fatalf("expected joined remote_addr, got %+v", body.Clients)
	}
}
