package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewSettingsStoreDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSettingsStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cur := s.Current()
	if cur.MaxConcurrentClients != 3 || cur.MaxInactiveMinutes != 30 {
		t.Fatalf("unexpected defaults: %+v", cur)
	}
}

func TestSetMaxConcurrentClientsPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSettingsStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetMaxConcurrentClients(7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reloaded, err := NewSettingsStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reloaded.Current().MaxConcurrentClients != 7 {
		t.Fatalf("expected persisted value 7, got %d", reloaded.Current().MaxConcurrentClients)
	}
}

func TestReloadParsesAllKeys(t *testing.T) {
	dir := t.TempDir()
	content := "[server]\n" +
		"max_concurrent_clients = 5\n" +
		"heartbeat_interval = 45\n" +
		"max_inactive_minutes = 10\n" +
		"smart_import_adjust_max_clients = true\n" +
		"expose_admin_key_endpoint = true\n"
	if err := os.WriteFile(filepath.Join(dir, "server_config.ini"), []byte(content), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	s, err := NewSettingsStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cur := s.Current()
	if cur.MaxConcurrentClients != 5 || cur.HeartbeatIntervalSeconds != 45 || cur.MaxInactiveMinutes != 10 {
		t.Fatalf("unexpected parsed settings: %+v", cur)
	}
	if !cur.SmartImportAdjustsMaxClients || !cur.ExposeAdminKeyEndpoint {
		t.Fatalf("expected both feature flags true, got %+v", cur)
	}
}
