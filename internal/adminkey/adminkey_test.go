package adminkey

import "testing"

func TestLoadGeneratesKeyWhenMissing(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Current() == "" {
		t.Fatal("expected a generated key")
	}
}

func TestLoadPersistsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	m1, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key1 := m1.Current()

	m2, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m2.Current() != key1 {
		t.Fatalf("expected the same key to be reloaded, got %q vs %q", m2.Current(), key1)
	}
}

func TestRegenerateChangesKey(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	old := m.Current()
	fresh, err := m.Regenerate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh == old {
		t.Fatal("expected regenerate to produce a different key")
	}
	if m.Current() != fresh {
		t.Fatal("expected Current() to reflect the regenerated key")
	}
}
