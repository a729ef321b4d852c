package offlinecache

import (
	"testing"
)

func TestRegistryNames(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.App = "audio-marker"
	cfg.Version = "v2"
	registry := NewRegistry(cfg, nil)

	if got := registry.Name(ScopeAudio); got != "audio-marker-audio-v2" {
		t.Errorf("expected audio-marker-audio-v2, got %s", got)
	}
	if got := registry.Name(ScopeDynamic); got != "audio-marker-dynamic-pages-v2" {
		t.Errorf("expected audio-marker-dynamic-pages-v2, got %s", got)
	}

	names := registry.CurrentNames()
	if len(names) != len(Scopes) {
		t.Fatalf("expected %d current namespaces, got %d", len(Scopes), len(names))
	}
	seen := make(map[string]bool)
	for _, n := range names {
		if seen[n] {
			t.Errorf("duplicate namespace name %s", n)
		}
		seen[n] = true
	}
}

func TestRegistryIsStale(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.App = "audio-marker"
	cfg.Version = "v2"
	registry := NewRegistry(cfg, nil)

	tests := []struct {
		name  string
		stale bool
	}{
		{"audio-marker-audio-v1", true},
		{"audio-marker-audio-v2", false},
		{"audio-marker-generic-v1", true},
		{"audio-marker-generic-v2", false},
		{"audio-marker-dynamic-pages-v1", true},
		{"other-app-audio-v1", false},
		{"unrelated", false},
	}
	for _, tt := range tests {
		if got := registry.IsStale(tt.name); got != tt.stale {
			t.Errorf("IsStale(%q) = %v, want %v", tt.name, got, tt.stale)
		}
	}
}
