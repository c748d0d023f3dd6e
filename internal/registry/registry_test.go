package registry

import (
	"reflect"
	"testing"
)

// TestAddAppliesDefaultPatterns verifies that unset patterns default to
// the YAML globs.
func TestAddAppliesDefaultPatterns(t *testing.T) {
	r := New()
	r.Add(ScanConfig{Name: "models", Root: "/data/models"})

	cfg, ok := r.Get("models")
	if !ok {
		t.Fatal("Get() did not find registered config")
	}
	if !reflect.DeepEqual(cfg.Patterns, []string{"*.yaml", "*.yml"}) {
		t.Errorf("Patterns = %v, want default YAML globs", cfg.Patterns)
	}
}

// TestAddIsUpsert verifies that re-registering a name replaces the
// stored config wholesale.
func TestAddIsUpsert(t *testing.T) {
	r := New()
	r.Add(ScanConfig{Name: "models", Root: "/old", Watch: false})
	r.Add(ScanConfig{Name: "models", Root: "/new", Watch: true})

	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}

	cfg, _ := r.Get("models")
	if cfg.Root != "/new" {
		t.Errorf("Root = %q, want /new", cfg.Root)
	}
	if !cfg.Watch {
		t.Error("Watch flag was not replaced")
	}
}

// TestGetUnknown verifies the not-found case.
func TestGetUnknown(t *testing.T) {
	r := New()
	if _, ok := r.Get("nonexistent"); ok {
		t.Error("Get() found a config that was never registered")
	}
}

// TestStoredConfigsAreImmutable verifies that mutating a returned
// config does not affect the registry.
func TestStoredConfigsAreImmutable(t *testing.T) {
	r := New()
	r.Add(ScanConfig{Name: "models", Root: "/data", Patterns: []string{"*.yaml"}})

	cfg, _ := r.Get("models")
	cfg.Root = "/mutated"
	cfg.Patterns[0] = "*.exe"

	again, _ := r.Get("models")
	if again.Root != "/data" {
		t.Errorf("Root = %q, registry was mutated through a returned config", again.Root)
	}
	if again.Patterns[0] != "*.yaml" {
		t.Errorf("Patterns = %v, registry was mutated through a returned config", again.Patterns)
	}
}

// TestTableName verifies default, reserved, and explicit table names.
func TestTableName(t *testing.T) {
	tests := []struct {
		name     string
		cfg      ScanConfig
		expected string
	}{
		{"default suffix", ScanConfig{Name: "agents"}, "agents_cache"},
		{"reserved models", ScanConfig{Name: "models"}, "model_cache"},
		{"reserved prompts", ScanConfig{Name: "prompts"}, "prompt_cache"},
		{"reserved tools", ScanConfig{Name: "tools"}, "tool_cache"},
		{"explicit override", ScanConfig{Name: "models", Table: "custom"}, "custom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.TableName(); got != tt.expected {
				t.Errorf("TableName() = %q, want %q", got, tt.expected)
			}
		})
	}
}

// TestAllSorted verifies stable, name-sorted iteration order.
func TestAllSorted(t *testing.T) {
	r := New()
	r.Add(ScanConfig{Name: "zeta", Root: "/z"})
	r.Add(ScanConfig{Name: "alpha", Root: "/a"})
	r.Add(ScanConfig{Name: "mid", Root: "/m"})

	all := r.All()
	if len(all) != 3 {
		t.Fatalf("All() returned %d configs, want 3", len(all))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if all[i].Name != want {
			t.Errorf("All()[%d].Name = %q, want %q", i, all[i].Name, want)
		}
	}
}
