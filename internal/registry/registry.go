// Package registry holds the named scan configurations that drive the
// sync engine. A scan config binds a directory root to glob patterns, a
// parser, a watch flag, and a target cache table.
package registry

import (
	"sort"
	"sync"
)

// DefaultPatterns is used when a scan config does not specify patterns.
var DefaultPatterns = []string{"*.yaml", "*.yml"}

// reservedTables maps well-known config names to their predefined cache
// table identifiers. Everything else gets "{name}_cache".
var reservedTables = map[string]string{
	"models":  "model_cache",
	"prompts": "prompt_cache",
	"tools":   "tool_cache",
}

// ParseFunc parses a resource file into a document. It must never
// panic; on any failure it returns ok=false and the engine stores an
// empty document instead.
type ParseFunc func(path string) (map[string]any, bool)

// ScanConfig describes one directory to mirror into a cache table.
// Configs are immutable once registered; re-registering a name replaces
// the stored config wholesale.
type ScanConfig struct {
	// Name uniquely identifies the config and keys its cache table.
	Name string
	// Root is the directory to scan. A missing root scans as empty.
	Root string
	// Patterns are glob patterns matched against file names.
	Patterns []string
	// Parser converts file content into a document. Nil means the
	// default YAML parser.
	Parser ParseFunc
	// Watch marks the config for live filesystem watching.
	Watch bool
	// Table overrides the target table name.
	Table string
}

// TableName returns the cache table this config writes to.
func (c *ScanConfig) TableName() string {
	if c.Table != "" {
		return c.Table
	}
	if t, ok := reservedTables[c.Name]; ok {
		return t
	}
	return c.Name + "_cache"
}

// clone returns a copy so callers can't mutate stored configs.
func (c *ScanConfig) clone() *ScanConfig {
	out := *c
	out.Patterns = append([]string(nil), c.Patterns...)
	return &out
}

// Registry is a concurrency-safe collection of scan configs.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]*ScanConfig
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{configs: make(map[string]*ScanConfig)}
}

// Add registers a scan config, replacing any existing config with the
// same name. Unset patterns default to DefaultPatterns. Invalid roots
// are not checked here; a nonexistent root simply scans as empty.
func (r *Registry) Add(cfg ScanConfig) {
	if len(cfg.Patterns) == 0 {
		cfg.Patterns = append([]string(nil), DefaultPatterns...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Name] = cfg.clone()
}

// Get returns the config registered under name, or false if absent.
func (r *Registry) Get(name string) (*ScanConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[name]
	if !ok {
		return nil, false
	}
	return cfg.clone(), true
}

// All returns every registered config, sorted by name for stable
// iteration order.
func (r *Registry) All() []*ScanConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ScanConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, cfg.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered configs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}
