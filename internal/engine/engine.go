// Package engine implements the resource sync engine: it mirrors
// registered scan-config directories into cached document tables,
// keeps them consistent via content-hash diffing, and optionally keeps
// them live via filesystem watching.
//
// Error policy: only ErrConfigNotFound surfaces to callers. Every
// filesystem- or store-level failure is absorbed locally (logged,
// converted to a safe default) so that one bad file or one failed
// write never aborts a full sync pass or a watch session.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/resyncd/resyncd/internal/logging"
	"github.com/resyncd/resyncd/internal/record"
	"github.com/resyncd/resyncd/internal/registry"
	"github.com/resyncd/resyncd/internal/scanner"
	"github.com/resyncd/resyncd/internal/store"
)

// ErrConfigNotFound is returned when a caller references a scan-config
// name that was never registered.
var ErrConfigNotFound = errors.New("scan config not found")

// SyncStats reports the outcome of one sync pass for one config.
type SyncStats struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

// Engine coordinates the scanner, the store, and the watcher.
//
// The store handle is injected at construction and owned by the host;
// the engine closes it in Close().
type Engine struct {
	store   *store.Store
	reg     *registry.Registry
	scanner *scanner.Scanner
	logger  *logging.Logger

	sessionMu sync.Mutex
	session   *watchSession

	// cfgLocks serializes a full sync against watch-triggered resyncs
	// on the same config. Distinct configs sync concurrently.
	cfgLocksMu sync.Mutex
	cfgLocks   map[string]*sync.Mutex
}

// New creates an Engine over the given store. A nil logger falls back
// to the default stderr logger.
func New(st *store.Store, logger *logging.Logger) *Engine {
	return &Engine{
		store:    st,
		reg:      registry.New(),
		scanner:  scanner.New(logger),
		logger:   logger,
		cfgLocks: make(map[string]*sync.Mutex),
	}
}

// AddScanConfig registers a scan config, replacing any previous config
// with the same name. Invalid roots are not an error here; they scan
// as empty directories.
func (e *Engine) AddScanConfig(cfg registry.ScanConfig) {
	e.reg.Add(cfg)
	e.logger.Debug("registered scan config",
		"name", cfg.Name, "root", cfg.Root, "watch", cfg.Watch)
}

// Registry exposes the registered configs, mainly for status output.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// Store exposes the underlying store, mainly for status output.
func (e *Engine) Store() *store.Store {
	return e.store
}

// SyncConfig reconciles one config's cache table with the filesystem
// and returns the mutation counts. Fails only for an unknown name.
func (e *Engine) SyncConfig(ctx context.Context, name string) (*SyncStats, error) {
	cfg, ok := e.reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConfigNotFound, name)
	}

	lock := e.configLock(name)
	lock.Lock()
	defer lock.Unlock()

	return e.syncLocked(ctx, cfg), nil
}

// SyncAll runs a sync pass for every registered config and returns the
// per-config stats keyed by config name.
func (e *Engine) SyncAll(ctx context.Context) map[string]*SyncStats {
	results := make(map[string]*SyncStats)
	for _, cfg := range e.reg.All() {
		lock := e.configLock(cfg.Name)
		lock.Lock()
		results[cfg.Name] = e.syncLocked(ctx, cfg)
		lock.Unlock()
	}
	return results
}

// syncLocked is the reconciliation pass. The caller holds the config
// lock. It always returns complete stats; store failures are logged
// and the affected mutation is skipped.
func (e *Engine) syncLocked(ctx context.Context, cfg *registry.ScanConfig) *SyncStats {
	stats := &SyncStats{}
	table := cfg.TableName()

	scanned := e.scanner.Scan(cfg)
	current := make(map[string]*record.FileRecord, len(scanned))
	for _, rec := range scanned {
		current[rec.FilePath] = rec
	}

	existing, err := e.store.ListSyncStates(ctx, table)
	if err != nil {
		e.logger.Error("sync aborted: cannot read cache table",
			"config", cfg.Name, "table", table, "error", err)
		return stats
	}

	for path, rec := range current {
		state, found := existing[path]
		switch {
		case !found:
			if e.upsert(ctx, table, rec) {
				stats.Added++
			}
		case state.FileHash != rec.FileHash || state.NeedsRepair:
			if e.upsert(ctx, table, rec) {
				stats.Updated++
			}
		default:
			stats.Unchanged++
		}
	}

	for path := range existing {
		if _, still := current[path]; still {
			continue
		}
		if err := e.store.DeleteRecord(ctx, table, path); err != nil {
			e.logger.Error("failed to delete stale record",
				"config", cfg.Name, "path", path, "error", err)
			continue
		}
		stats.Deleted++
	}

	e.logger.Info("sync complete",
		"config", cfg.Name, "table", table,
		"added", stats.Added, "updated", stats.Updated,
		"deleted", stats.Deleted, "unchanged", stats.Unchanged)
	return stats
}

func (e *Engine) upsert(ctx context.Context, table string, rec *record.FileRecord) bool {
	if err := e.store.UpsertRecord(ctx, table, rec); err != nil {
		e.logger.Error("failed to write record",
			"table", table, "path", rec.FilePath, "error", err)
		return false
	}
	return true
}

// GetCachedData returns the cached records for a config, optionally
// narrowed by filters (ANDed across keys; see store.QueryRecords for
// the value forms). Fails only for an unknown name; store failures
// yield an empty slice.
func (e *Engine) GetCachedData(ctx context.Context, name string, filters map[string]any) ([]*record.FileRecord, error) {
	cfg, ok := e.reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConfigNotFound, name)
	}

	records, err := e.store.QueryRecords(ctx, cfg.TableName(), filters)
	if err != nil {
		e.logger.Error("cache query failed", "config", name, "error", err)
		return []*record.FileRecord{}, nil
	}
	if records == nil {
		records = []*record.FileRecord{}
	}
	return records, nil
}

// GetFileByPath returns the single cached record for the given
// file_path, or nil if no such record exists.
func (e *Engine) GetFileByPath(ctx context.Context, name, filePath string) (*record.FileRecord, error) {
	cfg, ok := e.reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConfigNotFound, name)
	}

	rec, err := e.store.GetRecord(ctx, cfg.TableName(), filePath)
	if err != nil {
		e.logger.Error("cache lookup failed",
			"config", name, "path", filePath, "error", err)
		return nil, nil
	}
	return rec, nil
}

// CacheDataToTable upserts a free-form document into a named table
// without requiring a registered scan config. Returns false on any
// store failure.
func (e *Engine) CacheDataToTable(ctx context.Context, table, key string, doc map[string]any) bool {
	if err := e.store.UpsertDocument(ctx, table, key, doc); err != nil {
		e.logger.Error("failed to cache document",
			"table", table, "key", key, "error", err)
		return false
	}
	return true
}

// RemoveDataFromTable deletes the document under key from a named
// table. Returns false on any store failure.
func (e *Engine) RemoveDataFromTable(ctx context.Context, table, key string) bool {
	if err := e.store.DeleteRecord(ctx, table, key); err != nil {
		e.logger.Error("failed to remove document",
			"table", table, "key", key, "error", err)
		return false
	}
	return true
}

// GetCachedDataByTable returns every document in a named table.
// Store failures yield an empty slice.
func (e *Engine) GetCachedDataByTable(ctx context.Context, table string) []map[string]any {
	docs, err := e.store.ListDocuments(ctx, table)
	if err != nil {
		e.logger.Error("failed to list table", "table", table, "error", err)
		return []map[string]any{}
	}
	if docs == nil {
		docs = []map[string]any{}
	}
	return docs
}

// Close stops any active watch session and releases the store.
func (e *Engine) Close() error {
	e.StopWatching()
	return e.store.Close()
}

func (e *Engine) configLock(name string) *sync.Mutex {
	e.cfgLocksMu.Lock()
	defer e.cfgLocksMu.Unlock()

	lock, ok := e.cfgLocks[name]
	if !ok {
		lock = &sync.Mutex{}
		e.cfgLocks[name] = lock
	}
	return lock
}
