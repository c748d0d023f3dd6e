package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/resyncd/resyncd/internal/registry"
	"github.com/resyncd/resyncd/internal/scanner"
	"github.com/resyncd/resyncd/internal/watch"
)

// resyncWorkers is the size of the worker pool draining watch events.
// Workers keep the observer loop unblocked while bounding concurrency.
const resyncWorkers = 4

// resyncQueueSize bounds the pending-resync queue. A full queue
// applies backpressure to the dispatcher rather than dropping events.
const resyncQueueSize = 256

// changeHandler is the per-config event handler of a watch session.
type changeHandler struct {
	cfg   *registry.ScanConfig
	root  string // absolute scan root
	table string
}

// resyncTask is one watch-triggered single-file resync.
type resyncTask struct {
	handler *changeHandler
	path    string
}

// watchSession holds the live observer and its workers. It carries no
// durable state; it exists only while watching is enabled.
type watchSession struct {
	watcher    *watch.Watcher
	handlers   []*changeHandler
	tasks      chan resyncTask
	dispatchWG sync.WaitGroup
	workerWG   sync.WaitGroup
}

// StartWatching attaches a recursive observer to every registered
// config with Watch set and begins live single-file syncing.
//
// Returns false without side effects if watching is already active, if
// no config asks to be watched, or if the observer cannot be set up.
func (e *Engine) StartWatching() bool {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()

	if e.session != nil {
		e.logger.Warn("watch session already running")
		return false
	}

	var handlers []*changeHandler
	for _, cfg := range e.reg.All() {
		if !cfg.Watch {
			continue
		}
		root, err := filepath.Abs(cfg.Root)
		if err != nil {
			e.logger.Warn("skipping unwatchable config",
				"config", cfg.Name, "root", cfg.Root, "error", err)
			continue
		}
		handlers = append(handlers, &changeHandler{
			cfg:   cfg,
			root:  root,
			table: cfg.TableName(),
		})
	}
	if len(handlers) == 0 {
		e.logger.Info("no configs marked for watching")
		return false
	}

	watcher, err := watch.New()
	if err != nil {
		e.logger.Error("failed to create watcher", "error", err)
		return false
	}

	// A config whose root cannot be attached (missing directory, say)
	// is skipped with a warning; the session starts as long as at
	// least one root is watched.
	attached := handlers[:0]
	for _, h := range handlers {
		if err := watcher.AddRoot(h.root); err != nil {
			e.logger.Warn("skipping config with unwatchable root",
				"config", h.cfg.Name, "root", h.root, "error", err)
			continue
		}
		attached = append(attached, h)
	}
	if len(attached) == 0 {
		e.logger.Error("no config root could be watched")
		_ = watcher.Stop()
		return false
	}
	handlers = attached

	if err := watcher.Start(); err != nil {
		e.logger.Error("failed to start watcher", "error", err)
		_ = watcher.Stop()
		return false
	}

	session := &watchSession{
		watcher:  watcher,
		handlers: handlers,
		tasks:    make(chan resyncTask, resyncQueueSize),
	}

	session.workerWG.Add(resyncWorkers)
	for i := 0; i < resyncWorkers; i++ {
		go e.resyncWorker(session)
	}

	session.dispatchWG.Add(1)
	go e.dispatchEvents(session)

	e.session = session
	e.logger.Info("watch session started", "configs", len(handlers))
	return true
}

// StopWatching stops and joins the observer, then drains and awaits
// in-flight resync workers for a deterministic shutdown. Returns false
// if watching is not active.
func (e *Engine) StopWatching() bool {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()

	if e.session == nil {
		return false
	}
	session := e.session
	e.session = nil

	if err := session.watcher.Stop(); err != nil {
		e.logger.Error("error stopping watcher", "error", err)
	}
	session.dispatchWG.Wait()

	close(session.tasks)
	session.workerWG.Wait()

	e.logger.Info("watch session stopped")
	return true
}

// IsWatching reports whether a watch session is active.
func (e *Engine) IsWatching() bool {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()
	return e.session != nil
}

// dispatchEvents routes observer events to the per-config handlers.
// It exits when the watcher's event channel closes.
func (e *Engine) dispatchEvents(session *watchSession) {
	defer session.dispatchWG.Done()

	errs := session.watcher.Errors()
	events := session.watcher.Events()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			for _, h := range session.handlers {
				if h.root != event.Root {
					continue
				}
				e.handleEvent(session, h, event)
			}

		case err, ok := <-errs:
			if !ok {
				return
			}
			e.logger.Warn("watcher error", "error", err)
		}
	}
}

// handleEvent applies one handler's filtering and scheduling rules.
func (e *Engine) handleEvent(session *watchSession, h *changeHandler, event watch.Event) {
	// Directory-level events never map to records.
	if event.IsDir {
		return
	}

	rel, err := filepath.Rel(h.root, event.Path)
	if err != nil {
		return
	}

	switch event.Op {
	case watch.OpCreate, watch.OpModify:
		if !scanner.MatchesAny(h.cfg.Patterns, rel) {
			return
		}
		// Hand off to a worker so the observer loop never blocks on
		// file I/O or store writes.
		session.tasks <- resyncTask{handler: h, path: event.Path}

	case watch.OpDelete:
		// A deleted path can no longer be statted, so the event never
		// says whether it was a file or a directory. Remove the exact
		// record when the name matches a pattern, and always sweep the
		// records that lived under the path as a directory.
		ctx := context.Background()
		recordPath := scanner.RecordPath(h.root, rel)

		if scanner.MatchesAny(h.cfg.Patterns, rel) {
			if err := e.store.DeleteRecord(ctx, h.table, recordPath); err != nil {
				e.logger.Error("failed to remove record for deleted file",
					"config", h.cfg.Name, "path", recordPath, "error", err)
			} else {
				e.logger.Debug("record removed for deleted file",
					"config", h.cfg.Name, "path", recordPath)
			}
		}

		n, err := e.store.DeleteRecordsUnder(ctx, h.table, recordPath)
		if err != nil {
			e.logger.Error("failed to sweep records under deleted directory",
				"config", h.cfg.Name, "path", recordPath, "error", err)
			return
		}
		if n > 0 {
			e.logger.Debug("swept records under deleted directory",
				"config", h.cfg.Name, "path", recordPath, "records", n)
		}
	}
}

// resyncWorker drains the task queue, running single-file resyncs.
func (e *Engine) resyncWorker(session *watchSession) {
	defer session.workerWG.Done()
	for task := range session.tasks {
		e.resyncFile(task.handler, task.path)
	}
}

// resyncFile runs the sync step-3 logic for one file: insert if new,
// rewrite if the hash changed or metadata drifted, otherwise leave the
// record alone. A file deleted between event and worker removes its
// record. Races with a concurrent full sync on the same config are
// serialized by the config lock; across distinct files the last write
// wins, which is the documented eventual-consistency model.
func (e *Engine) resyncFile(h *changeHandler, path string) {
	ctx := context.Background()

	lock := e.configLock(h.cfg.Name)
	lock.Lock()
	defer lock.Unlock()

	rec, ok := e.scanner.ScanFile(h.cfg, path)
	if !ok {
		// Gone already: treat like a delete notification.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if rel, relErr := filepath.Rel(h.root, path); relErr == nil {
				recordPath := scanner.RecordPath(h.root, rel)
				_ = e.store.DeleteRecord(ctx, h.table, recordPath)
			}
		}
		return
	}

	existing, err := e.store.GetRecord(ctx, h.table, rec.FilePath)
	if err != nil {
		e.logger.Error("resync lookup failed",
			"config", h.cfg.Name, "path", rec.FilePath, "error", err)
		return
	}

	if existing != nil && existing.FileHash == rec.FileHash && existing.MetadataComplete() {
		return
	}
	if e.upsert(ctx, h.table, rec) {
		e.logger.Debug("record resynced",
			"config", h.cfg.Name, "path", rec.FilePath)
	}
}
