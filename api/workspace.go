package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"todo-api/notify"
	"todo-api/session"
	"todo-api/tasksync"
	"todo-api/view"
)

// Workspace is the per-user state behind the dashboard: the synchronized task
// collection, the view slots and the toast tray.
type Workspace struct {
	Tasks *tasksync.Sync
	View  *view.State
	Tray  *notify.Tray

	lastUsed time.Time
	// streams counts open notice streams; a streaming workspace is never idle.
	streams atomic.Int32

	loadMu sync.Mutex
	loaded bool
}

// ensureLoaded runs the initial load once. A failed load is retried by the
// next request.
func (w *Workspace) ensureLoaded(ctx context.Context) error {
	w.loadMu.Lock()
	defer w.loadMu.Unlock()
	if w.loaded {
		return nil
	}
	if err := w.Tasks.Load(ctx); err != nil {
		return err
	}
	w.loaded = true
	return nil
}

// reload replaces the collection with a fresh load.
func (w *Workspace) reload(ctx context.Context) error {
	w.loadMu.Lock()
	defer w.loadMu.Unlock()
	if err := w.Tasks.Load(ctx); err != nil {
		return err
	}
	w.loaded = true
	return nil
}

// RegistryConfig configures workspace construction.
type RegistryConfig struct {
	Table    string
	ToastTTL time.Duration
	// Reporters receive every notice of every workspace, next to its tray.
	Reporters []tasksync.Reporter
}

// Registry hands out one workspace per user.
type Registry struct {
	store tasksync.Store
	cfg   RegistryConfig

	now func() time.Time

	mu     sync.Mutex
	spaces map[string]*Workspace
}

// NewRegistry creates a registry over store.
func NewRegistry(store tasksync.Store, cfg RegistryConfig) *Registry {
	if store == nil {
		panic("api.NewRegistry: store is nil")
	}
	if cfg.ToastTTL <= 0 {
		cfg.ToastTTL = notify.DefaultTTL
	}
	return &Registry{store: store, cfg: cfg, now: time.Now, spaces: map[string]*Workspace{}}
}

// Workspace returns the workspace of sess, creating it on first use.
func (r *Registry) Workspace(sess session.Session) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if ws, ok := r.spaces[sess.UserID()]; ok {
		ws.lastUsed = now
		return ws
	}
	tray := notify.NewTray(r.cfg.ToastTTL)
	reporters := append(notify.Multi{tray}, r.cfg.Reporters...)
	ws := &Workspace{
		Tasks:    tasksync.New(r.store, sess, tasksync.WithTable(r.cfg.Table), tasksync.WithReporter(reporters)),
		View:     view.NewState(),
		Tray:     tray,
		lastUsed: now,
	}
	r.spaces[sess.UserID()] = ws
	return ws
}

// Len returns the number of live workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spaces)
}

// Sweep drops workspaces unused for longer than idle and returns how many
// were dropped. A dropped user gets a fresh workspace, loaded again, on the
// next request.
func (r *Registry) Sweep(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-idle)
	dropped := 0
	for id, ws := range r.spaces {
		if ws.lastUsed.Before(cutoff) && ws.streams.Load() == 0 {
			ws.Tray.Clear()
			delete(r.spaces, id)
			dropped++
		}
	}
	return dropped
}

// SweepEvery runs Sweep on a ticker until ctx is done.
func (r *Registry) SweepEvery(ctx context.Context, interval, idle time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(idle); n > 0 && logger != nil {
				logger.WithFields(log.Fields{"dropped": n, "idle": idle}).Debug("idle workspaces evicted")
			}
		}
	}
}
