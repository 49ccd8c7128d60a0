// Package workspace binds the per-browser state of the portal: one session
// store, permission cache and loader for every cookie session.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/gadgetcloud/portal/internal/backend"
	"github.com/gadgetcloud/portal/internal/gate"
	"github.com/gadgetcloud/portal/internal/guard"
	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/navigation"
	"github.com/gadgetcloud/portal/internal/permission"
	"github.com/gadgetcloud/portal/internal/session"
)

// ErrNoID is returned for an empty workspace id.
var ErrNoID = errors.New("workspace: empty id")

// Workspace is the state of one browser session.
type Workspace struct {
	ID     string
	Store  *session.Store
	Cache  *permission.Cache
	Loader *permission.Loader
	// Client carries the workspace's bearer token on every request.
	Client *backend.Client
	// AdminPanel tracks whether any admin area is reachable and flips as
	// the cache loads or clears.
	AdminPanel *gate.Gate

	mu       sync.Mutex
	redirect string
}

// IsAuthenticated implements guard.Navigator.
func (w *Workspace) IsAuthenticated() bool { return w.Store.IsAuthenticated() }

// CurrentRole implements guard.Navigator.
func (w *Workspace) CurrentRole() identity.Role { return w.Store.CurrentRole() }

// Evaluator returns an evaluator over the workspace cache.
func (w *Workspace) Evaluator() permission.Evaluator {
	return permission.NewEvaluator(w.Cache)
}

// RetryPermissions reloads the permission set if the last load failed.
func (w *Workspace) RetryPermissions(ctx context.Context) {
	if role := w.Store.CurrentRole(); role != "" {
		w.Loader.Retry(ctx, role)
	}
}

// Navigation returns the filtered menu for the signed-in role.
func (w *Workspace) Navigation() (navigation.Menu, bool) {
	return navigation.NewResolver(w.Evaluator()).Visible(w.Store.CurrentRole())
}

// TakeRedirect returns and forgets the last route the store navigated to.
func (w *Workspace) TakeRedirect() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	route := w.redirect
	w.redirect = ""
	return route
}

func (w *Workspace) navigate(route string) {
	w.mu.Lock()
	w.redirect = route
	w.mu.Unlock()
}

// Wait blocks until background permission loads and logout notifications
// have finished.
func (w *Workspace) Wait() {
	w.Loader.Wait()
	w.Store.Wait()
}

var _ guard.Navigator = (*Workspace)(nil)

// AdminPanelRequirement is met when users or audit logs are viewable.
var AdminPanelRequirement = permission.RequireAny(permission.CheckViewUsers, permission.CheckViewAuditLogs)

// Config parameterises a Registry.
type Config struct {
	Backend *backend.Client
	// Redis persists snapshots. Nil keeps them in memory.
	Redis       *redis.Client
	KeyPrefix   string
	SnapshotTTL time.Duration
	Size        int
	IdleTTL     time.Duration
	LoadTimeout time.Duration
	Observer    permission.LoadObserver
	Logger      *slog.Logger
}

// Registry keeps live workspaces in a bounded LRU. An evicted workspace is
// rebuilt from its persisted snapshot on the next request.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	// restores builds each id once; other ids never wait on it
	restores singleflight.Group
	cache    *expirable.LRU[string, *Workspace]
}

// NewRegistry constructs a Registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "portal:workspace:"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{cfg: cfg, logger: logger}
	r.cache = expirable.NewLRU[string, *Workspace](cfg.Size, r.evicted, cfg.IdleTTL)
	return r
}

// Get returns the workspace for id, restoring it from persisted state when
// it is not live.
func (r *Registry) Get(ctx context.Context, id string) (*Workspace, error) {
	if id == "" {
		return nil, ErrNoID
	}
	if ws, ok := r.cache.Get(id); ok {
		return ws, nil
	}
	v, err, _ := r.restores.Do(id, func() (any, error) {
		if ws, ok := r.cache.Get(id); ok {
			return ws, nil
		}
		ws := r.build(id)
		if err := ws.Store.Restore(ctx); err != nil {
			return nil, fmt.Errorf("restore workspace: %w", err)
		}
		r.cache.Add(id, ws)
		return ws, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Workspace), nil
}

// Peek returns a live workspace without restoring.
func (r *Registry) Peek(id string) (*Workspace, bool) {
	return r.cache.Peek(id)
}

// Len reports the number of live workspaces.
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Wait blocks until every live workspace has finished its background work.
func (r *Registry) Wait() {
	for _, ws := range r.cache.Values() {
		ws.Wait()
	}
}

// Drop forgets the live workspace for id. Persisted state is kept.
func (r *Registry) Drop(id string) {
	r.cache.Remove(id)
}

func (r *Registry) build(id string) *Workspace {
	logger := r.logger.With(slog.String("workspace", shortID(id)))
	ws := &Workspace{ID: id, Cache: permission.NewCache()}
	ws.Client = r.cfg.Backend.With(backend.WithToken(func() string {
		if ws.Store == nil {
			return ""
		}
		return ws.Store.Token()
	}))

	var loaderOpts []permission.LoaderOption
	if r.cfg.Observer != nil {
		loaderOpts = append(loaderOpts, permission.WithObserver(r.cfg.Observer))
	}
	if r.cfg.LoadTimeout > 0 {
		loaderOpts = append(loaderOpts, permission.WithTimeout(r.cfg.LoadTimeout))
	}
	ws.Loader = permission.NewLoader(ws.Client, ws.Cache, logger, loaderOpts...)
	ws.AdminPanel = gate.New(ws.Cache, AdminPanelRequirement, nil, gate.OnChange(func(visible bool) {
		logger.Debug("admin panel visibility", slog.Bool("visible", visible))
	}))

	var persister session.Persister
	if r.cfg.Redis != nil {
		persister = session.NewRedisPersister(r.cfg.Redis, r.cfg.KeyPrefix+id, r.cfg.SnapshotTTL)
	} else {
		persister = &session.MemoryPersister{}
	}
	ws.Store = session.NewStore(ws.Client, persister, ws.Loader,
		session.WithLogger(logger),
		session.WithNavigator(ws.navigate))
	return ws
}

func (r *Registry) evicted(id string, ws *Workspace) {
	ws.AdminPanel.Close()
	r.logger.Debug("workspace evicted", slog.String("workspace", shortID(id)))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
