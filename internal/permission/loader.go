package permission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gadgetcloud/portal/internal/identity"
)

const defaultLoadTimeout = 10 * time.Second

// Fetcher retrieves the permission set of a role from the backend.
type Fetcher interface {
	RolePermissions(ctx context.Context, role identity.Role) (*RoleSet, error)
}

// LoadObserver is notified of every load outcome ("loaded", "failed",
// "stale").
type LoadObserver interface {
	ObservePermissionLoad(role identity.Role, outcome string)
}

// Loader populates a Cache from a Fetcher. Each load is tagged with a
// sequence number so a response superseded by a newer load, Set or Clear
// is discarded.
type Loader struct {
	fetcher  Fetcher
	cache    *Cache
	logger   *slog.Logger
	observer LoadObserver
	timeout  time.Duration

	retries  singleflight.Group
	inflight sync.WaitGroup
}

// LoaderOption customises a Loader.
type LoaderOption func(*Loader)

// WithObserver reports load outcomes to o.
func WithObserver(o LoadObserver) LoaderOption {
	return func(l *Loader) { l.observer = o }
}

// WithTimeout bounds background loads.
func WithTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// NewLoader constructs a Loader.
func NewLoader(fetcher Fetcher, cache *Cache, logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{fetcher: fetcher, cache: cache, logger: logger, timeout: defaultLoadTimeout}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Cache returns the cache the loader populates.
func (l *Loader) Cache() *Cache {
	return l.cache
}

// Load fetches the set for role and replaces the cache on success. On
// failure the cache keeps its contents and the error is returned.
func (l *Loader) Load(ctx context.Context, role identity.Role) (*RoleSet, error) {
	return l.load(ctx, l.cache.begin(), role)
}

// load runs the fetch for a ticket issued by the caller. The ticket fixes
// the load's place in call order, whenever the fetch itself runs.
func (l *Loader) load(ctx context.Context, ticket uint64, role identity.Role) (*RoleSet, error) {
	set, err := l.fetcher.RolePermissions(ctx, role)
	if err != nil {
		if l.cache.fail(ticket) {
			l.observe(role, "failed")
		} else {
			l.observe(role, "stale")
		}
		return nil, err
	}
	if !l.cache.commit(ticket, set) {
		l.observe(role, "stale")
		l.logger.Debug("discard stale permission set", slog.String("role", role.String()))
		return set, nil
	}
	l.observe(role, "loaded")
	return set, nil
}

// Start loads role in the background. The load is ordered against other
// loads, Set and Clear at the time Start is called. Failures are logged as
// warnings and never surface to the caller.
func (l *Loader) Start(role identity.Role) {
	ticket := l.cache.begin()
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if _, err := l.load(ctx, ticket, role); err != nil {
			l.logger.Warn("load permissions", slog.String("role", role.String()), slog.Any("error", err))
		}
	}()
}

// Retry reloads role when the latest load failed. Concurrent retries for
// the same role share one request.
func (l *Loader) Retry(ctx context.Context, role identity.Role) {
	if l.cache.Status() != StatusFailed {
		return
	}
	_, err, _ := l.retries.Do(role.String(), func() (any, error) {
		if l.cache.Status() != StatusFailed {
			return nil, nil
		}
		return l.Load(ctx, role)
	})
	if err != nil {
		l.logger.Warn("retry permissions", slog.String("role", role.String()), slog.Any("error", err))
	}
}

// Clear empties the cache and supersedes any load in flight.
func (l *Loader) Clear() {
	l.cache.Clear()
}

// Wait blocks until every background load started so far has finished.
func (l *Loader) Wait() {
	l.inflight.Wait()
}

func (l *Loader) observe(role identity.Role, outcome string) {
	if l.observer != nil {
		l.observer.ObservePermissionLoad(role, outcome)
	}
}
