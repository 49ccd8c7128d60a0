// Package session owns the authenticated identity of one portal client and
// keeps it in sync with persisted storage and the permission cache.
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gadgetcloud/portal/internal/backend"
	"github.com/gadgetcloud/portal/internal/identity"
)

// LoginRoute is the entry point unauthenticated clients are sent to.
const LoginRoute = "/login"

var (
	// ErrMalformedResponse is returned when login/signup succeeds without a
	// usable token or identity.
	ErrMalformedResponse = errors.New("session: malformed auth response")
	// ErrCorruptSnapshot marks persisted state that cannot be decoded.
	ErrCorruptSnapshot = errors.New("session: corrupt snapshot")
	// ErrIdentityMismatch is returned when an update targets another user.
	ErrIdentityMismatch = errors.New("session: identity mismatch")
)

// Authenticator is the subset of the backend the store talks to.
type Authenticator interface {
	Login(ctx context.Context, creds backend.Credentials) (*backend.AuthResponse, error)
	Signup(ctx context.Context, reg backend.Registration) (*backend.AuthResponse, error)
	Logout(ctx context.Context, token string) error
}

// Permissions is driven by the store's lifecycle. *permission.Loader
// satisfies it.
type Permissions interface {
	Start(role identity.Role)
	Clear()
}

// Navigator moves the client to route.
type Navigator func(route string)

// Listener receives the identity after every change, nil when signed out.
// It runs synchronously on the goroutine that changed the store.
type Listener func(current *identity.Identity)

// Store is the single source of truth for who is logged in.
type Store struct {
	auth          Authenticator
	persist       Persister
	perms         Permissions
	logger        *slog.Logger
	navigate      Navigator
	logoutTimeout time.Duration

	publishMu sync.Mutex

	mu      sync.RWMutex
	current *identity.Identity
	token   string

	subsMu    sync.Mutex
	subs      map[int]Listener
	nextSubID int

	background sync.WaitGroup
}

// Option customises a Store.
type Option func(*Store)

// WithNavigator installs the callback invoked after logout.
func WithNavigator(n Navigator) Option {
	return func(s *Store) { s.navigate = n }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLogoutTimeout bounds the best-effort backend logout notification.
func WithLogoutTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.logoutTimeout = d
		}
	}
}

// NewStore constructs an unauthenticated store.
func NewStore(auth Authenticator, persist Persister, perms Permissions, opts ...Option) *Store {
	s := &Store{
		auth:          auth,
		persist:       persist,
		perms:         perms,
		logger:        slog.Default(),
		logoutTimeout: 5 * time.Second,
		subs:          make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads persisted state without contacting the backend. A missing
// or malformed snapshot leaves the store unauthenticated.
func (s *Store) Restore(ctx context.Context) error {
	snap, err := s.persist.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrCorruptSnapshot) {
			s.logger.Warn("discard corrupt session snapshot", slog.Any("error", err))
			if clearErr := s.persist.Clear(ctx); clearErr != nil {
				s.logger.Warn("clear corrupt session snapshot", slog.Any("error", clearErr))
			}
			return nil
		}
		return err
	}
	if snap == nil {
		return nil
	}
	if !snap.wellFormed() {
		s.logger.Warn("discard incomplete session snapshot")
		if err := s.persist.Clear(ctx); err != nil {
			s.logger.Warn("clear incomplete session snapshot", slog.Any("error", err))
		}
		return nil
	}
	s.apply(snap.Token, snap.Identity)
	s.startPermissions(snap.Identity.Role)
	return nil
}

// Login authenticates with the backend. Backend errors are returned
// unchanged and leave the store untouched.
func (s *Store) Login(ctx context.Context, creds backend.Credentials) (*identity.Identity, error) {
	resp, err := s.auth.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	return s.establish(ctx, resp)
}

// Signup creates an account and signs it in.
func (s *Store) Signup(ctx context.Context, reg backend.Registration) (*identity.Identity, error) {
	resp, err := s.auth.Signup(ctx, reg)
	if err != nil {
		return nil, err
	}
	return s.establish(ctx, resp)
}

func (s *Store) establish(ctx context.Context, resp *backend.AuthResponse) (*identity.Identity, error) {
	if resp == nil || resp.AccessToken == "" || !resp.User.Valid() {
		return nil, ErrMalformedResponse
	}
	ident := resp.User.Clone()
	if err := s.persist.Save(ctx, Snapshot{Token: resp.AccessToken, Identity: ident}); err != nil {
		// the session still works in memory, it just will not survive a restart
		s.logger.Error("persist session", slog.Any("error", err))
	}
	s.apply(resp.AccessToken, ident)
	s.startPermissions(ident.Role)
	return ident.Clone(), nil
}

// Logout tears the session down locally and notifies the backend in the
// background. Local teardown never depends on the notification.
func (s *Store) Logout(ctx context.Context) {
	token := s.Token()
	if token != "" && s.auth != nil {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			notifyCtx, cancel := context.WithTimeout(context.Background(), s.logoutTimeout)
			defer cancel()
			if err := s.auth.Logout(notifyCtx, token); err != nil {
				s.logger.Warn("backend logout", slog.Any("error", err))
			}
		}()
	}
	s.teardown(ctx)
	if s.navigate != nil {
		s.navigate(LoginRoute)
	}
}

// Invalidate drops a session whose credential the backend rejected. The
// backend is not notified.
func (s *Store) Invalidate(ctx context.Context) {
	if !s.IsAuthenticated() {
		return
	}
	s.teardown(ctx)
	if s.navigate != nil {
		s.navigate(LoginRoute)
	}
}

func (s *Store) teardown(ctx context.Context) {
	if err := s.persist.Clear(ctx); err != nil {
		s.logger.Error("clear persisted session", slog.Any("error", err))
	}
	// subscribers told about the sign-out must already see an empty cache
	if s.perms != nil {
		s.perms.Clear()
	}
	s.apply("", nil)
}

// Update replaces the identity after a profile update or role change made
// through the backend. A role change reloads permissions.
func (s *Store) Update(ctx context.Context, ident *identity.Identity) error {
	if !ident.Valid() {
		return ErrMalformedResponse
	}
	s.mu.RLock()
	current, token := s.current, s.token
	s.mu.RUnlock()
	if current == nil || current.ID != ident.ID {
		return ErrIdentityMismatch
	}
	next := ident.Clone()
	if err := s.persist.Save(ctx, Snapshot{Token: token, Identity: next}); err != nil {
		return err
	}
	s.apply(token, next)
	if next.Role != current.Role {
		s.startPermissions(next.Role)
	}
	return nil
}

func (s *Store) startPermissions(role identity.Role) {
	if s.perms != nil {
		s.perms.Start(role)
	}
}

// apply swaps state and pushes the new identity to every subscriber before
// returning.
func (s *Store) apply(token string, ident *identity.Identity) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	s.token = token
	s.current = ident
	s.mu.Unlock()

	s.subsMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.subs[id])
	}
	s.subsMu.Unlock()

	for _, fn := range listeners {
		fn(ident.Clone())
	}
}

// Subscribe registers fn and returns a function removing it.
func (s *Store) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

// Identity returns a copy of the current identity or nil.
func (s *Store) Identity() *identity.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Token returns the bearer credential or "".
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// IsAuthenticated reports whether an identity is held.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

// CurrentRole returns the identity's role, or "" when signed out.
func (s *Store) CurrentRole() identity.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.Role
}

// HasRole reports whether the current role is one of roles.
func (s *Store) HasRole(roles ...identity.Role) bool {
	role := s.CurrentRole()
	return role != "" && role.In(roles)
}

// Wait blocks until background logout notifications have finished.
func (s *Store) Wait() {
	s.background.Wait()
}
