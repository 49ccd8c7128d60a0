package mockapi

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gadgetcloud/portal/internal/backend"
	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/permission"
	"github.com/gadgetcloud/portal/internal/platform/httpx"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	recentSignupAge  = 7 * 24 * time.Hour
)

type account struct {
	user         backend.ManagedUser
	passwordHash string
}

// Actor identifies the caller of an admin operation.
type Actor struct {
	ID    string
	Email string
	Role  identity.Role
}

// Store is the in-memory state of the mock backend.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*account
	byEmail  map[string]string
	roles    map[identity.Role]*permission.RoleSet
	audit    []backend.AuditLog
	now      func() time.Time
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore builds a store from seed.
func NewStore(seed *Seed, opts ...StoreOption) (*Store, error) {
	s := &Store{
		accounts: make(map[string]*account),
		byEmail:  make(map[string]string),
		roles:    seed.roleSets(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, u := range seed.Users {
		hash, err := hashPassword(u.Password)
		if err != nil {
			return nil, err
		}
		role, _ := identity.ParseRole(u.Role)
		s.insert(identity.Identity{
			ID:        uuid.NewString(),
			Email:     normaliseEmail(u.Email),
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Role:      role,
			CreatedAt: s.now().UTC(),
		}, hash)
	}
	return s, nil
}

func (s *Store) insert(id identity.Identity, hash string) *account {
	acc := &account{
		user:         backend.ManagedUser{Identity: id, Status: backend.StatusActive},
		passwordHash: hash,
	}
	s.accounts[id.ID] = acc
	s.byEmail[id.Email] = id.ID
	return acc
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticate verifies credentials. Every attempt is audited.
func (s *Store) Authenticate(email, password string) (identity.Identity, error) {
	email = normaliseEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.lookupEmail(email)
	if !ok || bcrypt.CompareHashAndPassword([]byte(acc.passwordHash), []byte(password)) != nil {
		s.record(backend.AuditLog{
			EventType:  backend.EventLoginFailed,
			ActorEmail: email,
			Reason:     "invalid credentials",
		})
		return identity.Identity{}, httpx.Errorf(httpx.ErrUnauthorized, "Incorrect email or password")
	}
	if acc.user.Status != backend.StatusActive {
		s.record(backend.AuditLog{
			EventType:  backend.EventLoginFailed,
			ActorID:    acc.user.ID,
			ActorEmail: email,
			Reason:     "account " + string(acc.user.Status),
		})
		return identity.Identity{}, httpx.Errorf(httpx.ErrForbidden, "Account is deactivated")
	}
	s.record(backend.AuditLog{
		EventType:  backend.EventLoginSuccess,
		ActorID:    acc.user.ID,
		ActorEmail: email,
	})
	return acc.user.Identity, nil
}

// Register creates a customer account.
func (s *Store) Register(reg backend.Registration) (identity.Identity, error) {
	email := normaliseEmail(reg.Email)
	hash, err := hashPassword(reg.Password)
	if err != nil {
		return identity.Identity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return identity.Identity{}, httpx.Errorf(httpx.ErrDuplicate, "Email already registered")
	}
	acc := s.insert(identity.Identity{
		ID:        uuid.NewString(),
		Email:     email,
		FirstName: strings.TrimSpace(reg.FirstName),
		LastName:  strings.TrimSpace(reg.LastName),
		Role:      identity.RoleCustomer,
		CreatedAt: s.now().UTC(),
	}, hash)
	s.record(backend.AuditLog{
		EventType:   backend.EventUserCreated,
		ActorID:     acc.user.ID,
		ActorEmail:  email,
		TargetID:    acc.user.ID,
		TargetEmail: email,
		Metadata:    map[string]any{"source": "signup"},
	})
	return acc.user.Identity, nil
}

// Active reports whether id names an active account, returning its current
// identity.
func (s *Store) Active(id string) (identity.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok || acc.user.Status != backend.StatusActive {
		return identity.Identity{}, false
	}
	return acc.user.Identity, true
}

// Permissions returns a copy of the permission set of role.
func (s *Store) Permissions(role identity.Role) (*permission.RoleSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.roles[role]
	if !ok {
		return nil, false
	}
	return set.Clone(), true
}

// Allows reports whether role may perform action on resource.
func (s *Store) Allows(role identity.Role, resource, action string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles[role].Allows(resource, action)
}

// RecordDenied audits a rejected admin request.
func (s *Store) RecordDenied(actor Actor, check permission.Check, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(backend.AuditLog{
		EventType:  backend.EventPermissionDenied,
		ActorID:    actor.ID,
		ActorEmail: actor.Email,
		Metadata: map[string]any{
			"permission": check.String(),
			"path":       path,
			"role":       actor.Role.String(),
		},
	})
}

// ListUsers filters, sorts and pages the accounts.
func (s *Store) ListUsers(q backend.UserQuery) backend.UserList {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(q.Search))
	matched := make([]backend.ManagedUser, 0, len(s.accounts))
	for _, acc := range s.accounts {
		u := acc.user
		if q.Role != "" && u.Role != q.Role {
			continue
		}
		if q.Status != "" && u.Status != q.Status {
			continue
		}
		if search != "" && !matchesSearch(u.Identity, search) {
			continue
		}
		u.AuditHistory = nil
		matched = append(matched, u)
	}
	sortUsers(matched, q.SortBy, q.SortOrder)

	limit := clampLimit(q.Limit)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	total := len(matched)
	page := []backend.ManagedUser{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page = matched[offset:end]
	}
	return backend.UserList{
		Users:   page,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(page) < total,
	}
}

func matchesSearch(id identity.Identity, needle string) bool {
	haystack := strings.ToLower(id.Email + " " + id.FirstName + " " + id.LastName)
	return strings.Contains(haystack, needle)
}

func sortUsers(users []backend.ManagedUser, by, order string) {
	less := func(a, b backend.ManagedUser) bool {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.Email < b.Email
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}
	switch by {
	case "email":
		less = func(a, b backend.ManagedUser) bool { return a.Email < b.Email }
	case "firstName", "first_name":
		less = func(a, b backend.ManagedUser) bool { return a.FirstName < b.FirstName }
	case "role":
		less = func(a, b backend.ManagedUser) bool { return a.Role < b.Role }
	}
	desc := order == "desc" || (order == "" && by == "")
	sort.SliceStable(users, func(i, j int) bool {
		if desc {
			return less(users[j], users[i])
		}
		return less(users[i], users[j])
	})
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}

// User returns one account with its recent audit history.
func (s *Store) User(id string) (backend.ManagedUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return backend.ManagedUser{}, httpx.Errorf(httpx.ErrNotFound, "User not found")
	}
	u := acc.user
	u.AuditHistory = s.history(id, 10, true, true)
	return u, nil
}

// UserStatistics aggregates account counts.
func (s *Store) UserStatistics() backend.UserStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := backend.UserStatistics{
		ByRole:   make(map[identity.Role]int),
		ByStatus: make(map[backend.UserStatus]int),
	}
	cutoff := s.now().Add(-recentSignupAge)
	for _, acc := range s.accounts {
		stats.Total++
		stats.ByRole[acc.user.Role]++
		stats.ByStatus[acc.user.Status]++
		if acc.user.CreatedAt.After(cutoff) {
			stats.RecentSignups++
		}
	}
	return stats
}

// ChangeRole moves id to role on behalf of actor.
func (s *Store) ChangeRole(actor Actor, id string, role identity.Role, reason string) (backend.ManagedUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return backend.ManagedUser{}, httpx.Errorf(httpx.ErrNotFound, "User not found")
	}
	if acc.user.Role == role {
		return backend.ManagedUser{}, httpx.Errorf(httpx.ErrValidation, fmt.Sprintf("User already has role %s", role))
	}
	if id == actor.ID {
		return backend.ManagedUser{}, httpx.Errorf(httpx.ErrValidation, "You cannot change your own role")
	}
	now := s.now().UTC()
	old := acc.user.Role
	acc.user.PreviousRole = old
	acc.user.Role = role
	acc.user.RoleChangedAt = &now
	acc.user.RoleChangedBy = actor.ID
	s.record(backend.AuditLog{
		EventType:   backend.EventUserRoleChanged,
		ActorID:     actor.ID,
		ActorEmail:  actor.Email,
		TargetID:    id,
		TargetEmail: acc.user.Email,
		Changes:     map[string]backend.Change{"role": {Old: old, New: role}},
		Reason:      reason,
	})
	return acc.user, nil
}

// SetStatus deactivates or reactivates id on behalf of actor.
func (s *Store) SetStatus(actor Actor, id string, status backend.UserStatus, reason string) (backend.ManagedUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return backend.ManagedUser{}, httpx.Errorf(httpx.ErrNotFound, "User not found")
	}
	if acc.user.Status == status {
		return backend.ManagedUser{}, httpx.Errorf(httpx.ErrValidation, fmt.Sprintf("User is already %s", status))
	}
	if id == actor.ID && status != backend.StatusActive {
		return backend.ManagedUser{}, httpx.Errorf(httpx.ErrValidation, "You cannot deactivate your own account")
	}
	event := backend.EventUserDeactivated
	if status == backend.StatusActive {
		event = backend.EventUserReactivated
	}
	now := s.now().UTC()
	old := acc.user.Status
	acc.user.Status = status
	acc.user.StatusChangedAt = &now
	acc.user.StatusChangedBy = actor.ID
	s.record(backend.AuditLog{
		EventType:   event,
		ActorID:     actor.ID,
		ActorEmail:  actor.Email,
		TargetID:    id,
		TargetEmail: acc.user.Email,
		Changes:     map[string]backend.Change{"status": {Old: old, New: status}},
		Reason:      reason,
	})
	return acc.user, nil
}

// AuditLogs returns entries matching q, newest first.
func (s *Store) AuditLogs(q backend.AuditQuery) []backend.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := clampLimit(q.Limit)
	skipped := 0
	out := []backend.AuditLog{}
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.audit[i]
		if q.EventType != "" && entry.EventType != q.EventType {
			continue
		}
		if q.ActorID != "" && entry.ActorID != q.ActorID {
			continue
		}
		if q.TargetID != "" && entry.TargetID != q.TargetID {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		out = append(out, entry)
	}
	return out
}

// UserHistory returns entries where id is actor and/or target.
func (s *Store) UserHistory(id string, limit int, asActor, asTarget bool) []backend.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history(id, clampLimit(limit), asActor, asTarget)
}

func (s *Store) history(id string, limit int, asActor, asTarget bool) []backend.AuditLog {
	out := []backend.AuditLog{}
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.audit[i]
		if (asActor && entry.ActorID == id) || (asTarget && entry.TargetID == id) {
			out = append(out, entry)
		}
	}
	return out
}

// AuditStatistics aggregates audit counts.
func (s *Store) AuditStatistics() backend.AuditStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := backend.AuditStatistics{Total: len(s.audit)}
	for _, entry := range s.audit {
		switch entry.EventType {
		case backend.EventUserRoleChanged:
			stats.RoleChanges++
		case backend.EventUserDeactivated:
			stats.Deactivations++
		case backend.EventUserReactivated:
			stats.Reactivations++
		case backend.EventPermissionDenied:
			stats.PermissionDenials++
		}
	}
	return stats
}

func (s *Store) lookupEmail(email string) (*account, bool) {
	id, ok := s.byEmail[email]
	if !ok {
		return nil, false
	}
	acc, ok := s.accounts[id]
	return acc, ok
}

// record appends entry. Callers hold s.mu for writing.
func (s *Store) record(entry backend.AuditLog) {
	entry.ID = uuid.NewString()
	entry.Timestamp = s.now().UTC()
	s.audit = append(s.audit, entry)
}
