package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gadgetcloud/portal/internal/identity"
)

// UserStatus is the account state of a managed user.
type UserStatus string

const (
	StatusActive    UserStatus = "active"
	StatusInactive  UserStatus = "inactive"
	StatusSuspended UserStatus = "suspended"
)

// Label returns a display string for the status.
func (s UserStatus) Label() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusInactive:
		return "Inactive"
	case StatusSuspended:
		return "Suspended"
	default:
		return "Unknown"
	}
}

// ManagedUser is a user as seen by the admin API.
type ManagedUser struct {
	identity.Identity
	Status          UserStatus    `json:"status"`
	PreviousRole    identity.Role `json:"previousRole,omitempty"`
	RoleChangedAt   *time.Time    `json:"roleChangedAt,omitempty"`
	RoleChangedBy   string        `json:"roleChangedBy,omitempty"`
	StatusChangedAt *time.Time    `json:"statusChangedAt,omitempty"`
	StatusChangedBy string        `json:"statusChangedBy,omitempty"`
	AuditHistory    []AuditLog    `json:"auditHistory,omitempty"`
}

// UserList is a page of managed users.
type UserList struct {
	Users   []ManagedUser `json:"users"`
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
	HasMore bool          `json:"hasMore"`
}

// UserStatistics feeds the admin dashboard.
type UserStatistics struct {
	Total         int                   `json:"total"`
	ByRole        map[identity.Role]int `json:"byRole"`
	ByStatus      map[UserStatus]int    `json:"byStatus"`
	RecentSignups int                   `json:"recentSignups"`
}

// UserQuery filters ListUsers. Zero values are omitted.
type UserQuery struct {
	Limit     int
	Offset    int
	Role      identity.Role
	Status    UserStatus
	Search    string
	SortBy    string
	SortOrder string
}

func (q UserQuery) values() url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Role != "" {
		v.Set("role", q.Role.String())
	}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.SortBy != "" {
		v.Set("sort_by", q.SortBy)
	}
	if q.SortOrder == "asc" || q.SortOrder == "desc" {
		v.Set("sort_order", q.SortOrder)
	}
	return v
}

// ChangeRoleRequest is the body of a role change.
type ChangeRoleRequest struct {
	NewRole identity.Role `json:"newRole"`
	Reason  string        `json:"reason"`
}

type statusChangeRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ListUsers returns a filtered page of users.
func (c *Client) ListUsers(ctx context.Context, q UserQuery) (*UserList, error) {
	var out UserList
	if err := c.do(ctx, http.MethodGet, "/admin/users", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUser returns one user.
func (c *Client) GetUser(ctx context.Context, id string) (*ManagedUser, error) {
	var out ManagedUser
	if err := c.do(ctx, http.MethodGet, "/admin/users/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UserStatistics returns aggregate user counts.
func (c *Client) UserStatistics(ctx context.Context) (*UserStatistics, error) {
	var out UserStatistics
	if err := c.do(ctx, http.MethodGet, "/admin/users/statistics", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChangeUserRole moves a user to another role.
func (c *Client) ChangeUserRole(ctx context.Context, id string, req ChangeRoleRequest) (*ManagedUser, error) {
	var out ManagedUser
	if err := c.do(ctx, http.MethodPut, "/admin/users/"+url.PathEscape(id)+"/role", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeactivateUser disables an account.
func (c *Client) DeactivateUser(ctx context.Context, id, reason string) (*ManagedUser, error) {
	var out ManagedUser
	if err := c.do(ctx, http.MethodPut, "/admin/users/"+url.PathEscape(id)+"/deactivate", nil, statusChangeRequest{Reason: reason}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReactivateUser re-enables an account.
func (c *Client) ReactivateUser(ctx context.Context, id, reason string) (*ManagedUser, error) {
	var out ManagedUser
	if err := c.do(ctx, http.MethodPut, "/admin/users/"+url.PathEscape(id)+"/reactivate", nil, statusChangeRequest{Reason: reason}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
