package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// AuditEventType names an audited event.
type AuditEventType string

const (
	EventUserRoleChanged  AuditEventType = "user.role_changed"
	EventUserDeactivated  AuditEventType = "user.deactivated"
	EventUserReactivated  AuditEventType = "user.reactivated"
	EventUserCreated      AuditEventType = "user.created"
	EventUserUpdated      AuditEventType = "user.updated"
	EventUserDeleted      AuditEventType = "user.deleted"
	EventPasswordChanged  AuditEventType = "user.password_changed"
	EventLoginSuccess     AuditEventType = "auth.login_success"
	EventLoginFailed      AuditEventType = "auth.login_failed"
	EventPermissionDenied AuditEventType = "auth.permission_denied"
)

var eventLabels = map[AuditEventType]string{
	EventUserRoleChanged:  "Role Changed",
	EventUserDeactivated:  "User Deactivated",
	EventUserReactivated:  "User Reactivated",
	EventUserCreated:      "User Created",
	EventUserUpdated:      "User Updated",
	EventUserDeleted:      "User Deleted",
	EventPasswordChanged:  "Password Changed",
	EventLoginSuccess:     "Login Success",
	EventLoginFailed:      "Login Failed",
	EventPermissionDenied: "Permission Denied",
}

// AuditEventTypes lists the known event types in display order.
func AuditEventTypes() []AuditEventType {
	return []AuditEventType{
		EventUserRoleChanged,
		EventUserDeactivated,
		EventUserReactivated,
		EventUserCreated,
		EventUserUpdated,
		EventUserDeleted,
		EventPasswordChanged,
		EventLoginSuccess,
		EventLoginFailed,
		EventPermissionDenied,
	}
}

// Label returns the display name of the event, or the raw type when unknown.
func (t AuditEventType) Label() string {
	if label, ok := eventLabels[t]; ok {
		return label
	}
	return string(t)
}

// Change is one field transition recorded by an audit entry.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// AuditLog is a single audit entry.
type AuditLog struct {
	ID          string            `json:"id"`
	EventType   AuditEventType    `json:"eventType"`
	ActorID     string            `json:"actorId"`
	ActorEmail  string            `json:"actorEmail"`
	TargetID    string            `json:"targetId,omitempty"`
	TargetEmail string            `json:"targetEmail,omitempty"`
	Changes     map[string]Change `json:"changes,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// ChangeSummary renders changes as "field: old → new" joined by commas,
// sorted by field name.
func (l AuditLog) ChangeSummary() string {
	if len(l.Changes) == 0 {
		return ""
	}
	fields := make([]string, 0, len(l.Changes))
	for f := range l.Changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		c := l.Changes[f]
		parts = append(parts, fmt.Sprintf("%s: %v → %v", f, c.Old, c.New))
	}
	return strings.Join(parts, ", ")
}

// AuditStatistics feeds the admin dashboard.
type AuditStatistics struct {
	RoleChanges       int `json:"roleChanges"`
	Deactivations     int `json:"deactivations"`
	Reactivations     int `json:"reactivations"`
	PermissionDenials int `json:"permissionDenials"`
	Total             int `json:"total"`
}

// AuditQuery filters AuditLogs. Zero values are omitted.
type AuditQuery struct {
	Limit     int
	Offset    int
	EventType AuditEventType
	ActorID   string
	TargetID  string
}

func (q AuditQuery) values() url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.EventType != "" {
		v.Set("event_type", string(q.EventType))
	}
	if q.ActorID != "" {
		v.Set("actor_id", q.ActorID)
	}
	if q.TargetID != "" {
		v.Set("target_id", q.TargetID)
	}
	return v
}

// HistoryQuery filters UserAuditHistory. Nil booleans are omitted.
type HistoryQuery struct {
	Limit           int
	IncludeAsActor  *bool
	IncludeAsTarget *bool
}

// AuditLogs returns audit entries matching q.
func (c *Client) AuditLogs(ctx context.Context, q AuditQuery) ([]AuditLog, error) {
	var out []AuditLog
	if err := c.do(ctx, http.MethodGet, "/admin/audit-logs", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RecentAuditLogs returns the newest entries.
func (c *Client) RecentAuditLogs(ctx context.Context, limit int) ([]AuditLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []AuditLog
	q := url.Values{"limit": []string{strconv.Itoa(limit)}}
	if err := c.do(ctx, http.MethodGet, "/admin/audit-logs/recent", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UserAuditHistory returns entries where userID is actor and/or target.
func (c *Client) UserAuditHistory(ctx context.Context, userID string, q HistoryQuery) ([]AuditLog, error) {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.IncludeAsActor != nil {
		v.Set("include_as_actor", strconv.FormatBool(*q.IncludeAsActor))
	}
	if q.IncludeAsTarget != nil {
		v.Set("include_as_target", strconv.FormatBool(*q.IncludeAsTarget))
	}
	var out []AuditLog
	if err := c.do(ctx, http.MethodGet, "/admin/audit-logs/user/"+url.PathEscape(userID), v, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AuditStatistics returns aggregate audit counts.
func (c *Client) AuditStatistics(ctx context.Context) (*AuditStatistics, error) {
	var out AuditStatistics
	if err := c.do(ctx, http.MethodGet, "/admin/audit-logs/statistics", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
