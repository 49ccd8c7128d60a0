package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gadgetcloud/portal/internal/identity"
)

func TestBearerAttachedExceptLoginAndSignup(t *testing.T) {
	seen := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen[r.URL.Path] = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/auth/login", "/auth/signup":
			_ = json.NewEncoder(w).Encode(AuthResponse{
				AccessToken: "tok",
				TokenType:   "bearer",
				User:        &identity.Identity{ID: "u1", Email: "a@b.com", FirstName: "A", Role: identity.RoleCustomer},
			})
		case "/admin/permissions/customer":
			_, _ = w.Write([]byte(`{"role":"customer","description":"","resources":{"items":{"resource":"items","actions":["view"]}}}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, WithToken(func() string { return "secret" }))
	ctx := context.Background()

	resp, err := client.Login(ctx, Credentials{Email: "a@b.com", Password: "validpass"})
	require.NoError(t, err)
	assert.Equal(t, identity.RoleCustomer, resp.User.Role)
	_, err = client.Signup(ctx, Registration{Email: "a@b.com", Password: "validpass", FirstName: "A"})
	require.NoError(t, err)
	require.NoError(t, client.Logout(ctx, ""))
	set, err := client.RolePermissions(ctx, identity.RoleCustomer)
	require.NoError(t, err)
	assert.True(t, set.Allows("items", "view"))

	assert.Empty(t, seen["/auth/login"])
	assert.Empty(t, seen["/auth/signup"])
	assert.Equal(t, "Bearer secret", seen["/auth/logout"])

	require.NoError(t, client.Logout(ctx, "explicit"))
	assert.Equal(t, "Bearer explicit", seen["/auth/logout"], "an explicit token wins over the token source")
	assert.Equal(t, "Bearer secret", seen["/admin/permissions/customer"])
}

func TestNoBearerWithoutToken(t *testing.T) {
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, WithToken(func() string { return "" }))
	require.NoError(t, client.Logout(context.Background(), ""))
	assert.Empty(t, header)
}

func TestErrorsCarryBackendDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Invalid email or password"}`))
		case "/admin/users":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"title":"Forbidden","status":403}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()
	client := NewClient(srv.URL, time.Second)
	ctx := context.Background()

	_, err := client.Login(ctx, Credentials{Email: "a@b.com", Password: "nope"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, "Invalid email or password", err.Error())
	assert.Equal(t, "Invalid email or password", Detail(err, "fallback"))

	_, err = client.ListUsers(ctx, UserQuery{})
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, "Forbidden", Detail(err, "fallback"))

	err = client.Ping(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "fallback", Detail(errors.New("dial tcp"), "fallback"))
}

func TestQueryEncoding(t *testing.T) {
	assert.Equal(t, "limit=10&role=support&search=ann&sort_order=desc&status=active",
		UserQuery{Limit: 10, Role: identity.RoleSupport, Status: StatusActive, Search: "ann", SortOrder: "desc"}.values().Encode())
	assert.Equal(t, "", UserQuery{SortOrder: "sideways"}.values().Encode())
	assert.Equal(t, "actor_id=u1&event_type=user.role_changed&offset=5",
		AuditQuery{Offset: 5, EventType: EventUserRoleChanged, ActorID: "u1"}.values().Encode())
}

func TestAuditLogPresentation(t *testing.T) {
	entry := AuditLog{Changes: map[string]Change{
		"status": {Old: "active", New: "inactive"},
		"role":   {Old: "customer", New: "partner"},
	}}
	assert.Equal(t, "role: customer → partner, status: active → inactive", entry.ChangeSummary())
	assert.Equal(t, "Role Changed", EventUserRoleChanged.Label())
	assert.Equal(t, "custom.event", AuditEventType("custom.event").Label())
	assert.Equal(t, "Suspended", StatusSuspended.Label())
}
