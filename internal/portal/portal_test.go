package portal_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gadgetcloud/portal/internal/app"
	"github.com/gadgetcloud/portal/internal/backend"
	"github.com/gadgetcloud/portal/internal/guard"
	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/mockapi"
	"github.com/gadgetcloud/portal/internal/observability"
	"github.com/gadgetcloud/portal/internal/portal"
	"github.com/gadgetcloud/portal/internal/shared"
	"github.com/gadgetcloud/portal/internal/view"
	"github.com/gadgetcloud/portal/internal/workspace"
)

const cookieName = "portal_session"

var csrfMeta = regexp.MustCompile(`<meta name="csrf-token" content="([^"]+)">`)

type env struct {
	t          *testing.T
	portal     *httptest.Server
	api        *mockapi.Store
	workspaces *workspace.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()

	seed, err := mockapi.DefaultSeed()
	require.NoError(t, err)
	store, err := mockapi.NewStore(seed)
	require.NoError(t, err)
	api := httptest.NewServer(mockapi.NewServer(store, mockapi.NewTokens("portal-test-secret-123", time.Hour), nil).Handler("/api"))
	t.Cleanup(api.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	templates, err := view.NewEngine()
	require.NoError(t, err)

	sessions := shared.NewSessionManager(rdb, cookieName, time.Hour, false)
	csrf := shared.NewCSRFManager("portal-test-csrf")
	registry := workspace.NewRegistry(workspace.Config{
		Backend:     backend.NewClient(api.URL+"/api", 5*time.Second),
		Redis:       rdb,
		SnapshotTTL: time.Hour,
		Size:        16,
		Logger:      logger,
	})
	metrics := observability.NewMetrics(registry.Len)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         &app.Config{AppEnv: "test", RateLimit: 1000},
		SessionManager: sessions,
		CSRFManager:    csrf,
		Workspaces:     registry,
		PortalHandler:  portal.NewHandler(logger, templates, sessions, csrf, registry, portal.WithLoginRateLimit(100)),
		Metrics:        metrics,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(registry.Wait)

	return &env{t: t, portal: srv, api: store, workspaces: registry}
}

type browser struct {
	env    *env
	client *http.Client
}

func (e *env) browser() *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(e.t, err)
	return &browser{env: e, client: &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (b *browser) get(path string) (*http.Response, string) {
	b.env.t.Helper()
	resp, err := b.client.Get(b.env.portal.URL + path)
	require.NoError(b.env.t, err)
	return resp, readBody(b.env.t, resp)
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	b.env.t.Helper()
	resp, err := b.client.PostForm(b.env.portal.URL+path, form)
	require.NoError(b.env.t, err)
	return resp, readBody(b.env.t, resp)
}

// csrf renders page to obtain the session's token.
func (b *browser) csrf(page string) string {
	b.env.t.Helper()
	_, body := b.get(page)
	m := csrfMeta.FindStringSubmatch(body)
	require.Len(b.env.t, m, 2, "csrf meta tag missing")
	return m[1]
}

// login signs in and waits for the permission set to arrive.
func (b *browser) login(email, password, returnURL string) *http.Response {
	b.env.t.Helper()
	form := url.Values{
		"email":              {email},
		"password":           {password},
		shared.CSRFFormField: {b.csrf("/login")},
	}
	if returnURL != "" {
		form.Set(guard.ReturnParam, returnURL)
	}
	resp, _ := b.post("/login", form)
	b.env.workspaces.Wait()
	return resp
}

func (b *browser) sessionID() string {
	u, _ := url.Parse(b.env.portal.URL)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == cookieName {
			return c.Value
		}
	}
	return ""
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

func (e *env) userID(email string) string {
	list := e.api.ListUsers(backend.UserQuery{Search: email})
	require.Len(e.t, list.Users, 1)
	return list.Users[0].ID
}

func TestAnonymousVisitorIsSentToLoginWithReturnURL(t *testing.T) {
	b := newEnv(t).browser()

	resp, _ := b.get("/admin/users?page=2")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, guard.LoginLocation("/admin/users?page=2"), resp.Header.Get("Location"))

	resp, _ = b.get("/")
	assert.Equal(t, guard.LoginRoute, resp.Header.Get("Location"))
}

func TestLoginHonoursReturnURLAndRendersGatedActions(t *testing.T) {
	b := newEnv(t).browser()

	resp := b.login("admin@gadgetcloud.dev", "admin-pass-123", "/admin/users")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/admin/users", resp.Header.Get("Location"))

	resp, body := b.get("/admin/users")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "customer@gadgetcloud.dev")
	assert.Contains(t, body, "Change role")
	assert.Contains(t, body, "Deactivate")
	assert.Contains(t, body, "Welcome back, Ada Admin.")
}

func TestLoginWithoutReturnURLLandsOnRoleDashboard(t *testing.T) {
	cases := map[string]struct {
		email, password string
		role            identity.Role
	}{
		"customer": {"customer@gadgetcloud.dev", "customer-pass-123", identity.RoleCustomer},
		"partner":  {"partner@gadgetcloud.dev", "partner-pass-123", identity.RolePartner},
		"support":  {"support@gadgetcloud.dev", "support-pass-123", identity.RoleSupport},
		"admin":    {"admin@gadgetcloud.dev", "admin-pass-123", identity.RoleAdmin},
	}
	e := newEnv(t)
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			b := e.browser()
			resp := b.login(tc.email, tc.password, "")
			assert.Equal(t, tc.role.DashboardRoute(), resp.Header.Get("Location"))

			resp, _ = b.get("/dashboard")
			assert.Equal(t, tc.role.DashboardRoute(), resp.Header.Get("Location"))

			resp, body := b.get(tc.role.DashboardRoute())
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, body, "GadgetCloud")
		})
	}
}

func TestBadCredentialsDoNotSignIn(t *testing.T) {
	b := newEnv(t).browser()
	resp := b.login("admin@gadgetcloud.dev", "not-the-password", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = b.get("/admin/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestBadCredentialsRenderMessage(t *testing.T) {
	b := newEnv(t).browser()
	resp, body := b.post("/login", url.Values{
		"email":              {"admin@gadgetcloud.dev"},
		"password":           {"not-the-password"},
		shared.CSRFFormField: {b.csrf("/login")},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "Incorrect email or password")
}

func TestPostWithoutCSRFTokenIsRejected(t *testing.T) {
	b := newEnv(t).browser()
	b.csrf("/login")
	resp, _ := b.post("/login", url.Values{"email": {"admin@gadgetcloud.dev"}, "password": {"admin-pass-123"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSupportReachesAuditLogsButNotUsers(t *testing.T) {
	b := newEnv(t).browser()
	b.login("support@gadgetcloud.dev", "support-pass-123", "")

	resp, body := b.get("/support/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `href="/admin/audit-logs"`)

	resp, _ = b.get("/admin/audit-logs")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = b.get("/admin/users")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, guard.UnauthorizedRoute, resp.Header.Get("Location"))

	resp, _ = b.get("/admin/audit-logs/export")
	assert.Equal(t, guard.UnauthorizedRoute, resp.Header.Get("Location"), "support may view but not export")

	resp, body = b.get(guard.UnauthorizedRoute)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "/support/dashboard")
}

func TestCustomerCannotReachOtherRoleAreas(t *testing.T) {
	b := newEnv(t).browser()
	b.login("customer@gadgetcloud.dev", "customer-pass-123", "")

	for _, path := range []string{"/partner/dashboard", "/support/dashboard", "/admin/dashboard", "/admin/audit-logs"} {
		resp, _ := b.get(path)
		assert.Equal(t, guard.UnauthorizedRoute, resp.Header.Get("Location"), path)
	}
	resp, _ := b.get("/customer/devices")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminChangesRoleAndExportsAuditLog(t *testing.T) {
	e := newEnv(t)
	b := e.browser()
	b.login("admin@gadgetcloud.dev", "admin-pass-123", "")
	token := b.csrf("/admin/dashboard")
	target := e.userID("partner@gadgetcloud.dev")

	resp, _ := b.post("/admin/users/"+target+"/role", url.Values{
		"role":               {"support"},
		"reason":             {"joined the support desk"},
		shared.CSRFFormField: {token},
	})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	_, body := b.get("/admin/users")
	assert.Contains(t, body, "partner@gadgetcloud.dev is now Support.")

	resp, body = b.get("/admin/audit-logs/export?event_type=user.role_changed")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/csv"))
	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "role: partner → support")
	assert.Contains(t, lines[1], "joined the support desk")
}

func TestLogoutEndsSession(t *testing.T) {
	e := newEnv(t)
	b := e.browser()
	b.login("partner@gadgetcloud.dev", "partner-pass-123", "")
	token := b.csrf("/partner/dashboard")

	resp, _ := b.post("/logout", url.Values{shared.CSRFFormField: {token}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, guard.LoginRoute, resp.Header.Get("Location"))

	resp, _ = b.get("/partner/dashboard")
	assert.Equal(t, guard.LoginLocation("/partner/dashboard"), resp.Header.Get("Location"))
}

func TestSessionSurvivesWorkspaceEviction(t *testing.T) {
	e := newEnv(t)
	b := e.browser()
	b.login("admin@gadgetcloud.dev", "admin-pass-123", "")
	id := b.sessionID()
	require.NotEmpty(t, id)

	e.workspaces.Drop(id)
	_, ok := e.workspaces.Peek(id)
	require.False(t, ok)

	resp, _ := b.get("/admin/dashboard")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	ws, ok := e.workspaces.Peek(id)
	require.True(t, ok)
	assert.Equal(t, identity.RoleAdmin, ws.CurrentRole())
}
