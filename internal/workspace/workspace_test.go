package workspace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gadgetcloud/portal/internal/backend"
	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/permission"
)

const testToken = "tok-admin"

type fakeBackend struct {
	permissionCalls atomic.Int32
	failPermissions atomic.Bool
	lastAuth        atomic.Value
}

func (f *fakeBackend) server(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(backend.AuthResponse{
			AccessToken: testToken,
			TokenType:   "bearer",
			User:        &identity.Identity{ID: "u-1", Email: "admin@example.com", FirstName: "Ada", Role: identity.RoleAdmin},
		})
	})
	r.Get("/admin/permissions/{role}", func(w http.ResponseWriter, r *http.Request) {
		f.permissionCalls.Add(1)
		f.lastAuth.Store(r.Header.Get("Authorization"))
		if f.failPermissions.Load() {
			http.Error(w, `{"detail":"down"}`, http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(permission.RoleSet{
			Role: identity.Role(chi.URLParam(r, "role")),
			Resources: map[string]permission.Grant{
				permission.ResourceUsers: {Actions: []string{permission.Wildcard}},
			},
		})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newRegistry(t *testing.T, fb *fakeBackend, rdb *redis.Client) *Registry {
	t.Helper()
	srv := fb.server(t)
	return NewRegistry(Config{
		Backend: backend.NewClient(srv.URL, time.Second),
		Redis:   rdb,
		Size:    4,
		IdleTTL: time.Minute,
	})
}

func TestGetReturnsSameWorkspace(t *testing.T) {
	reg := newRegistry(t, &fakeBackend{}, nil)
	a, err := reg.Get(context.Background(), "alpha")
	require.NoError(t, err)
	b, err := reg.Get(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.False(t, a.IsAuthenticated())

	_, err = reg.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoID)
}

func TestConcurrentGetsShareOneRestore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	reg := newRegistry(t, &fakeBackend{}, rdb)

	got := make([]*Workspace, 16)
	var wg sync.WaitGroup
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ws, err := reg.Get(context.Background(), "shared")
			assert.NoError(t, err)
			got[i] = ws
		}(i)
	}
	wg.Wait()

	for _, ws := range got {
		assert.Same(t, got[0], ws)
	}
	assert.Equal(t, 1, reg.Len())
}

func TestLoginLoadsPermissionsWithBearer(t *testing.T) {
	fb := &fakeBackend{}
	reg := newRegistry(t, fb, nil)
	ws, err := reg.Get(context.Background(), "alpha")
	require.NoError(t, err)

	_, err = ws.Store.Login(context.Background(), backend.Credentials{Email: "admin@example.com", Password: "secret123"})
	require.NoError(t, err)
	ws.Wait()

	assert.Equal(t, "Bearer "+testToken, fb.lastAuth.Load())
	assert.True(t, ws.Evaluator().CanDeleteUsers())
	assert.Equal(t, identity.RoleAdmin, ws.CurrentRole())

	menu, ok := ws.Navigation()
	require.True(t, ok)
	assert.Len(t, menu.Entries, 4)
}

func TestAdminPanelFollowsCache(t *testing.T) {
	reg := newRegistry(t, &fakeBackend{}, nil)
	ws, err := reg.Get(context.Background(), "alpha")
	require.NoError(t, err)
	assert.False(t, ws.AdminPanel.Visible())

	_, err = ws.Store.Login(context.Background(), backend.Credentials{Email: "admin@example.com", Password: "secret123"})
	require.NoError(t, err)
	ws.Wait()
	assert.True(t, ws.AdminPanel.Visible(), "users:* grants the panel")

	ws.Store.Logout(context.Background())
	assert.False(t, ws.AdminPanel.Visible())
	ws.Wait()
}

func TestEvictedWorkspaceRestoresFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	fb := &fakeBackend{}
	reg := newRegistry(t, fb, rdb)
	ws, err := reg.Get(context.Background(), "alpha")
	require.NoError(t, err)
	_, err = ws.Store.Login(context.Background(), backend.Credentials{Email: "admin@example.com", Password: "secret123"})
	require.NoError(t, err)
	ws.Wait()
	assert.True(t, mr.Exists("portal:workspace:alpha"))

	reg.Drop("alpha")
	restored, err := reg.Get(context.Background(), "alpha")
	require.NoError(t, err)
	assert.NotSame(t, ws, restored)
	assert.True(t, restored.IsAuthenticated())
	assert.Equal(t, "u-1", restored.Store.Identity().ID)

	restored.Store.Logout(context.Background())
	restored.Wait()
	assert.False(t, mr.Exists("portal:workspace:alpha"))
	assert.Equal(t, "/login", restored.TakeRedirect())
	assert.Empty(t, restored.TakeRedirect())
}

func TestRetryPermissionsAfterFailure(t *testing.T) {
	fb := &fakeBackend{}
	fb.failPermissions.Store(true)
	reg := newRegistry(t, fb, nil)
	ws, err := reg.Get(context.Background(), "alpha")
	require.NoError(t, err)

	_, err = ws.Store.Login(context.Background(), backend.Credentials{Email: "admin@example.com", Password: "secret123"})
	require.NoError(t, err)
	ws.Wait()
	assert.Equal(t, permission.StatusFailed, ws.Cache.Status())

	fb.failPermissions.Store(false)
	ws.RetryPermissions(context.Background())
	assert.Equal(t, permission.StatusLoaded, ws.Cache.Status())
	assert.Equal(t, int32(2), fb.permissionCalls.Load())

	ws.RetryPermissions(context.Background())
	assert.Equal(t, int32(2), fb.permissionCalls.Load())
}

func TestRegistryIsBounded(t *testing.T) {
	reg := newRegistry(t, &fakeBackend{}, nil)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := reg.Get(context.Background(), id)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, reg.Len())
	_, ok := reg.Peek("a")
	assert.False(t, ok)
}
