package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "portal_session", time.Hour, false), mr
}

func roundTrip(t *testing.T, sm *SessionManager, cookie *http.Cookie) (*Session, *http.Request) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	return sess, req
}

func committedCookie(t *testing.T, sm *SessionManager, sess *Session) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), rec, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestSessionPersistsValuesAndFlashes(t *testing.T) {
	sm, mr := newManager(t)

	sess, _ := roundTrip(t, sm, nil)
	sess.Set("returnUrl", "/admin/users")
	sess.AddFlash(FlashSuccess, "Welcome back")
	cookie := committedCookie(t, sm, sess)
	assert.Equal(t, sess.ID, cookie.Value)
	assert.True(t, mr.Exists("portal:cookie:"+sess.ID))

	again, _ := roundTrip(t, sm, cookie)
	assert.Equal(t, sess.ID, again.ID)
	assert.Equal(t, "/admin/users", again.Pop("returnUrl"))
	assert.Empty(t, again.Get("returnUrl"))
	flash := again.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "Welcome back", flash.Message)
	assert.Nil(t, again.PopFlash())
	committedCookie(t, sm, again)

	third, _ := roundTrip(t, sm, cookie)
	assert.Nil(t, third.PopFlash())
}

func TestUnknownCookieKeepsID(t *testing.T) {
	sm, _ := newManager(t)
	id := "6f1c2bb2-4ad4-4d1c-9d39-4c0d8c9f1a11"
	sess, _ := roundTrip(t, sm, &http.Cookie{Name: "portal_session", Value: id})
	assert.Equal(t, id, sess.ID)

	garbage, _ := roundTrip(t, sm, &http.Cookie{Name: "portal_session", Value: "not-a-uuid"})
	assert.NotEqual(t, "not-a-uuid", garbage.ID)
}

func TestDestroyExpiresCookie(t *testing.T) {
	sm, mr := newManager(t)
	sess, _ := roundTrip(t, sm, nil)
	committedCookie(t, sm, sess)

	sm.Destroy(sess)
	assert.Empty(t, SessionID(ContextWithSession(context.Background(), sess)))
	cookie := committedCookie(t, sm, sess)
	assert.Equal(t, -1, cookie.MaxAge)
	assert.False(t, mr.Exists("portal:cookie:"+sess.ID))
}

func TestCSRFTokenBoundToSession(t *testing.T) {
	sm, _ := newManager(t)
	csrf := NewCSRFManager("csrf-secret")

	a, _ := roundTrip(t, sm, nil)
	b, _ := roundTrip(t, sm, nil)
	token, err := csrf.EnsureToken(a)
	require.NoError(t, err)
	again, err := csrf.EnsureToken(a)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	assert.NoError(t, csrf.VerifyToken(a, token))
	assert.ErrorIs(t, csrf.VerifyToken(a, ""), ErrCSRFTokenMissing)
	assert.ErrorIs(t, csrf.VerifyToken(b, token), ErrCSRFTokenMissing)
	_, err = csrf.EnsureToken(b)
	require.NoError(t, err)
	assert.ErrorIs(t, csrf.VerifyToken(b, token), ErrCSRFTokenMismatch)
	assert.ErrorIs(t, csrf.VerifyToken(nil, token), ErrSessionMissing)
}

func TestPaginationSession(t *testing.T) {
	p := NewPagination(2, 10, 35)
	assert.Equal(t, 4, p.TotalPages)
	assert.Equal(t, 10, p.Offset())
	assert.True(t, p.HasPrev())
	assert.True(t, p.HasNext())

	p = NewPagination(0, 0, 0)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PerPage)
	assert.False(t, p.HasNext())
	assert.False(t, p.HasPrev())
}
