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

func newTestSessions(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "filingdesk_session", time.Hour, false), mr
}

func roundTrip(t *testing.T, sm *SessionManager, cookies []*http.Cookie, fn func(*Session)) (*Session, []*http.Cookie) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	fn(sess)
	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), rr, sess))
	return sess, rr.Result().Cookies()
}

func TestSessionPersistsUserAcrossRequests(t *testing.T) {
	sm, _ := newTestSessions(t)

	_, cookies := roundTrip(t, sm, nil, func(s *Session) { s.SetUser("u-1") })
	require.Len(t, cookies, 1)

	sess, _ := roundTrip(t, sm, cookies, func(*Session) {})
	assert.Equal(t, "u-1", sess.User())
}

func TestAnonymousSessionIsNotPersisted(t *testing.T) {
	sm, mr := newTestSessions(t)

	_, cookies := roundTrip(t, sm, nil, func(*Session) {})
	assert.Empty(t, cookies)
	assert.Empty(t, mr.Keys())
}

func TestFlashSurvivesUntilPopped(t *testing.T) {
	sm, _ := newTestSessions(t)

	_, cookies := roundTrip(t, sm, nil, func(s *Session) {
		s.AddFlash(FlashMessage{Kind: FlashSuccess, Message: "Filing saved"})
	})

	var popped *FlashMessage
	roundTrip(t, sm, cookies, func(s *Session) { popped = s.PopFlash() })
	require.NotNil(t, popped)
	assert.Equal(t, "Filing saved", popped.Message)

	roundTrip(t, sm, cookies, func(s *Session) { popped = s.PopFlash() })
	assert.Nil(t, popped)
}

func TestRenewDropsPreviousID(t *testing.T) {
	sm, mr := newTestSessions(t)

	first, cookies := roundTrip(t, sm, nil, func(s *Session) { s.Set("k", "v") })
	oldID := first.ID

	renewed, newCookies := roundTrip(t, sm, cookies, func(s *Session) {
		s.Renew()
		s.SetUser("u-2")
	})
	require.NotEqual(t, oldID, renewed.ID)
	assert.False(t, mr.Exists("filingdesk:session:"+oldID))
	require.Len(t, newCookies, 1)
	assert.Equal(t, renewed.ID, newCookies[0].Value)

	again, _ := roundTrip(t, sm, newCookies, func(*Session) {})
	assert.Equal(t, "u-2", again.User())
	assert.Equal(t, "v", again.Get("k"))
}

func TestDestroyClearsCookieAndStore(t *testing.T) {
	sm, mr := newTestSessions(t)

	sess, cookies := roundTrip(t, sm, nil, func(s *Session) { s.SetUser("u-3") })
	_, cleared := roundTrip(t, sm, cookies, func(s *Session) { sm.Destroy(s) })

	require.Len(t, cleared, 1)
	assert.Equal(t, -1, cleared[0].MaxAge)
	assert.False(t, mr.Exists("filingdesk:session:"+sess.ID))
}
