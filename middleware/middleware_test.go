package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/adminauth"
	"github.com/MrEthical07/adminauth/credstore/memstore"
	"github.com/MrEthical07/adminauth/mail"
	"github.com/MrEthical07/adminauth/middleware"
	"github.com/MrEthical07/adminauth/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *adminauth.Engine {
	t.Helper()
	engine, _ := newEngineWithRedis(t)
	return engine
}

func newEngineWithRedis(t *testing.T) (*adminauth.Engine, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := adminauth.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte(strings.Repeat("k", 32))
	cfg.CSRF.Key = []byte(strings.Repeat("c", 32))
	cfg.Password.Argon2 = password.Config{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.PasswordReset.LinkTemplate = "https://console.test/reset?token=%s"

	engine, err := adminauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(memstore.New()).
		WithMailer(mail.NewOutbox()).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	_, err = engine.CreateSuperadmin(context.Background(), "root@example.com", "Sup3r-Secret!")
	require.NoError(t, err)
	return engine, mr
}

func echoSession(w http.ResponseWriter, r *http.Request) {
	res, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		http.Error(w, "missing", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte(res.SessionID))
}

func TestGuard(t *testing.T) {
	engine := newEngine(t)
	login, err := engine.Login(context.Background(), "root@example.com", "Sup3r-Secret!", "")
	require.NoError(t, err)

	h := middleware.Guard(engine, nil)(http.HandlerFunc(echoSession))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, login.SessionID, rec.Body.String())

	for _, header := range []string{"", "Bearer ", "Basic abc", "Bearer not-a-token"} {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}

	require.NoError(t, engine.Logout(context.Background(), login.SessionID))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	engine := newEngine(t)
	login, err := engine.Login(context.Background(), "root@example.com", "Sup3r-Secret!", "")
	require.NoError(t, err)

	ok := middleware.Guard(engine, nil)(middleware.RequireRole(adminauth.RoleSuperadmin, nil)(http.HandlerFunc(echoSession)))
	denied := middleware.Guard(engine, nil)(middleware.RequireRole("auditor", nil)(http.HandlerFunc(echoSession)))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)

	rec := httptest.NewRecorder()
	ok.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	denied.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuardPassesRejectionsToCallback(t *testing.T) {
	engine, mr := newEngineWithRedis(t)
	login, err := engine.Login(context.Background(), "root@example.com", "Sup3r-Secret!", "")
	require.NoError(t, err)

	var got []error
	record := func(w http.ResponseWriter, _ *http.Request, err error) {
		got = append(got, err)
		w.WriteHeader(http.StatusTeapot)
	}
	h := middleware.Guard(engine, record)(middleware.RequireRole("auditor", record)(http.HandlerFunc(echoSession)))

	serve := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusTeapot, serve(""))
	assert.Equal(t, http.StatusTeapot, serve("Bearer "+login.AccessToken))
	mr.Close()
	assert.Equal(t, http.StatusTeapot, serve("Bearer "+login.AccessToken))

	require.Len(t, got, 3)
	assert.ErrorIs(t, got[0], adminauth.ErrUnauthenticated)
	assert.ErrorIs(t, got[1], middleware.ErrForbidden)
	assert.ErrorIs(t, got[2], adminauth.ErrBackendUnavailable)
}

func TestGuardDefaultRejectsBackendOutageWith503(t *testing.T) {
	engine, mr := newEngineWithRedis(t)
	login, err := engine.Login(context.Background(), "root@example.com", "Sup3r-Secret!", "")
	require.NoError(t, err)
	mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := httptest.NewRecorder()
	middleware.Guard(engine, nil)(http.HandlerFunc(echoSession)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCSRF(t *testing.T) {
	engine := newEngine(t)
	called := 0
	h := middleware.CSRF(engine, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called++
		w.WriteHeader(http.StatusNoContent)
	}))

	issue := httptest.NewRecorder()
	token, err := engine.CSRF().Issue(issue)
	require.NoError(t, err)
	cookie := issue.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(cookie)
	req.Header.Set(engine.CSRF().HeaderName(), token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 1, called)
}
