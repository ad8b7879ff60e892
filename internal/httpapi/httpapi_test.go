package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/adminauth"
	"github.com/MrEthical07/adminauth/credstore/memstore"
	"github.com/MrEthical07/adminauth/mail"
	"github.com/MrEthical07/adminauth/password"
	"github.com/MrEthical07/adminauth/totp"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const (
	adminEmail = "root@example.com"
	adminPass  = "Sup3r-Secret!"
)

type testServer struct {
	router http.Handler
	engine *adminauth.Engine
	outbox *mail.Outbox
	cookie *http.Cookie
	csrf   string
	bearer string
	mr     *miniredis.Miniredis
}

func newTestServer(t *testing.T, opts Options, mutate func(*adminauth.Config)) *testServer {
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
	cfg.PasswordReset.EnumerationDelayMin = 0
	cfg.PasswordReset.EnumerationDelayMax = 0
	if mutate != nil {
		mutate(&cfg)
	}

	outbox := mail.NewOutbox()
	engine, err := adminauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(memstore.New()).
		WithMailer(outbox).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	_, err = engine.CreateSuperadmin(context.Background(), adminEmail, adminPass)
	require.NoError(t, err)

	s := &testServer{router: NewRouter(engine, opts), engine: engine, outbox: outbox, mr: mr}

	rec := s.do(t, http.MethodGet, "/auth/csrf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	s.csrf = body["csrf_token"]
	s.cookie = rec.Result().Cookies()[0]
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if s.cookie != nil {
		req.AddCookie(s.cookie)
		req.Header.Set("X-CSRF-Token", s.csrf)
	}
	if s.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+s.bearer)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T, email, pass string) {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/auth/login", map[string]string{"email": email, "password": pass})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotEmpty(t, res.AccessToken)
	assert.Equal(t, "Bearer", res.TokenType)
	s.bearer = res.AccessToken
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error
}

func TestGuardRejectionsUseErrorEnvelope(t *testing.T) {
	s := newTestServer(t, Options{}, nil)

	rec := s.do(t, http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, string(adminauth.KindUnauthenticated), errorOf(t, rec))

	s.bearer = "not-a-token"
	rec = s.do(t, http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(adminauth.KindUnauthenticated), errorOf(t, rec))

	s.login(t, adminEmail, adminPass)
	s.mr.Close()
	rec = s.do(t, http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	errorOf(t, rec)
}

func TestLoginMeLogout(t *testing.T) {
	s := newTestServer(t, Options{}, nil)
	s.login(t, adminEmail, adminPass)

	rec := s.do(t, http.MethodGet, "/auth/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"superadmin"`)

	rec = s.do(t, http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	s := newTestServer(t, Options{}, nil)

	wrong := s.do(t, http.MethodPost, "/auth/login", map[string]string{"email": adminEmail, "password": "nope"})
	unknown := s.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "ghost@example.com", "password": "nope"})

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, wrong.Code, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestPostWithoutCSRFIsRejected(t *testing.T) {
	s := newTestServer(t, Options{}, nil)
	s.cookie = nil

	rec := s.do(t, http.MethodPost, "/auth/login", map[string]string{"email": adminEmail, "password": adminPass})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(adminauth.KindCSRFRejected), errorOf(t, rec))
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t, Options{}, nil)

	rec := s.do(t, http.MethodPost, "/auth/login", map[string]string{"email": adminEmail})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/login", map[string]string{"unexpected": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/password/forgot", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(adminauth.KindInvalidInput), errorOf(t, rec))
}

var (
	tokenRe = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)
	otpRe   = regexp.MustCompile(`\b(\d{6})\b`)
)

func TestPasswordResetFlow(t *testing.T) {
	s := newTestServer(t, Options{}, nil)

	rec := s.do(t, http.MethodPost, "/auth/password/forgot", map[string]string{"email": adminEmail})
	require.Equal(t, http.StatusAccepted, rec.Code)

	unknown := s.do(t, http.MethodPost, "/auth/password/forgot", map[string]string{"email": "ghost@example.com"})
	assert.Equal(t, rec.Code, unknown.Code)
	assert.Equal(t, rec.Body.String(), unknown.Body.String())

	var msg mail.Message
	require.Eventually(t, func() bool {
		var ok bool
		msg, ok = s.outbox.Last(adminEmail)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	m := tokenRe.FindStringSubmatch(msg.Text)
	require.Len(t, m, 2)
	token := m[1]

	rec = s.do(t, http.MethodGet, "/auth/password/reset/"+token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/password/reset", map[string]string{"token": token, "new_password": "short"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(adminauth.KindWeakPassword), errorOf(t, rec))

	rec = s.do(t, http.MethodPost, "/auth/password/reset", map[string]string{"token": token, "new_password": "N3w-Passw0rd!"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/auth/password/reset", map[string]string{"token": token, "new_password": "An0ther-Pass!"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(adminauth.KindInvalidToken), errorOf(t, rec))

	s.login(t, adminEmail, "N3w-Passw0rd!")
}

func TestTOTPSetupAndLoginChallenge(t *testing.T) {
	s := newTestServer(t, Options{}, nil)
	s.login(t, adminEmail, adminPass)

	rec := s.do(t, http.MethodPost, "/auth/2fa/setup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var setup totpSetupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &setup))
	assert.True(t, strings.HasPrefix(setup.ProvisioningURI, "otpauth://totp/"))

	secret, err := totp.DecodeSecret(setup.Secret)
	require.NoError(t, err)

	code, err := totp.Generate(secret, time.Now(), totp.DefaultOptions())
	require.NoError(t, err)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	rec = s.do(t, http.MethodPost, "/auth/2fa/confirm", map[string]string{"code": wrong})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(adminauth.KindInvalidCode), errorOf(t, rec))

	rec = s.do(t, http.MethodPost, "/auth/2fa/confirm", map[string]string{"code": code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/auth/2fa/status", nil)
	assert.Contains(t, rec.Body.String(), `"enabled"`)

	s.bearer = ""
	rec = s.do(t, http.MethodPost, "/auth/login", map[string]string{"email": adminEmail, "password": adminPass})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "totp_required", errorOf(t, rec))
}

func TestEmailChangeFlow(t *testing.T) {
	s := newTestServer(t, Options{}, nil)
	s.login(t, adminEmail, adminPass)

	rec := s.do(t, http.MethodPost, "/auth/email/commit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(adminauth.KindNotVerified), errorOf(t, rec))

	rec = s.do(t, http.MethodPost, "/auth/email/change", map[string]string{"new_email": "new@example.com"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/auth/email/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"requested"`)

	msg, ok := s.outbox.Last("new@example.com")
	require.True(t, ok)
	m := otpRe.FindStringSubmatch(msg.Text)
	require.Len(t, m, 2)

	rec = s.do(t, http.MethodPost, "/auth/email/verify", map[string]string{"code": m[1]})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/auth/email/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "new@example.com")

	// Commit revokes every session, including this one.
	rec = s.do(t, http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	s.login(t, "new@example.com", adminPass)
}

func TestPublicRateLimit(t *testing.T) {
	s := newTestServer(t, Options{RateLimit: rate.Limit(0.001), Burst: 2}, nil)

	body := map[string]string{"email": adminEmail, "password": "wrong"}
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/auth/login", body).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/auth/login", body).Code)
	rec := s.do(t, http.MethodPost, "/auth/login", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestMetricsAndHealth(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("adminauth_login_success_total 0\n"))
	})
	s := newTestServer(t, Options{Metrics: metrics}, nil)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", nil).Code)
	rec := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Contains(t, rec.Body.String(), "adminauth_login_success_total")
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{adminauth.ErrInvalidToken, http.StatusBadRequest},
		{adminauth.ErrInvalidCode, http.StatusBadRequest},
		{adminauth.ErrWeakPassword, http.StatusUnprocessableEntity},
		{adminauth.ErrInvalidEmail, http.StatusUnprocessableEntity},
		{adminauth.ErrUnauthorized, http.StatusUnauthorized},
		{adminauth.ErrUnauthenticated, http.StatusUnauthorized},
		{adminauth.ErrCSRFRejected, http.StatusForbidden},
		{adminauth.ErrEmailInUse, http.StatusConflict},
		{adminauth.ErrNotVerified, http.StatusConflict},
		{adminauth.ErrTooManyAttempts, http.StatusTooManyRequests},
		{adminauth.ErrDeliveryFailed, http.StatusBadGateway},
		{errors.Join(adminauth.ErrBackendUnavailable, errors.New("dial")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), "%v", tc.err)
	}
}

func TestMaskPath(t *testing.T) {
	assert.Equal(t, "/auth/password/reset/***", maskPath("/auth/password/reset/abc.def"))
	assert.Equal(t, "/auth/password/reset", maskPath("/auth/password/reset"))
	assert.Equal(t, "/auth/me", maskPath("/auth/me"))
}
