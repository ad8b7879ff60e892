package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	secretBytes   = 32
	minKeyBytes   = 32
	defaultCookie = "__Host-csrf"
	defaultHeader = "X-CSRF-Token"
)

var (
	// ErrRejected is returned for a missing or mismatched token.
	ErrRejected = errors.New("csrf token rejected")
	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("invalid csrf config")
)

// Config controls cookie and header naming and the server-held key that
// derives tokens from cookie secrets.
type Config struct {
	Key        []byte
	CookieName string
	HeaderName string
	TTL        time.Duration
	Secure     bool
	SameSite   http.SameSite
}

// Guard implements the double-submit cookie pattern. It is stateless: the
// only per-client state is the cookie.
type Guard struct {
	key        []byte
	cookieName string
	headerName string
	ttl        time.Duration
	secure     bool
	sameSite   http.SameSite
}

func New(cfg Config) (*Guard, error) {
	if len(cfg.Key) < minKeyBytes {
		return nil, errors.Join(ErrInvalidConfig, errors.New("key must be at least 32 bytes"))
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookie
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = defaultHeader
	}
	if cfg.SameSite == 0 || cfg.SameSite == http.SameSiteDefaultMode {
		cfg.SameSite = http.SameSiteStrictMode
	}
	if cfg.SameSite == http.SameSiteNoneMode && !cfg.Secure {
		return nil, errors.Join(ErrInvalidConfig, errors.New("SameSite=None requires Secure"))
	}
	if strings.HasPrefix(cfg.CookieName, "__Host-") && !cfg.Secure {
		return nil, errors.Join(ErrInvalidConfig, errors.New("__Host- cookies require Secure"))
	}

	key := make([]byte, len(cfg.Key))
	copy(key, cfg.Key)

	return &Guard{
		key:        key,
		cookieName: cfg.CookieName,
		headerName: cfg.HeaderName,
		ttl:        cfg.TTL,
		secure:     cfg.Secure,
		sameSite:   cfg.SameSite,
	}, nil
}

// HeaderName is the request header that must carry the token.
func (g *Guard) HeaderName() string {
	return g.headerName
}

// Issue sets a fresh secret cookie on w and returns the token the client
// script must echo in the header.
func (g *Guard) Issue(w http.ResponseWriter) (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)

	cookie := &http.Cookie{
		Name:     g.cookieName,
		Value:    secret,
		Path:     "/",
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: g.sameSite,
	}
	if g.ttl > 0 {
		cookie.MaxAge = int(g.ttl / time.Second)
	}
	http.SetCookie(w, cookie)

	return g.derive(secret), nil
}

// Verify checks a request. Safe methods always pass; any other method needs
// a header token equal to the one derived from the cookie secret.
func (g *Guard) Verify(r *http.Request) error {
	if Safe(r.Method) {
		return nil
	}

	cookie, err := r.Cookie(g.cookieName)
	if err != nil || cookie.Value == "" {
		return ErrRejected
	}
	submitted := r.Header.Get(g.headerName)
	if submitted == "" {
		return ErrRejected
	}

	expected := g.derive(cookie.Value)
	if !hmac.Equal([]byte(expected), []byte(submitted)) {
		return ErrRejected
	}
	return nil
}

// Clear expires the secret cookie, used at logout.
func (g *Guard) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: g.sameSite,
	})
}

func (g *Guard) derive(secret string) string {
	mac := hmac.New(sha256.New, g.key)
	mac.Write([]byte("csrf:"))
	mac.Write([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Safe reports whether method is side-effect free per RFC 9110.
func Safe(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
