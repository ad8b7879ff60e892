package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/adminauth"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the result stored by [Guard].
func AuthResultFromContext(ctx context.Context) (*adminauth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*adminauth.AuthResult)
	return res, ok
}

// ErrForbidden is passed to the RequireRole rejection callback when the
// session role does not match.
var ErrForbidden = errors.New("forbidden")

// RejectFunc writes the response for a request a middleware refused.
type RejectFunc func(w http.ResponseWriter, r *http.Request, err error)

// plainReject is the default RejectFunc: a text body with 503 for backend
// outages, 403 for ErrForbidden and 401 for everything else.
func plainReject(w http.ResponseWriter, _ *http.Request, err error) {
	switch {
	case errors.Is(err, adminauth.ErrBackendUnavailable):
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

// Guard rejects requests without a live session. onReject receives
// adminauth.ErrUnauthenticated or the Authenticate error, which wraps
// adminauth.ErrBackendUnavailable on outages; nil means plain text 401/503.
// On success the request context carries the AuthResult and the session
// id, so ChangePassword keeps the caller's own session.
func Guard(engine *adminauth.Engine, onReject RejectFunc) func(http.Handler) http.Handler {
	if onReject == nil {
		onReject = plainReject
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if engine == nil || !ok {
				onReject(w, r, adminauth.ErrUnauthenticated)
				return
			}

			res, err := engine.Authenticate(r.Context(), token)
			if err != nil {
				onReject(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			ctx = adminauth.WithSessionID(ctx, res.SessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole must run after [Guard]. onReject gets
// adminauth.ErrUnauthenticated without a Guard result and [ErrForbidden]
// when the session role differs; nil means plain text 401/403.
func RequireRole(role string, onReject RejectFunc) func(http.Handler) http.Handler {
	if onReject == nil {
		onReject = plainReject
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok {
				onReject(w, r, adminauth.ErrUnauthenticated)
				return
			}
			if res.Role != role {
				onReject(w, r, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
