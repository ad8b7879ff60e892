// Package httpapi exposes every Engine operation over HTTP with chi.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/MrEthical07/adminauth"
	"github.com/MrEthical07/adminauth/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// TrustProxy takes the client IP from X-Forwarded-For or X-Real-IP.
	TrustProxy bool
	// RateLimit and Burst bound each client IP on unauthenticated
	// endpoints. Zero disables the limiter.
	RateLimit rate.Limit
	Burst     int
	Logger    *slog.Logger
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
}

// NewRouter builds and returns the application router.
func NewRouter(engine *adminauth.Engine, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	h := &handler{engine: engine, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	if opts.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(accessLog(opts.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(clientInfo)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", engine.CSRF().HeaderName()},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	public := func(next http.Handler) http.Handler { return next }
	if opts.RateLimit > 0 {
		public = NewRateLimiter(opts.RateLimit, opts.Burst).Limit
	}

	r.Get("/healthz", h.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.CSRF(engine, rejectJSON))

		r.Get("/csrf", h.issueCSRF)

		r.Group(func(r chi.Router) {
			r.Use(public)
			r.Post("/login", h.login)
			r.Post("/password/forgot", h.forgotPassword)
			r.Get("/password/reset/{token}", h.validateResetToken)
			r.Post("/password/reset", h.resetPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(engine, rejectJSON))
			r.Use(middleware.RequireRole(adminauth.RoleSuperadmin, rejectJSON))

			r.Get("/me", h.me)
			r.Post("/logout", h.logout)
			r.Post("/logout-all", h.logoutAll)
			r.Post("/password/change", h.changePassword)

			r.Get("/2fa/status", h.totpStatus)
			r.Post("/2fa/setup", h.beginTOTPSetup)
			r.Post("/2fa/confirm", h.confirmTOTPSetup)
			r.Post("/2fa/verify", h.verifyTOTP)
			r.Post("/2fa/disable", h.disableTOTP)

			r.Post("/email/change", h.requestEmailChange)
			r.Post("/email/verify", h.verifyEmailChange)
			r.Post("/email/commit", h.commitEmailChange)
			r.Post("/email/cancel", h.cancelEmailChange)
			r.Get("/email/status", h.emailChangeStatus)
		})
	})

	return r
}
