package adminauth

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/adminauth/csrf"
	internalaudit "github.com/MrEthical07/adminauth/internal/audit"
	"github.com/MrEthical07/adminauth/internal/limiters"
	"github.com/MrEthical07/adminauth/internal/rate"
	"github.com/MrEthical07/adminauth/internal/stores"
	"github.com/MrEthical07/adminauth/jwt"
	"github.com/MrEthical07/adminauth/mail"
	"github.com/MrEthical07/adminauth/password"
	"github.com/MrEthical07/adminauth/session"
	"github.com/MrEthical07/adminauth/totp"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Configure it once during initialization;
// Build may be called only once.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	store     CredentialStore
	mailer    Mailer
	templates map[string]mail.Definition
	qr        QREncoder
	clock     func() time.Time
	logger    *slog.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is cloned.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing sessions, tokens and throttles.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the account database.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithMailer sets the out-of-band message sender.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithTemplates overrides message templates. Kinds not present keep their
// defaults.
func (b *Builder) WithTemplates(defs map[string]mail.Definition) *Builder {
	b.templates = defs
	return b
}

// WithQREncoder enables QR images in TOTP setup.
func (b *Builder) WithQREncoder(enc QREncoder) *Builder {
	b.qr = enc
	return b
}

// WithClock injects the time source used by every expiry decision.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithLogger sets the structured logger. Logs are discarded by default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit event destination.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	defs := mail.DefaultDefinitions()
	for kind, def := range b.templates {
		defs[kind] = def
	}
	templates, err := mail.NewTemplates(defs)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    cfg,
		clock:     clock,
		logger:    logger.With("component", "adminauth"),
		store:     b.store,
		mailer:    b.mailer,
		templates: templates,
		qr:        b.qr,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		totpOpts: totp.Options{
			Digits:    cfg.TOTP.Digits,
			Period:    cfg.TOTP.Period,
			Algorithm: strings.ToUpper(cfg.TOTP.Algorithm),
		},
	}

	engine.sessionStore = session.NewStore(b.redis, cfg.Session.RedisPrefix)
	engine.loginLimiter = rate.New(b.redis, rate.LoginConfig{
		EnableIPThrottle: cfg.Login.EnableIPThrottle,
		MaxAttempts:      cfg.Login.MaxAttempts,
		Cooldown:         cfg.Login.Cooldown,
	})
	engine.resetStore = stores.NewPasswordResetStore(b.redis, cfg.PasswordReset.RedisPrefix)
	engine.resetLimiter = limiters.NewPasswordResetLimiter(b.redis, limiters.PasswordResetConfig{
		EnableIdentifierThrottle: cfg.PasswordReset.EnableIdentifierThrottle,
		EnableIPThrottle:         cfg.PasswordReset.EnableIPThrottle,
		Window:                   cfg.PasswordReset.RequestWindow,
		MaxRequests:              cfg.PasswordReset.MaxRequestsPerWindow,
	})
	engine.totpStore = stores.NewTOTPStore(b.redis, cfg.TOTP.RedisPrefix)
	engine.totpLimiter = limiters.NewTOTPLimiter(b.redis, limiters.TOTPLimiterConfig{
		MaxAttempts: cfg.TOTP.MaxFailures,
		Cooldown:    cfg.TOTP.FailureCooldown,
	})
	engine.emailStore = stores.NewEmailChangeStore(b.redis, cfg.EmailChange.RedisPrefix)
	engine.emailLimiter = limiters.NewEmailChangeLimiter(b.redis, cfg.EmailChange.MaxRequestsPerWindow, cfg.EmailChange.RequestWindow)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	ph, err := password.NewArgon2(cfg.Password.Argon2)
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph
	// Unknown-account logins verify against this so both paths cost one
	// argon2 evaluation.
	engine.dummyHash, err = ph.Hash("adminauth-dummy-password")
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Session.TTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           clock,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	guard, err := csrf.New(csrf.Config{
		Key:        cloneBytes(cfg.CSRF.Key),
		CookieName: cfg.CSRF.CookieName,
		HeaderName: cfg.CSRF.HeaderName,
		TTL:        cfg.CSRF.TTL,
		Secure:     cfg.CSRF.Secure,
		SameSite:   cfg.CSRF.SameSite,
	})
	if err != nil {
		return nil, err
	}
	engine.csrf = guard

	b.built = true

	return engine, nil
}
