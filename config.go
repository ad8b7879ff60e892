package adminauth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/adminauth/password"
)

// Config is the complete, immutable configuration of an [Engine]. Build it
// once at process start (usually from [DefaultConfig]); the Builder clones
// it so later mutation by the caller has no effect.
type Config struct {
	AppName       string
	JWT           JWTConfig
	Session       SessionConfig
	Password      PasswordConfig
	Login         LoginConfig
	PasswordReset PasswordResetConfig
	TOTP          TOTPConfig
	EmailChange   EmailChangeConfig
	CSRF          CSRFConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures session token signing.
type JWTConfig struct {
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures the server-side session registry. TTL is also
// the lifetime of the bearer token.
type SessionConfig struct {
	RedisPrefix string
	TTL         time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds hashing cost and the strength policy.
type PasswordConfig struct {
	Argon2         password.Config
	Policy         password.Policy
	UpgradeOnLogin bool
}

/*
====================================
LOGIN CONFIG
====================================
*/

// LoginConfig bounds failed logins per email and per client IP.
type LoginConfig struct {
	MaxAttempts      int
	Cooldown         time.Duration
	EnableIPThrottle bool
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig configures the reset token lifecycle.
type PasswordResetConfig struct {
	RedisPrefix string
	TokenTTL    time.Duration
	// MaxAttempts bounds wrong secrets presented for one reset id.
	MaxAttempts int
	// LinkTemplate receives the token via a single %s, e.g.
	// "https://admin.example.com/reset-password?token=%s".
	LinkTemplate             string
	RequestWindow            time.Duration
	MaxRequestsPerWindow     int
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	// SurfaceDeliveryFailure makes RequestPasswordReset send synchronously
	// and report ErrDeliveryFailed. It is off by default because both the
	// error and the send latency only occur for existing accounts.
	SurfaceDeliveryFailure bool
	// EnumerationDelayMin/Max bound the random delay added to every request.
	EnumerationDelayMin time.Duration
	EnumerationDelayMax time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig configures two-factor authentication.
type TOTPConfig struct {
	RedisPrefix string
	Issuer      string
	Digits      int
	Period      int
	Algorithm   string
	// Skew is the tolerance in time steps on either side of now.
	Skew                    int
	SetupTTL                time.Duration
	MaxSetupAttempts        int
	MaxFailures             int
	FailureCooldown         time.Duration
	EnforceReplayProtection bool
}

/*
====================================
EMAIL CHANGE CONFIG
====================================
*/

// EmailChangeConfig configures the OTP-gated email change workflow.
type EmailChangeConfig struct {
	RedisPrefix string
	OTPDigits   int
	OTPTTL      time.Duration
	MaxAttempts int
	// RequireTOTPWhenEnabled gates RequestEmailChange on a valid TOTP code
	// for accounts that have 2FA on.
	RequireTOTPWhenEnabled bool
	NotifyOldAddress       bool
	MaxRequestsPerWindow   int
	RequestWindow          time.Duration
}

/*
====================================
CSRF CONFIG
====================================
*/

// CSRFConfig configures the double-submit cookie guard.
type CSRFConfig struct {
	Key        []byte
	CookieName string
	HeaderName string
	TTL        time.Duration
	Secure     bool
	SameSite   http.SameSite
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls async audit dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns production defaults. Keys (JWT, CSRF) must still be
// supplied by the caller.
func DefaultConfig() Config {
	return Config{
		AppName: "Admin",
		JWT: JWTConfig{
			SigningMethod: "ed25519",
			Issuer:        "adminauth",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "as",
			TTL:         8 * time.Hour,
		},
		Password: PasswordConfig{
			Argon2:         password.DefaultConfig(),
			Policy:         password.DefaultPolicy(),
			UpgradeOnLogin: true,
		},
		Login: LoginConfig{
			MaxAttempts:      5,
			Cooldown:         15 * time.Minute,
			EnableIPThrottle: true,
		},
		PasswordReset: PasswordResetConfig{
			RedisPrefix:              "apr",
			TokenTTL:                 30 * time.Minute,
			MaxAttempts:              5,
			RequestWindow:            time.Hour,
			MaxRequestsPerWindow:     5,
			EnableIdentifierThrottle: true,
			EnableIPThrottle:         true,
			EnumerationDelayMin:      20 * time.Millisecond,
			EnumerationDelayMax:      40 * time.Millisecond,
		},
		TOTP: TOTPConfig{
			RedisPrefix:             "atp",
			Issuer:                  "Admin",
			Digits:                  6,
			Period:                  30,
			Algorithm:               "SHA1",
			Skew:                    1,
			SetupTTL:                10 * time.Minute,
			MaxSetupAttempts:        5,
			MaxFailures:             5,
			FailureCooldown:         5 * time.Minute,
			EnforceReplayProtection: true,
		},
		EmailChange: EmailChangeConfig{
			RedisPrefix:            "aec",
			OTPDigits:              6,
			OTPTTL:                 10 * time.Minute,
			MaxAttempts:            5,
			RequireTOTPWhenEnabled: true,
			NotifyOldAddress:       true,
			MaxRequestsPerWindow:   5,
			RequestWindow:          time.Hour,
		},
		CSRF: CSRFConfig{
			CookieName: "__Host-csrf",
			HeaderName: "X-CSRF-Token",
			TTL:        12 * time.Hour,
			Secure:     true,
			SameSite:   http.SameSiteStrictMode,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.CSRF.Key = cloneBytes(cfg.CSRF.Key)
	return out
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.AppName) == "" {
		return errors.New("AppName must be set")
	}

	switch strings.ToLower(c.JWT.SigningMethod) {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("JWT.PrivateKey is required to issue tokens")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("JWT.PrivateKey must be at least 32 bytes for hs256")
		}
	default:
		return errors.New("JWT.SigningMethod must be ed25519 or hs256")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT.Leeway must be within [0, 2m]")
	}

	if c.Session.TTL <= 0 || c.Session.TTL > 7*24*time.Hour {
		return errors.New("Session.TTL must be within (0, 7d]")
	}

	if err := c.Password.Policy.Validate(); err != nil {
		return err
	}

	if c.Login.MaxAttempts <= 0 || c.Login.Cooldown <= 0 {
		return errors.New("Login.MaxAttempts and Login.Cooldown must be > 0")
	}

	r := c.PasswordReset
	if r.TokenTTL < 15*time.Minute || r.TokenTTL > time.Hour {
		return errors.New("PasswordReset.TokenTTL must be within [15m, 1h]")
	}
	if r.MaxAttempts <= 0 {
		return errors.New("PasswordReset.MaxAttempts must be > 0")
	}
	if r.LinkTemplate != "" && strings.Count(r.LinkTemplate, "%s") != 1 {
		return errors.New("PasswordReset.LinkTemplate must contain exactly one %s")
	}
	if r.RequestWindow <= 0 || r.MaxRequestsPerWindow <= 0 {
		return errors.New("PasswordReset request throttle must be positive")
	}
	if r.EnumerationDelayMin < 0 || r.EnumerationDelayMax < r.EnumerationDelayMin {
		return errors.New("PasswordReset enumeration delay bounds are invalid")
	}

	t := c.TOTP
	if t.Digits != 6 && t.Digits != 8 {
		return errors.New("TOTP.Digits must be 6 or 8")
	}
	if t.Period <= 0 {
		return errors.New("TOTP.Period must be > 0")
	}
	switch strings.ToUpper(t.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP.Algorithm must be SHA1, SHA256 or SHA512")
	}
	if t.Skew < 0 || t.Skew > 3 {
		return errors.New("TOTP.Skew must be within [0, 3]")
	}
	if strings.TrimSpace(t.Issuer) == "" {
		return errors.New("TOTP.Issuer must be set")
	}
	if t.SetupTTL <= 0 || t.MaxSetupAttempts <= 0 || t.MaxFailures <= 0 || t.FailureCooldown <= 0 {
		return errors.New("TOTP setup and failure bounds must be > 0")
	}

	e := c.EmailChange
	if e.OTPDigits < 6 || e.OTPDigits > 10 {
		return errors.New("EmailChange.OTPDigits must be within [6, 10]")
	}
	if e.OTPTTL <= 0 || e.MaxAttempts <= 0 {
		return errors.New("EmailChange.OTPTTL and MaxAttempts must be > 0")
	}
	if e.MaxRequestsPerWindow <= 0 || e.RequestWindow <= 0 {
		return errors.New("EmailChange request throttle must be positive")
	}

	if len(c.CSRF.Key) < 32 {
		return errors.New("CSRF.Key must be at least 32 bytes")
	}
	if c.CSRF.SameSite == http.SameSiteNoneMode && !c.CSRF.Secure {
		return errors.New("CSRF SameSite=None requires Secure")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be > 0")
	}
	return nil
}
