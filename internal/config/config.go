// Package config reads adminauthd settings from the environment, optionally
// seeded from .env files.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/adminauth"
	"github.com/MrEthical07/adminauth/mail"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	Addr   string
	AppEnv string

	RedisAddr     string // empty starts an in-process miniredis
	RedisPassword string
	RedisDB       int

	DBDialect string // sqlite, postgres or memory
	DBDSN     string

	JWTSigningMethod  string
	JWTPrivateKeyPath string
	JWTSecret         string
	JWTIssuer         string
	SessionTTL        time.Duration

	CSRFKey            string // hex
	CSRFInsecureCookie bool

	SMTP mail.SMTPConfig

	AppName                   string
	ResetLinkTemplate         string
	TOTPIssuer                string
	RequireTOTPForEmailChange bool

	AllowedOrigins []string
	TrustProxy     bool
	RateLimitRPS   float64
	RateLimitBurst int

	AuditSNSTopicARN string
	AWSRegion        string

	// BootstrapEmail and BootstrapPassword create the first superadmin at
	// startup when both are set.
	BootstrapEmail    string
	BootstrapPassword string

	LogLevel  slog.Level
	LogFormat string // text or json
}

// Load reads .env files (missing files are ignored) and then the
// environment. Variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Addr:                      getEnv("ADDR", ":8080"),
		AppEnv:                    getEnv("APP_ENV", "development"),
		RedisAddr:                 getEnv("REDIS_ADDR", ""),
		RedisPassword:             getEnv("REDIS_PASSWORD", ""),
		RedisDB:                   getEnvInt("REDIS_DB", 0),
		DBDialect:                 getEnv("DB_DIALECT", "sqlite"),
		DBDSN:                     getEnv("DB_DSN", "adminauth.db"),
		JWTSigningMethod:          getEnv("JWT_SIGNING_METHOD", "ed25519"),
		JWTPrivateKeyPath:         getEnv("JWT_PRIVATE_KEY_PATH", ""),
		JWTSecret:                 getEnv("JWT_SECRET", ""),
		JWTIssuer:                 getEnv("JWT_ISSUER", "adminauth"),
		SessionTTL:                getEnvDuration("SESSION_TTL", 8*time.Hour),
		CSRFKey:                   getEnv("CSRF_KEY", ""),
		CSRFInsecureCookie:        getEnvBool("CSRF_INSECURE_COOKIE", false),
		AppName:                   getEnv("APP_NAME", "Admin Console"),
		ResetLinkTemplate:         getEnv("RESET_LINK_TEMPLATE", "http://localhost:8080/reset?token=%s"),
		TOTPIssuer:                getEnv("TOTP_ISSUER", "Admin Console"),
		RequireTOTPForEmailChange: getEnvBool("REQUIRE_TOTP_FOR_EMAIL_CHANGE", true),
		AllowedOrigins:            splitList(getEnv("ALLOWED_ORIGINS", "")),
		TrustProxy:                getEnvBool("TRUST_PROXY", false),
		RateLimitRPS:              getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:            getEnvInt("RATE_LIMIT_BURST", 10),
		AuditSNSTopicARN:          getEnv("AUDIT_SNS_TOPIC_ARN", ""),
		AWSRegion:                 getEnv("AWS_REGION", "us-east-1"),
		BootstrapEmail:            getEnv("BOOTSTRAP_EMAIL", ""),
		BootstrapPassword:         getEnv("BOOTSTRAP_PASSWORD", ""),
		LogFormat:                 getEnv("LOG_FORMAT", "text"),
		SMTP: mail.SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "noreply@example.com"),
			PoolSize: getEnvInt("SMTP_POOL_SIZE", 2),
			Timeout:  getEnvDuration("SMTP_TIMEOUT", 10*time.Second),
			StartTLS: getEnvBool("SMTP_STARTTLS", true),
		},
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	switch cfg.DBDialect {
	case "sqlite", "postgres", "memory":
	default:
		return nil, fmt.Errorf("DB_DIALECT %q is not one of sqlite, postgres, memory", cfg.DBDialect)
	}
	return cfg, nil
}

// Engine builds the engine configuration. Key material is read from disk
// or the environment here so the engine never sees file paths.
func (c *Config) Engine() (adminauth.Config, error) {
	out := adminauth.DefaultConfig()
	out.AppName = c.AppName
	out.JWT.SigningMethod = c.JWTSigningMethod
	out.JWT.Issuer = c.JWTIssuer
	out.Session.TTL = c.SessionTTL
	out.PasswordReset.LinkTemplate = c.ResetLinkTemplate
	out.TOTP.Issuer = c.TOTPIssuer
	out.EmailChange.RequireTOTPWhenEnabled = c.RequireTOTPForEmailChange

	switch c.JWTSigningMethod {
	case "hs256":
		if c.JWTSecret == "" {
			return out, errors.New("JWT_SECRET is required for hs256")
		}
		out.JWT.PrivateKey = []byte(c.JWTSecret)
	default:
		if c.JWTPrivateKeyPath == "" {
			return out, errors.New("JWT_PRIVATE_KEY_PATH is required for ed25519")
		}
		pem, err := os.ReadFile(c.JWTPrivateKeyPath)
		if err != nil {
			return out, fmt.Errorf("read jwt key: %w", err)
		}
		out.JWT.PrivateKey = pem
	}

	key, err := hex.DecodeString(c.CSRFKey)
	if err != nil {
		return out, fmt.Errorf("CSRF_KEY must be hex: %w", err)
	}
	out.CSRF.Key = key
	if c.CSRFInsecureCookie {
		out.CSRF.Secure = false
		out.CSRF.CookieName = "csrf"
	}

	return out, out.Validate()
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
