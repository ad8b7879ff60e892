package security

import (
	"net/http"
	"time"
)

// PasswordReport is the Argon2id cost in effect.
type PasswordReport struct {
	Memory      uint32 `json:"memory_kib"`
	Time        uint32 `json:"time"`
	Parallelism uint8  `json:"parallelism"`
	SaltLength  uint32 `json:"salt_length"`
	KeyLength   uint32 `json:"key_length"`
	MinLength   int    `json:"min_length"`
}

// Report is the posture derived from a ReportInput. Warnings lists
// settings that are valid but weaker than the defaults.
type Report struct {
	SigningAlgorithm            string         `json:"signing_algorithm"`
	SessionTTL                  time.Duration  `json:"session_ttl"`
	Argon2                      PasswordReport `json:"argon2"`
	LoginThrottleActive         bool           `json:"login_throttle_active"`
	ResetTokenTTL               time.Duration  `json:"reset_token_ttl"`
	ResetIPThrottleActive       bool           `json:"reset_ip_throttle_active"`
	ResetDeliveryFailureVisible bool           `json:"reset_delivery_failure_visible"`
	TOTPReplayProtection        bool           `json:"totp_replay_protection"`
	TOTPSkew                    int            `json:"totp_skew"`
	EmailChangeRequiresTOTP     bool           `json:"email_change_requires_totp"`
	CSRFSecureCookie            bool           `json:"csrf_secure_cookie"`
	CSRFSameSite                string         `json:"csrf_same_site"`
	AuditEnabled                bool           `json:"audit_enabled"`
	Warnings                    []string       `json:"warnings,omitempty"`
}

// ReportInput is the flattened configuration the report is built from.
type ReportInput struct {
	SigningAlgorithm            string
	SessionTTL                  time.Duration
	Password                    PasswordReport
	MaxLoginAttempts            int
	LoginCooldown               time.Duration
	ResetTokenTTL               time.Duration
	ResetIPThrottle             bool
	ResetDeliveryFailureVisible bool
	TOTPReplayProtection        bool
	TOTPSkew                    int
	EmailChangeRequiresTOTP     bool
	CSRFSecure                  bool
	CSRFSameSite                http.SameSite
	AuditEnabled                bool
}

func BuildReport(input ReportInput) Report {
	r := Report{
		SigningAlgorithm:            input.SigningAlgorithm,
		SessionTTL:                  input.SessionTTL,
		Argon2:                      input.Password,
		LoginThrottleActive:         input.MaxLoginAttempts > 0 && input.LoginCooldown > 0,
		ResetTokenTTL:               input.ResetTokenTTL,
		ResetIPThrottleActive:       input.ResetIPThrottle,
		ResetDeliveryFailureVisible: input.ResetDeliveryFailureVisible,
		TOTPReplayProtection:        input.TOTPReplayProtection,
		TOTPSkew:                    input.TOTPSkew,
		EmailChangeRequiresTOTP:     input.EmailChangeRequiresTOTP,
		CSRFSecureCookie:            input.CSRFSecure,
		CSRFSameSite:                sameSiteName(input.CSRFSameSite),
		AuditEnabled:                input.AuditEnabled,
	}

	warn := func(msg string) { r.Warnings = append(r.Warnings, msg) }
	if input.SigningAlgorithm == "hs256" {
		warn("hs256 shares the signing key with every verifier; prefer ed25519")
	}
	if input.SessionTTL > 24*time.Hour {
		warn("sessions live longer than 24h")
	}
	if input.Password.Memory < 19*1024 || input.Password.Time < 2 {
		warn("argon2id cost is below the OWASP minimum (19 MiB, t=2)")
	}
	if !r.LoginThrottleActive {
		warn("login throttling is off")
	}
	if input.ResetDeliveryFailureVisible {
		warn("reset delivery failures are surfaced to callers, which reveals registered addresses")
	}
	if !input.TOTPReplayProtection {
		warn("TOTP codes can be replayed within their time step")
	}
	if input.TOTPSkew > 1 {
		warn("TOTP skew accepts codes more than one step away")
	}
	if !input.EmailChangeRequiresTOTP {
		warn("email change does not require a TOTP code on 2FA accounts")
	}
	if !input.CSRFSecure {
		warn("CSRF cookie is sent over plain HTTP")
	}
	if !input.AuditEnabled {
		warn("audit events are disabled")
	}
	return r
}

func sameSiteName(s http.SameSite) string {
	switch s {
	case http.SameSiteLaxMode:
		return "lax"
	case http.SameSiteStrictMode:
		return "strict"
	case http.SameSiteNoneMode:
		return "none"
	default:
		return "default"
	}
}
