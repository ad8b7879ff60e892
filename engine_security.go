package adminauth

import (
	"strings"

	"github.com/MrEthical07/adminauth/internal/security"
)

// SecurityReport is the effective security posture of an engine.
type SecurityReport = security.Report

// SecurityReport summarizes the configuration the engine was built with and
// lists settings weaker than the defaults.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	return buildSecurityReport(e.config)
}

func buildSecurityReport(cfg Config) SecurityReport {
	argon := cfg.Password.Argon2
	return security.BuildReport(security.ReportInput{
		SigningAlgorithm: strings.ToLower(cfg.JWT.SigningMethod),
		SessionTTL:       cfg.Session.TTL,
		Password: security.PasswordReport{
			Memory:      argon.Memory,
			Time:        argon.Time,
			Parallelism: argon.Parallelism,
			SaltLength:  argon.SaltLength,
			KeyLength:   argon.KeyLength,
			MinLength:   cfg.Password.Policy.MinLength,
		},
		MaxLoginAttempts:            cfg.Login.MaxAttempts,
		LoginCooldown:               cfg.Login.Cooldown,
		ResetTokenTTL:               cfg.PasswordReset.TokenTTL,
		ResetIPThrottle:             cfg.PasswordReset.EnableIPThrottle,
		ResetDeliveryFailureVisible: cfg.PasswordReset.SurfaceDeliveryFailure,
		TOTPReplayProtection:        cfg.TOTP.EnforceReplayProtection,
		TOTPSkew:                    cfg.TOTP.Skew,
		EmailChangeRequiresTOTP:     cfg.EmailChange.RequireTOTPWhenEnabled,
		CSRFSecure:                  cfg.CSRF.Secure,
		CSRFSameSite:                cfg.CSRF.SameSite,
		AuditEnabled:                cfg.Audit.Enabled,
	})
}
