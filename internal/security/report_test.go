package security

import (
	"net/http"
	"testing"
	"time"
)

func hardened() ReportInput {
	return ReportInput{
		SigningAlgorithm:        "ed25519",
		SessionTTL:              8 * time.Hour,
		Password:                PasswordReport{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32, MinLength: 12},
		MaxLoginAttempts:        5,
		LoginCooldown:           15 * time.Minute,
		ResetTokenTTL:           30 * time.Minute,
		ResetIPThrottle:         true,
		TOTPReplayProtection:    true,
		TOTPSkew:                1,
		EmailChangeRequiresTOTP: true,
		CSRFSecure:              true,
		CSRFSameSite:            http.SameSiteStrictMode,
		AuditEnabled:            true,
	}
}

func TestBuildReportHardenedHasNoWarnings(t *testing.T) {
	r := BuildReport(hardened())
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
	if !r.LoginThrottleActive || r.CSRFSameSite != "strict" {
		t.Fatalf("unexpected report: %+v", r)
	}
}

func TestBuildReportFlagsWeakSettings(t *testing.T) {
	in := hardened()
	in.SigningAlgorithm = "hs256"
	in.Password.Memory = 8192
	in.MaxLoginAttempts = 0
	in.ResetDeliveryFailureVisible = true
	in.TOTPReplayProtection = false
	in.EmailChangeRequiresTOTP = false
	in.CSRFSecure = false

	r := BuildReport(in)
	if len(r.Warnings) != 7 {
		t.Fatalf("expected 7 warnings, got %d: %v", len(r.Warnings), r.Warnings)
	}
	if r.LoginThrottleActive {
		t.Fatal("expected login throttle inactive")
	}
}
