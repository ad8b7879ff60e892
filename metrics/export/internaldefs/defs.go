package internaldefs

import (
	"github.com/MrEthical07/adminauth"
)

// Prefix starts every exported series name.
const Prefix = "adminauth_"

// Series that do not come from a MetricID.
const (
	AuditDroppedName     = Prefix + "audit_dropped_total"
	AuditDroppedHelp     = "Audit events dropped because the dispatcher buffer was full."
	SecurityWarningsName = Prefix + "security_warnings"
	SecurityWarningsHelp = "Warnings in the security report of the running configuration."
)

// PostureSource is a metrics source that can also describe its configuration.
// [adminauth.Engine] implements it.
type PostureSource interface {
	SecurityReport() adminauth.SecurityReport
}

// SecurityWarnings returns the report warning count of source. ok is false
// when source does not implement [PostureSource].
func SecurityWarnings(source any) (n int, ok bool) {
	ps, ok := source.(PostureSource)
	if !ok {
		return 0, false
	}
	return len(ps.SecurityReport().Warnings), true
}

// CounterDef names one exported counter.
type CounterDef struct {
	ID   adminauth.MetricID
	Name string
	Help string
}

// HistogramDef names one exported latency histogram.
type HistogramDef struct {
	ID   adminauth.MetricID
	Name string
	Help string
}

var counterHelp = map[adminauth.MetricID]string{
	adminauth.MetricLoginSuccess:                "Successful logins.",
	adminauth.MetricLoginFailure:                "Failed logins.",
	adminauth.MetricLoginRateLimited:            "Logins refused by the throttle.",
	adminauth.MetricTOTPRequired:                "Logins that stopped for a TOTP code.",
	adminauth.MetricTOTPSuccess:                 "Accepted TOTP codes.",
	adminauth.MetricTOTPFailure:                 "Rejected TOTP codes.",
	adminauth.MetricTOTPReplayDetected:          "TOTP codes rejected as replays.",
	adminauth.MetricTOTPSetupStarted:            "Started 2FA enrollments.",
	adminauth.MetricTOTPEnabled:                 "Completed 2FA enrollments.",
	adminauth.MetricTOTPDisabled:                "2FA disable operations.",
	adminauth.MetricSessionCreated:              "Created sessions.",
	adminauth.MetricSessionInvalidated:          "Revoked sessions.",
	adminauth.MetricLogout:                      "Single-session logouts.",
	adminauth.MetricLogoutAll:                   "Logout-all operations.",
	adminauth.MetricPasswordChangeSuccess:       "Successful password changes.",
	adminauth.MetricPasswordChangeInvalidOld:    "Password changes with a wrong current password.",
	adminauth.MetricPasswordResetRequest:        "Password reset requests.",
	adminauth.MetricPasswordResetConfirmSuccess: "Completed password resets.",
	adminauth.MetricPasswordResetConfirmFailure: "Rejected password reset confirmations.",
	adminauth.MetricPasswordResetDeliveryFailed: "Reset emails that could not be sent.",
	adminauth.MetricEmailChangeRequest:          "Email change requests.",
	adminauth.MetricEmailChangeVerified:         "Verified email change codes.",
	adminauth.MetricEmailChangeFailure:          "Rejected email change codes.",
	adminauth.MetricEmailChangeCommitted:        "Committed email changes.",
	adminauth.MetricCSRFRejected:                "Requests rejected by the CSRF guard.",
	adminauth.MetricRateLimitHit:                "Throttle checks that denied a request.",
}

// CounterDefs lists every counter in declaration order.
var CounterDefs = buildCounterDefs()

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: adminauth.MetricAuthenticateLatency, Name: Prefix + "authenticate_latency_seconds", Help: "Authenticate latency."},
}

func buildCounterDefs() []CounterDef {
	out := make([]CounterDef, 0, len(counterHelp))
	for _, id := range adminauth.MetricIDs() {
		help, ok := counterHelp[id]
		if !ok {
			continue
		}
		out = append(out, CounterDef{ID: id, Name: Prefix + id.String() + "_total", Help: help})
	}
	return out
}

// HistogramBounds are the Prometheus le labels matching
// [adminauth.HistogramBounds] plus the unbounded bucket.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form valid inside an
// instrument name.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
