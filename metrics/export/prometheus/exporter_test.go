package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/adminauth"
)

type fakeSource struct {
	snapshot adminauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() adminauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

// postureSource also reports configuration warnings, like the engine does.
type postureSource struct {
	fakeSource
	warnings []string
}

func (p postureSource) SecurityReport() adminauth.SecurityReport {
	return adminauth.SecurityReport{Warnings: p.warnings}
}

func accountSecuritySnapshot() adminauth.MetricsSnapshot {
	return adminauth.MetricsSnapshot{
		Counters: map[adminauth.MetricID]uint64{
			adminauth.MetricEmailChangeCommitted:        3,
			adminauth.MetricCSRFRejected:                5,
			adminauth.MetricPasswordResetDeliveryFailed: 1,
			adminauth.MetricTOTPReplayDetected:          2,
		},
		Histograms: map[adminauth.MetricID][]uint64{
			adminauth.MetricAuthenticateLatency: {4, 2, 1, 0, 0, 0, 0, 1},
		},
	}
}

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: adminauth.MetricsSnapshot{
			Counters:   map[adminauth.MetricID]uint64{},
			Histograms: map[adminauth.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderAccountSecurityCounters(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: accountSecuritySnapshot(), dropped: 2})
	out := exp.Render()

	for _, line := range []string{
		"# TYPE adminauth_email_change_committed_total counter",
		"adminauth_email_change_committed_total 3",
		"adminauth_csrf_rejected_total 5",
		"adminauth_password_reset_delivery_failed_total 1",
		"adminauth_totp_replay_detected_total 2",
		"adminauth_login_success_total 0",
		"adminauth_audit_dropped_total 2",
	} {
		if !strings.Contains(out, line+"\n") {
			t.Fatalf("missing %q in output:\n%s", line, out)
		}
	}
	if strings.Contains(out, "adminauth_security_warnings") {
		t.Fatalf("a source without a report must not export the security gauge:\n%s", out)
	}
}

func TestRenderLatencyHistogramIsCumulative(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: accountSecuritySnapshot()})
	out := exp.Render()

	for _, line := range []string{
		"# TYPE adminauth_authenticate_latency_seconds histogram",
		`adminauth_authenticate_latency_seconds_bucket{le="0.005"} 4`,
		`adminauth_authenticate_latency_seconds_bucket{le="0.01"} 6`,
		`adminauth_authenticate_latency_seconds_bucket{le="0.5"} 7`,
		`adminauth_authenticate_latency_seconds_bucket{le="+Inf"} 8`,
		"adminauth_authenticate_latency_seconds_count 8",
	} {
		if !strings.Contains(out, line+"\n") {
			t.Fatalf("missing %q in output:\n%s", line, out)
		}
	}
}

func TestRenderSecurityWarningsGauge(t *testing.T) {
	exp := NewPrometheusExporterFromSource(postureSource{
		fakeSource: fakeSource{snapshot: accountSecuritySnapshot()},
		warnings:   []string{"hs256 signing", "csrf cookie not secure"},
	})
	out := exp.Render()

	if !strings.Contains(out, "# TYPE adminauth_security_warnings gauge\nadminauth_security_warnings 2\n") {
		t.Fatalf("expected security warnings gauge, got:\n%s", out)
	}
}

func TestHandlerContentTypeAndDisabledStatus(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: accountSecuritySnapshot()})
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain; version=0.0.4") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}

	off := NewPrometheusExporterFromSource(fakeSource{snapshot: adminauth.MetricsSnapshot{}})
	rec = httptest.NewRecorder()
	off.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with metrics off, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: accountSecuritySnapshot(), dropped: 1})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
