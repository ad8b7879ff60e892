package adminauth

import (
	"net/http"
)

// VerifyCSRF runs the double-submit check on r and records rejections.
// Safe methods always pass.
func (e *Engine) VerifyCSRF(r *http.Request) error {
	if e == nil || e.csrf == nil {
		return ErrEngineNotReady
	}
	if err := e.csrf.Verify(r); err != nil {
		e.metricInc(MetricCSRFRejected)
		e.emitAudit(r.Context(), auditEventCSRFRejected, false, "", "", ErrCSRFRejected, func() map[string]string {
			return map[string]string{"method": r.Method, "path": r.URL.Path}
		})
		return ErrCSRFRejected
	}
	return nil
}
