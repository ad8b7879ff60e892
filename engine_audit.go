package adminauth

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventLogoutSession          = "logout_session"
	auditEventLogoutAll              = "logout_all"
	auditEventPasswordChangeSuccess  = "password_change_success"
	auditEventPasswordChangeFailure  = "password_change_failure"
	auditEventPasswordResetRequest   = "password_reset_request"
	auditEventPasswordResetConfirm   = "password_reset_confirm"
	auditEventTOTPSetupRequested     = "totp_setup_requested"
	auditEventTOTPEnabled            = "totp_enabled"
	auditEventTOTPDisabled           = "totp_disabled"
	auditEventTOTPFailure            = "totp_failure"
	auditEventTOTPSuccess            = "totp_success"
	auditEventEmailChangeRequest     = "email_change_request"
	auditEventEmailChangeVerify      = "email_change_verify"
	auditEventEmailChangeCommit      = "email_change_commit"
	auditEventAccountCreationSuccess = "account_creation_success"
	auditEventAccountCreationFailure = "account_creation_failure"
	auditEventRateLimitTriggered     = "rate_limit_triggered"
	auditEventCSRFRejected           = "csrf_rejected"
)

// AuditErrorCode is the stable error label written to audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrTOTPRequired       AuditErrorCode = "totp_required"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrInvalidCode        AuditErrorCode = "invalid_code"
	auditErrTooManyAttempts    AuditErrorCode = "too_many_attempts"
	auditErrWeakPassword       AuditErrorCode = "weak_password"
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrUnauthenticated    AuditErrorCode = "unauthenticated"
	auditErrCSRFRejected       AuditErrorCode = "csrf_rejected"
	auditErrNotVerified        AuditErrorCode = "not_verified"
	auditErrDeliveryFailed     AuditErrorCode = "delivery_failed"
	auditErrConflict           AuditErrorCode = "conflict"
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user_agent"] = ua
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, accountID string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, accountID, "", ErrTooManyAttempts, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrTOTPRequired):
		return auditErrTOTPRequired
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrBackendUnavailable):
		return auditErrUnavailable
	}

	switch KindOf(err) {
	case KindInvalidToken:
		return auditErrInvalidToken
	case KindInvalidCode:
		return auditErrInvalidCode
	case KindTooManyAttempts:
		return auditErrTooManyAttempts
	case KindWeakPassword:
		return auditErrWeakPassword
	case KindUnauthorized:
		return auditErrUnauthorized
	case KindUnauthenticated:
		return auditErrUnauthenticated
	case KindCSRFRejected:
		return auditErrCSRFRejected
	case KindNotVerified:
		return auditErrNotVerified
	case KindDeliveryFailed:
		return auditErrDeliveryFailed
	case KindConflict:
		return auditErrConflict
	case KindInvalidInput:
		return auditErrInvalidInput
	default:
		return auditErrInternal
	}
}
