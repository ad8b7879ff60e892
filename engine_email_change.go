package adminauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/adminauth/internal"
	"github.com/MrEthical07/adminauth/internal/limiters"
	"github.com/MrEthical07/adminauth/internal/stores"
	"github.com/MrEthical07/adminauth/mail"
)

// RequestEmailChange starts an email change by mailing a one-time code to
// newEmail. Accounts with 2FA must also pass totpCode unless
// EmailChange.RequireTOTPWhenEnabled is off. A new request supersedes the
// previous one. When delivery fails the request stays stored and
// ErrDeliveryFailed is returned.
func (e *Engine) RequestEmailChange(ctx context.Context, accountID, newEmail, totpCode string) error {
	if err := e.ready(); err != nil {
		return err
	}
	acct, err := e.loadAccount(ctx, accountID, ErrUnauthenticated)
	if err != nil {
		return err
	}

	newEmail = normalizeEmail(newEmail)
	if err := e.validEmail(newEmail); err != nil {
		return e.emailChangeFailure(ctx, auditEventEmailChangeRequest, acct.ID, err)
	}
	if newEmail == normalizeEmail(acct.Email) {
		return e.emailChangeFailure(ctx, auditEventEmailChangeRequest, acct.ID, ErrEmailInUse)
	}

	if acct.TOTPEnabled && e.config.EmailChange.RequireTOTPWhenEnabled {
		if strings.TrimSpace(totpCode) == "" {
			return e.emailChangeFailure(ctx, auditEventEmailChangeRequest, acct.ID, ErrInvalidCode)
		}
		if err := e.checkTOTP(ctx, acct, totpCode); err != nil {
			return e.emailChangeFailure(ctx, auditEventEmailChangeRequest, acct.ID, err)
		}
	}

	if err := e.emailLimiter.CheckRequest(ctx, acct.ID); err != nil {
		if errors.Is(err, limiters.ErrEmailChangeRateLimited) {
			e.emitRateLimit(ctx, "email_change_request", acct.ID)
			return ErrTooManyAttempts
		}
		return backendErr(err)
	}

	inUse, err := e.store.EmailInUse(ctx, newEmail)
	if err != nil {
		return backendErr(err)
	}
	if inUse {
		return e.emailChangeFailure(ctx, auditEventEmailChangeRequest, acct.ID, ErrEmailInUse)
	}

	code, err := internal.NewOTP(e.config.EmailChange.OTPDigits)
	if err != nil {
		return err
	}
	now := e.now()
	ttl := e.config.EmailChange.OTPTTL
	record := &stores.EmailChangeRecord{
		AccountID: acct.ID,
		NewEmail:  newEmail,
		OTPHash:   internal.HashOTP(acct.ID, code),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	if err := e.emailStore.Replace(ctx, record, ttl); err != nil {
		return backendErr(err)
	}
	e.metricInc(MetricEmailChangeRequest)

	msg, err := e.templates.Render(mail.TemplateEmailChange, newEmail, map[string]string{
		"AppName": e.config.AppName,
		"Code":    code,
		"TTL":     ttl.String(),
	})
	if err == nil {
		err = e.mailer.Send(ctx, msg)
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "email change code delivery failed", "account_id", acct.ID, "error", err)
		e.emitAudit(ctx, auditEventEmailChangeRequest, false, acct.ID, "", ErrDeliveryFailed, nil)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	e.emitAudit(ctx, auditEventEmailChangeRequest, true, acct.ID, "", nil, nil)
	return nil
}

// VerifyEmailChangeOTP marks the pending request verified when code
// matches. Once attempts exceed EmailChange.MaxAttempts the request is
// dropped and ErrTooManyAttempts returned.
func (e *Engine) VerifyEmailChangeOTP(ctx context.Context, accountID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(accountID) == "" {
		return ErrUnauthenticated
	}

	code = strings.TrimSpace(code)
	err := e.emailStore.Verify(ctx, accountID, internal.HashOTP(accountID, code), e.config.EmailChange.MaxAttempts, e.now())
	switch {
	case err == nil:
		e.metricInc(MetricEmailChangeVerified)
		e.emitAudit(ctx, auditEventEmailChangeVerify, true, accountID, "", nil, nil)
		return nil
	case errors.Is(err, stores.ErrEmailChangeNotFound):
		err = ErrInvalidToken
	case errors.Is(err, stores.ErrEmailChangeCodeMismatch):
		err = ErrInvalidCode
	case errors.Is(err, stores.ErrEmailChangeAttemptsExceeded):
		err = ErrTooManyAttempts
	default:
		return backendErr(err)
	}
	e.metricInc(MetricEmailChangeFailure)
	return e.emailChangeFailure(ctx, auditEventEmailChangeVerify, accountID, err)
}

// CommitEmailChange applies a verified request, revokes every session of
// the account and notifies the old address. It returns the new address.
func (e *Engine) CommitEmailChange(ctx context.Context, accountID string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	acct, err := e.loadAccount(ctx, accountID, ErrUnauthenticated)
	if err != nil {
		return "", err
	}

	newEmail, err := e.emailStore.Commit(ctx, acct.ID, e.now())
	if err != nil {
		if errors.Is(err, stores.ErrEmailChangeNotFound) || errors.Is(err, stores.ErrEmailChangeNotVerified) {
			return "", e.emailChangeFailure(ctx, auditEventEmailChangeCommit, acct.ID, ErrNotVerified)
		}
		return "", backendErr(err)
	}

	if err := e.store.UpdateEmail(ctx, acct.ID, newEmail); err != nil {
		if errors.Is(err, ErrConflict) {
			return "", e.emailChangeFailure(ctx, auditEventEmailChangeCommit, acct.ID, ErrEmailInUse)
		}
		return "", backendErr(err)
	}
	if _, err := e.revokeSessions(ctx, acct.ID); err != nil {
		e.logger.ErrorContext(ctx, "session revocation failed after email change", "account_id", acct.ID, "error", err)
		return "", err
	}

	if e.config.EmailChange.NotifyOldAddress {
		e.notifyOldAddress(ctx, acct, newEmail)
	}

	e.metricInc(MetricEmailChangeCommitted)
	e.emitAudit(ctx, auditEventEmailChangeCommit, true, acct.ID, "", nil, nil)
	return newEmail, nil
}

func (e *Engine) notifyOldAddress(ctx context.Context, acct *Account, newEmail string) {
	msg, err := e.templates.Render(mail.TemplateEmailChanged, acct.Email, map[string]string{
		"AppName":  e.config.AppName,
		"NewEmail": newEmail,
	})
	if err == nil {
		err = e.mailer.Send(ctx, msg)
	}
	if err != nil {
		e.logger.WarnContext(ctx, "old address notification failed", "account_id", acct.ID, "error", err)
	}
}

// EmailChangeStatus describes the live request of an account.
func (e *Engine) EmailChangeStatus(ctx context.Context, accountID string) (*EmailChangeStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(accountID) == "" {
		return nil, ErrUnauthenticated
	}

	record, err := e.emailStore.Get(ctx, accountID, e.now())
	if err != nil {
		if errors.Is(err, stores.ErrEmailChangeNotFound) {
			return &EmailChangeStatus{State: EmailChangeIdle}, nil
		}
		return nil, backendErr(err)
	}

	status := &EmailChangeStatus{
		State:     EmailChangeRequested,
		NewEmail:  record.NewEmail,
		Attempts:  record.Attempts,
		ExpiresAt: time.Unix(record.ExpiresAt, 0).UTC(),
	}
	if record.Verified {
		status.State = EmailChangeVerified
	}
	return status, nil
}

// CancelEmailChange drops the pending request, if any.
func (e *Engine) CancelEmailChange(ctx context.Context, accountID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.emailStore.Delete(ctx, accountID); err != nil {
		return backendErr(err)
	}
	return nil
}

func (e *Engine) emailChangeFailure(ctx context.Context, event, accountID string, err error) error {
	e.emitAudit(ctx, event, false, accountID, "", err, nil)
	return err
}
