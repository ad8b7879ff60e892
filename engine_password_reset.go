package adminauth

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/MrEthical07/adminauth/internal"
	"github.com/MrEthical07/adminauth/internal/limiters"
	"github.com/MrEthical07/adminauth/internal/stores"
	"github.com/MrEthical07/adminauth/mail"
)

// RequestPasswordReset issues a single-use reset token and mails it. The
// outcome is the same whether or not email belongs to an account: both
// paths generate a token, render a message, run one Redis transaction and
// wait a random delay. Delivery runs in the background unless
// PasswordReset.SurfaceDeliveryFailure is set. Any earlier token of the
// account stops working.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	defer e.enumerationDelay(ctx, time.Now())

	email = normalizeEmail(email)
	if err := e.validEmail(email); err != nil {
		return err
	}

	exhausted, err := e.resetLimiter.CheckRequest(ctx, email, clientIPFromContext(ctx))
	if err != nil {
		if errors.Is(err, limiters.ErrResetRateLimited) {
			e.emitRateLimit(ctx, "password_reset_request", "")
			return ErrTooManyAttempts
		}
		return backendErr(err)
	}
	e.metricInc(MetricPasswordResetRequest)

	var acct *Account
	if !exhausted {
		acct, err = e.store.GetAccountByEmail(ctx, email)
		if err != nil && !errors.Is(err, ErrAccountNotFound) {
			return backendErr(err)
		}
		if acct != nil && acct.Status != AccountActive {
			acct = nil
		}
	}

	if acct == nil {
		if err := e.fakeResetWork(ctx, email); err != nil {
			return backendErr(err)
		}
		e.emitAudit(ctx, auditEventPasswordResetRequest, true, "", "", nil, func() map[string]string {
			if exhausted {
				return map[string]string{"outcome": "throttled"}
			}
			return map[string]string{"outcome": "unknown_account"}
		})
		return nil
	}

	resetID, secret, token, err := internal.NewResetToken()
	if err != nil {
		return err
	}
	now := e.now()
	ttl := e.config.PasswordReset.TokenTTL
	record := &stores.PasswordResetRecord{
		AccountID:  acct.ID,
		SecretHash: internal.HashResetSecret(secret),
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
	}
	if err := e.resetStore.Replace(ctx, resetID, record, ttl); err != nil {
		return backendErr(err)
	}

	msg, err := e.resetMessage(acct.Email, token)
	if err != nil {
		e.resetDeliveryFailed(ctx, acct.ID, err)
		if e.config.PasswordReset.SurfaceDeliveryFailure {
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
		return nil
	}

	if e.config.PasswordReset.SurfaceDeliveryFailure {
		if err := e.deliverReset(ctx, acct.ID, msg); err != nil {
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
		return nil
	}

	bg := context.WithoutCancel(ctx)
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		_ = e.deliverReset(bg, acct.ID, msg)
	}()
	return nil
}

// deliverReset sends msg and records the outcome in metrics, log and audit.
func (e *Engine) deliverReset(ctx context.Context, accountID string, msg mail.Message) error {
	if err := e.mailer.Send(ctx, msg); err != nil {
		e.resetDeliveryFailed(ctx, accountID, err)
		return err
	}
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"outcome": "sent"}
	})
	return nil
}

func (e *Engine) resetDeliveryFailed(ctx context.Context, accountID string, err error) {
	e.metricInc(MetricPasswordResetDeliveryFailed)
	e.logger.ErrorContext(ctx, "password reset delivery failed", "account_id", accountID, "error", err)
	e.emitAudit(ctx, auditEventPasswordResetRequest, false, accountID, "", ErrDeliveryFailed, nil)
}

func (e *Engine) resetMessage(to, token string) (mail.Message, error) {
	link := token
	if tmpl := e.config.PasswordReset.LinkTemplate; tmpl != "" {
		link = fmt.Sprintf(tmpl, token)
	}
	return e.templates.Render(mail.TemplatePasswordReset, to, map[string]string{
		"AppName": e.config.AppName,
		"Link":    link,
		"TTL":     e.config.PasswordReset.TokenTTL.String(),
	})
}

// fakeResetWork mirrors the token, rendering and Redis cost of a real
// request without storing anything.
func (e *Engine) fakeResetWork(ctx context.Context, email string) error {
	resetID, secret, token, err := internal.NewResetToken()
	if err != nil {
		return err
	}
	_ = internal.HashResetSecret(secret)
	_, _ = e.resetMessage(email, token)
	return e.resetStore.Decoy(ctx, resetID)
}

func (e *Engine) enumerationDelay(ctx context.Context, start time.Time) {
	lo := e.config.PasswordReset.EnumerationDelayMin
	hi := e.config.PasswordReset.EnumerationDelayMax
	if hi <= 0 {
		return
	}
	target := lo
	if hi > lo {
		target += rand.N(hi - lo)
	}
	wait := target - time.Since(start)
	if wait <= 0 {
		return
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// ValidateResetToken reports the account a reset token belongs to without
// consuming it.
func (e *Engine) ValidateResetToken(ctx context.Context, token string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if err := e.resetConfirmThrottle(ctx); err != nil {
		return "", err
	}

	resetID, secret, err := internal.DecodeResetToken(strings.TrimSpace(token))
	if err != nil {
		return "", ErrInvalidToken
	}
	record, err := e.resetStore.Peek(ctx, resetID, internal.HashResetSecret(secret), e.now())
	if err != nil {
		return "", mapResetStoreErr(err)
	}
	return record.AccountID, nil
}

// ResetPassword sets a new password using a reset token. The token is
// consumed only when the password satisfies the policy; on success every
// session of the account is revoked.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.resetConfirmThrottle(ctx); err != nil {
		return err
	}
	if err := e.config.Password.Policy.Check(newPassword, ""); err != nil {
		return err
	}

	resetID, secret, err := internal.DecodeResetToken(strings.TrimSpace(token))
	if err != nil {
		return e.resetFailure(ctx, "", ErrInvalidToken)
	}
	hash := internal.HashResetSecret(secret)
	now := e.now()

	record, err := e.resetStore.Peek(ctx, resetID, hash, now)
	if err != nil {
		if errors.Is(err, stores.ErrResetSecretMismatch) {
			// Consume counts the wrong secret toward the attempt bound.
			_, err = e.resetStore.Consume(ctx, resetID, hash, e.config.PasswordReset.MaxAttempts, now)
		}
		return e.resetFailure(ctx, "", mapResetStoreErr(err))
	}

	acct, err := e.loadAccount(ctx, record.AccountID, ErrInvalidToken)
	if err != nil {
		return e.resetFailure(ctx, record.AccountID, err)
	}
	if err := e.config.Password.Policy.Check(newPassword, acct.Email); err != nil {
		return err
	}
	newHash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return err
	}

	if _, err := e.resetStore.Consume(ctx, resetID, hash, e.config.PasswordReset.MaxAttempts, now); err != nil {
		return e.resetFailure(ctx, acct.ID, mapResetStoreErr(err))
	}
	if err := e.store.UpdatePasswordHash(ctx, acct.ID, newHash); err != nil {
		return backendErr(err)
	}
	if _, err := e.revokeSessions(ctx, acct.ID); err != nil {
		e.logger.ErrorContext(ctx, "session revocation failed after password reset", "account_id", acct.ID, "error", err)
		return err
	}
	if err := e.loginLimiter.ResetLogin(ctx, normalizeEmail(acct.Email)); err != nil {
		e.logger.WarnContext(ctx, "login limiter reset failed", "account_id", acct.ID, "error", err)
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, acct.ID, "", nil, nil)
	return nil
}

func (e *Engine) resetConfirmThrottle(ctx context.Context) error {
	if err := e.resetLimiter.CheckConfirm(ctx, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, limiters.ErrResetRateLimited) {
			e.emitRateLimit(ctx, "password_reset_confirm", "")
			return ErrTooManyAttempts
		}
		return backendErr(err)
	}
	return nil
}

func (e *Engine) resetFailure(ctx context.Context, accountID string, err error) error {
	e.metricInc(MetricPasswordResetConfirmFailure)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, false, accountID, "", err, nil)
	return err
}

func mapResetStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrResetNotFound), errors.Is(err, stores.ErrResetSecretMismatch):
		return ErrInvalidToken
	case errors.Is(err, stores.ErrResetAttemptsExceeded):
		return ErrTooManyAttempts
	default:
		return backendErr(err)
	}
}
