package adminauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/adminauth/internal/limiters"
	"github.com/MrEthical07/adminauth/internal/stores"
	"github.com/MrEthical07/adminauth/totp"
)

// TOTPStatus reports whether 2FA is disabled, awaiting confirmation or on.
func (e *Engine) TOTPStatus(ctx context.Context, accountID string) (TOTPState, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	acct, err := e.loadAccount(ctx, accountID, ErrUnauthenticated)
	if err != nil {
		return "", err
	}
	if acct.TOTPEnabled {
		return TOTPEnabled, nil
	}
	pending, err := e.totpStore.HasPending(ctx, acct.ID)
	if err != nil {
		return "", backendErr(err)
	}
	if pending {
		return TOTPSetupPending, nil
	}
	return TOTPDisabled, nil
}

// BeginTOTPSetup generates a fresh secret and parks it until
// ConfirmTOTPSetup proves the authenticator app has it. Calling it again
// replaces the pending secret. QRCodePNG is nil when no encoder is set or
// encoding fails.
func (e *Engine) BeginTOTPSetup(ctx context.Context, accountID string) (*TOTPSetup, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	acct, err := e.loadAccount(ctx, accountID, ErrUnauthenticated)
	if err != nil {
		return nil, err
	}
	if acct.TOTPEnabled {
		return nil, ErrTOTPAlreadyEnabled
	}

	secret, encoded, err := totp.NewSecret()
	if err != nil {
		return nil, err
	}
	ttl := e.config.TOTP.SetupTTL
	if err := e.totpStore.SavePending(ctx, acct.ID, secret, ttl); err != nil {
		return nil, backendErr(err)
	}

	uri := totp.ProvisioningURI(e.config.TOTP.Issuer, acct.Email, encoded, e.totpOpts)
	setup := &TOTPSetup{
		SecretBase32:    encoded,
		ProvisioningURI: uri,
		QRCodePNG:       e.encodeQR(ctx, uri),
		ExpiresAt:       e.now().Add(ttl),
	}

	e.metricInc(MetricTOTPSetupStarted)
	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, acct.ID, "", nil, nil)
	return setup, nil
}

func (e *Engine) encodeQR(ctx context.Context, uri string) (png []byte) {
	if e.qr == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.WarnContext(ctx, "qr encoder panicked", "panic", r)
			png = nil
		}
	}()
	png, err := e.qr.Encode(uri)
	if err != nil {
		e.logger.WarnContext(ctx, "qr encoding failed", "error", err)
		return nil
	}
	return png
}

// ConfirmTOTPSetup enables 2FA when code matches the pending secret. After
// TOTP.MaxSetupAttempts wrong codes the pending secret is discarded.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, accountID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	acct, err := e.loadAccount(ctx, accountID, ErrUnauthenticated)
	if err != nil {
		return err
	}
	if acct.TOTPEnabled {
		return ErrTOTPAlreadyEnabled
	}

	secret, err := e.totpStore.GetPending(ctx, acct.ID)
	if err != nil {
		if errors.Is(err, stores.ErrTOTPPendingNotFound) {
			return ErrTOTPSetupNotStarted
		}
		return backendErr(err)
	}

	ok, counter, _ := totp.Verify(secret, strings.TrimSpace(code), e.now(), e.config.TOTP.Skew, e.totpOpts)
	if !ok {
		e.metricInc(MetricTOTPFailure)
		err := e.totpStore.RecordPendingFailure(ctx, acct.ID, e.config.TOTP.MaxSetupAttempts)
		switch {
		case errors.Is(err, stores.ErrTOTPPendingAttemptsExceeded):
			err = ErrTooManyAttempts
		case errors.Is(err, stores.ErrTOTPPendingNotFound):
			err = ErrTOTPSetupNotStarted
		case err != nil:
			return backendErr(err)
		default:
			err = ErrInvalidCode
		}
		e.emitAudit(ctx, auditEventTOTPFailure, false, acct.ID, "", err, func() map[string]string {
			return map[string]string{"stage": "setup"}
		})
		return err
	}

	if err := e.totpStore.TakePending(ctx, acct.ID, secret); err != nil {
		if errors.Is(err, stores.ErrTOTPPendingNotFound) {
			return ErrTOTPSetupNotStarted
		}
		return backendErr(err)
	}
	if err := e.store.SetTOTP(ctx, acct.ID, secret, true); err != nil {
		return backendErr(err)
	}

	// The confirmation code must not be reusable for login.
	if e.config.TOTP.EnforceReplayProtection {
		if err := e.totpStore.AdvanceCounter(ctx, acct.ID, counter, e.counterTTL()); err != nil {
			e.logger.ErrorContext(ctx, "totp counter update failed, setup code stays valid for login",
				"account_id", acct.ID, "error", err)
		}
	}
	_ = e.totpLimiter.Reset(ctx, acct.ID)

	e.metricInc(MetricTOTPEnabled)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, acct.ID, "", nil, nil)
	return nil
}

// VerifyTOTP checks a code for an account with 2FA on. A wrong or replayed
// code yields false with a nil error; throttling yields ErrTooManyAttempts.
func (e *Engine) VerifyTOTP(ctx context.Context, accountID, code string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	acct, err := e.loadAccount(ctx, accountID, ErrUnauthenticated)
	if err != nil {
		return false, err
	}
	if !acct.TOTPEnabled {
		return false, ErrTOTPNotEnabled
	}

	if err := e.checkTOTP(ctx, acct, code); err != nil {
		if errors.Is(err, ErrInvalidCode) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DisableTOTP turns 2FA off given a current code or the account password.
// Sessions stay valid.
func (e *Engine) DisableTOTP(ctx context.Context, accountID string, proof TOTPDisableProof) error {
	if err := e.ready(); err != nil {
		return err
	}
	acct, err := e.loadAccount(ctx, accountID, ErrUnauthenticated)
	if err != nil {
		return err
	}
	if !acct.TOTPEnabled {
		return ErrTOTPNotEnabled
	}

	switch {
	case strings.TrimSpace(proof.Code) != "":
		if err := e.checkTOTP(ctx, acct, proof.Code); err != nil {
			if errors.Is(err, ErrInvalidCode) {
				err = ErrUnauthorized
			}
			return err
		}
	case proof.Password != "":
		if err := e.totpLimiter.Check(ctx, acct.ID); err != nil {
			return e.totpLimitErr(ctx, acct.ID, err)
		}
		ok, verr := e.passwordHash.Verify(proof.Password, acct.PasswordHash)
		if verr != nil || !ok {
			if err := e.totpLimiter.RecordFailure(ctx, acct.ID); err != nil {
				return e.totpLimitErr(ctx, acct.ID, err)
			}
			e.emitAudit(ctx, auditEventTOTPFailure, false, acct.ID, "", ErrUnauthorized, func() map[string]string {
				return map[string]string{"stage": "disable", "proof": "password"}
			})
			return ErrUnauthorized
		}
	default:
		return ErrUnauthorized
	}

	if err := e.store.ClearTOTP(ctx, acct.ID); err != nil {
		return backendErr(err)
	}
	if err := e.totpStore.DeletePending(ctx, acct.ID); err != nil {
		e.logger.WarnContext(ctx, "pending totp cleanup failed", "account_id", acct.ID, "error", err)
	}
	if err := e.totpStore.ResetCounter(ctx, acct.ID); err != nil {
		e.logger.WarnContext(ctx, "totp counter cleanup failed", "account_id", acct.ID, "error", err)
	}
	_ = e.totpLimiter.Reset(ctx, acct.ID)

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditEventTOTPDisabled, true, acct.ID, "", nil, nil)
	return nil
}

// checkTOTP verifies code against the enabled secret of acct with failure
// throttling and replay protection. It returns ErrInvalidCode or
// ErrTooManyAttempts on rejection.
func (e *Engine) checkTOTP(ctx context.Context, acct *Account, code string) error {
	if err := e.totpLimiter.Check(ctx, acct.ID); err != nil {
		return e.totpLimitErr(ctx, acct.ID, err)
	}

	ok, counter, _ := totp.Verify(acct.TOTPSecret, strings.TrimSpace(code), e.now(), e.config.TOTP.Skew, e.totpOpts)
	if ok && e.config.TOTP.EnforceReplayProtection {
		if err := e.totpStore.AdvanceCounter(ctx, acct.ID, counter, e.counterTTL()); err != nil {
			if !errors.Is(err, stores.ErrTOTPCounterReplayed) {
				return backendErr(err)
			}
			e.metricInc(MetricTOTPReplayDetected)
			ok = false
		}
	}

	if !ok {
		e.metricInc(MetricTOTPFailure)
		if err := e.totpLimiter.RecordFailure(ctx, acct.ID); err != nil {
			return e.totpLimitErr(ctx, acct.ID, err)
		}
		e.emitAudit(ctx, auditEventTOTPFailure, false, acct.ID, "", ErrInvalidCode, nil)
		return ErrInvalidCode
	}

	_ = e.totpLimiter.Reset(ctx, acct.ID)
	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, auditEventTOTPSuccess, true, acct.ID, "", nil, nil)
	return nil
}

func (e *Engine) totpLimitErr(ctx context.Context, accountID string, err error) error {
	if errors.Is(err, limiters.ErrTOTPRateLimited) {
		e.emitRateLimit(ctx, "totp", accountID)
		return ErrTooManyAttempts
	}
	return backendErr(err)
}

// counterTTL covers every step a code could still be accepted in.
func (e *Engine) counterTTL() time.Duration {
	steps := 2*e.config.TOTP.Skew + 2
	return time.Duration(steps*e.config.TOTP.Period) * time.Second
}
