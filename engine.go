package adminauth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/adminauth/csrf"
	"github.com/MrEthical07/adminauth/internal"
	internalaudit "github.com/MrEthical07/adminauth/internal/audit"
	"github.com/MrEthical07/adminauth/internal/limiters"
	"github.com/MrEthical07/adminauth/internal/rate"
	"github.com/MrEthical07/adminauth/internal/stores"
	"github.com/MrEthical07/adminauth/jwt"
	"github.com/MrEthical07/adminauth/mail"
	"github.com/MrEthical07/adminauth/password"
	"github.com/MrEthical07/adminauth/session"
	"github.com/MrEthical07/adminauth/totp"
	"github.com/go-playground/validator/v10"
)

// Engine is the superadmin identity and account-security service. It is
// created by [Builder.Build] and safe for concurrent use.
type Engine struct {
	config    Config
	clock     func() time.Time
	logger    *slog.Logger
	store     CredentialStore
	mailer    Mailer
	templates *mail.Templates
	qr        QREncoder
	validate  *validator.Validate
	totpOpts  totp.Options

	sessionStore *session.Store
	loginLimiter *rate.Limiter
	resetStore   *stores.PasswordResetStore
	resetLimiter *limiters.PasswordResetLimiter
	totpStore    *stores.TOTPStore
	totpLimiter  *limiters.TOTPLimiter
	emailStore   *stores.EmailChangeStore
	emailLimiter *limiters.EmailChangeLimiter

	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	passwordHash *password.Argon2
	dummyHash    string
	jwtManager   *jwt.Manager
	csrf         *csrf.Guard

	// background tracks reset mails still being delivered.
	background sync.WaitGroup
}

// Close waits for background deliveries and flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.background.Wait()
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	s := e.metrics.Snapshot()
	s.AuditDropped = e.AuditDropped()
	return s
}

// CSRF returns the double-submit guard built from Config.CSRF.
func (e *Engine) CSRF() *csrf.Guard {
	if e == nil {
		return nil
	}
	return e.csrf
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

func (e *Engine) ready() error {
	if e == nil || e.passwordHash == nil || e.store == nil {
		return ErrEngineNotReady
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func backendErr(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// loadAccount maps store errors: a missing account becomes notFound so each
// caller decides how much to reveal.
func (e *Engine) loadAccount(ctx context.Context, accountID string, notFound error) (*Account, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, notFound
	}
	acct, err := e.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, notFound
		}
		return nil, backendErr(err)
	}
	return acct, nil
}

// Login authenticates email and password, then the TOTP code when the
// account has 2FA enabled, and issues a session. Unknown email and wrong
// password are indistinguishable to the caller.
func (e *Engine) Login(ctx context.Context, email, pass, totpCode string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if err := e.loginLimiter.CheckLogin(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitRateLimit(ctx, "login", "")
			return nil, ErrTooManyAttempts
		}
		return nil, backendErr(err)
	}

	acct, err := e.store.GetAccountByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return nil, backendErr(err)
	}

	if acct == nil {
		// Same argon2 cost as a real verification.
		_, _ = e.passwordHash.Verify(pass, e.dummyHash)
		return nil, e.loginFailure(ctx, email, ip, "", "unknown_account")
	}

	ok, err := e.passwordHash.Verify(pass, acct.PasswordHash)
	if err != nil || !ok {
		return nil, e.loginFailure(ctx, email, ip, acct.ID, "bad_password")
	}

	if acct.Status != AccountActive {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, acct.ID, "", ErrAccountDisabled, func() map[string]string {
			return map[string]string{"status": acct.Status.String()}
		})
		return nil, ErrAccountDisabled
	}

	twoFactor := false
	if acct.TOTPEnabled {
		if strings.TrimSpace(totpCode) == "" {
			e.metricInc(MetricTOTPRequired)
			e.emitAudit(ctx, auditEventLoginFailure, false, acct.ID, "", ErrTOTPRequired, nil)
			return nil, ErrTOTPRequired
		}
		if err := e.checkTOTP(ctx, acct, totpCode); err != nil {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, acct.ID, "", err, func() map[string]string {
				return map[string]string{"reason": "totp"}
			})
			return nil, err
		}
		twoFactor = true
	}

	if err := e.loginLimiter.ResetLogin(ctx, email); err != nil {
		e.logger.WarnContext(ctx, "login limiter reset failed", "account_id", acct.ID, "error", err)
	}
	e.maybeUpgradeHash(ctx, acct, pass)

	result, err := e.issueSession(ctx, acct, twoFactor)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, acct.ID, result.SessionID, nil, func() map[string]string {
		if twoFactor {
			return map[string]string{"second_factor": "totp"}
		}
		return nil
	})
	return result, nil
}

func (e *Engine) loginFailure(ctx context.Context, email, ip, accountID, reason string) error {
	e.metricInc(MetricLoginFailure)
	if err := e.loginLimiter.IncrementLogin(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitRateLimit(ctx, "login", accountID)
			return ErrTooManyAttempts
		}
		e.logger.WarnContext(ctx, "login limiter increment failed", "error", err)
	}
	e.emitAudit(ctx, auditEventLoginFailure, false, accountID, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return ErrInvalidCredentials
}

func (e *Engine) maybeUpgradeHash(ctx context.Context, acct *Account, pass string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	upgrade, err := e.passwordHash.NeedsUpgrade(acct.PasswordHash)
	if err != nil || !upgrade {
		return
	}
	hash, err := e.passwordHash.Hash(pass)
	if err != nil {
		return
	}
	if err := e.store.UpdatePasswordHash(ctx, acct.ID, hash); err != nil {
		e.logger.WarnContext(ctx, "password hash upgrade failed", "account_id", acct.ID, "error", err)
	}
}

func (e *Engine) issueSession(ctx context.Context, acct *Account, twoFactor bool) (*LoginResult, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	now := e.now()
	ttl := e.config.Session.TTL
	sess := &session.Session{
		SessionID:         sid.String(),
		AccountID:         acct.ID,
		Role:              acct.Role,
		TwoFactorVerified: twoFactor,
		CreatedAt:         now.Unix(),
		ExpiresAt:         now.Add(ttl).Unix(),
	}
	if ip := clientIPFromContext(ctx); ip != "" {
		sess.IPHash = sha256.Sum256([]byte(ip))
	}

	if err := e.sessionStore.Save(ctx, sess, ttl); err != nil {
		return nil, backendErr(err)
	}

	token, expiresAt, err := e.jwtManager.Create(acct.ID, sess.SessionID, acct.Role)
	if err != nil {
		_ = e.sessionStore.Delete(ctx, acct.ID, sess.SessionID)
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	return &LoginResult{
		AccessToken: token,
		SessionID:   sess.SessionID,
		AccountID:   acct.ID,
		Role:        acct.Role,
		ExpiresAt:   expiresAt,
	}, nil
}

// Authenticate verifies a bearer token and that its session has not been
// revoked. Every failure is ErrUnauthenticated except backend outages.
func (e *Engine) Authenticate(ctx context.Context, bearer string) (*AuthResult, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
		}
	}()

	token := strings.TrimSpace(bearer)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := e.jwtManager.Parse(token)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	sess, err := e.sessionStore.Get(ctx, claims.SID, e.now())
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrCorrupt) {
			return nil, ErrUnauthenticated
		}
		return nil, backendErr(err)
	}
	if sess.AccountID != claims.Subject {
		return nil, ErrUnauthenticated
	}

	return &AuthResult{
		AccountID:         sess.AccountID,
		SessionID:         sess.SessionID,
		Role:              sess.Role,
		TwoFactorVerified: sess.TwoFactorVerified,
	}, nil
}

// Logout revokes one session. Unknown sessions are not an error.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}
	sess, err := e.sessionStore.Get(ctx, sessionID, e.now())
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrCorrupt) {
			return nil
		}
		return backendErr(err)
	}
	if err := e.sessionStore.Delete(ctx, sess.AccountID, sessionID); err != nil {
		e.emitAudit(ctx, auditEventLogoutSession, false, sess.AccountID, sessionID, err, nil)
		return backendErr(err)
	}
	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventLogoutSession, true, sess.AccountID, sessionID, nil, nil)
	return nil
}

// LogoutAll revokes every session of accountID.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}
	n, err := e.revokeSessions(ctx, accountID)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutAll, false, accountID, "", err, nil)
		return err
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(n)}
	})
	return nil
}

func (e *Engine) revokeSessions(ctx context.Context, accountID string, keep ...string) (int, error) {
	n, err := e.sessionStore.DeleteAllForAccount(ctx, accountID, keep...)
	if err != nil {
		return 0, backendErr(err)
	}
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionInvalidated)
	}
	return n, nil
}

// ChangePassword replaces the password of a logged-in account after
// verifying the old one. Every other session of the account is revoked; the
// caller's own session (see [WithSessionID]) survives.
func (e *Engine) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	acct, err := e.loadAccount(ctx, accountID, ErrUnauthenticated)
	if err != nil {
		return err
	}

	if err := e.config.Password.Policy.Check(newPassword, acct.Email); err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, acct.ID, "", err, nil)
		return err
	}

	ok, err := e.passwordHash.Verify(oldPassword, acct.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, acct.ID, "", ErrUnauthorized, func() map[string]string {
			return map[string]string{"reason": "invalid_old_password"}
		})
		return ErrUnauthorized
	}
	if oldPassword == newPassword {
		err := &password.PolicyError{Violations: []string{"reused"}}
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, acct.ID, "", err, nil)
		return err
	}

	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) {
			return &password.PolicyError{Violations: []string{"too_long"}}
		}
		return err
	}
	if err := e.store.UpdatePasswordHash(ctx, acct.ID, hash); err != nil {
		return backendErr(err)
	}

	current := sessionIDFromContext(ctx)
	var keep []string
	if current != "" {
		keep = append(keep, current)
	}
	if _, err := e.revokeSessions(ctx, acct.ID, keep...); err != nil {
		e.logger.ErrorContext(ctx, "session revocation failed after password change", "account_id", acct.ID, "error", err)
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, acct.ID, current, nil, nil)
	return nil
}

// CreateSuperadmin bootstraps an account with the superadmin role. The
// CredentialStore must implement [AccountCreator].
func (e *Engine) CreateSuperadmin(ctx context.Context, email, pass string) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	creator, ok := e.store.(AccountCreator)
	if !ok {
		return nil, errors.New("credential store cannot create accounts")
	}

	email = normalizeEmail(email)
	if err := e.validEmail(email); err != nil {
		return nil, err
	}
	if err := e.config.Password.Policy.Check(pass, email); err != nil {
		return nil, err
	}

	inUse, err := e.store.EmailInUse(ctx, email)
	if err != nil {
		return nil, backendErr(err)
	}
	if inUse {
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", "", ErrEmailInUse, nil)
		return nil, ErrEmailInUse
	}

	hash, err := e.passwordHash.Hash(pass)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	acct, err := creator.CreateAccount(ctx, Account{
		Email:        email,
		PasswordHash: hash,
		Role:         RoleSuperadmin,
		Status:       AccountActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, backendErr(err)
	}

	e.logger.InfoContext(ctx, "superadmin created", "account_id", acct.ID)
	e.emitAudit(ctx, auditEventAccountCreationSuccess, true, acct.ID, "", nil, func() map[string]string {
		return map[string]string{"role": RoleSuperadmin}
	})
	return acct, nil
}

func (e *Engine) validEmail(email string) error {
	if email == "" || e.validate.Var(email, "required,email,max=254") != nil {
		return ErrInvalidEmail
	}
	return nil
}
