package adminauth

import (
	"errors"

	"github.com/MrEthical07/adminauth/csrf"
	"github.com/MrEthical07/adminauth/password"
)

// Kind classifies an engine error for client-facing messaging. Every error
// returned by the Engine maps to exactly one Kind via [KindOf].
type Kind string

const (
	KindInvalidToken    Kind = "invalid_token"
	KindInvalidCode     Kind = "invalid_code"
	KindTooManyAttempts Kind = "too_many_attempts"
	KindWeakPassword    Kind = "weak_password"
	KindUnauthorized    Kind = "unauthorized"
	KindUnauthenticated Kind = "unauthenticated"
	KindCSRFRejected    Kind = "csrf_rejected"
	KindNotVerified     Kind = "not_verified"
	KindDeliveryFailed  Kind = "delivery_failed"
	KindConflict        Kind = "conflict"
	KindInvalidInput    Kind = "invalid_input"
	KindInternal        Kind = "internal"
)

var (
	// ErrInvalidToken covers reset tokens and email change requests that are
	// unknown, expired, superseded or already consumed.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrInvalidCode is returned for a wrong TOTP or email OTP.
	ErrInvalidCode = errors.New("invalid code")
	// ErrTooManyAttempts is returned when a throttle or attempt bound is hit.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrWeakPassword is the root of every [password.PolicyError].
	ErrWeakPassword = password.ErrWeakPassword
	// ErrUnauthorized is returned when a proof (password or code) for a
	// sensitive action is wrong.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is the single login failure for unknown account
	// and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTOTPRequired is returned by Login when the account has 2FA and no code was given.
	ErrTOTPRequired = errors.New("totp code required")
	// ErrUnauthenticated is returned for missing, invalid, expired or revoked session tokens.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrCSRFRejected is returned by the CSRF guard.
	ErrCSRFRejected = csrf.ErrRejected
	// ErrNotVerified is returned when an email change is committed before its OTP was verified.
	ErrNotVerified = errors.New("email change not verified")
	// ErrDeliveryFailed is returned when an out-of-band message could not be sent.
	// The token or OTP that message carried stays valid.
	ErrDeliveryFailed = errors.New("message delivery failed")
	// ErrConflict is the root of state conflicts.
	ErrConflict = errors.New("conflict")
	// ErrEmailInUse is returned when the requested address belongs to an account.
	ErrEmailInUse = errors.Join(ErrConflict, errors.New("email already in use"))
	// ErrTOTPAlreadyEnabled is returned by BeginTOTPSetup on an enabled account.
	ErrTOTPAlreadyEnabled = errors.Join(ErrConflict, errors.New("totp already enabled"))
	// ErrTOTPNotEnabled is returned when disabling 2FA that is not on.
	ErrTOTPNotEnabled = errors.Join(ErrConflict, errors.New("totp not enabled"))
	// ErrTOTPSetupNotStarted is returned by ConfirmTOTPSetup without a pending secret.
	ErrTOTPSetupNotStarted = errors.Join(ErrConflict, errors.New("totp setup not started"))
	// ErrInvalidEmail is returned for syntactically invalid addresses.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidInput is returned for other malformed arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAccountNotFound is returned by a CredentialStore for unknown accounts.
	// The engine never surfaces it from enumeration-sensitive operations.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountDisabled is returned by Login for accounts whose status is not active.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrEngineNotReady is returned when Engine methods are called on a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrBackendUnavailable wraps Redis or credential store failures.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// KindOf maps err to its [Kind]. nil maps to the empty Kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidToken):
		return KindInvalidToken
	case errors.Is(err, ErrInvalidCode):
		return KindInvalidCode
	case errors.Is(err, ErrTooManyAttempts):
		return KindTooManyAttempts
	case errors.Is(err, ErrWeakPassword):
		return KindWeakPassword
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrTOTPRequired),
		errors.Is(err, ErrAccountDisabled):
		return KindUnauthorized
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrCSRFRejected):
		return KindCSRFRejected
	case errors.Is(err, ErrNotVerified):
		return KindNotVerified
	case errors.Is(err, ErrDeliveryFailed):
		return KindDeliveryFailed
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindInternal
	}
}
