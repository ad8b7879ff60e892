package adminauth

import (
	"context"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/adminauth/internal/audit"
	"github.com/MrEthical07/adminauth/mail"
)

// AccountStatus represents the lifecycle state of an account.
type AccountStatus uint8

const (
	AccountActive AccountStatus = iota
	AccountDisabled
	AccountLocked
)

func (s AccountStatus) String() string {
	switch s {
	case AccountActive:
		return "active"
	case AccountDisabled:
		return "disabled"
	case AccountLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// RoleSuperadmin is the role given to accounts created by CreateSuperadmin.
const RoleSuperadmin = "superadmin"

// Account is the persistent identity record. It is owned by the
// [CredentialStore]; the engine never keeps a second copy.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	TOTPSecret   []byte
	TOTPEnabled  bool
	Role         string
	Status       AccountStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CredentialStore is the read/write contract the engine needs from the
// account database. Lookups by email are case-insensitive. Missing accounts
// yield [ErrAccountNotFound]; UpdateEmail yields [ErrEmailInUse] when the
// address is taken.
type CredentialStore interface {
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountByID(ctx context.Context, accountID string) (*Account, error)
	EmailInUse(ctx context.Context, email string) (bool, error)
	UpdatePasswordHash(ctx context.Context, accountID, hash string) error
	UpdateEmail(ctx context.Context, accountID, newEmail string) error
	SetTOTP(ctx context.Context, accountID string, secret []byte, enabled bool) error
	ClearTOTP(ctx context.Context, accountID string) error
}

// AccountCreator is implemented by stores that can create accounts. It is
// needed only for bootstrap.
type AccountCreator interface {
	CreateAccount(ctx context.Context, account Account) (*Account, error)
}

// Mailer delivers out-of-band messages. [mail.Outbox] and
// [mail.SMTPMailer] implement it.
type Mailer = mail.Sender

// QREncoder renders a provisioning URI as an image. It is optional; without
// one, or when it fails, TOTP setup simply carries no image.
type QREncoder interface {
	Encode(uri string) ([]byte, error)
}

// LoginResult is returned by [Engine.Login].
type LoginResult struct {
	AccessToken string
	SessionID   string
	AccountID   string
	Role        string
	ExpiresAt   time.Time
}

// AuthResult is returned by [Engine.Authenticate].
type AuthResult struct {
	AccountID         string
	SessionID         string
	Role              string
	TwoFactorVerified bool
}

// TOTPSetup is returned by [Engine.BeginTOTPSetup]. QRCodePNG is nil when
// no encoder is configured or encoding failed.
type TOTPSetup struct {
	SecretBase32    string
	ProvisioningURI string
	QRCodePNG       []byte
	ExpiresAt       time.Time
}

// TOTPState is the derived 2FA state of an account.
type TOTPState string

const (
	TOTPDisabled     TOTPState = "disabled"
	TOTPSetupPending TOTPState = "setup_pending"
	TOTPEnabled      TOTPState = "enabled"
)

// TOTPDisableProof authorizes turning 2FA off. Exactly one field is used;
// Code is preferred when both are set.
type TOTPDisableProof struct {
	Code     string
	Password string
}

// EmailChangeState is the derived state of an account's email change.
type EmailChangeState string

const (
	EmailChangeIdle      EmailChangeState = "idle"
	EmailChangeRequested EmailChangeState = "requested"
	EmailChangeVerified  EmailChangeState = "verified"
)

// EmailChangeStatus describes the live email change request, if any.
type EmailChangeStatus struct {
	State     EmailChangeState
	NewEmail  string
	Attempts  int
	ExpiresAt time.Time
}

// AuditEvent is the public audit event shape.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards audit events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// NewChannelSink creates a [ChannelSink] with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes audit events as JSON lines to w.
func NewJSONWriterSink(w io.Writer) AuditSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink logs audit events through logger.
func NewSlogSink(logger *slog.Logger) AuditSink {
	return internalaudit.NewSlogSink(logger)
}

// MultiSink fans one event out to several sinks in order.
type MultiSink = internalaudit.MultiSink
