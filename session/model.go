package session

// Session is the server-side record that makes a bearer token usable.
// Deleting it revokes the token even before the token expires.
type Session struct {
	SessionID string
	AccountID string
	Role      string
	IPHash    [32]byte

	// TwoFactorVerified is true when login included a TOTP check.
	TwoFactorVerified bool

	CreatedAt int64
	ExpiresAt int64
}
