// Package session provides the Redis session registry that backs token
// revocation: a bearer token is accepted only while its session record
// exists.
//
// # Binary encoding
//
// Sessions are stored as a compact versioned binary record (see [Encode]).
//
// # What this package must NOT do
//
//   - Import adminauth or jwt (no upward imports).
//   - Store plaintext secrets in [Session] fields.
package session
