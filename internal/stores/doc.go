// Package stores provides Redis-backed, short-lived records for the
// account-security flows: password reset tokens, email change requests and
// pending TOTP secrets.
//
// # Design
//
// Every record carries a TTL and an explicit expiry checked against the
// caller's clock, so expiry is enforced lazily at read time. Check-and-mutate
// operations run atomically, either as WATCH/MULTI transactions with retry
// or as Lua scripts. Secrets are stored only as sha256 digests, except TOTP
// seeds which must be recoverable to verify codes.
//
// # What this package must NOT do
//
//   - Import adminauth or any sibling internal package.
//   - Log or expose plaintext secrets.
//   - Generate tokens or decide which error the caller sees.
package stores
