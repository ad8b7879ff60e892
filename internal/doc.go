// Package internal contains helpers that are private to adminauth: secure
// random generation for reset tokens, session ids, OTPs and CSRF secrets.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - limiters: request, TOTP and OTP throttles built on rate
//   - rate: core Redis-backed fixed-window primitives
//   - stores: Redis-backed reset, email-change and pending-TOTP records
//   - security: posture report of the effective configuration
//   - config: environment configuration for cmd/adminauthd
//   - httpapi: chi transport for the engine
//
// # What this package must NOT do
//
//   - Export types that appear in the public adminauth API.
//   - Derive any secret from account attributes or time.
package internal
