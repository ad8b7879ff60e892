// Package limiters provides flow-specific rate limiters built on top of the
// internal/rate fixed window.
//
// # Limiters
//
//   - [PasswordResetLimiter]: per-identifier + per-IP for forgot-password, per-IP for confirm.
//   - [TOTPLimiter]: per-account failure throttle for second-factor codes.
//   - [EmailChangeLimiter]: per-account OTP issuance throttle.
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// # What this package must NOT do
//
//   - Make policy decisions beyond counting; the engine decides consequences.
package limiters
