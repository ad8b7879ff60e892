// Package rate provides the Redis fixed-window primitive used by every
// adminauth throttle, plus the login limiter built on it.
//
// # Window semantics
//
// Fixed-window counters: INCR + EXPIRE on first hit. Login key prefixes:
//   - "al:" for login per identifier
//   - "ali:" for login per IP
//
// # What this package must NOT do
//
//   - Implement flow-specific policies (those live in internal/limiters).
package rate
