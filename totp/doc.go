// Package totp implements RFC 6238 time-based one-time passwords as pure
// functions of (secret, code, time), so verification never reads the wall
// clock itself.
//
// Codes are compared in constant time. The matched time-step counter is
// returned to the caller, which owns replay protection.
package totp
