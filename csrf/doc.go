// Package csrf implements a stateless double-submit cookie guard.
//
// A random secret lives in an HttpOnly SameSite cookie. The token handed to
// client script is HMAC-SHA256(key, secret), so a script that can set
// cookies on a sibling domain still cannot mint a matching header without
// the server key. Verification recomputes the token from the cookie and
// compares it to the header in constant time.
package csrf
