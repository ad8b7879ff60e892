// Package jwt issues and verifies the bearer session tokens returned at
// login. A token carries the account id (sub), role and session id (sid);
// the session id is what revocation is keyed on, so a valid signature is
// necessary but not sufficient for authentication.
package jwt
