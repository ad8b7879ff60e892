// Package middleware adapts adminauth.Engine checks to net/http.
//
// # Guards
//
//   - [Guard] authenticates the bearer token against the session registry
//     and stores the [adminauth.AuthResult] in the request context.
//   - [RequireRole] rejects authenticated callers without a given role.
//   - [CSRF] runs the double-submit check before state-changing handlers.
//
// Every decision is delegated to the Engine; this package only translates
// results into HTTP status codes.
package middleware
