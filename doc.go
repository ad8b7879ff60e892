// Package adminauth is the identity and account-security core of a
// superadmin console: password login with optional TOTP, revocable
// sessions, the password reset token lifecycle, TOTP enrollment and the
// OTP-gated email change workflow.
//
// An [Engine] is assembled once with [Builder] from an immutable [Config],
// a Redis client (sessions, tokens, throttles), a [CredentialStore] and a
// [Mailer]:
//
//	engine, err := adminauth.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithCredentialStore(store).
//		WithMailer(mailer).
//		Build()
//
// Every error returned by the Engine maps to one [Kind] through [KindOf],
// which transports use to pick a status code and a client message.
//
// Engine methods are safe for concurrent use. Expiry decisions use the
// clock injected with [Builder.WithClock].
package adminauth
