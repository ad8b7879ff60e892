// Package security summarizes the effective security posture of an engine
// configuration and flags settings that weaken it.
package security
