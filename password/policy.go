package password

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrWeakPassword is returned by [Policy.Check]; the concrete error is a
// [*PolicyError] listing every unmet rule.
var ErrWeakPassword = errors.New("password does not satisfy policy")

// Policy is the configurable password strength contract.
type Policy struct {
	MinLength      int
	MaxLength      int
	RequireLower   bool
	RequireUpper   bool
	RequireDigit   bool
	RequireSymbol  bool
	ForbidEmailUse bool
}

// DefaultPolicy requires 8+ characters with lower, upper and digit classes.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		MaxLength:      256,
		RequireLower:   true,
		RequireUpper:   true,
		RequireDigit:   true,
		ForbidEmailUse: true,
	}
}

// PolicyError lists the rules a candidate password violated.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return ErrWeakPassword.Error() + ": " + strings.Join(e.Violations, ", ")
}

func (e *PolicyError) Unwrap() error { return ErrWeakPassword }

// Check validates candidate; email, when non-empty, is used for the
// ForbidEmailUse rule.
func (p Policy) Check(candidate, email string) error {
	var v []string

	n := utf8.RuneCountInString(candidate)
	if n < p.MinLength {
		v = append(v, "too_short")
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		v = append(v, "too_long")
	}

	var lower, upper, digit, symbol bool
	for _, r := range candidate {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if p.RequireLower && !lower {
		v = append(v, "missing_lower")
	}
	if p.RequireUpper && !upper {
		v = append(v, "missing_upper")
	}
	if p.RequireDigit && !digit {
		v = append(v, "missing_digit")
	}
	if p.RequireSymbol && !symbol {
		v = append(v, "missing_symbol")
	}

	if p.ForbidEmailUse && email != "" {
		local, _, _ := strings.Cut(strings.ToLower(email), "@")
		if len(local) >= 3 && strings.Contains(strings.ToLower(candidate), local) {
			v = append(v, "contains_email")
		}
	}

	if len(v) > 0 {
		return &PolicyError{Violations: v}
	}
	return nil
}

// Validate reports configuration mistakes.
func (p Policy) Validate() error {
	if p.MinLength < 8 {
		return errors.New("password policy min length must be >= 8")
	}
	if p.MaxLength != 0 && p.MaxLength < p.MinLength {
		return errors.New("password policy max length must be >= min length")
	}
	if p.MaxLength > maxPassBytes {
		return errors.New("password policy max length must be <= 1024")
	}
	return nil
}
