// Package passpolicy evaluates candidate passwords against the console's
// configurable password policy. Evaluation is pure: no I/O, deterministic for
// any input string including empty and non-ASCII candidates.
package passpolicy

import (
	"errors"
	"fmt"
	"unicode"
)

// Policy is the global password rule set. Administrators edit it through the
// settings API; every password-accepting operation reads it.
type Policy struct {
	// MinLength is the minimum candidate length in code points. Valid range 1-128.
	MinLength int

	// RequireUpper requires at least one uppercase code point.
	RequireUpper bool

	// RequireSpecial requires at least one code point outside the
	// alphanumeric set.
	RequireSpecial bool

	// MinDigits is the minimum count of decimal-digit code points. Valid range 0-10.
	MinDigits int
}

// Default mirrors the collaborator's factory settings.
func Default() Policy {
	return Policy{
		MinLength:      8,
		RequireUpper:   true,
		RequireSpecial: true,
		MinDigits:      1,
	}
}

// Rule identifies a single policy rule. Violations carry the rule that was
// not met so callers can surface every problem at once.
type Rule string

const (
	RuleMinLength      Rule = "min_length"
	RuleRequireUpper   Rule = "require_upper"
	RuleRequireSpecial Rule = "require_special"
	RuleMinDigits      Rule = "min_digits"
)

// Violation is one unmet rule with a presentable message.
type Violation struct {
	Rule    Rule
	Message string
}

func (v Violation) String() string { return v.Message }

// Validate checks candidate against p and returns one Violation per unmet
// rule, in rule order. An empty result means the candidate satisfies the
// policy. Length, uppercase, digit and special-character checks operate on
// code points, not bytes.
func Validate(candidate string, p Policy) []Violation {
	var (
		length   int
		uppers   int
		digits   int
		specials int
	)

	for _, r := range candidate {
		length++
		switch {
		case unicode.IsUpper(r):
			uppers++
		case unicode.IsDigit(r):
			digits++
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			specials++
		}
	}

	var violations []Violation

	if length < p.MinLength {
		violations = append(violations, Violation{
			Rule:    RuleMinLength,
			Message: fmt.Sprintf("password must be at least %d characters long", p.MinLength),
		})
	}

	if p.RequireUpper && uppers == 0 {
		violations = append(violations, Violation{
			Rule:    RuleRequireUpper,
			Message: "password must contain at least one uppercase letter",
		})
	}

	if p.RequireSpecial && specials == 0 {
		violations = append(violations, Violation{
			Rule:    RuleRequireSpecial,
			Message: "password must contain at least one special character",
		})
	}

	if digits < p.MinDigits {
		violations = append(violations, Violation{
			Rule:    RuleMinDigits,
			Message: fmt.Sprintf("password must contain at least %d digit(s)", p.MinDigits),
		})
	}

	return violations
}

// Bounds errors for administrator policy edits.
var (
	ErrMinLengthRange = errors.New("passpolicy: minimum length must be between 1 and 128")
	ErrMinDigitsRange = errors.New("passpolicy: minimum digit count must be between 0 and 10")
)

// CheckBounds rejects policies outside the allowed configuration ranges.
// It is applied locally before a policy update is sent to the collaborator.
func (p Policy) CheckBounds() error {
	if p.MinLength < 1 || p.MinLength > 128 {
		return ErrMinLengthRange
	}
	if p.MinDigits < 0 || p.MinDigits > 10 {
		return ErrMinDigitsRange
	}
	return nil
}
