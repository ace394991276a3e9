package password

import "unicode"

// PolicyResult is the outcome of a password policy evaluation.
type PolicyResult struct {
	OK      bool
	Reasons []string
}

// Policy scores candidate passwords. Production deployments typically back
// this with a breach-corpus lookup; the service only consumes the
// interface and treats the call as a cancellable I/O boundary.
type Policy interface {
	Validate(password string) PolicyResult
}

// RulePolicy is the reference Policy: minimum length plus three of four
// character classes.
type RulePolicy struct {
	MinLength int
}

// Validate applies the rule set and collects every violation.
func (p RulePolicy) Validate(password string) PolicyResult {
	minLen := p.MinLength
	if minLen <= 0 {
		minLen = 10
	}

	var reasons []string
	if len(password) < minLen {
		reasons = append(reasons, "too short")
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}

	classes := 0
	for _, ok := range []bool{lower, upper, digit, symbol} {
		if ok {
			classes++
		}
	}
	if classes < 3 {
		reasons = append(reasons, "needs at least three character classes")
	}

	return PolicyResult{OK: len(reasons) == 0, Reasons: reasons}
}
