package telephony

import (
	"regexp"
	"strings"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// IsE164 reports whether s is already a canonical E.164 number.
func IsE164(s string) bool { return e164Pattern.MatchString(s) }

// IsClientIdentity reports whether s names a browser/SDK endpoint rather than
// a phone number.
func IsClientIdentity(s string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "client:")
}

// NormalizeE164 converts a carrier-supplied number to E.164.
//
// 10 bare digits are assumed NANP (+1). Anything that is not a dialable
// number (client:, sip:, "anonymous", short codes) returns ok=false.
func NormalizeE164(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "client:") || strings.HasPrefix(lower, "sip:") {
		return "", false
	}

	plus := strings.HasPrefix(s, "+")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", false
		}
	}
	digits := b.String()

	var out string
	switch {
	case plus:
		out = "+" + digits
	case len(digits) == 10:
		out = "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		out = "+" + digits
	default:
		return "", false
	}
	if !IsE164(out) {
		return "", false
	}
	return out, true
}

// SpellDigits renders the digits of a number space separated so speech
// synthesis reads them one by one.
func SpellDigits(number string) string {
	var parts []string
	for _, r := range number {
		if r >= '0' && r <= '9' {
			parts = append(parts, string(r))
		}
	}
	return strings.Join(parts, " ")
}
