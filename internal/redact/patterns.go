package redact

import (
	"regexp"
	"strings"
)

// Pattern defines a built-in detection pattern for sensitive data.
// Validate is an optional predicate (e.g. a checksum) applied to each
// regex match to cut false positives; nil accepts every match.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Entity      string // entity kind used in redaction metadata: EMAIL, IBAN, ...
	Description string
	Validate    func(match string) bool
}

// Built-in patterns for sensitive data common in banking and enterprise logs.
var (
	// Email addresses: user@example.com
	emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	// IBAN: DE89370400440532013000
	ibanRegex = regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`)

	// Bare account numbers: 10-18 digit runs
	accountRegex = regexp.MustCompile(`\b\d{10,18}\b`)

	// Card numbers in common groupings: 4111 1111 1111 1111
	cardRegex = regexp.MustCompile(`\b(?:\d[ -]?){12,15}\d\b`)

	// Phone numbers: +14155550123
	phoneRegex = regexp.MustCompile(`\+\d{9,15}\b`)

	// US social security numbers: 123-45-6789
	ssnRegex = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
)

// BuiltInPatterns contains all available detection patterns, selectable
// by name via configuration.
var BuiltInPatterns = map[string]Pattern{
	"email": {
		Name:        "email",
		Regex:       emailRegex,
		Entity:      "EMAIL",
		Description: "Email addresses",
	},
	"iban": {
		Name:        "iban",
		Regex:       ibanRegex,
		Entity:      "IBAN",
		Description: "International bank account numbers",
		Validate:    ValidIBAN,
	},
	"account": {
		Name:        "account",
		Regex:       accountRegex,
		Entity:      "ACCOUNT",
		Description: "Bare account numbers (10-18 digits)",
	},
	"card": {
		Name:        "card",
		Regex:       cardRegex,
		Entity:      "CARD",
		Description: "Payment card numbers (Luhn-checked)",
		Validate:    ValidLuhn,
	},
	"phone": {
		Name:        "phone",
		Regex:       phoneRegex,
		Entity:      "PHONE",
		Description: "International phone numbers",
	},
	"ssn": {
		Name:        "ssn",
		Regex:       ssnRegex,
		Entity:      "SSN",
		Description: "US social security numbers",
	},
}

// DefaultPatterns returns the recommended pattern set, ordered so that
// more specific patterns run before broader ones (card before account,
// account before phone).
func DefaultPatterns() []string {
	return []string{"email", "iban", "ssn", "card", "account", "phone"}
}

// GetPatterns returns the patterns matching the given names.
// Unknown pattern names are silently ignored.
func GetPatterns(names []string) []Pattern {
	patterns := make([]Pattern, 0, len(names))
	for _, name := range names {
		if p, ok := BuiltInPatterns[name]; ok {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// ValidLuhn reports whether the digits of s satisfy the Luhn checksum.
// Separators (spaces, dashes) are skipped.
func ValidLuhn(s string) bool {
	var digits []int
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			digits = append(digits, int(c-'0'))
		case c == ' ' || c == '-':
		default:
			return false
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// ValidIBAN reports whether s passes the ISO 13616 mod-97 check.
func ValidIBAN(s string) bool {
	s = strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	if len(s) < 15 || len(s) > 34 {
		return false
	}

	// Move the country code and check digits to the end, then map
	// letters to numbers (A=10 .. Z=35) and compute mod 97 iteratively.
	rearranged := s[4:] + s[:4]
	rem := 0
	for _, c := range rearranged {
		switch {
		case c >= '0' && c <= '9':
			rem = (rem*10 + int(c-'0')) % 97
		case c >= 'A' && c <= 'Z':
			n := int(c-'A') + 10
			rem = (rem*100 + n) % 97
		default:
			return false
		}
	}
	return rem == 1
}
