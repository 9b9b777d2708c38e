package models

import (
	"fmt"
	"strings"
)

// NormalizePhone strips separators and validates length. A leading plus is
// kept; otherwise the result is digits only.
func NormalizePhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: phone is required", ErrValidation)
	}
	repl := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "\t", "")
	s = repl.Replace(s)
	plus := strings.HasPrefix(s, "+")
	if plus {
		s = s[1:]
	}
	if s == "" || strings.Trim(s, "0123456789") != "" {
		return "", fmt.Errorf("%w: phone must contain digits only", ErrValidation)
	}
	if len(s) < 10 || len(s) > 15 {
		return "", fmt.Errorf("%w: phone must have 10 to 15 digits", ErrValidation)
	}
	if plus {
		return "+" + s, nil
	}
	return s, nil
}

// MaskPhone hides all but the last four digits for logs.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// FilterDigits keeps only ASCII digits.
func FilterDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
