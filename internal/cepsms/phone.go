package cepsms

import (
	"errors"
	"strings"
)

// ErrInvalidPhone is returned when a number cannot be normalized to a
// Turkish mobile number.
var ErrInvalidPhone = errors.New("invalid phone number")

// Normalize converts a phone number to the gateway's canonical
// 905XXXXXXXXXX form. Accepted inputs, after stripping non-digits:
//
//	905XXXXXXXXX (12 digits)     passed through
//	90XXXXXXXXX  (11 digits)     passed through
//	0XXXXXXXXXX                  leading zero stripped, then 90-prefixed
//	5XXXXXXXXX   (10 digits)     90-prefixed
//	5XXXXXXXXXX… (11-12 digits)  truncated to the first 10, then 90-prefixed
//
// Anything else is ErrInvalidPhone.
func Normalize(phone string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	if len(cleaned) == 12 && strings.HasPrefix(cleaned, "905") {
		return cleaned, nil
	}
	if len(cleaned) == 11 && strings.HasPrefix(cleaned, "90") {
		return cleaned, nil
	}

	if strings.HasPrefix(cleaned, "0") {
		rest := cleaned[1:]
		if len(rest) == 10 && strings.HasPrefix(rest, "5") {
			return "90" + rest, nil
		}
	}

	if strings.HasPrefix(cleaned, "5") {
		switch {
		case len(cleaned) == 10:
			return "90" + cleaned, nil
		case len(cleaned) == 11 || len(cleaned) == 12:
			// Over-long mobile numbers keep their first 10 digits.
			return "90" + cleaned[:10], nil
		}
	}

	return "", ErrInvalidPhone
}
