package cepsms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"905551234567", "905551234567"},
		{"90555123456", "90555123456"}, // 11-digit legacy form passes through
		{"05551234567", "905551234567"},
		{"5551234567", "905551234567"},
		{"+90 555 123 45 67", "905551234567"},
		{"0555-123-45-67", "905551234567"},
		{"55512345678", "905551234567"},  // over-long, truncated to 10
		{"555123456789", "905551234567"}, // over-long, truncated to 10
	}

	for _, tc := range cases {
		got, err := Normalize(tc.in)
		assert.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestNormalizeRejectsInvalid(t *testing.T) {
	for _, in := range []string{
		"",
		"abc",
		"123456",
		"15551234567",  // not a mobile prefix
		"902121234567", // landline area code
		"0212" + "1234567",
	} {
		_, err := Normalize(in)
		assert.ErrorIs(t, err, ErrInvalidPhone, "input %q", in)
	}
}
