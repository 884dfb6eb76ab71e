package services

import (
	"fmt"
	"strings"
)

const (
	countryCode  = "254"
	msisdnDigits = 12 // country code + 9-digit subscriber number
)

// NormalizePhone converts a local or international phone number to the bare-digit
// international form used by the gateway, e.g. "0712 345 678" -> "254712345678".
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "0"):
		digits = countryCode + digits[1:]
	case strings.HasPrefix(digits, countryCode):
	default:
		digits = countryCode + digits
	}

	if len(digits) != msisdnDigits {
		return "", fmt.Errorf("invalid phone number %q: expected %d digits after normalization, got %d", raw, msisdnDigits, len(digits))
	}
	return digits, nil
}
