package payments

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPhone is returned when a phone number cannot be normalized.
var ErrInvalidPhone = errors.New("invalid phone number")

const countryCode = "254"

// NormalizePhone canonicalizes a Kenyan MSISDN to international format
// (254XXXXXXXXX). Accepted inputs: 07XX.../01XX... (national trunk form),
// +254..., and already-international 254... numbers. Spaces are stripped.
func NormalizePhone(input string) (string, error) {
	phone := strings.ReplaceAll(input, " ", "")
	phone = strings.TrimPrefix(phone, "+")

	if phone == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPhone)
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: non-digit in %q", ErrInvalidPhone, input)
		}
	}

	// Rewrite the national trunk prefix to the country code.
	if strings.HasPrefix(phone, "0") {
		phone = countryCode + phone[1:]
	}

	if !strings.HasPrefix(phone, countryCode) || len(phone) != 12 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, input)
	}

	return phone, nil
}
