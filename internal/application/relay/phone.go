package relay

import "strings"

// Brazilian phone normalization constants
const (
	countryCode  = "55"
	mobilePrefix = "9"
)

// NormalizePhone converts a raw phone number into the E.164 digits the CRM
// expects (country code + area code + mobile number, without "+").
//
// Numbers that do not fit a known shape are returned as cleaned digits.
func NormalizePhone(raw string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)

	if strings.HasPrefix(digits, countryCode) && len(digits) == 13 {
		return digits
	}

	digits = strings.TrimPrefix(digits, "0")

	switch len(digits) {
	case 11:
		return countryCode + digits
	case 10:
		return countryCode + digits[:2] + mobilePrefix + digits[2:]
	default:
		return digits
	}
}
