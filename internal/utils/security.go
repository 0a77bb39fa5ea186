package utils

import "strings"

// MaskPhoneNumber masks a phone number for secure logging
// Keeps first 3 and last 4 characters visible, masks the rest
//
// Examples:
//   - "+1234567890" -> "+12****7890"
//   - "+123456" -> "****"
//   - "short" -> "****"
func MaskPhoneNumber(phone string) string {
	if len(phone) <= 6 {
		return "****"
	}

	return phone[:3] + "****" + phone[len(phone)-4:]
}

// MaskSecret hides a 2FA secret, leaving only its first and last character
// and its length recognisable.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	runes := []rune(secret)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-2) + string(runes[len(runes)-1])
}
