package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// PhoneLength is the number of digits in a domestic mobile number.
const PhoneLength = 10

// NormalizePhone returns the form of a phone number used as a lookup key.
func NormalizePhone(phone string) string {
	return strings.TrimSpace(phone)
}

// IsValidPhone reports whether phone is exactly ten ASCII digits after trimming,
// starting with 6, 7, 8 or 9.
func IsValidPhone(phone string) bool {
	phone = NormalizePhone(phone)
	if len(phone) != PhoneLength {
		return false
	}
	for i := 0; i < len(phone); i++ {
		if phone[i] < '0' || phone[i] > '9' {
			return false
		}
	}
	return strings.IndexByte("6789", phone[0]) >= 0
}

// HashPhone returns the hex SHA-256 of the normalized phone. Used wherever a
// stable identifier is needed without exposing the number itself.
func HashPhone(phone string) string {
	hash := sha256.Sum256([]byte(NormalizePhone(phone)))
	return hex.EncodeToString(hash[:])
}

// MaskPhone keeps only the last four digits visible.
func MaskPhone(phone string) string {
	phone = NormalizePhone(phone)
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
