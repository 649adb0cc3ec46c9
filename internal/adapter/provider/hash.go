package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// hashEmail normalizes (lowercase, trimmed) and SHA-256 hashes an email for
// providers that mandate hashed PII in match keys.
func hashEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return ""
	}
	return sha256Hex(normalized)
}

// hashPhone strips everything but digits and a leading plus before hashing.
func hashPhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if unicode.IsDigit(r) || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	normalized := b.String()
	if normalized == "" {
		return ""
	}
	return sha256Hex(normalized)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
