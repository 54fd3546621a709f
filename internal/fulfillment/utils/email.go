package utils

import (
	"fmt"
	"strings"
)

// NormalizeEmail trims and lower-cases an e-mail address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail performs a cheap shape check: one @ with a dotted domain after it
func ValidEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at != strings.LastIndexByte(email, '@') {
		return false
	}
	domain := email[at+1:]
	dot := strings.LastIndexByte(domain, '.')
	return dot > 0 && dot < len(domain)-1 && !strings.ContainsAny(email, " \t\r\n")
}

// EscapeEmail turns a normalized address into a file-safe name. Letters,
// digits, '.', '-' and '@' are kept; every other byte, '_' included, becomes
// '_' plus two hex digits, so distinct addresses never share a name.
func EscapeEmail(email string) string {
	email = NormalizeEmail(email)
	var b strings.Builder
	b.Grow(len(email))
	for i := 0; i < len(email); i++ {
		c := email[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '@' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "_%02x", c)
	}
	return b.String()
}

// CustomerKey is the storage key of a customer record
func CustomerKey(email string) string {
	return "customer-" + EscapeEmail(email)
}
