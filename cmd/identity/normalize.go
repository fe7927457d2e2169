package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
// Stores apply it on write and on lookups so callers may pass
// addresses as the user typed them.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
