package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Check validates a candidate password against the policy.
func (h Hasher) Check(password string) error {
	// Count runes, not bytes.
	n := utf8.RuneCountInString(password)

	if n < h.Policy.MinLength {
		return ErrTooShort
	}
	if n > h.Policy.MaxLength {
		return ErrTooLong
	}

	if h.Policy.RejectWeak && looksWeak(password) {
		return ErrWeak
	}
	return nil
}

// looksWeak is intentionally minimal; it catches the patterns people
// actually type when forced to register, not everything guessable.
func looksWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	allSame := true
	var first rune
	for i, r := range s {
		if i == 0 {
			first = r
			continue
		}
		if r != first {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	// Short all-digit passwords are PIN-like.
	onlyDigits := true
	for _, r := range s {
		if !unicode.IsDigit(r) {
			onlyDigits = false
			break
		}
	}
	if onlyDigits && utf8.RuneCountInString(s) < 12 {
		return true
	}

	switch strings.ToLower(s) {
	case "password", "password1", "password123", "12345678",
		"123456789", "qwertyui", "qwerty123", "iloveyou":
		return true
	}
	return false
}
