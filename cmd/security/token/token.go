package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	// MinDigits and MaxDigits bound the code size. Below 4 the keyspace is
	// trivially brute-forceable even for throwaway codes; above 18 the code no
	// longer fits an int64.
	MinDigits = 4
	MaxDigits = 18

	// DefaultDigits matches the historical 6-digit codes.
	DefaultDigits = 6
)

// Code returns a uniformly random integer with exactly the given digit count
// (no leading zero). Digits outside [MinDigits, MaxDigits] fall back to
// DefaultDigits.
func Code(digits int) (int64, error) {
	if digits < MinDigits || digits > MaxDigits {
		digits = DefaultDigits
	}

	low := int64(1)
	for i := 1; i < digits; i++ {
		low *= 10
	}
	span := low*10 - low // count of values in [low, 10*low)

	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return 0, fmt.Errorf("token: %w", err)
	}
	return low + n.Int64(), nil
}

// HashSHA256Hex returns a SHA-256 hex digest of s. Used where a code must be
// compared without storing it verbatim in logs.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
