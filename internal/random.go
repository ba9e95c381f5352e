package internal

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
)

// NewOTP draws a numeric code with exactly digits characters, leading zeros
// included. digits must be within 4..10.
func NewOTP(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", fmt.Errorf("otp length %d out of range", digits)
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("otp entropy: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// EqualCodes compares submitted and stored codes without leaking timing.
func EqualCodes(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
