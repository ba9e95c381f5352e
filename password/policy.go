package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// specialCharacters is the accepted symbol set for RequireSpecial.
const specialCharacters = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?"

var (
	// ErrTooShort is returned when a password is under Policy.MinLength.
	ErrTooShort = errors.New("password too short")
	// ErrMissingUpper is returned when an uppercase letter is required.
	ErrMissingUpper = errors.New("password must contain at least one uppercase letter")
	// ErrMissingLower is returned when a lowercase letter is required.
	ErrMissingLower = errors.New("password must contain at least one lowercase letter")
	// ErrMissingDigit is returned when a digit is required.
	ErrMissingDigit = errors.New("password must contain at least one number")
	// ErrMissingSpecial is returned when a symbol is required.
	ErrMissingSpecial = errors.New("password must contain at least one special character")
)

// Policy describes password strength requirements.
type Policy struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// DefaultPolicy requires 8 characters with mixed case, a digit and a symbol.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

// Check returns the first rule plain violates, or nil.
func (p Policy) Check(plain string) error {
	if len([]rune(plain)) < p.MinLength {
		return fmt.Errorf("%w: must be at least %d characters long", ErrTooShort, p.MinLength)
	}
	if len(plain) > maxPasswordBytes {
		return ErrPasswordTooLong
	}

	var upper, lower, digit, special bool
	for _, r := range plain {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(specialCharacters, r):
			special = true
		}
	}

	switch {
	case p.RequireUpper && !upper:
		return ErrMissingUpper
	case p.RequireLower && !lower:
		return ErrMissingLower
	case p.RequireDigit && !digit:
		return ErrMissingDigit
	case p.RequireSpecial && !special:
		return ErrMissingSpecial
	}
	return nil
}
