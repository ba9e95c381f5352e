package venueauth

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// ErrInvalidIdentifier is returned when an identifier is neither an email
// address nor a phone number, or when both lookup flags are set.
var ErrInvalidIdentifier = fmt.Errorf("%w: identifier must be a valid email or phone number", ErrInvalidInput)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// normalizeEmail lowercases and trims an address. It returns false for
// anything net/mail would not accept as a bare address.
func normalizeEmail(raw string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || !strings.Contains(email, "@") {
		return "", false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", false
	}
	at := strings.LastIndexByte(email, '@')
	if !strings.Contains(email[at+1:], ".") {
		return "", false
	}
	return email, true
}

// normalizePhone strips common separators and validates an E.164-like number.
func normalizePhone(raw string) (string, bool) {
	phone := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if !phonePattern.MatchString(phone) {
		return "", false
	}
	return phone, true
}

// classifyIdentifier decides whether identifier is an email or a phone.
func classifyIdentifier(identifier string) (normalized string, isEmail, isPhone bool) {
	if email, ok := normalizeEmail(identifier); ok {
		return email, true, false
	}
	if phone, ok := normalizePhone(identifier); ok {
		return phone, false, true
	}
	return "", false, false
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }
