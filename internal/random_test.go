package internal

import "testing"

func TestNewOTPDigits(t *testing.T) {
	for i := 0; i < 50; i++ {
		otp, err := NewOTP(6)
		if err != nil {
			t.Fatalf("NewOTP error: %v", err)
		}
		if len(otp) != 6 {
			t.Fatalf("expected 6 digits, got %q", otp)
		}
		for _, r := range otp {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in otp %q", otp)
			}
		}
	}
}

func TestNewOTPRejectsBadLength(t *testing.T) {
	if _, err := NewOTP(2); err == nil {
		t.Fatal("expected error for 2 digits")
	}
	if _, err := NewOTP(11); err == nil {
		t.Fatal("expected error for 11 digits")
	}
}

func TestEqualCodes(t *testing.T) {
	if !EqualCodes("123456", "123456") {
		t.Fatal("expected equal codes to match")
	}
	if EqualCodes("123456", "123457") || EqualCodes("123456", "12345") {
		t.Fatal("expected different codes not to match")
	}
}
