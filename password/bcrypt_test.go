package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestHasher(t *testing.T) *Bcrypt {
	t.Helper()
	h, err := NewBcrypt(Config{Cost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t)

	hash, err := h.Hash("Passw0rd!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$") {
		t.Fatalf("unexpected bcrypt prefix: %s", hash)
	}

	ok, err := h.Verify("Passw0rd!", hash)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed, ok=%v err=%v", ok, err)
	}

	ok, err = h.Verify("wrong", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch without error, ok=%v err=%v", ok, err)
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newTestHasher(t)

	if ok, err := h.Verify("Passw0rd!", "not-a-hash"); ok || err == nil {
		t.Fatalf("expected malformed hash error, ok=%v err=%v", ok, err)
	}
}

func TestMatchesNilHashIsFalse(t *testing.T) {
	h := newTestHasher(t)
	empty := ""

	if h.Matches("anything", nil) {
		t.Fatal("nil hash must never match")
	}
	if h.Matches("", &empty) {
		t.Fatal("empty hash must never match")
	}
}

func TestHashRejectsOverlongPassword(t *testing.T) {
	h := newTestHasher(t)

	if _, err := h.Hash(strings.Repeat("a", 73)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestDefaultCost(t *testing.T) {
	h, err := NewBcrypt(Config{})
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}
	if h.Cost() != DefaultCost {
		t.Fatalf("expected cost %d, got %d", DefaultCost, h.Cost())
	}

	if _, err := NewBcrypt(Config{Cost: 99}); err == nil {
		t.Fatal("expected out-of-range cost to be rejected")
	}
}

func TestNeedsRehash(t *testing.T) {
	low := newTestHasher(t)
	hash, err := low.Hash("Passw0rd!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	high, err := NewBcrypt(Config{Cost: bcrypt.MinCost + 1})
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}
	needs, err := high.NeedsRehash(hash)
	if err != nil || !needs {
		t.Fatalf("expected rehash to be needed, needs=%v err=%v", needs, err)
	}
}

func TestPolicyCheck(t *testing.T) {
	p := DefaultPolicy()

	cases := []struct {
		in   string
		want error
	}{
		{"Passw0rd!", nil},
		{"Pw0!", ErrTooShort},
		{"passw0rd!", ErrMissingUpper},
		{"PASSW0RD!", ErrMissingLower},
		{"Password!", ErrMissingDigit},
		{"Passw0rdd", ErrMissingSpecial},
	}
	for _, tc := range cases {
		err := p.Check(tc.in)
		if tc.want == nil {
			if err != nil {
				t.Fatalf("%q: expected nil, got %v", tc.in, err)
			}
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("%q: expected %v, got %v", tc.in, tc.want, err)
		}
	}
}
