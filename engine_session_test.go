package venueauth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func loginDirect(t *testing.T, te *testEngine, email string) *TokenPair {
	t.Helper()
	res, err := te.LoginEmailPassword(context.Background(), email, testPassword)
	if err != nil || res.Tokens == nil {
		t.Fatalf("login = %+v, %v", res, err)
	}
	return res.Tokens
}

func TestRefreshRotatesOnce(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.seedPasswordAccount(t, "u1", "a@x.com")
	pair := loginDirect(t, te, "a@x.com")

	next, err := te.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token must rotate")
	}
	if _, err := te.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenBlacklisted) {
		t.Fatalf("replayed refresh: expected ErrTokenBlacklisted, got %v", err)
	}
	if _, err := te.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("rotated token should refresh: %v", err)
	}
	if _, err := te.Refresh(ctx, pair.AccessToken); !errors.Is(err, ErrTokenTypeMismatch) {
		t.Fatalf("access token as refresh: expected ErrTokenTypeMismatch, got %v", err)
	}
}

func TestRefreshAfterExpiry(t *testing.T) {
	te := newTestEngine(t)
	te.seedPasswordAccount(t, "u1", "a@x.com")
	pair := loginDirect(t, te, "a@x.com")

	te.clk.Advance(8 * 24 * time.Hour)
	_, err := te.Refresh(context.Background(), pair.RefreshToken)
	if !errors.Is(err, ErrTokenExpired) || HTTPStatus(err) != http.StatusUnauthorized {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.seedPasswordAccount(t, "u1", "a@x.com")
	pair := loginDirect(t, te, "a@x.com")

	if err := te.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := te.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenBlacklisted) {
		t.Fatalf("expected ErrTokenBlacklisted, got %v", err)
	}
	if err := te.Logout(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("second Logout: expected ErrTokenNotFound, got %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.seedPasswordAccount(t, "u1", "a@x.com")
	first := loginDirect(t, te, "a@x.com")
	second := loginDirect(t, te, "a@x.com")

	n, err := te.LogoutAll(ctx, "u1")
	if err != nil || n != 2 {
		t.Fatalf("LogoutAll = %d, %v; want 2", n, err)
	}
	for _, p := range []*TokenPair{first, second} {
		if _, err := te.Refresh(ctx, p.RefreshToken); !errors.Is(err, ErrTokenBlacklisted) {
			t.Fatalf("expected ErrTokenBlacklisted, got %v", err)
		}
	}
}

func TestPasswordResetFlow(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.seedPasswordAccount(t, "u1", "a@x.com")
	pair := loginDirect(t, te, "a@x.com")
	for i := 0; i < 5; i++ {
		te.Credentials().HandleFailedLoginAttempt(ctx, "u1", "10.0.0.1", "")
	}

	if err := te.RequestPasswordReset(ctx, "A@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	msg := te.notifier.lastEmail(t)
	if msg.Subject != "Reset your password" {
		t.Fatalf("Subject = %q", msg.Subject)
	}
	token := tokenFromLink(t, msg.Text)

	// A weak password does not consume the token.
	if err := te.ResetPassword(ctx, token, "weak"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("weak password: expected ErrInvalidInput, got %v", err)
	}
	if err := te.ResetPassword(ctx, token, "N3w-Passw0rd"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if err := te.ResetPassword(ctx, token, "N3w-Passw0rd"); !errors.Is(err, ErrPasswordResetInvalid) {
		t.Fatalf("reused token: expected ErrPasswordResetInvalid, got %v", err)
	}

	a := te.accountStore.get(t, "u1")
	if a.IsLocked || a.LoginAttempts != 0 || len(a.FailedLoginIPs) != 0 {
		t.Fatalf("lockout should be cleared: %+v", a)
	}
	if _, err := te.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenBlacklisted) {
		t.Fatalf("old refresh token should be revoked, got %v", err)
	}
	if _, err := te.LoginEmailPassword(ctx, "a@x.com", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}
	if _, err := te.LoginEmailPassword(ctx, "a@x.com", "N3w-Passw0rd"); err != nil {
		t.Fatalf("new password login: %v", err)
	}
}

func TestRequestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	te := newTestEngine(t)
	if err := te.RequestPasswordReset(context.Background(), "nobody@x.com"); err != nil {
		t.Fatalf("unknown email should not error: %v", err)
	}
	if te.notifier.emailCount() != 0 {
		t.Fatal("no email should be sent")
	}
	if err := te.RequestPasswordReset(context.Background(), "bogus"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPasswordResetTokenExpires(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.seedPasswordAccount(t, "u1", "a@x.com")
	if err := te.RequestPasswordReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := tokenFromLink(t, te.notifier.lastEmail(t).Text)

	te.mr.FastForward(time.Hour + time.Second)
	if err := te.ResetPassword(ctx, token, "N3w-Passw0rd"); !errors.Is(err, ErrPasswordResetInvalid) {
		t.Fatalf("expected ErrPasswordResetInvalid, got %v", err)
	}
}

func TestPhoneVerificationFlow(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.seedPasswordAccount(t, "u1", "a@x.com")

	if err := te.SendPhoneVerificationOTP(ctx, "u1", "+1 (555) 010-0300"); err != nil {
		t.Fatalf("SendPhoneVerificationOTP: %v", err)
	}
	a := te.accountStore.get(t, "u1")
	if a.PhoneNumber() != "+15550100300" || a.IsPhoneVerified {
		t.Fatalf("phone not staged: %+v", a)
	}
	code := otpFromText(t, te.notifier.lastSMS(t), 6)

	if _, err := te.VerifyPhoneVerificationOTP(ctx, "u1", wrongCode(code)); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("wrong code: expected ErrInvalidOTP, got %v", err)
	}
	verified, err := te.VerifyPhoneVerificationOTP(ctx, "u1", code)
	if err != nil || !verified.IsPhoneVerified {
		t.Fatalf("VerifyPhoneVerificationOTP = %+v, %v", verified, err)
	}

	// Phone MFA is allowed once the phone is verified.
	if _, err := te.EnableMFA(ctx, "u1", MFAMethodPhone); err != nil {
		t.Fatalf("EnableMFA(PHONE): %v", err)
	}
	res, err := te.LoginEmailPassword(ctx, "a@x.com", testPassword)
	if err != nil || res.MFAMethod != MFAMethodPhone {
		t.Fatalf("expected SMS challenge, got %+v, %v", res, err)
	}
}

func TestSendPhoneVerificationConflict(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.seedPasswordAccount(t, "u1", "a@x.com")
	te.seedPasswordAccount(t, "u2", "b@x.com")
	if _, err := te.accountStore.Update(ctx, "u2", AccountUpdate{Phone: strPtr("+15550100300")}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	err := te.SendPhoneVerificationOTP(ctx, "u1", "+15550100300")
	if !errors.Is(err, ErrAccountConflict) {
		t.Fatalf("expected ErrAccountConflict, got %v", err)
	}
	if err := te.SendPhoneVerificationOTP(ctx, "missing", "+15550100301"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestEnableMFARequiresVerifiedChannel(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.seedPasswordAccount(t, "u1", "a@x.com")

	if _, err := te.EnableMFA(ctx, "u1", MFAMethodPhone); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	if _, err := te.EnableMFA(ctx, "u1", MFAMethod("TOTP")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	a, err := te.EnableMFA(ctx, "u1", MFAMethodEmail)
	if err != nil || !a.IsMFAEnabled || a.MFAMethod != MFAMethodEmail {
		t.Fatalf("EnableMFA = %+v, %v", a, err)
	}
	a, err = te.DisableMFA(ctx, "u1")
	if err != nil || a.IsMFAEnabled || a.MFAMethod != MFAMethodNone {
		t.Fatalf("DisableMFA = %+v, %v", a, err)
	}
	res, err := te.LoginEmailPassword(ctx, "a@x.com", testPassword)
	if err != nil || res.Kind != LoginDirect {
		t.Fatalf("login after disabling MFA = %+v, %v", res, err)
	}
}

func TestValidateAccess(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Metrics.EnableLatencyHistograms = true })
	ctx := context.Background()
	te.seedPasswordAccount(t, "u1", "a@x.com")
	pair := loginDirect(t, te, "a@x.com")

	p, err := te.ValidateAccess(ctx, pair.AccessToken)
	if err != nil || p.AccountID != "u1" || p.RoleID != "role-user" {
		t.Fatalf("ValidateAccess = %+v, %v", p, err)
	}
	if _, err := te.ValidateAccess(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenTypeMismatch) {
		t.Fatalf("refresh as access: expected ErrTokenTypeMismatch, got %v", err)
	}
	te.clk.Advance(16 * time.Minute)
	if _, err := te.ValidateAccess(ctx, pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestSweeperRunOnce(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.seedPasswordAccount(t, "u1", "a@x.com")
	pair := loginDirect(t, te, "a@x.com")
	if err := te.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	te.clk.Advance(16 * time.Minute)

	n, err := NewSweeper(te.Engine).RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	// Expired access token plus the revoked refresh token.
	if n != 2 || te.tokenStore.len() != 0 {
		t.Fatalf("deleted %d, store has %d", n, te.tokenStore.len())
	}
}

func TestSweeperStartStop(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Token.CleanupInterval = 5 * time.Millisecond })
	te.seedPasswordAccount(t, "u1", "a@x.com")
	pair := loginDirect(t, te, "a@x.com")
	if err := te.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	s := NewSweeper(te.Engine)
	s.Start(context.Background())
	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for te.tokenStore.len() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	s.Stop()

	if te.tokenStore.len() != 1 {
		t.Fatalf("sweeper should have removed the revoked token, store has %d", te.tokenStore.len())
	}
}
