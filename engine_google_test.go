package venueauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestGoogleAuthURLRequestsOfflineConsent(t *testing.T) {
	te := newTestEngine(t)
	u, err := te.GoogleAuthURL("st-1")
	if err != nil {
		t.Fatalf("GoogleAuthURL: %v", err)
	}
	if !strings.Contains(u, "state=st-1") || !strings.Contains(u, "openid+email+profile") {
		t.Fatalf("unexpected url %q", u)
	}
}

func TestLoginWithGoogleCreatesVerifiedAccount(t *testing.T) {
	te := newTestEngine(t)
	te.google.identities["code-1"] = OAuthIdentity{SubjectID: "g-100", Email: "New@X.com", EmailVerified: true, GivenName: "Nia"}

	res, err := te.LoginWithGoogle(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("LoginWithGoogle: %v", err)
	}
	if res.Kind != LoginDirect || res.Tokens == nil {
		t.Fatalf("expected direct login, got %+v", res)
	}
	a := te.accountStore.get(t, res.Account.ID)
	if a.EmailAddress() != "new@x.com" || !a.IsEmailVerified || a.HasPassword() {
		t.Fatalf("unexpected account %+v", a)
	}
	if a.Name != "Nia" || a.RoleID != "role-user" || a.GoogleRefreshToken != "gr-code-1" {
		t.Fatalf("google profile not stored: %+v", a)
	}
}

func TestLoginWithGoogleKnownIdentityKeepsRefreshToken(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.google.identities["code-1"] = OAuthIdentity{SubjectID: "g-100", Email: "new@x.com", EmailVerified: true}
	first, err := te.LoginWithGoogle(ctx, "code-1")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}

	te.google.identities["code-2"] = OAuthIdentity{SubjectID: "g-100", Email: "new@x.com", EmailVerified: true}
	second, err := te.LoginWithGoogle(ctx, "code-2")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if second.Account.ID != first.Account.ID || te.accountStore.count() != 1 {
		t.Fatal("known Google identity must sign in to the same account")
	}
	a := te.accountStore.get(t, first.Account.ID)
	if a.GoogleAccessToken != "ga-code-2" || a.GoogleRefreshToken != "gr-code-2" {
		t.Fatalf("google tokens not refreshed: %+v", a)
	}
}

func TestLoginWithGoogleRejectsBadCode(t *testing.T) {
	te := newTestEngine(t)
	if _, err := te.LoginWithGoogle(context.Background(), "unknown"); !errors.Is(err, ErrOAuthExchange) {
		t.Fatalf("expected ErrOAuthExchange, got %v", err)
	}
	if _, err := te.LoginWithGoogle(context.Background(), " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLoginWithGoogleEmailTakenByOtherGoogleID(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	taken := &Account{ID: "g1", Email: strPtr("a@x.com"), GoogleID: strPtr("g-1"), IsEmailVerified: true}
	if err := te.accountStore.Create(ctx, taken); err != nil {
		t.Fatalf("seed: %v", err)
	}
	te.google.identities["c"] = OAuthIdentity{SubjectID: "g-2", Email: "a@x.com", EmailVerified: true}

	_, err := te.LoginWithGoogle(ctx, "c")
	if !errors.Is(err, ErrAccountConflict) || HTTPStatus(err) != http.StatusConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestGoogleLinkingEndToEnd(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	seeded := te.seedPasswordAccount(t, "u1", "a@x.com")
	te.google.identities["c"] = OAuthIdentity{SubjectID: "g-1", Email: "A@x.com", EmailVerified: true, Name: "Alice"}

	res, err := te.LoginWithGoogle(ctx, "c")
	if err != nil {
		t.Fatalf("LoginWithGoogle: %v", err)
	}
	if res.Kind != LoginLinkingRequired || res.LinkingToken == "" || res.Tokens != nil {
		t.Fatalf("expected linking challenge, got %+v", res)
	}
	if want := "https://app.example.test/auth/link-account?token="; !strings.HasPrefix(res.RedirectTo, want) {
		t.Fatalf("RedirectTo = %q", res.RedirectTo)
	}

	// The pending link neither creates nor modifies an account.
	if te.accountStore.count() != 1 {
		t.Fatalf("accounts = %d, want 1", te.accountStore.count())
	}
	if a := te.accountStore.get(t, "u1"); a.HasGoogle() || a.Version != seeded.Version {
		t.Fatalf("account mutated before confirmation: %+v", a)
	}

	linked, err := te.LinkAccount(ctx, "u1", res.LinkingToken)
	if err != nil {
		t.Fatalf("LinkAccount: %v", err)
	}
	if linked.Kind != LoginDirect || linked.Tokens == nil || linked.Message != "Google account linked successfully." {
		t.Fatalf("unexpected link result %+v", linked)
	}
	a := te.accountStore.get(t, "u1")
	if !a.HasGoogle() || *a.GoogleID != "g-1" || !a.HasPassword() || a.GoogleAccessToken != "ga-c" {
		t.Fatalf("google not attached: %+v", a)
	}

	// The token is single use.
	if _, err := te.LinkAccount(ctx, "u1", res.LinkingToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("replay: expected ErrTokenInvalid, got %v", err)
	}

	// Afterwards Google sign-in goes straight in.
	again, err := te.LoginWithGoogle(ctx, "c")
	if err != nil || again.Kind != LoginDirect || again.Account.ID != "u1" {
		t.Fatalf("google login after link = %+v, %v", again, err)
	}
}

func TestLinkAccountRejectsBadTokens(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.seedPasswordAccount(t, "u1", "a@x.com")
	te.google.identities["c"] = OAuthIdentity{SubjectID: "g-1", Email: "a@x.com", EmailVerified: true}
	res, err := te.LoginWithGoogle(ctx, "c")
	if err != nil {
		t.Fatalf("LoginWithGoogle: %v", err)
	}

	_, err = te.LinkAccount(ctx, "u1", "garbage")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("garbage: expected ErrTokenInvalid, got %v", err)
	}
	if PublicMessage(err) != "Invalid or expired linking token." {
		t.Fatalf("PublicMessage = %q", PublicMessage(err))
	}

	te.clk.Advance(2 * time.Hour)
	if _, err := te.LinkAccount(ctx, "u1", res.LinkingToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired: expected ErrTokenExpired, got %v", err)
	}
	if a := te.accountStore.get(t, "u1"); a.HasGoogle() {
		t.Fatal("expired link must not attach google")
	}
}

func TestLinkAccountEmailChangedMeanwhile(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.seedPasswordAccount(t, "u1", "a@x.com")
	te.google.identities["c"] = OAuthIdentity{SubjectID: "g-1", Email: "a@x.com", EmailVerified: true}
	res, err := te.LoginWithGoogle(ctx, "c")
	if err != nil {
		t.Fatalf("LoginWithGoogle: %v", err)
	}
	if _, err := te.accountStore.Update(ctx, "u1", AccountUpdate{Email: strPtr("b@x.com")}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	_, err = te.LinkAccount(ctx, "u1", res.LinkingToken)
	if !errors.Is(err, ErrInvalidInput) || HTTPStatus(err) != http.StatusBadRequest {
		t.Fatalf("expected email mismatch, got %v", err)
	}
}

func TestUnlinkGoogleRequiresPassword(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.google.identities["c"] = OAuthIdentity{SubjectID: "g-1", Email: "only@x.com", EmailVerified: true}
	res, err := te.LoginWithGoogle(ctx, "c")
	if err != nil {
		t.Fatalf("LoginWithGoogle: %v", err)
	}

	_, err = te.UnlinkGoogleAccount(ctx, res.Account.ID)
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	if PublicMessage(err) != "Please set a password for your account before unlinking Google Sign-In." {
		t.Fatalf("PublicMessage = %q", PublicMessage(err))
	}
	if a := te.accountStore.get(t, res.Account.ID); !a.HasGoogle() {
		t.Fatal("google must still be linked")
	}
}

func TestUnlinkGoogleWithPassword(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.seedPasswordAccount(t, "u1", "a@x.com")
	if _, err := te.UnlinkGoogleAccount(ctx, "u1"); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("nothing linked: expected ErrPreconditionFailed, got %v", err)
	}

	if _, err := te.accountStore.Update(ctx, "u1", AccountUpdate{GoogleID: strPtr("g-1"), GoogleAccessToken: strPtr("ga")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	a, err := te.UnlinkGoogleAccount(ctx, "u1")
	if err != nil {
		t.Fatalf("UnlinkGoogleAccount: %v", err)
	}
	if a.HasGoogle() || a.GoogleAccessToken != "" || !a.HasPassword() {
		t.Fatalf("unexpected account after unlink %+v", a)
	}
	if _, err := te.LoginEmailPassword(ctx, "a@x.com", testPassword); err != nil {
		t.Fatalf("password login after unlink: %v", err)
	}
}

func TestLoginWithGoogleRequiresVerifiedEmail(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.seedPasswordAccount(t, "u1", "victim@x.com")
	te.google.identities["takeover"] = OAuthIdentity{SubjectID: "g-attacker", Email: "victim@x.com"}
	te.google.identities["fresh"] = OAuthIdentity{SubjectID: "g-new", Email: "new@x.com"}

	for _, code := range []string{"takeover", "fresh"} {
		res, err := te.LoginWithGoogle(ctx, code)
		if !errors.Is(err, ErrOAuthIdentityInvalid) || HTTPStatus(err) != http.StatusUnauthorized {
			t.Fatalf("%s: expected ErrOAuthIdentityInvalid, got %+v, %v", code, res, err)
		}
	}
	if te.accountStore.count() != 1 {
		t.Fatalf("unverified identity created an account: %d accounts", te.accountStore.count())
	}
	if a := te.accountStore.get(t, "u1"); a.HasGoogle() {
		t.Fatal("unverified identity reached the existing account")
	}
}

func TestLinkAccountRequiresTokenOwner(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.seedPasswordAccount(t, "u1", "a@x.com")
	te.seedPasswordAccount(t, "u2", "b@x.com")
	te.google.identities["c"] = OAuthIdentity{SubjectID: "g-1", Email: "a@x.com", EmailVerified: true}
	res, err := te.LoginWithGoogle(ctx, "c")
	if err != nil {
		t.Fatalf("LoginWithGoogle: %v", err)
	}

	for _, caller := range []string{"", "u2"} {
		_, err := te.LinkAccount(ctx, caller, res.LinkingToken)
		if !errors.Is(err, ErrTokenOwnerMismatch) || HTTPStatus(err) != http.StatusUnauthorized {
			t.Fatalf("caller %q: expected ErrTokenOwnerMismatch, got %v", caller, err)
		}
	}
	if a := te.accountStore.get(t, "u1"); a.HasGoogle() {
		t.Fatal("foreign caller attached google")
	}

	// A rejected caller does not burn the pending link for its owner.
	if _, err := te.LinkAccount(ctx, "u1", res.LinkingToken); err != nil {
		t.Fatalf("owner LinkAccount: %v", err)
	}
}
