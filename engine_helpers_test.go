package venueauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memAccountStore is an in-memory AccountStore with the same uniqueness and
// versioning rules as the SQL store.
type memAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	failNext error
}

func newMemAccountStore() *memAccountStore {
	return &memAccountStore{accounts: map[string]*Account{}}
}

func cloneAccount(a *Account) *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.FailedLoginIPs != nil {
		out.FailedLoginIPs = make(map[string]FailedIPEntry, len(a.FailedLoginIPs))
		for k, v := range a.FailedLoginIPs {
			out.FailedLoginIPs[k] = v
		}
	}
	out.LoginIPs = append([]string(nil), a.LoginIPs...)
	return &out
}

func (s *memAccountStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *memAccountStore) find(match func(*Account) bool) *Account {
	for _, a := range s.accounts {
		if match(a) {
			return cloneAccount(a)
		}
	}
	return nil
}

func (s *memAccountStore) FindByID(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	return cloneAccount(s.accounts[id]), nil
}

func (s *memAccountStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(func(a *Account) bool { return a.EmailAddress() == email }), nil
}

func (s *memAccountStore) FindByPhone(_ context.Context, phone string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(func(a *Account) bool { return a.PhoneNumber() == phone }), nil
}

func (s *memAccountStore) FindByGoogleID(_ context.Context, googleID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(func(a *Account) bool { return a.HasGoogle() && *a.GoogleID == googleID }), nil
}

func (s *memAccountStore) Create(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if (account.Email != nil && a.EmailAddress() == *account.Email) ||
			(account.Phone != nil && a.PhoneNumber() == *account.Phone) ||
			(account.GoogleID != nil && a.HasGoogle() && *a.GoogleID == *account.GoogleID) {
			return ErrAccountConflict
		}
	}
	if account.PasswordHash == nil && account.GoogleID == nil {
		return fmt.Errorf("%w: account needs a password or a google id", ErrPreconditionFailed)
	}
	stored := cloneAccount(account)
	stored.Version = 1
	s.accounts[account.ID] = stored
	return nil
}

func (s *memAccountStore) Update(_ context.Context, id string, u AccountUpdate) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if u.Email != nil {
		a.Email = u.Email
	}
	if u.Phone != nil {
		a.Phone = u.Phone
	}
	if u.PasswordHash != nil {
		a.PasswordHash = u.PasswordHash
	}
	if u.GoogleID != nil {
		a.GoogleID = u.GoogleID
	}
	if u.GoogleAccessToken != nil {
		a.GoogleAccessToken = *u.GoogleAccessToken
	}
	if u.GoogleRefreshToken != nil {
		a.GoogleRefreshToken = *u.GoogleRefreshToken
	}
	if u.GoogleAuthScope != nil {
		a.GoogleAuthScope = *u.GoogleAuthScope
	}
	if u.ClearGoogle {
		a.GoogleID = nil
		a.GoogleAccessToken, a.GoogleRefreshToken, a.GoogleAuthScope = "", "", ""
	}
	if u.Name != nil {
		a.Name = *u.Name
	}
	if u.IsEmailVerified != nil {
		a.IsEmailVerified = *u.IsEmailVerified
	}
	if u.IsPhoneVerified != nil {
		a.IsPhoneVerified = *u.IsPhoneVerified
	}
	if u.IsMFAEnabled != nil {
		a.IsMFAEnabled = *u.IsMFAEnabled
	}
	if u.MFAMethod != nil {
		a.MFAMethod = *u.MFAMethod
	}
	if u.LoginAttempts != nil {
		a.LoginAttempts = *u.LoginAttempts
	}
	if u.IsLocked != nil {
		a.IsLocked = *u.IsLocked
	}
	if u.LockUntil != nil {
		t := *u.LockUntil
		a.LockUntil = &t
	}
	if u.ClearLockUntil {
		a.LockUntil = nil
	}
	if u.FailedLoginIPs != nil {
		a.FailedLoginIPs = u.FailedLoginIPs
	}
	if u.LoginIPs != nil {
		a.LoginIPs = append([]string(nil), u.LoginIPs...)
	}
	if u.LastLoginAt != nil {
		a.LastLoginAt = u.LastLoginAt
	}
	if u.LastIPAddress != nil {
		a.LastIPAddress = *u.LastIPAddress
	}
	if u.LastUserAgent != nil {
		a.LastUserAgent = *u.LastUserAgent
	}
	a.Version++
	return cloneAccount(a), nil
}

func (s *memAccountStore) IncrementLoginAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return 0, err
	}
	a, ok := s.accounts[id]
	if !ok {
		return 0, ErrAccountNotFound
	}
	a.LoginAttempts++
	a.Version++
	return a.LoginAttempts, nil
}

func (s *memAccountStore) CompareAndSwapFailedIPs(_ context.Context, id string, version int64, ips map[string]FailedIPEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return false, ErrAccountNotFound
	}
	if a.Version != version {
		return false, nil
	}
	a.FailedLoginIPs = ips
	a.Version++
	return true, nil
}

func (s *memAccountStore) get(t *testing.T, id string) *Account {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		t.Fatalf("account %q not found", id)
	}
	return cloneAccount(a)
}

func (s *memAccountStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// memTokenStore is an in-memory TokenStore.
type memTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{tokens: map[string]*Token{}}
}

func (s *memTokenStore) Create(_ context.Context, token *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.Token]; exists {
		return errors.New("duplicate token")
	}
	cp := *token
	s.tokens[token.Token] = &cp
	return nil
}

func (s *memTokenStore) FindByToken(_ context.Context, token string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *memTokenStore) BlacklistActive(_ context.Context, f TokenFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tokens {
		if t.IsBlacklisted ||
			(f.Token != "" && t.Token != f.Token) ||
			(f.Type != "" && t.Type != f.Type) ||
			(f.AccountID != "" && t.AccountID != f.AccountID) {
			continue
		}
		t.IsBlacklisted = true
		n++
	}
	return n, nil
}

func (s *memTokenStore) DeleteExpiredOrBlacklisted(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, t := range s.tokens {
		if t.IsBlacklisted || t.ExpiresAt.Before(now) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}

func (s *memTokenStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// recordingSender keeps every message it is asked to deliver.
type recordingSender struct {
	mu      sync.Mutex
	emails  []EmailMessage
	sms     []string
	failing bool
}

func (s *recordingSender) SendEmail(_ context.Context, msg EmailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("smtp down")
	}
	s.emails = append(s.emails, msg)
	return nil
}

func (s *recordingSender) SendSMS(_ context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("sms gateway down")
	}
	s.sms = append(s.sms, to+"|"+body)
	return nil
}

func (s *recordingSender) emailCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.emails)
}

func (s *recordingSender) lastEmail(t *testing.T) EmailMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.emails) == 0 {
		t.Fatal("no email sent")
	}
	return s.emails[len(s.emails)-1]
}

func (s *recordingSender) lastSMS(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sms) == 0 {
		t.Fatal("no sms sent")
	}
	return s.sms[len(s.sms)-1]
}

// fakeOAuth maps authorization codes to canned identities.
type fakeOAuth struct {
	identities map[string]OAuthIdentity
}

func (f *fakeOAuth) AuthURL(state string, opts AuthURLOptions) string {
	return "https://accounts.example.test/auth?state=" + state + "&scope=" + strings.Join(opts.Scopes, "+")
}

func (f *fakeOAuth) ExchangeCode(_ context.Context, code string) (*OAuthTokens, error) {
	if _, ok := f.identities[code]; !ok {
		return nil, errors.New("invalid_grant")
	}
	return &OAuthTokens{
		AccessToken:  "ga-" + code,
		RefreshToken: "gr-" + code,
		IDToken:      "id-" + code,
		Scope:        "openid email profile",
	}, nil
}

func (f *fakeOAuth) VerifyIDToken(_ context.Context, idToken string) (*OAuthIdentity, error) {
	ident, ok := f.identities[strings.TrimPrefix(idToken, "id-")]
	if !ok {
		return nil, errors.New("bad id token")
	}
	return &ident, nil
}

type testEngine struct {
	*Engine
	accountStore *memAccountStore
	tokenStore   *memTokenStore
	notifier     *recordingSender
	google       *fakeOAuth
	clk          *fakeClock
	mr           *miniredis.Miniredis
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.SessionSecret = []byte("session-secret-0123456789")
	cfg.Token.VerificationSecret = []byte("verify-secret-0123456789")
	cfg.Token.ResetSecret = []byte("reset-secret-0123456789")
	cfg.Token.InvitationSecret = []byte("invite-secret-0123456789")
	cfg.Token.LinkingSecret = []byte("linking-secret-0123456789")
	cfg.Token.MFASecret = []byte("mfa-secret-0123456789")
	cfg.Password.Cost = 4
	cfg.Account.DefaultRoleID = "role-user"
	cfg.App.UserWebURL = "https://app.example.test"
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEngine(t *testing.T, mutate ...func(*Config)) *testEngine {
	t.Helper()
	return newAuditedTestEngine(t, nil, mutate...)
}

// newAuditedTestEngine enables auditing when sink is non-nil.
func newAuditedTestEngine(t *testing.T, sink AuditSink, mutate ...func(*Config)) *testEngine {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	cfg.Audit.Enabled = sink != nil
	for _, m := range mutate {
		m(&cfg)
	}

	te := &testEngine{
		accountStore: newMemAccountStore(),
		tokenStore:   newMemTokenStore(),
		notifier:     &recordingSender{},
		google:       &fakeOAuth{identities: map[string]OAuthIdentity{}},
		clk:          newFakeClock(),
		mr:           mr,
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(te.accountStore).
		WithTokenStore(te.tokenStore).
		WithNotifier(te.notifier).
		WithOAuthProvider(te.google).
		WithClock(te.clk).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	te.Engine = engine
	return te
}

const testPassword = "Passw0rd!"

// seedPasswordAccount stores a verified password account.
func (te *testEngine) seedPasswordAccount(t *testing.T, id, email string) *Account {
	t.Helper()
	hash, err := te.credentials.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	a := &Account{
		ID:              id,
		Email:           strPtr(email),
		PasswordHash:    strPtr(hash),
		IsEmailVerified: true,
		RoleID:          "role-user",
	}
	if err := te.accountStore.Create(context.Background(), a); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return te.accountStore.get(t, id)
}

// otpFromText finds the first standalone run of digits digits in text.
func otpFromText(t *testing.T, text string, digits int) string {
	t.Helper()
	for i := 0; i+digits <= len(text); i++ {
		ok := true
		for j := 0; j < digits; j++ {
			if c := text[i+j]; c < '0' || c > '9' {
				ok = false
				break
			}
		}
		if ok && (i+digits == len(text) || text[i+digits] < '0' || text[i+digits] > '9') && (i == 0 || text[i-1] < '0' || text[i-1] > '9') {
			return text[i : i+digits]
		}
	}
	t.Fatalf("no %d-digit code in %q", digits, text)
	return ""
}

// tokenFromLink returns the token query parameter of the first link in text.
func tokenFromLink(t *testing.T, text string) string {
	t.Helper()
	i := strings.Index(text, "?token=")
	if i < 0 {
		t.Fatalf("no token link in %q", text)
	}
	rest := text[i+len("?token="):]
	if j := strings.IndexAny(rest, "\n \"<"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}
