package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/venueauth"
	"github.com/MrEthical07/venueauth/gormstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mailbox struct {
	mu     sync.Mutex
	emails []venueauth.EmailMessage
}

func (m *mailbox) SendEmail(_ context.Context, msg venueauth.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails = append(m.emails, msg)
	return nil
}

func (m *mailbox) SendSMS(context.Context, string, string) error { return nil }

var linkToken = regexp.MustCompile(`token=([A-Za-z0-9._\-]+)`)

func (m *mailbox) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.emails)
	match := linkToken.FindStringSubmatch(m.emails[len(m.emails)-1].Text)
	require.Len(t, match, 2)
	return match[1]
}

type stubGoogle struct{}

func (stubGoogle) AuthURL(state string, _ venueauth.AuthURLOptions) string {
	return "https://accounts.example.test/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (stubGoogle) ExchangeCode(_ context.Context, code string) (*venueauth.OAuthTokens, error) {
	if code != "good-code" {
		return nil, errors.New("invalid_grant")
	}
	return &venueauth.OAuthTokens{AccessToken: "ga", RefreshToken: "gr", IDToken: "id-token"}, nil
}

func (stubGoogle) VerifyIDToken(context.Context, string) (*venueauth.OAuthIdentity, error) {
	return &venueauth.OAuthIdentity{SubjectID: "g-1", Email: "new@x.com", EmailVerified: true, GivenName: "Nia"}, nil
}

type harness struct {
	handler http.Handler
	mail    *mailbox
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	db, err := gormstore.Open(gormstore.Config{
		DSN:          "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, gormstore.Migrate(db))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := venueauth.DefaultConfig()
	cfg.Token.SessionSecret = []byte("session-secret-0123456789")
	cfg.Token.VerificationSecret = []byte("verify-secret-0123456789")
	cfg.Token.ResetSecret = []byte("reset-secret-0123456789")
	cfg.Token.InvitationSecret = []byte("invite-secret-0123456789")
	cfg.Token.LinkingSecret = []byte("linking-secret-0123456789")
	cfg.Token.MFASecret = []byte("mfa-secret-0123456789")
	cfg.Password.Cost = 4
	cfg.Account.DefaultRoleID = "role-user"
	cfg.App.UserWebURL = "https://app.example.test"

	mail := &mailbox{}
	engine, err := venueauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(gormstore.NewAccountStore(db)).
		WithTokenStore(gormstore.NewTokenStore(db)).
		WithNotifier(mail).
		WithOAuthProvider(stubGoogle{}).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	httpCfg := DefaultConfig()
	httpCfg.RefreshCookie.Secure = false
	if mutate != nil {
		mutate(&httpCfg)
	}
	return &harness{handler: NewRouter(engine, httpCfg, nil), mail: mail}
}

type call struct {
	method  string
	path    string
	body    string
	bearer  string
	cookies []*http.Cookie
}

func (h *harness) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPasswordJourney(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, call{method: http.MethodPost, path: "/auth/register",
		body: `{"email":"guest@x.com","password":"Passw0rd!","name":"Guest"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reg := decodeBody(t, rec)
	access := reg["accessToken"].(string)
	require.NotNil(t, cookieNamed(rec, "refreshToken"))

	rec = h.do(t, call{method: http.MethodGet, path: "/auth/me", bearer: access})
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody(t, rec)
	assert.Equal(t, "guest@x.com", me["email"])
	assert.Equal(t, false, me["isEmailVerified"])
	assert.NotContains(t, me, "passwordHash")
	assert.Equal(t, true, me["hasPassword"])

	rec = h.do(t, call{method: http.MethodPost, path: "/auth/login",
		body: `{"identifier":"guest@x.com","password":"Passw0rd!"}`})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, call{method: http.MethodGet, path: "/auth/verify-email?token=" + h.mail.lastToken(t)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, call{method: http.MethodPost, path: "/auth/login",
		body: `{"identifier":"guest@x.com","password":"wrong"}`})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials.", decodeBody(t, rec)["message"])

	rec = h.do(t, call{method: http.MethodPost, path: "/auth/login",
		body: `{"identifier":"guest@x.com","password":"Passw0rd!"}`})
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeBody(t, rec)
	assert.Equal(t, false, login["mfaRequired"])
	refresh := cookieNamed(rec, "refreshToken")
	require.NotNil(t, refresh)
	assert.True(t, refresh.HttpOnly)

	rec = h.do(t, call{method: http.MethodPost, path: "/auth/refresh", cookies: []*http.Cookie{refresh}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := cookieNamed(rec, "refreshToken")
	require.NotNil(t, rotated)
	assert.NotEqual(t, refresh.Value, rotated.Value)

	rec = h.do(t, call{method: http.MethodPost, path: "/auth/refresh", cookies: []*http.Cookie{refresh}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "old refresh token is single use")

	rec = h.do(t, call{method: http.MethodPost, path: "/auth/logout", body: `{"refreshToken":"` + rotated.Value + `"}`})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, call{method: http.MethodPost, path: "/auth/refresh", cookies: []*http.Cookie{rotated}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBadBodies(t *testing.T) {
	h := newHarness(t, nil)
	for name, body := range map[string]string{
		"empty":         "",
		"malformed":     `{"identifier":`,
		"unknown field": `{"identifier":"a@x.com","password":"x","admin":true}`,
	} {
		rec := h.do(t, call{method: http.MethodPost, path: "/auth/login", body: body})
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestForgotPasswordDoesNotRevealAccounts(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, call{method: http.MethodPost, path: "/auth/forgot-password", body: `{"email":"nobody@x.com"}`})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["message"], "If an account exists")
}

func TestAuthRoutesRateLimited(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.AuthRateLimit = 2
		c.AuthRateWindow = time.Minute
	})
	body := `{"identifier":"a@x.com","password":"x"}`
	for i := 0; i < 2; i++ {
		rec := h.do(t, call{method: http.MethodPost, path: "/auth/login", body: body})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := h.do(t, call{method: http.MethodPost, path: "/auth/login", body: body})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = h.do(t, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, rec.Code, "other routes keep their own budget")
}

func TestProtectedRoutesNeedBearer(t *testing.T) {
	h := newHarness(t, nil)
	for _, path := range []string{"/auth/me", "/auth/logout-all", "/auth/user/mfa/disable"} {
		method := http.MethodPost
		if path == "/auth/me" {
			method = http.MethodGet
		}
		rec := h.do(t, call{method: method, path: path})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestGoogleFlow(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, call{method: http.MethodGet, path: "/auth/google"})
	require.Equal(t, http.StatusFound, rec.Code)
	state := cookieNamed(rec, oauthStateCookie)
	require.NotNil(t, state)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, state.Value, loc.Query().Get("state"))

	rec = h.do(t, call{method: http.MethodGet, path: "/auth/google/callback?code=good-code&state=forged",
		cookies: []*http.Cookie{state}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, call{method: http.MethodGet, path: "/auth/google/callback?code=bad&state=" + state.Value,
		cookies: []*http.Cookie{state}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = h.do(t, call{method: http.MethodGet, path: "/auth/google/callback?code=good-code&state=" + state.Value,
		cookies: []*http.Cookie{state}})
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, "https://app.example.test/dashboard", rec.Header().Get("Location"))
	assert.NotNil(t, cookieNamed(rec, "refreshToken"))
}

func TestLinkGoogleAccountNeedsOwnerSession(t *testing.T) {
	h := newHarness(t, nil)

	register := func(email string) string {
		rec := h.do(t, call{method: http.MethodPost, path: "/auth/register",
			body: `{"email":"` + email + `","password":"Passw0rd!"}`})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decodeBody(t, rec)["accessToken"].(string)
	}
	owner := register("new@x.com")
	other := register("other@x.com")

	rec := h.do(t, call{method: http.MethodGet, path: "/auth/google"})
	state := cookieNamed(rec, oauthStateCookie)
	require.NotNil(t, state)
	rec = h.do(t, call{method: http.MethodGet, path: "/auth/google/callback?code=good-code&state=" + state.Value,
		cookies: []*http.Cookie{state}})
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	token := loc.Query().Get("token")
	require.NotEmpty(t, token)
	body := `{"linkingToken":"` + token + `"}`

	rec = h.do(t, call{method: http.MethodPost, path: "/auth/link-google-account", body: body})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "anonymous caller")

	rec = h.do(t, call{method: http.MethodPost, path: "/auth/link-google-account", body: body, bearer: other})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "another account's session")

	rec = h.do(t, call{method: http.MethodPost, path: "/auth/link-google-account", body: body, bearer: owner})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Google account linked successfully.", decodeBody(t, rec)["message"])
}
