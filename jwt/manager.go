package jwt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Category selects the secret a token is signed with.
type Category string

const (
	// CategorySession covers ACCESS and REFRESH tokens.
	CategorySession Category = "session"
	// CategoryVerification covers EMAIL_VERIFICATION tokens.
	CategoryVerification Category = "verification"
	// CategoryReset covers PASSWORD_RESET tokens.
	CategoryReset Category = "reset"
	// CategoryInvitation covers INVITATION tokens.
	CategoryInvitation Category = "invitation"
	// CategoryLinking covers ACCOUNT_LINKING tokens.
	CategoryLinking Category = "linking"
	// CategoryMFA covers the interim token between password and OTP steps.
	CategoryMFA Category = "mfa"
)

var (
	// ErrTokenExpired is returned by Parse when the exp claim has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned by Parse for every other verification failure.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrUnknownCategory is returned when no secret is configured for a category.
	ErrUnknownCategory = errors.New("unknown signing category")
)

const minSecretLength = 16

// Config holds the keyring and validation knobs for a Manager.
type Config struct {
	Secrets      map[Category][]byte
	Issuer       string
	Audience     string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	// Now overrides the clock used for iat/exp. Nil means time.Now.
	Now func() time.Time
}

// Manager signs and parses category-scoped HS256 tokens. It is safe for
// concurrent use.
type Manager struct {
	config Config
	now    func() time.Time
}

// Claims is implemented by every claim set in this package.
type Claims interface {
	jwt.Claims
	registered() *jwt.RegisteredClaims
}

// SessionClaims is the payload of persisted tokens (access, refresh,
// verification, reset, invitation).
type SessionClaims struct {
	AccountID  string `json:"accountId"`
	RoleID     string `json:"roleId,omitempty"`
	Type       string `json:"type"`
	Identifier string `json:"identifier,omitempty"`
	jwt.RegisteredClaims
}

func (c *SessionClaims) registered() *jwt.RegisteredClaims { return &c.RegisteredClaims }

// MFAClaims binds a passed first factor to the following OTP step.
type MFAClaims struct {
	AccountID string `json:"accountId"`
	jwt.RegisteredClaims
}

func (c *MFAClaims) registered() *jwt.RegisteredClaims { return &c.RegisteredClaims }

// LinkingClaims carries a pending Google identity awaiting confirmation.
type LinkingClaims struct {
	UserID             string `json:"userId"`
	GoogleID           string `json:"googleId"`
	Email              string `json:"email"`
	GoogleAccessToken  string `json:"googleAccessToken,omitempty"`
	GoogleRefreshToken string `json:"googleRefreshToken,omitempty"`
	GoogleAuthScope    string `json:"googleAuthScope,omitempty"`
	RoleID             string `json:"roleId,omitempty"`
	jwt.RegisteredClaims
}

func (c *LinkingClaims) registered() *jwt.RegisteredClaims { return &c.RegisteredClaims }

// NewManager validates cfg and returns a Manager. Secrets must be at least 16
// bytes and pairwise distinct, otherwise one leaked secret could forge
// another category.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secrets) == 0 {
		return nil, errors.New("at least one signing secret is required")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}

	secrets := make(map[Category][]byte, len(cfg.Secrets))
	for category, secret := range cfg.Secrets {
		if strings.TrimSpace(string(category)) == "" {
			return nil, errors.New("secret map contains empty category")
		}
		if len(secret) < minSecretLength {
			return nil, fmt.Errorf("secret for category %q is shorter than %d bytes", category, minSecretLength)
		}
		for other, existing := range secrets {
			if bytes.Equal(existing, secret) {
				return nil, fmt.Errorf("categories %q and %q share a secret", other, category)
			}
		}
		secrets[category] = append([]byte(nil), secret...)
	}
	cfg.Secrets = secrets

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{config: cfg, now: now}, nil
}

// Sign stamps iat, exp, iss, aud and a random jti onto claims and signs them
// with the category secret.
func (m *Manager) Sign(category Category, claims Claims, ttl time.Duration) (string, error) {
	key, ok := m.config.Secrets[category]
	if !ok {
		return "", ErrUnknownCategory
	}
	if ttl <= 0 {
		return "", errors.New("invalid ttl")
	}

	now := m.now()
	rc := claims.registered()
	rc.IssuedAt = jwt.NewNumericDate(now)
	rc.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if rc.ID == "" {
		rc.ID = uuid.NewString()
	}
	if m.config.Issuer != "" {
		rc.Issuer = m.config.Issuer
	}
	if m.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = string(category)

	return token.SignedString(key)
}

// Parse verifies tokenStr against the category secret and decodes it into
// claims. Expiry maps to ErrTokenExpired; anything else wraps ErrTokenInvalid.
func (m *Manager) Parse(category Category, tokenStr string, claims Claims) error {
	key, ok := m.config.Secrets[category]
	if !ok {
		return ErrUnknownCategory
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		if kid != string(category) {
			return nil, errors.New("unexpected kid")
		}
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return ErrTokenInvalid
	}

	if iat := claims.registered().IssuedAt; iat != nil {
		if iat.Time.After(m.now().Add(m.config.MaxFutureIAT)) {
			return fmt.Errorf("%w: iat too far in the future", ErrTokenInvalid)
		}
	}

	return nil
}
