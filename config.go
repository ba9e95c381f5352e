package venueauth

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/venueauth/jwt"
	"github.com/MrEthical07/venueauth/password"
)

// Config is the full engine configuration. Start from DefaultConfig and
// fill in the secrets.
type Config struct {
	Token             TokenConfig
	Password          PasswordConfig
	Lockout           LockoutConfig
	OTP               OTPConfig
	Linking           LinkingConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	PhoneVerification PhoneVerificationConfig
	Account           AccountConfig
	App               AppConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig holds one HMAC secret per signing category and the TTL of
// every token type.
type TokenConfig struct {
	SessionSecret      []byte
	VerificationSecret []byte
	ResetSecret        []byte
	InvitationSecret   []byte
	LinkingSecret      []byte
	MFASecret          []byte

	Issuer   string
	Audience string
	Leeway   time.Duration

	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
	InvitationTTL        time.Duration
	MFATTL               time.Duration
	LinkingTTL           time.Duration

	// IdempotentRevoke makes revoking an already blacklisted token a no-op
	// instead of ErrTokenNotFound.
	IdempotentRevoke bool
	// CleanupInterval is the Sweeper period.
	CleanupInterval time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig configures bcrypt and the registration password policy.
type PasswordConfig struct {
	Cost           int
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

func (c PasswordConfig) policy() password.Policy {
	return password.Policy{
		MinLength:      c.MinLength,
		RequireUpper:   c.RequireUpper,
		RequireLower:   c.RequireLower,
		RequireDigit:   c.RequireDigit,
		RequireSpecial: c.RequireSpecial,
	}
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls failed-attempt counting.
type LockoutConfig struct {
	Threshold     int
	Duration      time.Duration
	MaxTrackedIPs int
	// LoginIPHistory bounds the recent successful login IP list.
	LoginIPHistory int
	// MaxCASRetries bounds optimistic retries on the failed-IP map.
	MaxCASRetries int
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig controls one-time passcodes.
type OTPConfig struct {
	Digits      int
	TTL         time.Duration
	RedisPrefix string
}

/*
====================================
LINKING CONFIG
====================================
*/

// LinkingConfig controls the Google-to-password linking step.
type LinkingConfig struct {
	RedisPrefix string
	// RedirectPath is appended to App.UserWebURL in linking results.
	RedirectPath string
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig controls reset links.
type PasswordResetConfig struct {
	RedisPrefix string
	MaxRequests int
	Window      time.Duration
}

/*
====================================
EMAIL VERIFICATION CONFIG
====================================
*/

// EmailVerificationConfig throttles verification e-mails.
type EmailVerificationConfig struct {
	MaxResends   int
	ResendWindow time.Duration
}

// PhoneVerificationConfig throttles phone verification SMS.
type PhoneVerificationConfig struct {
	MaxSends int
	Window   time.Duration
}

/*
====================================
ACCOUNT / APP CONFIG
====================================
*/

// AccountConfig holds account creation defaults.
type AccountConfig struct {
	DefaultRoleID string
}

// AppConfig feeds links and branding in outgoing messages.
type AppConfig struct {
	Name       string
	UserWebURL string
	APIBaseURL string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. Secrets are left empty.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Issuer:               "venueauth",
			AccessTTL:            15 * time.Minute,
			RefreshTTL:           7 * 24 * time.Hour,
			EmailVerificationTTL: 24 * time.Hour,
			PasswordResetTTL:     time.Hour,
			InvitationTTL:        7 * 24 * time.Hour,
			MFATTL:               60 * time.Second,
			LinkingTTL:           time.Hour,
			CleanupInterval:      time.Hour,
		},
		Password: PasswordConfig{
			Cost:           password.DefaultCost,
			MinLength:      8,
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
			RequireSpecial: true,
		},
		Lockout: LockoutConfig{
			Threshold:      5,
			Duration:       30 * time.Minute,
			MaxTrackedIPs:  20,
			LoginIPHistory: 10,
			MaxCASRetries:  4,
		},
		OTP: OTPConfig{
			Digits:      6,
			TTL:         300 * time.Second,
			RedisPrefix: "otp",
		},
		Linking: LinkingConfig{
			RedisPrefix:  "linking",
			RedirectPath: "/auth/link-account",
		},
		PasswordReset: PasswordResetConfig{
			RedisPrefix: "password_reset",
			MaxRequests: 5,
			Window:      time.Hour,
		},
		EmailVerification: EmailVerificationConfig{
			MaxResends:   5,
			ResendWindow: time.Hour,
		},
		PhoneVerification: PhoneVerificationConfig{
			MaxSends: 5,
			Window:   time.Hour,
		},
		App: AppConfig{
			Name:       "Venue Booking",
			UserWebURL: "http://localhost:3000",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.SessionSecret = cloneBytes(cfg.Token.SessionSecret)
	out.Token.VerificationSecret = cloneBytes(cfg.Token.VerificationSecret)
	out.Token.ResetSecret = cloneBytes(cfg.Token.ResetSecret)
	out.Token.InvitationSecret = cloneBytes(cfg.Token.InvitationSecret)
	out.Token.LinkingSecret = cloneBytes(cfg.Token.LinkingSecret)
	out.Token.MFASecret = cloneBytes(cfg.Token.MFASecret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c TokenConfig) secrets() map[jwt.Category][]byte {
	return map[jwt.Category][]byte{
		jwt.CategorySession:      c.SessionSecret,
		jwt.CategoryVerification: c.VerificationSecret,
		jwt.CategoryReset:        c.ResetSecret,
		jwt.CategoryInvitation:   c.InvitationSecret,
		jwt.CategoryLinking:      c.LinkingSecret,
		jwt.CategoryMFA:          c.MFASecret,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// Token
	secrets := c.Token.secrets()
	seen := make(map[jwt.Category][]byte, len(secrets))
	for category, secret := range secrets {
		if len(secret) < 16 {
			return fmt.Errorf("Token %s secret must be at least 16 bytes", category)
		}
		for other, s := range seen {
			if bytes.Equal(s, secret) {
				return fmt.Errorf("Token %s and %s secrets must differ", other, category)
			}
		}
		seen[category] = secret
	}
	ttls := map[string]time.Duration{
		"AccessTTL":            c.Token.AccessTTL,
		"RefreshTTL":           c.Token.RefreshTTL,
		"EmailVerificationTTL": c.Token.EmailVerificationTTL,
		"PasswordResetTTL":     c.Token.PasswordResetTTL,
		"InvitationTTL":        c.Token.InvitationTTL,
		"MFATTL":               c.Token.MFATTL,
		"LinkingTTL":           c.Token.LinkingTTL,
	}
	for name, ttl := range ttls {
		if ttl <= 0 {
			return fmt.Errorf("Token %s must be > 0", name)
		}
	}
	if c.Token.AccessTTL >= c.Token.RefreshTTL {
		return errors.New("Token AccessTTL must be shorter than RefreshTTL")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}
	if c.Token.CleanupInterval <= 0 {
		return errors.New("Token CleanupInterval must be > 0")
	}

	// Password
	if c.Password.Cost < 4 || c.Password.Cost > 31 {
		return errors.New("Password Cost must be between 4 and 31")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}
	if c.Lockout.MaxTrackedIPs <= 0 {
		return errors.New("Lockout MaxTrackedIPs must be > 0")
	}
	if c.Lockout.LoginIPHistory <= 0 {
		return errors.New("Lockout LoginIPHistory must be > 0")
	}
	if c.Lockout.MaxCASRetries <= 0 {
		return errors.New("Lockout MaxCASRetries must be > 0")
	}

	// OTP
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 4 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}

	// Throttles
	if c.PasswordReset.MaxRequests < 0 || c.EmailVerification.MaxResends < 0 || c.PhoneVerification.MaxSends < 0 {
		return errors.New("throttle limits must be >= 0")
	}
	if c.PasswordReset.MaxRequests > 0 && c.PasswordReset.Window <= 0 {
		return errors.New("PasswordReset Window must be > 0")
	}
	if c.EmailVerification.MaxResends > 0 && c.EmailVerification.ResendWindow <= 0 {
		return errors.New("EmailVerification ResendWindow must be > 0")
	}
	if c.PhoneVerification.MaxSends > 0 && c.PhoneVerification.Window <= 0 {
		return errors.New("PhoneVerification Window must be > 0")
	}

	// App
	if strings.TrimSpace(c.App.UserWebURL) == "" {
		return errors.New("App UserWebURL must be set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
