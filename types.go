package venueauth

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/venueauth/jwt"
)

// TokenType is the persisted kind of a signed token.
type TokenType string

const (
	TokenAccess            TokenType = "ACCESS"
	TokenRefresh           TokenType = "REFRESH"
	TokenEmailVerification TokenType = "EMAIL_VERIFICATION"
	TokenPasswordReset     TokenType = "PASSWORD_RESET"
	TokenInvitation        TokenType = "INVITATION"
	TokenAccountLinking    TokenType = "ACCOUNT_LINKING"
)

// Category returns the signing category whose secret protects tokens of type t.
func (t TokenType) Category() (jwt.Category, bool) {
	switch t {
	case TokenAccess, TokenRefresh:
		return jwt.CategorySession, true
	case TokenEmailVerification:
		return jwt.CategoryVerification, true
	case TokenPasswordReset:
		return jwt.CategoryReset, true
	case TokenInvitation:
		return jwt.CategoryInvitation, true
	case TokenAccountLinking:
		return jwt.CategoryLinking, true
	default:
		return "", false
	}
}

// MFAMethod is the channel used for the second login factor.
type MFAMethod string

const (
	MFAMethodNone  MFAMethod = ""
	MFAMethodEmail MFAMethod = "EMAIL"
	MFAMethodPhone MFAMethod = "PHONE"
)

// Valid reports whether m names a deliverable channel.
func (m MFAMethod) Valid() bool {
	return m == MFAMethodEmail || m == MFAMethodPhone
}

// FailedIPEntry counts failed password attempts from one address.
type FailedIPEntry struct {
	Count       int       `json:"count"`
	LastAttempt time.Time `json:"lastAttempt"`
}

// Account is the identity record owned by an AccountStore.
//
// Once created an account always holds a password hash or a Google id.
type Account struct {
	ID                 string
	Email              *string
	Phone              *string
	PasswordHash       *string
	GoogleID           *string
	GoogleAccessToken  string
	GoogleRefreshToken string
	GoogleAuthScope    string
	Name               string
	IsEmailVerified    bool
	IsPhoneVerified    bool
	IsMFAEnabled       bool
	MFAMethod          MFAMethod
	LoginAttempts      int
	IsLocked           bool
	LockUntil          *time.Time
	FailedLoginIPs     map[string]FailedIPEntry
	LoginIPs           []string
	LastLoginAt        *time.Time
	LastIPAddress      string
	LastUserAgent      string
	RoleID             string
	// Version increases on every write and guards compare-and-swap updates.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EmailAddress returns the account email or "".
func (a *Account) EmailAddress() string {
	if a == nil || a.Email == nil {
		return ""
	}
	return *a.Email
}

// PhoneNumber returns the account phone or "".
func (a *Account) PhoneNumber() string {
	if a == nil || a.Phone == nil {
		return ""
	}
	return *a.Phone
}

// HasPassword reports whether a password factor is set.
func (a *Account) HasPassword() bool {
	return a != nil && a.PasswordHash != nil && *a.PasswordHash != ""
}

// HasGoogle reports whether a Google identity is attached.
func (a *Account) HasGoogle() bool {
	return a != nil && a.GoogleID != nil && *a.GoogleID != ""
}

// DisplayName returns Name, falling back to the email local part.
func (a *Account) DisplayName() string {
	if a == nil {
		return ""
	}
	if a.Name != "" {
		return a.Name
	}
	email := a.EmailAddress()
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return "there"
}

// Token is a persisted token record. The signed string is the key.
type Token struct {
	Token         string
	Type          TokenType
	AccountID     string
	RoleID        string
	Identifier    *string
	ExpiresAt     time.Time
	IsBlacklisted bool
	CreatedAt     time.Time
}

// TokenPayload is what a persisted token carries inside its signature.
type TokenPayload struct {
	AccountID  string
	RoleID     string
	Type       TokenType
	Identifier string
}

// TokenPair is an access token plus its refresh token.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenFilter selects active (non-blacklisted) token records. Empty fields
// are ignored.
type TokenFilter struct {
	Token     string
	Type      TokenType
	AccountID string
}

// AccountUpdate is a field-level partial update. Nil pointers and nil
// slices/maps leave the stored value untouched.
type AccountUpdate struct {
	Email              *string
	Phone              *string
	PasswordHash       *string
	GoogleID           *string
	GoogleAccessToken  *string
	GoogleRefreshToken *string
	GoogleAuthScope    *string
	// ClearGoogle removes the Google id and stored OAuth tokens.
	ClearGoogle     bool
	Name            *string
	IsEmailVerified *bool
	IsPhoneVerified *bool
	IsMFAEnabled    *bool
	MFAMethod       *MFAMethod
	LoginAttempts   *int
	IsLocked        *bool
	LockUntil       *time.Time
	ClearLockUntil  bool
	// FailedLoginIPs replaces the whole map; an empty non-nil map clears it.
	FailedLoginIPs map[string]FailedIPEntry
	LoginIPs       []string
	LastLoginAt    *time.Time
	LastIPAddress  *string
	LastUserAgent  *string
}

// AccountFields is the whitelist accepted by CredentialService.UpdateAccountFields.
// It deliberately has no role field.
type AccountFields struct {
	Name            *string
	Phone           *string
	IsPhoneVerified *bool
	IsMFAEnabled    *bool
	MFAMethod       *MFAMethod
	LastIPAddress   *string
	LastUserAgent   *string
}

func (f AccountFields) update() AccountUpdate {
	return AccountUpdate{
		Name:            f.Name,
		Phone:           f.Phone,
		IsPhoneVerified: f.IsPhoneVerified,
		IsMFAEnabled:    f.IsMFAEnabled,
		MFAMethod:       f.MFAMethod,
		LastIPAddress:   f.LastIPAddress,
		LastUserAgent:   f.LastUserAgent,
	}
}

// AccountStore persists accounts. Finders return (nil, nil) when no record
// matches; mutations on a missing id return ErrAccountNotFound.
type AccountStore interface {
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByPhone(ctx context.Context, phone string) (*Account, error)
	FindByGoogleID(ctx context.Context, googleID string) (*Account, error)
	Create(ctx context.Context, account *Account) error
	Update(ctx context.Context, id string, update AccountUpdate) (*Account, error)
	// IncrementLoginAttempts atomically adds one and returns the new count.
	IncrementLoginAttempts(ctx context.Context, id string) (int, error)
	// CompareAndSwapFailedIPs replaces the failed-IP map only when the stored
	// version still equals version. It reports whether the write happened.
	CompareAndSwapFailedIPs(ctx context.Context, id string, version int64, ips map[string]FailedIPEntry) (bool, error)
}

// TokenStore persists token records keyed by the signed token string.
type TokenStore interface {
	Create(ctx context.Context, token *Token) error
	// FindByToken returns (nil, nil) when the token is unknown.
	FindByToken(ctx context.Context, token string) (*Token, error)
	// BlacklistActive marks matching non-blacklisted records and returns how many changed.
	BlacklistActive(ctx context.Context, filter TokenFilter) (int64, error)
	// DeleteExpiredOrBlacklisted removes records expired before now or blacklisted.
	DeleteExpiredOrBlacklisted(ctx context.Context, now time.Time) (int64, error)
}

// EmailMessage is one outgoing e-mail.
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// NotificationSender delivers e-mail and SMS. Retries belong to the sender.
type NotificationSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
	SendSMS(ctx context.Context, to, body string) error
}

// AuthURLOptions tunes the consent URL built by an OAuthProvider.
type AuthURLOptions struct {
	Scopes      []string
	AccessType  string
	Prompt      string
	RedirectURI string
}

// OAuthTokens is the result of an authorization code exchange.
type OAuthTokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Scope        string
	Expiry       time.Time
}

// OAuthIdentity is the verified content of a provider ID token.
type OAuthIdentity struct {
	SubjectID     string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
}

// OAuthProvider is the Google sign-in collaborator.
type OAuthProvider interface {
	AuthURL(state string, opts AuthURLOptions) string
	ExchangeCode(ctx context.Context, code string) (*OAuthTokens, error)
	VerifyIDToken(ctx context.Context, idToken string) (*OAuthIdentity, error)
}

// LoginKind tags the variant held by a LoginResult.
type LoginKind uint8

const (
	// LoginDirect means Tokens holds a fresh session pair.
	LoginDirect LoginKind = iota + 1
	// LoginMFARequired means MFAToken must be completed with VerifyLoginOTP.
	LoginMFARequired
	// LoginLinkingRequired means the caller should confirm linking with LinkingToken.
	LoginLinkingRequired
)

func (k LoginKind) String() string {
	switch k {
	case LoginDirect:
		return "direct"
	case LoginMFARequired:
		return "mfa_required"
	case LoginLinkingRequired:
		return "linking_required"
	default:
		return "unknown"
	}
}

// LoginResult is the outcome of a login step.
type LoginResult struct {
	Kind    LoginKind
	Account *Account

	Tokens *TokenPair

	MFAToken  string
	MFAMethod MFAMethod

	LinkingToken string
	RedirectTo   string

	Message string
}

// RegisterInput is the self-service sign-up payload.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Phone    string
}

// RegisterResult is returned by Engine.Register.
type RegisterResult struct {
	Account *Account
	Tokens  TokenPair
}

// Clock abstracts time for expiry tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
