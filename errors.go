package venueauth

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

var (
	// ErrInvalidInput is returned for malformed identifiers, emails, phone numbers or passwords.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidCredentials is the generic identifier/password rejection. It never reveals which part was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUseGoogleSignIn is returned when a password login targets a Google-only account.
	ErrUseGoogleSignIn = errors.New("account is linked to google sign-in")
	// ErrPasswordLoginNotSetUp is returned when an account has neither a password nor a Google identity.
	ErrPasswordLoginNotSetUp = errors.New("account not set up for password login")
	// ErrAccountLocked is returned while a lockout is active. The concrete error is a *LockedError.
	ErrAccountLocked = errors.New("account locked")
	// ErrEmailUnverified is returned by password login for unverified accounts, after a new link is sent.
	ErrEmailUnverified = errors.New("email not verified")
	// ErrPhoneUnverified is returned by phone login for accounts whose phone is not verified.
	ErrPhoneUnverified = errors.New("phone not verified")
	// ErrInvalidOTP is returned when a submitted one-time passcode does not match.
	ErrInvalidOTP = errors.New("invalid or expired otp")
	// ErrAccountNotFound is returned by operations that target a specific account id.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountConflict covers duplicate emails, phones and google identities.
	ErrAccountConflict = errors.New("account conflict")
	// ErrPreconditionFailed is returned when an operation would break an account invariant.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrRateLimited is returned when a resend or request budget is exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrTokenExpired means the token signature is valid but its lifetime has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid means the token failed signature or structural checks.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenNotFound means no active record exists for the token.
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenBlacklisted means the token was revoked or already consumed.
	ErrTokenBlacklisted = errors.New("token blacklisted")
	// ErrTokenTypeMismatch means the token was presented where another type was expected.
	ErrTokenTypeMismatch = errors.New("token type mismatch")
	// ErrTokenOwnerMismatch means the signed account id differs from the stored record.
	ErrTokenOwnerMismatch = errors.New("token owner mismatch")
	// ErrTokenGeneration wraps signing or persistence failures during issuance.
	ErrTokenGeneration = errors.New("token generation failed")

	// ErrPasswordResetInvalid is returned for unknown, expired or used reset tokens.
	ErrPasswordResetInvalid = errors.New("invalid or expired password reset token")
	// ErrNotificationDelivery wraps e-mail and SMS dispatch failures.
	ErrNotificationDelivery = errors.New("notification delivery failed")
	// ErrOAuthExchange wraps failures talking to the OAuth provider.
	ErrOAuthExchange = errors.New("oauth provider exchange failed")
	// ErrOAuthIdentityInvalid is returned when the provider's id token cannot be trusted.
	ErrOAuthIdentityInvalid = errors.New("oauth identity invalid")
	// ErrPersistence wraps store failures on load-bearing paths.
	ErrPersistence = errors.New("persistence failure")
	// ErrEngineNotReady is returned when an Engine method runs on a zero or nil Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Error attaches a user-facing message to one of the sentinel kinds above.
// errors.Is(err, kind) keeps working through it.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// LockedError reports how long an active lockout has left.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("Account locked due to too many failed attempts. Try again in %d minutes.", e.RemainingMinutes())
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// RemainingMinutes rounds the remaining lock time up to whole minutes.
func (e *LockedError) RemainingMinutes() int {
	if e.Remaining <= 0 {
		return 0
	}
	return int(math.Ceil(e.Remaining.Minutes()))
}

func persistenceError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

// HTTPStatus maps an error returned by this package to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrPreconditionFailed),
		errors.Is(err, ErrPasswordResetInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrUseGoogleSignIn),
		errors.Is(err, ErrPasswordLoginNotSetUp),
		errors.Is(err, ErrPhoneUnverified),
		errors.Is(err, ErrInvalidOTP),
		errors.Is(err, ErrOAuthIdentityInvalid),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenNotFound),
		errors.Is(err, ErrTokenBlacklisted),
		errors.Is(err, ErrTokenTypeMismatch),
		errors.Is(err, ErrTokenOwnerMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAccountLocked),
		errors.Is(err, ErrEmailUnverified):
		return http.StatusForbidden
	case errors.Is(err, ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAccountConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text safe to show an end user for err.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var detailed *Error
	if errors.As(err, &detailed) && detailed.Message != "" {
		return detailed.Message
	}
	var locked *LockedError
	if errors.As(err, &locked) {
		return locked.Error()
	}
	if HTTPStatus(err) >= http.StatusInternalServerError {
		return "An unexpected error occurred. Please try again later."
	}
	return err.Error()
}
