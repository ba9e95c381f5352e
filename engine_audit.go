package venueauth

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess              = "login_success"
	auditEventLoginFailure              = "login_failure"
	auditEventLoginLocked               = "login_locked"
	auditEventAccountLocked             = "account_locked"
	auditEventLockoutBookkeepingFailed  = "lockout_bookkeeping_failed"
	auditEventMFARequired               = "mfa_required"
	auditEventMFASuccess                = "mfa_success"
	auditEventMFAFailure                = "mfa_failure"
	auditEventMFAEnabled                = "mfa_enabled"
	auditEventMFADisabled               = "mfa_disabled"
	auditEventOTPSent                   = "otp_sent"
	auditEventGoogleLogin               = "google_login"
	auditEventGoogleAccountCreated      = "google_account_created"
	auditEventLinkingRequired           = "linking_required"
	auditEventAccountLinked             = "account_linked"
	auditEventAccountUnlinked           = "account_unlinked"
	auditEventRegistration              = "registration"
	auditEventEmailVerificationSent     = "email_verification_sent"
	auditEventEmailVerified             = "email_verified"
	auditEventPasswordResetRequest      = "password_reset_request"
	auditEventPasswordResetConfirm      = "password_reset_confirm"
	auditEventPhoneVerificationSent     = "phone_verification_sent"
	auditEventPhoneVerified             = "phone_verified"
	auditEventTokenRefresh              = "token_refresh"
	auditEventLogout                    = "logout"
	auditEventLogoutAll                 = "logout_all"
	auditEventTokenCleanup              = "token_cleanup"
	auditEventRateLimitTriggered        = "rate_limit_triggered"
	auditEventNotificationDeliveryError = "notification_delivery_failed"
)

// AuditErrorCode is the stable error label written to audit events.
type AuditErrorCode string

const (
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrUseGoogle          AuditErrorCode = "use_google_sign_in"
	auditErrNoPassword         AuditErrorCode = "password_login_not_set_up"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrEmailUnverified    AuditErrorCode = "email_unverified"
	auditErrPhoneUnverified    AuditErrorCode = "phone_unverified"
	auditErrInvalidOTP         AuditErrorCode = "invalid_otp"
	auditErrNotFound           AuditErrorCode = "account_not_found"
	auditErrConflict           AuditErrorCode = "conflict"
	auditErrPrecondition       AuditErrorCode = "precondition_failed"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTokenBlacklisted   AuditErrorCode = "token_blacklisted"
	auditErrDelivery           AuditErrorCode = "delivery_failed"
	auditErrOAuth              AuditErrorCode = "oauth_failed"
	auditErrPersistence        AuditErrorCode = "persistence_failed"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:     e.clock.Now().UTC(),
		EventType:     eventType,
		AccountID:     accountID,
		IP:            clientIPFromContext(ctx),
		UserAgent:     userAgentFromContext(ctx),
		CorrelationID: CorrelationIDFromContext(ctx),
		Success:       success,
		Metadata:      metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, accountID string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, accountID, ErrRateLimited, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrUseGoogleSignIn):
		return auditErrUseGoogle
	case errors.Is(err, ErrPasswordLoginNotSetUp):
		return auditErrNoPassword
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrEmailUnverified):
		return auditErrEmailUnverified
	case errors.Is(err, ErrPhoneUnverified):
		return auditErrPhoneUnverified
	case errors.Is(err, ErrInvalidOTP):
		return auditErrInvalidOTP
	case errors.Is(err, ErrAccountNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrAccountConflict):
		return auditErrConflict
	case errors.Is(err, ErrPreconditionFailed):
		return auditErrPrecondition
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenBlacklisted):
		return auditErrTokenBlacklisted
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenNotFound),
		errors.Is(err, ErrTokenTypeMismatch),
		errors.Is(err, ErrTokenOwnerMismatch),
		errors.Is(err, ErrPasswordResetInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrNotificationDelivery):
		return auditErrDelivery
	case errors.Is(err, ErrOAuthExchange),
		errors.Is(err, ErrOAuthIdentityInvalid):
		return auditErrOAuth
	case errors.Is(err, ErrPersistence),
		errors.Is(err, ErrTokenGeneration):
		return auditErrPersistence
	default:
		return auditErrInternal
	}
}
