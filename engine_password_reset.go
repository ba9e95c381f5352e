package venueauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/venueauth/internal/stores"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestPasswordReset e-mails a reset link when email belongs to an account.
// Unknown addresses return nil so the response does not reveal which e-mails
// are registered.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	log := e.flowLogger(ctx, "password_reset", "request")

	normalized, ok := normalizeEmail(email)
	if !ok {
		return newError(ErrInvalidInput, "Please provide a valid email address.")
	}

	account, err := e.accounts.FindByEmail(ctx, normalized)
	if err != nil {
		return persistenceError(err)
	}
	if account == nil {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", nil, func() map[string]string {
			return map[string]string{"reason": "unknown_email"}
		})
		return nil
	}
	if err := e.throttle(ctx, e.resetLimiter, "password_reset", account.ID, account.ID); err != nil {
		return err
	}

	token := uuid.NewString()
	if err := e.resets.Save(ctx, token, account.ID, e.config.Token.PasswordResetTTL); err != nil {
		log.Error("store reset token failed", zap.String("account_id", account.ID), zap.Error(err))
		return persistenceError(err)
	}

	msg, err := passwordResetEmail.render(account.EmailAddress(), linkEmailData{
		AppName:        e.config.App.Name,
		Name:           account.DisplayName(),
		Link:           linkWithToken(e.config.App.UserWebURL, "/reset-password", token),
		ExpiresInHours: ttlHours(e.config.Token.PasswordResetTTL),
	})
	if err == nil {
		err = e.sender.SendEmail(ctx, msg)
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrNotificationDelivery, err)
		e.emitAudit(ctx, auditEventNotificationDeliveryError, false, account.ID, err, func() map[string]string {
			return map[string]string{"template": "password_reset"}
		})
		return err
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, account.ID, nil, nil)
	return nil
}

// ResetPassword consumes a reset token and sets newPassword. The lockout is
// cleared and every refresh token of the account is revoked.
//
// The password is checked against the policy before the token is consumed,
// so a rejected password does not burn the link.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	log := e.flowLogger(ctx, "password_reset", "confirm")

	if err := e.policy.Check(newPassword); err != nil {
		return newError(ErrInvalidInput, passwordPolicyMessage(err))
	}
	if token == "" {
		return e.resetFailed(ctx, "", newError(ErrPasswordResetInvalid, "Invalid or expired password reset token."))
	}

	accountID, err := e.resets.Consume(ctx, token)
	if err != nil {
		if errors.Is(err, stores.ErrResetNotFound) {
			return e.resetFailed(ctx, "", newError(ErrPasswordResetInvalid, "Invalid or expired password reset token."))
		}
		return persistenceError(err)
	}
	log = log.With(zap.String("account_id", accountID))

	hash, err := e.credentials.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := e.credentials.UpdatePassword(ctx, accountID, hash); err != nil {
		return e.resetFailed(ctx, accountID, err)
	}

	if _, err := e.accounts.Update(ctx, accountID, AccountUpdate{
		LoginAttempts:  intPtr(0),
		IsLocked:       boolPtr(false),
		ClearLockUntil: true,
		FailedLoginIPs: map[string]FailedIPEntry{},
	}); err != nil {
		log.Error("clear lockout after reset failed", zap.Error(err))
	}

	revoked, err := e.tokens.RevokeAllRefreshTokens(ctx, accountID)
	if err != nil {
		log.Error("revoke refresh tokens after reset failed", zap.Error(err))
		return err
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, accountID, nil, func() map[string]string {
		return map[string]string{"revoked_refresh_tokens": fmt.Sprint(revoked)}
	})
	return nil
}

func (e *Engine) resetFailed(ctx context.Context, accountID string, err error) error {
	e.metricInc(MetricPasswordResetFailure)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, false, accountID, err, nil)
	return err
}
