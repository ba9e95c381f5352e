package venueauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// VerifyEmail marks the account bound to token as verified.
//
// The token is consumed first, so every token works exactly once even when
// the account is already verified. Its recorded e-mail must still equal the
// account's current address.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	log := e.flowLogger(ctx, "verification", "verify_email")

	record, err := e.tokens.VerifyEmailVerificationToken(ctx, token)
	if err != nil {
		return nil, e.verifyEmailFailed(ctx, "", err)
	}
	account, err := e.loadAccount(ctx, record.AccountID)
	if err != nil {
		return nil, e.verifyEmailFailed(ctx, record.AccountID, err)
	}
	if record.Identifier == nil || !strings.EqualFold(*record.Identifier, account.EmailAddress()) {
		return nil, e.verifyEmailFailed(ctx, account.ID, newError(ErrInvalidInput, msgVerificationMismatch))
	}
	if account.IsEmailVerified {
		return account, nil
	}

	updated, err := e.accounts.Update(ctx, account.ID, AccountUpdate{IsEmailVerified: boolPtr(true)})
	if err != nil {
		log.Error("mark email verified failed", zap.String("account_id", account.ID), zap.Error(err))
		return nil, storeError(err)
	}
	if err := e.verificationLimiter.Reset(ctx, account.ID); err != nil {
		log.Warn("resend throttle reset failed", zap.String("account_id", account.ID), zap.Error(err))
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerified, true, account.ID, nil, nil)
	return updated, nil
}

// ResendEmailVerification sends a fresh verification link. It is a no-op
// for verified accounts and is throttled per account.
func (e *Engine) ResendEmailVerification(ctx context.Context, accountID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account.IsEmailVerified {
		return nil
	}
	if account.EmailAddress() == "" {
		return newError(ErrPreconditionFailed, "No email address on this account.")
	}
	if err := e.throttle(ctx, e.verificationLimiter, "email_verification", account.ID, account.ID); err != nil {
		return err
	}

	return e.sendVerificationEmail(ctx, account)
}

func (e *Engine) sendVerificationEmail(ctx context.Context, account *Account) error {
	token, err := e.tokens.IssueEmailVerificationToken(ctx, account.ID, account.RoleID, account.EmailAddress())
	if err != nil {
		return err
	}

	msg, err := verificationEmail.render(account.EmailAddress(), linkEmailData{
		AppName:        e.config.App.Name,
		Name:           account.DisplayName(),
		Link:           linkWithToken(e.config.App.UserWebURL, "/verify-email", token),
		ExpiresInHours: ttlHours(e.config.Token.EmailVerificationTTL),
	})
	if err == nil {
		err = e.sender.SendEmail(ctx, msg)
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrNotificationDelivery, err)
		e.emitAudit(ctx, auditEventNotificationDeliveryError, false, account.ID, err, func() map[string]string {
			return map[string]string{"template": "verify_email"}
		})
		return err
	}

	e.metricInc(MetricEmailVerificationSent)
	e.emitAudit(ctx, auditEventEmailVerificationSent, true, account.ID, nil, nil)
	return nil
}

func (e *Engine) verifyEmailFailed(ctx context.Context, accountID string, err error) error {
	e.metricInc(MetricEmailVerificationFailure)
	e.emitAudit(ctx, auditEventEmailVerified, false, accountID, err, nil)
	return err
}

func ttlHours(ttl time.Duration) int {
	h := int(ttl / time.Hour)
	if h < 1 {
		return 1
	}
	return h
}
