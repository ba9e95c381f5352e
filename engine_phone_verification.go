package venueauth

import (
	"context"

	"go.uber.org/zap"
)

// SendPhoneVerificationOTP texts a code to phone. When phone differs from the
// number on file it replaces it and the account drops back to unverified.
func (e *Engine) SendPhoneVerificationOTP(ctx context.Context, accountID, phone string) error {
	if err := e.ready(); err != nil {
		return err
	}
	log := e.flowLogger(ctx, "phone_verification", "send").With(zap.String("account_id", accountID))

	normalized, ok := normalizePhone(phone)
	if !ok {
		return newError(ErrInvalidInput, "Please provide a valid phone number.")
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	owner, err := e.accounts.FindByPhone(ctx, normalized)
	if err != nil {
		return persistenceError(err)
	}
	if owner != nil && owner.ID != account.ID {
		return newError(ErrAccountConflict, "This phone number is already in use.")
	}

	if err := e.throttle(ctx, e.phoneLimiter, "phone_verification", account.ID, account.ID); err != nil {
		return err
	}

	if account.PhoneNumber() != normalized {
		if _, err := e.credentials.UpdateAccountFields(ctx, account.ID, AccountFields{
			Phone:           strPtr(normalized),
			IsPhoneVerified: boolPtr(false),
		}); err != nil {
			return err
		}
	}

	code, err := e.otp.GenerateAndStoreOTP(ctx, account.ID)
	if err != nil {
		return err
	}
	if err := e.otp.SendOTPSMS(ctx, normalized, code); err != nil {
		log.Warn("verification sms failed", zap.Error(err))
		e.emitAudit(ctx, auditEventNotificationDeliveryError, false, account.ID, err, func() map[string]string {
			return map[string]string{"channel": "sms"}
		})
		return err
	}

	e.emitAudit(ctx, auditEventPhoneVerificationSent, true, account.ID, nil, nil)
	return nil
}

// VerifyPhoneVerificationOTP consumes otp and marks the phone verified.
func (e *Engine) VerifyPhoneVerificationOTP(ctx context.Context, accountID, otp string) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	ok, err := e.otp.VerifyOTP(ctx, accountID, otp)
	if err != nil {
		return nil, err
	}
	if !ok {
		err := newError(ErrInvalidOTP, msgInvalidOTP)
		e.emitAudit(ctx, auditEventPhoneVerified, false, accountID, err, nil)
		return nil, err
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.PhoneNumber() == "" {
		return nil, newError(ErrAccountNotFound, "Phone number not found.")
	}

	updated, err := e.credentials.UpdateAccountFields(ctx, account.ID, AccountFields{IsPhoneVerified: boolPtr(true)})
	if err != nil {
		return nil, err
	}
	if err := e.phoneLimiter.Reset(ctx, account.ID); err != nil {
		e.logger.Warn("phone throttle reset failed", zap.String("account_id", account.ID), zap.Error(err))
	}

	e.metricInc(MetricPhoneVerificationSuccess)
	e.emitAudit(ctx, auditEventPhoneVerified, true, account.ID, nil, nil)
	return updated, nil
}
