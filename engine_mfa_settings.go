package venueauth

import "context"

// EnableMFA turns on the OTP second factor. EMAIL needs a verified e-mail,
// PHONE a verified phone.
func (e *Engine) EnableMFA(ctx context.Context, accountID string, method MFAMethod) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !method.Valid() {
		return nil, newError(ErrInvalidInput, "MFA method must be EMAIL or PHONE.")
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	switch method {
	case MFAMethodEmail:
		if account.EmailAddress() == "" || !account.IsEmailVerified {
			return nil, newError(ErrPreconditionFailed, "Verify your email address before enabling email MFA.")
		}
	case MFAMethodPhone:
		if account.PhoneNumber() == "" || !account.IsPhoneVerified {
			return nil, newError(ErrPreconditionFailed, "Verify your phone number before enabling phone MFA.")
		}
	}

	updated, err := e.credentials.UpdateAccountFields(ctx, account.ID, AccountFields{
		IsMFAEnabled: boolPtr(true),
		MFAMethod:    &method,
	})
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventMFAEnabled, true, account.ID, nil, func() map[string]string {
		return map[string]string{"method": string(method)}
	})
	return updated, nil
}

// DisableMFA turns the second factor off.
func (e *Engine) DisableMFA(ctx context.Context, accountID string) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	none := MFAMethodNone
	updated, err := e.credentials.UpdateAccountFields(ctx, accountID, AccountFields{
		IsMFAEnabled: boolPtr(false),
		MFAMethod:    &none,
	})
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventMFADisabled, true, accountID, nil, nil)
	return updated, nil
}
