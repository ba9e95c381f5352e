package venueauth

import (
	"context"

	"go.uber.org/zap"
)

const (
	msgInvalidCredentials   = "Invalid credentials."
	msgUseGoogleSignIn      = "This email is linked to a Google account. Please sign in with Google."
	msgPasswordNotSetUp     = "Account not set up for password login. Please register or use another method."
	msgEmailUnverified      = "Please verify your email address. A new verification link has been sent."
	msgEmailUnverifiedNoNew = "Please verify your email address using the link already sent to you."
	msgPhoneUnverified      = "Phone number is not verified."
	msgInvalidIdentifier    = "Please provide a valid email address or phone number."
	msgMFARequiredEmail     = "MFA required. OTP sent to your email."
	msgMFARequiredPhone     = "MFA required. OTP sent to your phone."
	msgNoMFAChannel         = "No verified channel is available to deliver a one-time password."
	msgInvalidOTP           = "Invalid or expired OTP."
	msgUserNotFound         = "User not found."
	msgDefaultRoleMissing   = "Default user role is not configured."
	msgTooManyRequests      = "Too many requests. Please try again later."
	msgTokenLinkingInvalid  = "Invalid or expired linking token."
	msgVerificationMismatch = "Verification token does not match user account."
)

// LoginEmailPassword authenticates identifier (an email or a phone number)
// with a password.
//
// The checks run in a fixed order and the first failure wins: identifier
// shape, account lookup, Google-only or passwordless account (email only),
// unverified email, active lock, password. A wrong password is recorded
// against the account before ErrInvalidCredentials is returned.
//
// On success the result is either LoginDirect with a session pair or
// LoginMFARequired with an MFA token; no session tokens are issued while MFA
// is pending.
func (e *Engine) LoginEmailPassword(ctx context.Context, identifier, plain string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	log := e.flowLogger(ctx, "login", "email_password")

	normalized, isEmail, isPhone := classifyIdentifier(identifier)
	if !isEmail && !isPhone {
		return nil, newError(ErrInvalidIdentifier, msgInvalidIdentifier)
	}

	account, err := e.credentials.FindByIdentifier(ctx, normalized, isEmail, isPhone)
	if err != nil {
		log.Error("account lookup failed", zap.Error(err))
		return nil, err
	}
	if account == nil {
		return nil, e.loginFailed(ctx, "", newError(ErrInvalidCredentials, msgInvalidCredentials))
	}
	log = log.With(zap.String("account_id", account.ID))

	if isEmail && !account.HasPassword() {
		if account.HasGoogle() {
			return nil, e.loginFailed(ctx, account.ID, newError(ErrUseGoogleSignIn, msgUseGoogleSignIn))
		}
		return nil, e.loginFailed(ctx, account.ID, newError(ErrPasswordLoginNotSetUp, msgPasswordNotSetUp))
	}

	if account.HasPassword() && !account.IsEmailVerified && account.EmailAddress() != "" {
		msg := msgEmailUnverified
		if err := e.ResendEmailVerification(ctx, account.ID); err != nil {
			log.Warn("verification resend during login failed", zap.Error(err))
			msg = msgEmailUnverifiedNoNew
		}
		return nil, e.loginFailed(ctx, account.ID, newError(ErrEmailUnverified, msg))
	}

	if err := e.checkLock(ctx, account); err != nil {
		return nil, err
	}

	if !e.credentials.ComparePasswords(plain, account.PasswordHash) {
		e.credentials.HandleFailedLoginAttempt(ctx, account.ID, clientIPFromContext(ctx), userAgentFromContext(ctx))
		return nil, e.loginFailed(ctx, account.ID, newError(ErrInvalidCredentials, msgInvalidCredentials))
	}

	e.credentials.ResetLoginAttempts(ctx, account.ID, clientIPFromContext(ctx), userAgentFromContext(ctx))
	e.credentials.RehashIfNeeded(ctx, account, plain)

	if account.IsMFAEnabled {
		return e.startMFA(ctx, account, account.MFAMethod)
	}
	return e.completeLogin(ctx, account, "password")
}

// LoginPhone starts a phone login. Phone login has no password step: it
// always answers with an MFA challenge delivered by SMS and never issues
// session tokens directly.
func (e *Engine) LoginPhone(ctx context.Context, phone string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	normalized, ok := normalizePhone(phone)
	if !ok {
		return nil, newError(ErrInvalidIdentifier, "Please provide a valid phone number.")
	}

	account, err := e.credentials.FindByIdentifier(ctx, normalized, false, true)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, e.loginFailed(ctx, "", newError(ErrInvalidCredentials, msgInvalidCredentials))
	}
	if !account.IsPhoneVerified {
		return nil, e.loginFailed(ctx, account.ID, newError(ErrPhoneUnverified, msgPhoneUnverified))
	}
	if err := e.checkLock(ctx, account); err != nil {
		return nil, err
	}

	return e.startMFA(ctx, account, MFAMethodPhone)
}

// VerifyLoginOTP completes a login that returned LoginMFARequired. A wrong
// code returns ErrInvalidOTP and leaves mfaToken usable until it expires, so
// the user can retry without repeating the first factor.
func (e *Engine) VerifyLoginOTP(ctx context.Context, mfaToken, otp string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	log := e.flowLogger(ctx, "login", "verify_otp")

	accountID, err := e.otp.ParseMFAToken(mfaToken)
	if err != nil {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, "", err, nil)
		return nil, err
	}

	ok, err := e.otp.VerifyOTP(ctx, accountID, otp)
	if err != nil {
		log.Error("otp verification failed", zap.String("account_id", accountID), zap.Error(err))
		return nil, err
	}
	if !ok {
		e.metricInc(MetricMFAFailure)
		err := newError(ErrInvalidOTP, msgInvalidOTP)
		e.emitAudit(ctx, auditEventMFAFailure, false, accountID, err, nil)
		return nil, err
	}

	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, persistenceError(err)
	}
	if account == nil {
		return nil, newError(ErrInvalidCredentials, msgInvalidCredentials)
	}

	e.credentials.ResetLoginAttempts(ctx, account.ID, clientIPFromContext(ctx), userAgentFromContext(ctx))
	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, account.ID, nil, nil)

	return e.completeLogin(ctx, account, "mfa")
}

// checkLock rejects accounts whose lock has not expired yet.
func (e *Engine) checkLock(ctx context.Context, account *Account) error {
	locked, remaining := e.credentials.LockStatus(account, e.clock.Now())
	if !locked {
		return nil
	}
	err := &LockedError{Remaining: remaining}
	e.metricInc(MetricLoginLocked)
	e.emitAudit(ctx, auditEventLoginLocked, false, account.ID, err, nil)
	return err
}

// startMFA issues the MFA token and delivers a fresh OTP. PHONE goes by SMS
// only when the phone is verified; otherwise the code falls back to e-mail.
func (e *Engine) startMFA(ctx context.Context, account *Account, method MFAMethod) (*LoginResult, error) {
	log := e.flowLogger(ctx, "login", "start_mfa").With(zap.String("account_id", account.ID))

	channel := MFAMethodEmail
	if method == MFAMethodPhone && account.IsPhoneVerified && account.PhoneNumber() != "" {
		channel = MFAMethodPhone
	}
	if channel == MFAMethodEmail && account.EmailAddress() == "" {
		return nil, newError(ErrPreconditionFailed, msgNoMFAChannel)
	}

	mfaToken, err := e.otp.GenerateMFAToken(account.ID)
	if err != nil {
		log.Error("mfa token generation failed", zap.Error(err))
		return nil, err
	}
	code, err := e.otp.GenerateAndStoreOTP(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	message := msgMFARequiredEmail
	if channel == MFAMethodPhone {
		message = msgMFARequiredPhone
		err = e.otp.SendOTPSMS(ctx, account.PhoneNumber(), code)
	} else {
		err = e.otp.SendOTPEmail(ctx, account.EmailAddress(), account.DisplayName(), code)
	}
	if err != nil {
		e.emitAudit(ctx, auditEventNotificationDeliveryError, false, account.ID, err, func() map[string]string {
			return map[string]string{"channel": string(channel)}
		})
		return nil, err
	}

	e.metricInc(MetricMFARequired)
	e.emitAudit(ctx, auditEventMFARequired, true, account.ID, nil, func() map[string]string {
		return map[string]string{"channel": string(channel)}
	})
	log.Info("mfa challenge sent", zap.String("channel", string(channel)))

	return &LoginResult{
		Kind:      LoginMFARequired,
		Account:   account,
		MFAToken:  mfaToken,
		MFAMethod: channel,
		Message:   message,
	}, nil
}

// completeLogin issues the session pair for an authenticated account.
func (e *Engine) completeLogin(ctx context.Context, account *Account, method string) (*LoginResult, error) {
	pair, err := e.tokens.IssueSessionPair(ctx, account)
	if err != nil {
		e.flowLogger(ctx, "login", "issue_tokens").Error("session issuance failed",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.ID, nil, func() map[string]string {
		return map[string]string{"method": method}
	})

	return &LoginResult{
		Kind:    LoginDirect,
		Account: account,
		Tokens:  &pair,
		Message: "Login successful.",
	}, nil
}

func (e *Engine) loginFailed(ctx context.Context, accountID string, err error) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, accountID, err, nil)
	return err
}
