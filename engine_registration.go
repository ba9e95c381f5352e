package venueauth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Register creates a password account and signs it in straight away. The
// e-mail starts unverified; a verification link is sent, and a delivery
// failure is logged without undoing the registration.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	log := e.flowLogger(ctx, "registration", "register")

	email, ok := normalizeEmail(in.Email)
	if !ok {
		return nil, newError(ErrInvalidInput, "Please provide a valid email address.")
	}
	if err := e.policy.Check(in.Password); err != nil {
		return nil, newError(ErrInvalidInput, passwordPolicyMessage(err))
	}
	var phone string
	if strings.TrimSpace(in.Phone) != "" {
		if phone, ok = normalizePhone(in.Phone); !ok {
			return nil, newError(ErrInvalidInput, "Please provide a valid phone number.")
		}
	}
	if e.config.Account.DefaultRoleID == "" {
		return nil, newError(fmt.Errorf("%w: default role id not configured", ErrPersistence), msgDefaultRoleMissing)
	}

	existing, err := e.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, persistenceError(err)
	}
	if existing != nil {
		e.metricInc(MetricRegistrationConflict)
		if existing.HasGoogle() {
			return nil, newError(ErrAccountConflict, "An account with this email exists and is linked to Google. Please sign in with Google or link this account.")
		}
		return nil, newError(ErrAccountConflict, "An account with this email already exists.")
	}
	if phone != "" {
		byPhone, err := e.accounts.FindByPhone(ctx, phone)
		if err != nil {
			return nil, persistenceError(err)
		}
		if byPhone != nil {
			e.metricInc(MetricRegistrationConflict)
			return nil, newError(ErrAccountConflict, "An account with this phone number already exists.")
		}
	}

	hash, err := e.credentials.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	account := &Account{
		ID:            uuid.NewString(),
		Email:         strPtr(email),
		PasswordHash:  strPtr(hash),
		Name:          strings.TrimSpace(in.Name),
		RoleID:        e.config.Account.DefaultRoleID,
		LastIPAddress: clientIPFromContext(ctx),
		LastUserAgent: userAgentFromContext(ctx),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if phone != "" {
		account.Phone = strPtr(phone)
	}
	if err := e.accounts.Create(ctx, account); err != nil {
		log.Error("create account failed", zap.Error(err))
		return nil, storeError(err)
	}
	log = log.With(zap.String("account_id", account.ID))

	if err := e.sendVerificationEmail(ctx, account); err != nil {
		log.Warn("verification email not sent", zap.Error(err))
	}

	pair, err := e.tokens.IssueSessionPair(ctx, account)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRegistrationSuccess)
	e.emitAudit(ctx, auditEventRegistration, true, account.ID, nil, nil)
	log.Info("account registered")

	return &RegisterResult{Account: account, Tokens: pair}, nil
}

func passwordPolicyMessage(err error) string {
	msg := err.Error()
	if msg == "" {
		return "Password does not meet the requirements."
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}
