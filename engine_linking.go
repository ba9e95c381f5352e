package venueauth

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/venueauth/internal/stores"
	"github.com/MrEthical07/venueauth/jwt"
	"go.uber.org/zap"
)

// LinkAccount confirms a pending Google link created by LoginWithGoogle on
// behalf of the signed-in accountID, which must own the linking token.
//
// The Redis mirror is consumed before the account is touched, so a replayed
// or racing request with the same token fails even while its signature is
// still valid. The account is then re-validated against the token: no other
// Google id attached, e-mail unchanged, Google id not claimed elsewhere.
func (e *Engine) LinkAccount(ctx context.Context, accountID, linkingToken string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	log := e.flowLogger(ctx, "linking", "link_account")

	var claims jwt.LinkingClaims
	if err := e.signer.Parse(jwt.CategoryLinking, linkingToken, &claims); err != nil {
		return nil, e.linkFailed(ctx, "", &Error{Kind: mapSignerError(err), Message: msgTokenLinkingInvalid})
	}
	if claims.UserID == "" || claims.GoogleID == "" {
		return nil, e.linkFailed(ctx, "", newError(ErrTokenInvalid, msgTokenLinkingInvalid))
	}
	log = log.With(zap.String("account_id", claims.UserID))
	if accountID == "" || accountID != claims.UserID {
		log.Warn("linking token presented by another account", zap.String("caller_id", accountID))
		return nil, e.linkFailed(ctx, accountID, newError(ErrTokenOwnerMismatch, msgTokenLinkingInvalid))
	}

	if err := e.linking.Consume(ctx, claims.UserID, linkingToken); err != nil {
		if errors.Is(err, stores.ErrLinkingNotFound) || errors.Is(err, stores.ErrLinkingMismatch) {
			return nil, e.linkFailed(ctx, claims.UserID, newError(ErrTokenInvalid, msgTokenLinkingInvalid))
		}
		log.Error("linking mirror consume failed", zap.Error(err))
		return nil, persistenceError(err)
	}

	account, err := e.loadAccount(ctx, claims.UserID)
	if err != nil {
		return nil, e.linkFailed(ctx, claims.UserID, err)
	}
	if account.HasGoogle() && *account.GoogleID != claims.GoogleID {
		return nil, e.linkFailed(ctx, account.ID, newError(ErrAccountConflict, "This account is already linked to a different Google account."))
	}
	if account.EmailAddress() != strings.ToLower(claims.Email) {
		return nil, e.linkFailed(ctx, account.ID, newError(ErrInvalidInput, "Google account email does not match this account."))
	}

	other, err := e.accounts.FindByGoogleID(ctx, claims.GoogleID)
	if err != nil {
		return nil, persistenceError(err)
	}
	if other != nil && other.ID != account.ID {
		return nil, e.linkFailed(ctx, account.ID, newError(ErrAccountConflict, "This Google account is already linked to another user."))
	}

	now := e.clock.Now()
	update := AccountUpdate{
		GoogleID:          strPtr(claims.GoogleID),
		GoogleAccessToken: strPtr(claims.GoogleAccessToken),
		GoogleAuthScope:   strPtr(claims.GoogleAuthScope),
		IsEmailVerified:   boolPtr(true),
		LastLoginAt:       &now,
	}
	if claims.GoogleRefreshToken != "" {
		update.GoogleRefreshToken = strPtr(claims.GoogleRefreshToken)
	}
	if ip := clientIPFromContext(ctx); ip != "" {
		update.LastIPAddress = strPtr(ip)
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		update.LastUserAgent = strPtr(ua)
	}

	linked, err := e.accounts.Update(ctx, account.ID, update)
	if err != nil {
		log.Error("persist google link failed", zap.Error(err))
		return nil, storeError(err)
	}

	e.metricInc(MetricAccountLinked)
	e.emitAudit(ctx, auditEventAccountLinked, true, linked.ID, nil, nil)
	log.Info("google account linked")

	result, err := e.completeLogin(ctx, linked, "linking")
	if err != nil {
		return nil, err
	}
	result.Message = "Google account linked successfully."
	return result, nil
}

// UnlinkGoogleAccount detaches the Google identity from accountID. It is
// refused when the account has no password, since that would leave it with
// no way to sign in.
func (e *Engine) UnlinkGoogleAccount(ctx context.Context, accountID string) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.HasGoogle() {
		return nil, e.unlinkFailed(ctx, account.ID, newError(ErrPreconditionFailed, "No Google account is linked."))
	}
	if !account.HasPassword() {
		return nil, e.unlinkFailed(ctx, account.ID, newError(ErrPreconditionFailed, "Please set a password for your account before unlinking Google Sign-In."))
	}

	updated, err := e.accounts.Update(ctx, account.ID, AccountUpdate{ClearGoogle: true})
	if err != nil {
		return nil, storeError(err)
	}
	if err := e.linking.Delete(ctx, account.ID); err != nil {
		e.logger.Warn("linking mirror cleanup failed", zap.String("account_id", account.ID), zap.Error(err))
	}

	e.metricInc(MetricAccountUnlinked)
	e.emitAudit(ctx, auditEventAccountUnlinked, true, account.ID, nil, nil)
	return updated, nil
}

func (e *Engine) linkFailed(ctx context.Context, accountID string, err error) error {
	e.emitAudit(ctx, auditEventAccountLinked, false, accountID, err, nil)
	return err
}

func (e *Engine) unlinkFailed(ctx context.Context, accountID string, err error) error {
	e.emitAudit(ctx, auditEventAccountUnlinked, false, accountID, err, nil)
	return err
}
