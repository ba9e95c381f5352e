package venueauth

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrEthical07/venueauth/jwt"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var googleScopes = []string{"openid", "email", "profile"}

// GoogleAuthURL returns the consent URL the browser should be sent to. state
// is echoed back on the callback and must be checked by the caller.
func (e *Engine) GoogleAuthURL(state string) (string, error) {
	if e == nil || e.oauth == nil {
		return "", newError(ErrOAuthExchange, "Google sign-in is not configured.")
	}
	return e.oauth.AuthURL(state, AuthURLOptions{
		Scopes:     googleScopes,
		AccessType: "offline",
		Prompt:     "consent",
	}), nil
}

// LoginWithGoogle finishes the OAuth code flow. Branches, in order:
//
//   - an account already holds this Google id: refresh its stored Google
//     tokens and sign it in;
//   - an account holds the e-mail but no Google id: return
//     LoginLinkingRequired with a single-use linking token, leaving the
//     account untouched;
//   - an account holds the e-mail and a different Google id: conflict;
//   - nothing matches: create a verified, passwordless account and sign it in.
func (e *Engine) LoginWithGoogle(ctx context.Context, code string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.oauth == nil {
		return nil, newError(ErrOAuthExchange, "Google sign-in is not configured.")
	}
	if strings.TrimSpace(code) == "" {
		return nil, newError(ErrInvalidInput, "Authorization code is required.")
	}
	log := e.flowLogger(ctx, "google", "login")

	oauthTokens, identity, err := e.googleIdentity(ctx, code)
	if err != nil {
		log.Warn("google identity rejected", zap.Error(err))
		e.emitAudit(ctx, auditEventGoogleLogin, false, "", err, nil)
		return nil, err
	}
	log = log.With(zap.String("google_id", identity.SubjectID))

	// a. Known Google identity.
	existing, err := e.accounts.FindByGoogleID(ctx, identity.SubjectID)
	if err != nil {
		return nil, persistenceError(err)
	}
	if existing != nil {
		return e.googleSignIn(ctx, existing, oauthTokens)
	}

	// b. E-mail already registered.
	byEmail, err := e.accounts.FindByEmail(ctx, identity.Email)
	if err != nil {
		return nil, persistenceError(err)
	}
	if byEmail != nil {
		if byEmail.HasGoogle() {
			err := newError(ErrAccountConflict, "This email is already linked to another Google account.")
			e.emitAudit(ctx, auditEventGoogleLogin, false, byEmail.ID, err, nil)
			return nil, err
		}
		return e.requireLinking(ctx, byEmail, identity, oauthTokens)
	}

	// c. New account.
	return e.createGoogleAccount(ctx, identity, oauthTokens)
}

func (e *Engine) googleIdentity(ctx context.Context, code string) (*OAuthTokens, *OAuthIdentity, error) {
	oauthTokens, err := e.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrOAuthExchange, err)
	}
	if oauthTokens == nil || oauthTokens.IDToken == "" {
		return nil, nil, newError(ErrOAuthIdentityInvalid, "Invalid Google ID token.")
	}

	identity, err := e.oauth.VerifyIDToken(ctx, oauthTokens.IDToken)
	if err != nil {
		return nil, nil, &Error{Kind: fmt.Errorf("%w: %v", ErrOAuthIdentityInvalid, err), Message: "Invalid Google ID token."}
	}
	if identity == nil || identity.SubjectID == "" {
		return nil, nil, newError(ErrOAuthIdentityInvalid, "Invalid Google ID token.")
	}
	email, ok := normalizeEmail(identity.Email)
	if !ok {
		return nil, nil, newError(ErrOAuthIdentityInvalid, "Google account has no usable email address.")
	}
	// Account matching and linking trust the address, so Google must vouch for it.
	if !identity.EmailVerified {
		return nil, nil, newError(ErrOAuthIdentityInvalid, "Google account email is not verified.")
	}

	out := *identity
	out.Email = email
	switch {
	case out.Name != "":
	case out.GivenName != "":
		out.Name = out.GivenName
	default:
		out.Name = email
	}
	return oauthTokens, &out, nil
}

func (e *Engine) googleSignIn(ctx context.Context, account *Account, oauthTokens *OAuthTokens) (*LoginResult, error) {
	now := e.clock.Now()
	update := AccountUpdate{
		GoogleAccessToken: strPtr(oauthTokens.AccessToken),
		GoogleAuthScope:   strPtr(oauthTokens.Scope),
		LastLoginAt:       &now,
	}
	// Google omits the refresh token on repeat consents; keep the stored one.
	if oauthTokens.RefreshToken != "" {
		update.GoogleRefreshToken = strPtr(oauthTokens.RefreshToken)
	}
	if ip := clientIPFromContext(ctx); ip != "" {
		update.LastIPAddress = strPtr(ip)
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		update.LastUserAgent = strPtr(ua)
	}

	updated, err := e.accounts.Update(ctx, account.ID, update)
	if err != nil {
		return nil, storeError(err)
	}

	e.metricInc(MetricGoogleLogin)
	e.emitAudit(ctx, auditEventGoogleLogin, true, updated.ID, nil, nil)
	return e.completeLogin(ctx, updated, "google")
}

func (e *Engine) requireLinking(ctx context.Context, account *Account, identity *OAuthIdentity, oauthTokens *OAuthTokens) (*LoginResult, error) {
	token, err := e.signer.Sign(jwt.CategoryLinking, &jwt.LinkingClaims{
		UserID:             account.ID,
		GoogleID:           identity.SubjectID,
		Email:              identity.Email,
		GoogleAccessToken:  oauthTokens.AccessToken,
		GoogleRefreshToken: oauthTokens.RefreshToken,
		GoogleAuthScope:    oauthTokens.Scope,
		RoleID:             account.RoleID,
	}, e.config.Token.LinkingTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: linking token: %v", ErrTokenGeneration, err)
	}

	if err := e.linking.Save(ctx, account.ID, token, e.config.Token.LinkingTTL); err != nil {
		e.flowLogger(ctx, "google", "save_linking_token").Error("linking mirror write failed",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
		return nil, persistenceError(err)
	}

	e.metricInc(MetricLinkingRequired)
	e.emitAudit(ctx, auditEventLinkingRequired, true, account.ID, nil, nil)

	return &LoginResult{
		Kind:         LoginLinkingRequired,
		LinkingToken: token,
		RedirectTo:   linkWithToken(e.config.App.UserWebURL, e.config.Linking.RedirectPath, token),
		Message:      "An account with this email already exists. Confirm to link your Google account.",
	}, nil
}

func (e *Engine) createGoogleAccount(ctx context.Context, identity *OAuthIdentity, oauthTokens *OAuthTokens) (*LoginResult, error) {
	if e.config.Account.DefaultRoleID == "" {
		return nil, newError(fmt.Errorf("%w: default role id not configured", ErrPersistence), msgDefaultRoleMissing)
	}

	now := e.clock.Now()
	account := &Account{
		ID:                 uuid.NewString(),
		Email:              strPtr(identity.Email),
		GoogleID:           strPtr(identity.SubjectID),
		GoogleAccessToken:  oauthTokens.AccessToken,
		GoogleRefreshToken: oauthTokens.RefreshToken,
		GoogleAuthScope:    oauthTokens.Scope,
		Name:               identity.Name,
		IsEmailVerified:    true,
		RoleID:             e.config.Account.DefaultRoleID,
		LastLoginAt:        &now,
		LastIPAddress:      clientIPFromContext(ctx),
		LastUserAgent:      userAgentFromContext(ctx),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.accounts.Create(ctx, account); err != nil {
		return nil, storeError(err)
	}

	e.metricInc(MetricGoogleAccountCreated)
	e.emitAudit(ctx, auditEventGoogleAccountCreated, true, account.ID, nil, nil)
	return e.completeLogin(ctx, account, "google")
}
