package venueauth

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Refresh rotates a refresh token: the presented token is consumed and a new
// pair is issued. A token can be rotated once; replays fail with
// ErrTokenBlacklisted.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if err := e.ready(); err != nil {
		return TokenPair{}, err
	}

	record, err := e.tokens.verifyOnce(ctx, refreshToken, TokenRefresh)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventTokenRefresh, false, "", err, nil)
		return TokenPair{}, err
	}

	account, err := e.loadAccount(ctx, record.AccountID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return TokenPair{}, err
	}

	pair, err := e.tokens.IssueSessionPair(ctx, account)
	if err != nil {
		e.flowLogger(ctx, "session", "refresh").Error("session issuance failed",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
		return TokenPair{}, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventTokenRefresh, true, account.ID, nil, nil)
	return pair, nil
}

// Logout revokes a single refresh token.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if err := e.ready(); err != nil {
		return err
	}

	payload, err := e.tokens.Inspect(refreshToken, TokenRefresh)
	if err != nil {
		return err
	}
	if payload.Type != TokenRefresh {
		return ErrTokenTypeMismatch
	}
	if err := e.tokens.Revoke(ctx, refreshToken, TokenRefresh, payload.AccountID); err != nil {
		e.emitAudit(ctx, auditEventLogout, false, payload.AccountID, err, nil)
		return err
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, payload.AccountID, nil, nil)
	return nil
}

// LogoutAll revokes every refresh token of accountID and returns how many
// were active.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) (int64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}

	n, err := e.tokens.RevokeAllRefreshTokens(ctx, accountID)
	if err != nil {
		return 0, err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, accountID, nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(n)}
	})
	return n, nil
}

// ValidateAccess verifies an access token, including the store lookup, and
// returns its payload.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*TokenPayload, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	start := e.clock.Now()
	_, payload, err := e.tokens.Verify(ctx, accessToken, TokenAccess)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, e.clock.Now().Sub(start))
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}
