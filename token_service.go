package venueauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/venueauth/jwt"
	"go.uber.org/zap"
)

// TokenService issues, verifies and revokes persisted signed tokens. The
// TokenStore is the single source of truth for validity: every Verify reads
// it after the signature check.
type TokenService struct {
	signer  *jwt.Manager
	store   TokenStore
	cfg     TokenConfig
	clock   Clock
	logger  *zap.Logger
	metrics *Metrics
}

func newTokenService(signer *jwt.Manager, store TokenStore, cfg TokenConfig, clock Clock, logger *zap.Logger, metrics *Metrics) *TokenService {
	return &TokenService{
		signer:  signer,
		store:   store,
		cfg:     cfg,
		clock:   clock,
		logger:  logger.With(zap.String("module", "token_service")),
		metrics: metrics,
	}
}

// Issue signs payload with its category secret, persists the record with
// ExpiresAt = now+ttl and returns the signed string.
func (s *TokenService) Issue(ctx context.Context, payload TokenPayload, ttl time.Duration) (string, error) {
	category, ok := payload.Type.Category()
	if !ok {
		return "", fmt.Errorf("%w: unknown token type %q", ErrTokenGeneration, payload.Type)
	}
	if payload.AccountID == "" {
		return "", fmt.Errorf("%w: account id required", ErrTokenGeneration)
	}

	claims := &jwt.SessionClaims{
		AccountID:  payload.AccountID,
		RoleID:     payload.RoleID,
		Type:       string(payload.Type),
		Identifier: payload.Identifier,
	}
	signed, err := s.signer.Sign(category, claims, ttl)
	if err != nil {
		return "", fmt.Errorf("%w: sign: %v", ErrTokenGeneration, err)
	}

	now := s.clock.Now()
	record := &Token{
		Token:     signed,
		Type:      payload.Type,
		AccountID: payload.AccountID,
		RoleID:    payload.RoleID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if payload.Identifier != "" {
		record.Identifier = strPtr(payload.Identifier)
	}
	if err := s.store.Create(ctx, record); err != nil {
		s.logger.Error("persist token failed",
			zap.String("action", "issue"),
			zap.String("account_id", payload.AccountID),
			zap.String("type", string(payload.Type)),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: persist: %v", ErrTokenGeneration, err)
	}

	s.metrics.Inc(MetricTokenIssued)
	return signed, nil
}

// Inspect checks only the signature and expiry of token and returns its
// payload. It never consults the store, so it grants nothing by itself.
func (s *TokenService) Inspect(token string, expected TokenType) (*TokenPayload, error) {
	category, ok := expected.Category()
	if !ok {
		return nil, ErrTokenInvalid
	}
	var claims jwt.SessionClaims
	if err := s.signer.Parse(category, token, &claims); err != nil {
		return nil, mapSignerError(err)
	}
	if claims.AccountID == "" {
		return nil, fmt.Errorf("%w: missing account id", ErrTokenInvalid)
	}
	return &TokenPayload{
		AccountID:  claims.AccountID,
		RoleID:     claims.RoleID,
		Type:       TokenType(claims.Type),
		Identifier: claims.Identifier,
	}, nil
}

// Verify checks, in order: signature and expiry, store presence, type,
// blacklist, stored expiry, and that the signed account id matches the record.
func (s *TokenService) Verify(ctx context.Context, token string, expected TokenType) (*Token, *TokenPayload, error) {
	payload, err := s.Inspect(token, expected)
	if err != nil {
		s.metrics.Inc(MetricTokenVerifyFailure)
		return nil, nil, err
	}

	record, err := s.store.FindByToken(ctx, token)
	if err != nil {
		return nil, nil, persistenceError(err)
	}

	switch {
	case record == nil:
		err = ErrTokenNotFound
	case record.Type != expected || payload.Type != expected:
		err = ErrTokenTypeMismatch
	case record.IsBlacklisted:
		err = ErrTokenBlacklisted
	case !s.clock.Now().Before(record.ExpiresAt):
		err = ErrTokenExpired
	case payload.AccountID != record.AccountID:
		err = ErrTokenOwnerMismatch
	}
	if err != nil {
		s.metrics.Inc(MetricTokenVerifyFailure)
		return nil, nil, err
	}

	return record, payload, nil
}

// Revoke blacklists the active record matching token, type and account.
// Revoking an already blacklisted token returns ErrTokenNotFound unless
// TokenConfig.IdempotentRevoke is set.
func (s *TokenService) Revoke(ctx context.Context, token string, typ TokenType, accountID string) error {
	if token == "" || accountID == "" {
		return ErrTokenNotFound
	}

	n, err := s.store.BlacklistActive(ctx, TokenFilter{Token: token, Type: typ, AccountID: accountID})
	if err != nil {
		return persistenceError(err)
	}
	if n > 0 {
		s.metrics.Add(MetricTokenRevoked, uint64(n))
		return nil
	}

	if s.cfg.IdempotentRevoke {
		record, err := s.store.FindByToken(ctx, token)
		if err != nil {
			return persistenceError(err)
		}
		if record != nil && record.IsBlacklisted && record.Type == typ && record.AccountID == accountID {
			return nil
		}
	}
	return ErrTokenNotFound
}

// RevokeAllRefreshTokens blacklists every active refresh token of accountID.
func (s *TokenService) RevokeAllRefreshTokens(ctx context.Context, accountID string) (int64, error) {
	if strings.TrimSpace(accountID) == "" {
		return 0, fmt.Errorf("%w: account id required", ErrInvalidInput)
	}
	n, err := s.store.BlacklistActive(ctx, TokenFilter{Type: TokenRefresh, AccountID: accountID})
	if err != nil {
		return 0, persistenceError(err)
	}
	s.metrics.Add(MetricTokenRevoked, uint64(n))
	return n, nil
}

// CleanupExpiredAndBlacklisted deletes records that expired or were
// blacklisted. It is meant for the Sweeper, not request paths.
func (s *TokenService) CleanupExpiredAndBlacklisted(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredOrBlacklisted(ctx, s.clock.Now())
	if err != nil {
		return 0, persistenceError(err)
	}
	s.metrics.Add(MetricTokensCleaned, uint64(n))
	return n, nil
}

// IssueSessionPair issues an access token and a refresh token for account.
func (s *TokenService) IssueSessionPair(ctx context.Context, account *Account) (TokenPair, error) {
	if account == nil {
		return TokenPair{}, fmt.Errorf("%w: nil account", ErrTokenGeneration)
	}
	now := s.clock.Now()

	access, err := s.Issue(ctx, TokenPayload{AccountID: account.ID, RoleID: account.RoleID, Type: TokenAccess}, s.cfg.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.Issue(ctx, TokenPayload{AccountID: account.ID, RoleID: account.RoleID, Type: TokenRefresh}, s.cfg.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(s.cfg.AccessTTL),
		RefreshExpiresAt: now.Add(s.cfg.RefreshTTL),
	}, nil
}

// IssueEmailVerificationToken binds a verification token to email.
func (s *TokenService) IssueEmailVerificationToken(ctx context.Context, accountID, roleID, email string) (string, error) {
	return s.Issue(ctx, TokenPayload{
		AccountID:  accountID,
		RoleID:     roleID,
		Type:       TokenEmailVerification,
		Identifier: strings.ToLower(email),
	}, s.cfg.EmailVerificationTTL)
}

// VerifyEmailVerificationToken verifies token and revokes it in the same
// call, so a token passes this check at most once.
func (s *TokenService) VerifyEmailVerificationToken(ctx context.Context, token string) (*Token, error) {
	return s.verifyOnce(ctx, token, TokenEmailVerification)
}

func (s *TokenService) verifyOnce(ctx context.Context, token string, typ TokenType) (*Token, error) {
	record, _, err := s.Verify(ctx, token, typ)
	if err != nil {
		return nil, err
	}
	n, err := s.store.BlacklistActive(ctx, TokenFilter{Token: token, Type: typ, AccountID: record.AccountID})
	if err != nil {
		return nil, persistenceError(err)
	}
	// A concurrent caller consumed it between Verify and the blacklist write.
	if n == 0 {
		return nil, ErrTokenBlacklisted
	}
	s.metrics.Add(MetricTokenRevoked, uint64(n))
	return record, nil
}

func mapSignerError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
}
