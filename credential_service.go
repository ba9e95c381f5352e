package venueauth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MrEthical07/venueauth/password"
	"go.uber.org/zap"
)

// CredentialService owns password hashing, failed-attempt counters and
// account lockout. Bookkeeping methods never return errors; failures are
// logged and audited so they cannot change an authentication decision.
type CredentialService struct {
	accounts AccountStore
	hasher   *password.Bcrypt
	cfg      LockoutConfig
	clock    Clock
	logger   *zap.Logger
	metrics  *Metrics
	audit    auditFunc
}

type auditFunc func(ctx context.Context, eventType string, success bool, accountID string, err error, meta func() map[string]string)

func newCredentialService(accounts AccountStore, hasher *password.Bcrypt, cfg LockoutConfig, clock Clock, logger *zap.Logger, metrics *Metrics, audit auditFunc) *CredentialService {
	if audit == nil {
		audit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	return &CredentialService{
		accounts: accounts,
		hasher:   hasher,
		cfg:      cfg,
		clock:    clock,
		logger:   logger.With(zap.String("module", "credential_service")),
		metrics:  metrics,
		audit:    audit,
	}
}

// FindByIdentifier looks an account up by email or by phone. Exactly one of
// isEmail and isPhone must be true. A missing account is (nil, nil).
func (s *CredentialService) FindByIdentifier(ctx context.Context, identifier string, isEmail, isPhone bool) (*Account, error) {
	if isEmail == isPhone {
		return nil, ErrInvalidIdentifier
	}

	var (
		account *Account
		err     error
	)
	if isEmail {
		account, err = s.accounts.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(identifier)))
	} else {
		phone, ok := normalizePhone(identifier)
		if !ok {
			return nil, ErrInvalidIdentifier
		}
		account, err = s.accounts.FindByPhone(ctx, phone)
	}
	if err != nil {
		return nil, persistenceError(err)
	}
	return account, nil
}

// ComparePasswords reports whether plain matches hash. A nil or empty hash
// (OAuth-only account) is always false.
func (s *CredentialService) ComparePasswords(plain string, hash *string) bool {
	return s.hasher.Matches(plain, hash)
}

// HashPassword hashes plain with the configured bcrypt cost.
func (s *CredentialService) HashPassword(plain string) (string, error) {
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		s.logger.Error("hash password failed", zap.String("action", "hash_password"), zap.Error(err))
		return "", err
	}
	return hash, nil
}

// RehashIfNeeded re-hashes plain at the configured cost when account's stored
// hash was produced with a different one. Call only after plain matched.
// Failures are logged and leave the old hash in place.
func (s *CredentialService) RehashIfNeeded(ctx context.Context, account *Account, plain string) {
	if account == nil || account.PasswordHash == nil || *account.PasswordHash == "" {
		return
	}
	log := s.logger.With(
		zap.String("action", "rehash_password"),
		zap.String("account_id", account.ID),
		zap.String("correlation_id", CorrelationIDFromContext(ctx)),
	)

	needs, err := s.hasher.NeedsRehash(*account.PasswordHash)
	if err != nil {
		log.Warn("stored hash unreadable", zap.Error(err))
		return
	}
	if !needs {
		return
	}
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		log.Warn("rehash failed", zap.Error(err))
		return
	}
	if err := s.UpdatePassword(ctx, account.ID, hash); err != nil {
		log.Warn("store rehashed password failed", zap.Error(err))
		return
	}
	account.PasswordHash = &hash
	log.Debug("password rehashed")
}

// LockStatus reports whether account is locked at now and for how long.
func (s *CredentialService) LockStatus(account *Account, now time.Time) (bool, time.Duration) {
	if account == nil || !account.IsLocked || account.LockUntil == nil {
		return false, 0
	}
	if !account.LockUntil.After(now) {
		return false, 0
	}
	return true, account.LockUntil.Sub(now)
}

// HandleFailedLoginAttempt records one failed password attempt. The counter
// is incremented atomically in the store; reaching the threshold locks the
// account for LockoutConfig.Duration.
func (s *CredentialService) HandleFailedLoginAttempt(ctx context.Context, accountID, ip, userAgent string) {
	log := s.logger.With(
		zap.String("action", "failed_login_attempt"),
		zap.String("account_id", accountID),
		zap.String("ip", ip),
		zap.String("user_agent", userAgent),
		zap.String("correlation_id", CorrelationIDFromContext(ctx)),
	)

	count, err := s.accounts.IncrementLoginAttempts(ctx, accountID)
	if err != nil {
		s.bookkeepingFailed(ctx, log, accountID, "increment_attempts", err)
	} else {
		log.Warn("failed login attempt", zap.Int("attempts", count), zap.Int("threshold", s.cfg.Threshold))
		if count >= s.cfg.Threshold {
			s.lock(ctx, log, accountID, count)
		}
	}

	if ip != "" {
		s.recordFailedIP(ctx, log, accountID, ip)
	}
}

func (s *CredentialService) lock(ctx context.Context, log *zap.Logger, accountID string, count int) {
	until := s.clock.Now().Add(s.cfg.Duration)
	_, err := s.accounts.Update(ctx, accountID, AccountUpdate{
		IsLocked:  boolPtr(true),
		LockUntil: &until,
	})
	if err != nil {
		s.bookkeepingFailed(ctx, log, accountID, "lock_account", err)
		return
	}

	s.metrics.Inc(MetricAccountLocked)
	log.Warn("account locked", zap.Int("attempts", count), zap.Time("lock_until", until))
	s.audit(ctx, auditEventAccountLocked, true, accountID, nil, func() map[string]string {
		return map[string]string{
			"attempts":   fmt.Sprint(count),
			"lock_until": until.UTC().Format(time.RFC3339),
		}
	})
}

// recordFailedIP updates the per-IP failure map with a version
// compare-and-swap, retrying on concurrent writers.
func (s *CredentialService) recordFailedIP(ctx context.Context, log *zap.Logger, accountID, ip string) {
	for attempt := 0; attempt < s.cfg.MaxCASRetries; attempt++ {
		account, err := s.accounts.FindByID(ctx, accountID)
		if err != nil {
			s.bookkeepingFailed(ctx, log, accountID, "load_failed_ips", err)
			return
		}
		if account == nil {
			log.Warn("failed login attempt for unknown account")
			return
		}

		next := make(map[string]FailedIPEntry, len(account.FailedLoginIPs)+1)
		for k, v := range account.FailedLoginIPs {
			next[k] = v
		}
		entry := next[ip]
		entry.Count++
		entry.LastAttempt = s.clock.Now().UTC()
		next[ip] = entry
		evictOldestIPs(next, s.cfg.MaxTrackedIPs)

		swapped, err := s.accounts.CompareAndSwapFailedIPs(ctx, accountID, account.Version, next)
		if err != nil {
			s.bookkeepingFailed(ctx, log, accountID, "store_failed_ips", err)
			return
		}
		if swapped {
			return
		}
	}
	s.bookkeepingFailed(ctx, log, accountID, "store_failed_ips", errors.New("version conflict retries exhausted"))
}

// evictOldestIPs drops the least recently seen entries until at most max remain.
func evictOldestIPs(ips map[string]FailedIPEntry, max int) {
	if max <= 0 || len(ips) <= max {
		return
	}
	keys := make([]string, 0, len(ips))
	for k := range ips {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := ips[keys[i]], ips[keys[j]]
		if a.LastAttempt.Equal(b.LastAttempt) {
			return keys[i] < keys[j]
		}
		return a.LastAttempt.Before(b.LastAttempt)
	})
	for _, k := range keys[:len(keys)-max] {
		delete(ips, k)
	}
}

// ResetLoginAttempts runs after a fully successful authentication: it clears
// the counter, the lock and the failure map, and records ip at the front of
// the recent login list.
func (s *CredentialService) ResetLoginAttempts(ctx context.Context, accountID, ip, userAgent string) {
	log := s.logger.With(
		zap.String("action", "reset_login_attempts"),
		zap.String("account_id", accountID),
		zap.String("correlation_id", CorrelationIDFromContext(ctx)),
	)

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		s.bookkeepingFailed(ctx, log, accountID, "load_account", err)
		return
	}
	if account == nil {
		log.Error("account not found when resetting login attempts")
		return
	}

	now := s.clock.Now()
	update := AccountUpdate{
		LoginAttempts:  intPtr(0),
		IsLocked:       boolPtr(false),
		ClearLockUntil: true,
		FailedLoginIPs: map[string]FailedIPEntry{},
		LastLoginAt:    &now,
	}
	if ip != "" {
		update.LoginIPs = pushRecentIP(account.LoginIPs, ip, s.cfg.LoginIPHistory)
		update.LastIPAddress = strPtr(ip)
	}
	if userAgent != "" {
		update.LastUserAgent = strPtr(userAgent)
	}

	if _, err := s.accounts.Update(ctx, accountID, update); err != nil {
		s.bookkeepingFailed(ctx, log, accountID, "reset_attempts", err)
		return
	}
	log.Debug("login attempts reset")
}

func pushRecentIP(list []string, ip string, max int) []string {
	if max <= 0 {
		max = 10
	}
	out := make([]string, 0, max)
	out = append(out, ip)
	for _, existing := range list {
		if len(out) >= max {
			break
		}
		if existing != ip {
			out = append(out, existing)
		}
	}
	return out
}

// UpdatePassword stores a new password hash.
func (s *CredentialService) UpdatePassword(ctx context.Context, accountID, hash string) error {
	if hash == "" {
		return fmt.Errorf("%w: empty password hash", ErrInvalidInput)
	}
	_, err := s.accounts.Update(ctx, accountID, AccountUpdate{PasswordHash: strPtr(hash)})
	return storeError(err)
}

// UpdateAccountFields applies the whitelisted profile fields in fields.
func (s *CredentialService) UpdateAccountFields(ctx context.Context, accountID string, fields AccountFields) (*Account, error) {
	if fields.MFAMethod != nil && *fields.MFAMethod != MFAMethodNone && !fields.MFAMethod.Valid() {
		return nil, fmt.Errorf("%w: unknown mfa method %q", ErrInvalidInput, *fields.MFAMethod)
	}
	if fields.Phone != nil {
		phone, ok := normalizePhone(*fields.Phone)
		if !ok {
			return nil, fmt.Errorf("%w: invalid phone number", ErrInvalidInput)
		}
		fields.Phone = &phone
	}

	account, err := s.accounts.Update(ctx, accountID, fields.update())
	if err != nil {
		return nil, storeError(err)
	}
	return account, nil
}

func (s *CredentialService) bookkeepingFailed(ctx context.Context, log *zap.Logger, accountID, step string, err error) {
	s.metrics.Inc(MetricBookkeepingFailure)
	log.Error("login bookkeeping failed", zap.String("step", step), zap.Error(err))
	s.audit(ctx, auditEventLockoutBookkeepingFailed, false, accountID, persistenceError(err), func() map[string]string {
		return map[string]string{"step": step}
	})
}

// storeError keeps store sentinels and wraps everything else as a
// persistence failure.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrAccountConflict),
		errors.Is(err, ErrPreconditionFailed):
		return err
	default:
		return persistenceError(err)
	}
}
