package venueauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/venueauth/internal/audit"
	"github.com/MrEthical07/venueauth/internal/limiters"
	"github.com/MrEthical07/venueauth/internal/stores"
	"github.com/MrEthical07/venueauth/jwt"
	"github.com/MrEthical07/venueauth/password"
	"go.uber.org/zap"
)

// Engine wires the token, credential and OTP services into the login,
// linking, registration and verification flows.
//
// Engine instances are built once by [Builder.Build] and are safe for
// concurrent use.
type Engine struct {
	config Config

	accounts AccountStore
	sender   NotificationSender
	oauth    OAuthProvider

	signer      *jwt.Manager
	tokens      *TokenService
	credentials *CredentialService
	otp         *OtpService
	policy      password.Policy

	linking *stores.LinkingStore
	resets  *stores.PasswordResetStore

	verificationLimiter *limiters.WindowLimiter
	resetLimiter        *limiters.WindowLimiter
	phoneLimiter        *limiters.WindowLimiter

	audit   *audit.Dispatcher
	metrics *Metrics
	logger  *zap.Logger
	clock   Clock
}

// Close flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	_ = e.logger.Sync()
}

// Tokens returns the TokenService.
func (e *Engine) Tokens() *TokenService { return e.tokens }

// Credentials returns the CredentialService.
func (e *Engine) Credentials() *CredentialService { return e.credentials }

// OTP returns the OtpService.
func (e *Engine) OTP() *OtpService { return e.otp }

// Config returns a copy of the engine configuration without secrets.
func (e *Engine) Config() Config {
	cfg := e.config
	cfg.Token.SessionSecret = nil
	cfg.Token.VerificationSecret = nil
	cfg.Token.ResetSecret = nil
	cfg.Token.InvitationSecret = nil
	cfg.Token.LinkingSecret = nil
	cfg.Token.MFASecret = nil
	return cfg
}

// Logger returns the engine logger.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// AuditDropped returns how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Metrics returns the live counters, for exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// MetricsSnapshot copies the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.tokens == nil || e.credentials == nil || e.otp == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	return nil
}

// flowLogger tags log lines with the request metadata carried by ctx.
func (e *Engine) flowLogger(ctx context.Context, module, action string) *zap.Logger {
	fields := []zap.Field{
		zap.String("module", module),
		zap.String("action", action),
	}
	if ip := clientIPFromContext(ctx); ip != "" {
		fields = append(fields, zap.String("ip", ip))
	}
	if id := CorrelationIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("correlation_id", id))
	}
	return e.logger.With(fields...)
}

// throttle spends one unit of limiter budget for subject. Backend failures
// fail open and are logged.
func (e *Engine) throttle(ctx context.Context, limiter *limiters.WindowLimiter, scope, subject, accountID string) error {
	err := limiter.Allow(ctx, subject)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrRateLimited):
		e.emitRateLimit(ctx, scope, accountID)
		return newError(ErrRateLimited, msgTooManyRequests)
	default:
		e.logger.Warn("throttle backend unavailable",
			zap.String("scope", scope),
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return nil
	}
}

// Account returns the account with id, or ErrAccountNotFound.
func (e *Engine) Account(ctx context.Context, id string) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadAccount(ctx, id)
}

func (e *Engine) loadAccount(ctx context.Context, accountID string) (*Account, error) {
	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, persistenceError(err)
	}
	if account == nil {
		return nil, newError(ErrAccountNotFound, msgUserNotFound)
	}
	return account, nil
}
