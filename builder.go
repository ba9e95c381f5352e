package venueauth

import (
	"errors"

	"github.com/MrEthical07/venueauth/internal/audit"
	"github.com/MrEthical07/venueauth/internal/limiters"
	"github.com/MrEthical07/venueauth/internal/stores"
	"github.com/MrEthical07/venueauth/jwt"
	"github.com/MrEthical07/venueauth/password"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder collects collaborators and configuration for an Engine.
//
// Builder instances are intended to be configured during initialization and
// used for exactly one Build call.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts AccountStore
	tokens   TokenStore
	sender   NotificationSender
	oauth    OAuthProvider

	auditSink AuditSink
	logger    *zap.Logger
	clock     Clock

	built bool
}

// New returns a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the key-value store used for OTPs, linking mirrors, reset
// tokens and throttles.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore sets the account persistence backend.
func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithTokenStore sets the token persistence backend.
func (b *Builder) WithTokenStore(store TokenStore) *Builder {
	b.tokens = store
	return b
}

// WithNotifier sets the e-mail/SMS sender.
func (b *Builder) WithNotifier(sender NotificationSender) *Builder {
	b.sender = sender
	return b
}

// WithOAuthProvider enables Google sign-in.
func (b *Builder) WithOAuthProvider(provider OAuthProvider) *Builder {
	b.oauth = provider
	return b
}

// WithAuditSink sets where audit events go when Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the zap logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time, mostly for tests.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the validation and delivery latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine. A Builder can be
// built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if b.tokens == nil {
		return nil, errors.New("token store required")
	}
	if b.sender == nil {
		return nil, errors.New("notification sender required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := b.clock
	if clock == nil {
		clock = systemClock{}
	}

	signer, err := jwt.NewManager(jwt.Config{
		Secrets:  cfg.Token.secrets(),
		Issuer:   cfg.Token.Issuer,
		Audience: cfg.Token.Audience,
		Leeway:   cfg.Token.Leeway,
		Now:      clock.Now,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewBcrypt(password.Config{Cost: cfg.Password.Cost})
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics(cfg.Metrics)
	sender := b.sender
	if metrics.LatencyEnabled() {
		sender = timedSender{next: b.sender, metrics: metrics, clock: clock}
	}

	e := &Engine{
		config:   cfg,
		accounts: b.accounts,
		sender:   sender,
		oauth:    b.oauth,
		signer:   signer,
		policy:   cfg.Password.policy(),
		linking:  stores.NewLinkingStore(b.redis, cfg.Linking.RedisPrefix),
		resets:   stores.NewPasswordResetStore(b.redis, cfg.PasswordReset.RedisPrefix),
		verificationLimiter: limiters.NewWindowLimiter(b.redis, limiters.WindowConfig{
			Enabled:     cfg.EmailVerification.MaxResends > 0,
			Prefix:      "rl:verify_email",
			MaxRequests: cfg.EmailVerification.MaxResends,
			Window:      cfg.EmailVerification.ResendWindow,
		}),
		resetLimiter: limiters.NewWindowLimiter(b.redis, limiters.WindowConfig{
			Enabled:     cfg.PasswordReset.MaxRequests > 0,
			Prefix:      "rl:password_reset",
			MaxRequests: cfg.PasswordReset.MaxRequests,
			Window:      cfg.PasswordReset.Window,
		}),
		phoneLimiter: limiters.NewWindowLimiter(b.redis, limiters.WindowConfig{
			Enabled:     cfg.PhoneVerification.MaxSends > 0,
			Prefix:      "rl:verify_phone",
			MaxRequests: cfg.PhoneVerification.MaxSends,
			Window:      cfg.PhoneVerification.Window,
		}),
		metrics: metrics,
		logger:  logger,
		clock:   clock,
	}

	e.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		OnDrop:     func(audit.Event) { metrics.Inc(MetricAuditDropped) },
		Logger:     logger,
	}, b.auditSink)

	e.tokens = newTokenService(signer, b.tokens, cfg.Token, clock, logger, metrics)
	e.credentials = newCredentialService(b.accounts, hasher, cfg.Lockout, clock, logger, metrics, e.emitAudit)
	e.otp = newOtpService(signer, stores.NewOTPStore(b.redis, cfg.OTP.RedisPrefix), sender, cfg.OTP, cfg.Token.MFATTL, cfg.App.Name, logger, metrics)

	b.built = true
	return e, nil
}
