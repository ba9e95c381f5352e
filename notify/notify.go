// Package notify provides venueauth.NotificationSender implementations:
// SMTP e-mail, Twilio SMS, a RabbitMQ queue publisher with its relay
// worker, and a zap-backed sender for local development.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/venueauth"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// EmailSender delivers e-mail only.
type EmailSender interface {
	SendEmail(ctx context.Context, msg venueauth.EmailMessage) error
}

// SMSSender delivers SMS only.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// ErrNotConfigured is returned by a channel that has no backend.
var ErrNotConfigured = errors.New("notification channel not configured")

// Router sends e-mail and SMS through separate backends. A nil backend
// makes that channel fail with ErrNotConfigured.
type Router struct {
	Email EmailSender
	SMS   SMSSender
}

var _ venueauth.NotificationSender = Router{}

func (r Router) SendEmail(ctx context.Context, msg venueauth.EmailMessage) error {
	if r.Email == nil {
		return backoff.Permanent(ErrNotConfigured)
	}
	return r.Email.SendEmail(ctx, msg)
}

func (r Router) SendSMS(ctx context.Context, to, body string) error {
	if r.SMS == nil {
		return backoff.Permanent(ErrNotConfigured)
	}
	return r.SMS.SendSMS(ctx, to, body)
}

// RetryConfig bounds delivery retries.
type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryConfig is three tries starting at 200ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxTries: 3, InitialInterval: 200 * time.Millisecond, MaxElapsed: 10 * time.Second}
}

// Retrying wraps a sender with exponential backoff. Errors marked with
// backoff.Permanent are returned without further attempts.
type Retrying struct {
	next venueauth.NotificationSender
	cfg  RetryConfig
	log  *zap.Logger
}

// NewRetrying returns next wrapped with retries.
func NewRetrying(next venueauth.NotificationSender, cfg RetryConfig, log *zap.Logger) *Retrying {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Retrying{next: next, cfg: cfg, log: log.With(zap.String("component", "notify"))}
}

var _ venueauth.NotificationSender = (*Retrying)(nil)

func (r *Retrying) SendEmail(ctx context.Context, msg venueauth.EmailMessage) error {
	return r.do(ctx, "email", func() error { return r.next.SendEmail(ctx, msg) })
}

func (r *Retrying) SendSMS(ctx context.Context, to, body string) error {
	return r.do(ctx, "sms", func() error { return r.next.SendSMS(ctx, to, body) })
}

func (r *Retrying) do(ctx context.Context, channel string, send func() error) error {
	policy := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		policy.InitialInterval = r.cfg.InitialInterval
	}

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := send()
		if err != nil {
			r.log.Warn("delivery attempt failed",
				zap.String("channel", channel),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(r.cfg.MaxTries),
		backoff.WithMaxElapsedTime(r.cfg.MaxElapsed),
	)
	return err
}
