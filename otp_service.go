package venueauth

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/venueauth/internal"
	"github.com/MrEthical07/venueauth/internal/stores"
	"github.com/MrEthical07/venueauth/jwt"
	"go.uber.org/zap"
)

// OtpService issues MFA binding tokens and single-use numeric codes.
type OtpService struct {
	signer  *jwt.Manager
	codes   *stores.OTPStore
	sender  NotificationSender
	cfg     OTPConfig
	mfaTTL  time.Duration
	appName string
	logger  *zap.Logger
	metrics *Metrics
}

func newOtpService(signer *jwt.Manager, codes *stores.OTPStore, sender NotificationSender, cfg OTPConfig, mfaTTL time.Duration, appName string, logger *zap.Logger, metrics *Metrics) *OtpService {
	return &OtpService{
		signer:  signer,
		codes:   codes,
		sender:  sender,
		cfg:     cfg,
		mfaTTL:  mfaTTL,
		appName: appName,
		logger:  logger.With(zap.String("module", "otp_service")),
		metrics: metrics,
	}
}

// GenerateMFAToken signs a short-lived token proving the first factor
// passed for accountID. It is never persisted and grants no access.
func (s *OtpService) GenerateMFAToken(accountID string) (string, error) {
	token, err := s.signer.Sign(jwt.CategoryMFA, &jwt.MFAClaims{AccountID: accountID}, s.mfaTTL)
	if err != nil {
		return "", fmt.Errorf("%w: mfa token: %v", ErrTokenGeneration, err)
	}
	return token, nil
}

// ParseMFAToken returns the account id bound by token.
func (s *OtpService) ParseMFAToken(token string) (string, error) {
	var claims jwt.MFAClaims
	if err := s.signer.Parse(jwt.CategoryMFA, token, &claims); err != nil {
		return "", mapSignerError(err)
	}
	if claims.AccountID == "" {
		return "", fmt.Errorf("%w: missing account id", ErrTokenInvalid)
	}
	return claims.AccountID, nil
}

// GenerateAndStoreOTP creates a fresh code for accountID, replacing any
// outstanding one.
func (s *OtpService) GenerateAndStoreOTP(ctx context.Context, accountID string) (string, error) {
	code, err := internal.NewOTP(s.cfg.Digits)
	if err != nil {
		return "", err
	}
	if err := s.codes.Save(ctx, accountID, code, s.cfg.TTL); err != nil {
		s.logger.Error("store otp failed", zap.String("action", "generate_otp"), zap.String("account_id", accountID), zap.Error(err))
		return "", persistenceError(err)
	}
	return code, nil
}

// SendOTPEmail delivers code by e-mail.
func (s *OtpService) SendOTPEmail(ctx context.Context, to, name, code string) error {
	msg, err := otpEmail.render(to, otpEmailData{
		AppName:          s.appName,
		Name:             nameOrDefault(name),
		Code:             code,
		ExpiresInMinutes: s.ttlMinutes(),
	})
	if err != nil {
		return fmt.Errorf("%w: render otp email: %v", ErrNotificationDelivery, err)
	}
	if err := s.sender.SendEmail(ctx, msg); err != nil {
		s.metrics.Inc(MetricOTPDeliveryFailure)
		s.logger.Error("send otp email failed", zap.String("action", "send_otp_email"), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrNotificationDelivery, err)
	}
	s.metrics.Inc(MetricOTPSent)
	return nil
}

// SendOTPSMS delivers code by SMS.
func (s *OtpService) SendOTPSMS(ctx context.Context, to, code string) error {
	if err := s.sender.SendSMS(ctx, to, otpSMSBody(s.appName, code, s.ttlMinutes())); err != nil {
		s.metrics.Inc(MetricOTPDeliveryFailure)
		s.logger.Error("send otp sms failed", zap.String("action", "send_otp_sms"), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrNotificationDelivery, err)
	}
	s.metrics.Inc(MetricOTPSent)
	return nil
}

// VerifyOTP consumes the stored code when it equals submitted. A mismatch or
// a missing code is (false, nil); only store failures are errors.
func (s *OtpService) VerifyOTP(ctx context.Context, accountID, submitted string) (bool, error) {
	if accountID == "" || submitted == "" {
		return false, nil
	}
	ok, err := s.codes.Consume(ctx, accountID, submitted)
	if err != nil {
		s.logger.Error("verify otp failed", zap.String("action", "verify_otp"), zap.String("account_id", accountID), zap.Error(err))
		return false, persistenceError(err)
	}
	return ok, nil
}

func (s *OtpService) ttlMinutes() int {
	m := int(s.cfg.TTL / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}

func nameOrDefault(name string) string {
	if name == "" {
		return "there"
	}
	return name
}
