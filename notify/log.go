package notify

import (
	"context"

	"github.com/MrEthical07/venueauth"
	"go.uber.org/zap"
)

// LogSender writes notifications to the log instead of delivering them.
// Bodies contain live codes and links, so use it only in development.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender returns a sender logging at info level.
func NewLogSender(log *zap.Logger) *LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSender{log: log.With(zap.String("component", "notify_log"))}
}

var _ venueauth.NotificationSender = (*LogSender)(nil)

func (s *LogSender) SendEmail(_ context.Context, msg venueauth.EmailMessage) error {
	s.log.Info("email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
	)
	return nil
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.log.Info("sms", zap.String("to", to), zap.String("body", body))
	return nil
}
