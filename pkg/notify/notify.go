// Package notify delivers one-time passwords out of band.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/kcea-attendance/pkg/config"
)

// Message is a plain notification addressed to one recipient.
type Message struct {
	To      string
	Name    string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New selects the sender configured by OTP_DELIVERY.
func New(cfg *config.Config, logger *zap.Logger) (Sender, error) {
	switch cfg.OTP.Delivery {
	case config.OTPDeliverySMTP:
		return NewSMTPSender(cfg.Mail), nil
	case config.OTPDeliverySendGrid:
		if cfg.Mail.SendGridAPIKey == "" {
			return nil, fmt.Errorf("SENDGRID_API_KEY is required for sendgrid delivery")
		}
		return NewSendGridSender(cfg.Mail.SendGridAPIKey, cfg.Mail.From), nil
	case config.OTPDeliveryLog, "":
		if cfg.Env == config.EnvProduction {
			return nil, fmt.Errorf("log delivery is not allowed in production")
		}
		return NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown OTP delivery %q", cfg.OTP.Delivery)
	}
}

// LogSender writes messages to the application log. Development only.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the envelope of the message. The body carries the one-time code
// and is never written.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("notification", zap.String("to", msg.To), zap.String("subject", msg.Subject), zap.Int("text_len", len(msg.Text)))
	return nil
}
