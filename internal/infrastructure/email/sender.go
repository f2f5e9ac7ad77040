package email

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/nerrad567/smartrack-core/internal/infrastructure/config"
)

// Message is a rendered email ready for delivery.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a sender that logs every message at info level.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs msg.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "email not delivered (log transport)",
		"to", msg.To,
		"subject", msg.Subject,
		"html", msg.HTML,
	)
	return nil
}

// NewSender builds the sender named by cfg.Transport. The returned closer
// releases transport resources and is never nil.
func NewSender(cfg config.EmailConfig, logger *slog.Logger) (Sender, io.Closer, error) {
	switch cfg.Transport {
	case "resend":
		return NewResendSender(cfg.APIKey), nopCloser{}, nil
	case "amqp":
		s, err := DialAMQP(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "log", "":
		return NewLogSender(logger), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown email transport %q", cfg.Transport)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
