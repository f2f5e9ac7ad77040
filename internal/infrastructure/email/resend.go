package email

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
)

// emailAPI is the part of the Resend client the sender uses.
type emailAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender delivers messages through the Resend HTTP API.
type ResendSender struct {
	emails emailAPI
}

// NewResendSender creates a sender authenticated with apiKey.
func NewResendSender(apiKey string) *ResendSender {
	return &ResendSender{emails: resend.NewClient(apiKey).Emails}
}

// Send delivers msg.
func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	_, err := s.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    msg.From,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("sending email via resend: %w", err)
	}
	return nil
}
