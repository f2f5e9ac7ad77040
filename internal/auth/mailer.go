package auth

import (
	"context"
	"time"
)

// Mailer delivers the transactional emails of the account lifecycle.
// Links are fully built by the service; implementations only render and send.
type Mailer interface {
	// SendResetPassword mails a reset link that stops working after validFor.
	SendResetPassword(ctx context.Context, to, name, link string, validFor time.Duration) error
	SendGeneralInvite(ctx context.Context, to, name, link string) error
	SendOrganizationInvite(ctx context.Context, to, name, organization, link string) error
}
