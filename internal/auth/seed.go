package auth

import (
	"context"
	"fmt"
	"log/slog"
)

// SeedSysAdmin creates the first sys_admin on an empty database and logs
// the set-password link. No email is sent: the mail transport may not be
// configured yet on first boot.
// Returns the link (empty string if seeding was skipped).
func SeedSysAdmin(ctx context.Context, svc *Service, email string, logger *slog.Logger) (string, error) {
	if email == "" {
		return "", nil
	}

	count, err := svc.users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Info("users exist, skipping sys admin seed")
		return "", nil
	}

	admin := &User{
		Role:      RoleSysAdmin,
		Email:     email,
		Name:      "System Administrator",
		CreatedAt: svc.now().UTC(),
	}
	if err := svc.users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed sys admin: %w", err)
	}

	req, code, err := svc.CreateResetPasswordRequest(ctx, email, true)
	if err != nil {
		return "", fmt.Errorf("creating seed password request: %w", err)
	}
	link := svc.ResetPasswordLink(req.ID, code, true)

	logger.Warn("seed sys admin account created",
		"email", email,
		"set_password_link", link,
		"action_required", "open the link to set a password",
	)
	return link, nil
}
