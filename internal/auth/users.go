package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

const maxNameLength = 100

// InviteUserInput describes a user to invite.
type InviteUserInput struct {
	Email          string `json:"email"`
	Name           string `json:"name"`
	Role           Role   `json:"role"`
	OrganizationID *int64 `json:"organization_id"`
}

func (in *InviteUserInput) normalize() error {
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)

	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return InvalidData("email must be a valid email address")
	}
	if in.Name == "" || utf8.RuneCountInString(in.Name) > maxNameLength {
		return InvalidData(fmt.Sprintf("name must be between 1 and %d characters", maxNameLength))
	}
	if !IsValidRole(in.Role) {
		return InvalidData("role must be one of sys_admin, org_admin, org_user")
	}
	return nil
}

// InviteUser creates a user without a password and emails an invite with
// a non-expiring set-password link. Organization admins invite into their
// own organization only; system admins choose the organization, which is
// dropped for new system admins.
func (s *Service) InviteUser(ctx context.Context, actor UserIdentity, in InviteUserInput) (*User, error) {
	if !HasPermission(actor.Role, PermUserInvite) {
		return nil, Unauthorized("Prohibited to create users.")
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}

	orgID := in.OrganizationID
	if HasPermission(actor.Role, PermUserManageAll) {
		if in.Role == RoleSysAdmin {
			orgID = nil
		} else if orgID == nil {
			return nil, BadRequest("User not in a system admin role must have an organization set.")
		}
	} else {
		if in.OrganizationID != nil || in.Role == RoleSysAdmin {
			return nil, Unauthorized("Prohibited to create users outside of own organization.")
		}
		creator, err := s.activeUser(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		orgID = creator.OrganizationID
	}

	var org *Organization
	if orgID != nil {
		var err error
		org, err = s.organizations.GetByID(ctx, *orgID)
		if err != nil {
			if errors.Is(err, ErrOrganizationNotFound) {
				return nil, NotFound("organization", "Organization does not exist.")
			}
			return nil, fmt.Errorf("loading organization: %w", err)
		}
	}

	user := &User{
		OrganizationID: orgID,
		Role:           in.Role,
		Email:          in.Email,
		Name:           in.Name,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailExists) {
			return nil, BadRequest("User with the given email address already exists.")
		}
		return nil, err
	}

	req, code, err := s.CreateResetPasswordRequest(ctx, user.Email, true)
	if err != nil {
		return nil, err
	}
	link := s.ResetPasswordLink(req.ID, code, true)

	if org == nil {
		err = s.mailer.SendGeneralInvite(ctx, user.Email, user.Name, link)
	} else {
		err = s.mailer.SendOrganizationInvite(ctx, user.Email, user.Name, org.Name, link)
	}
	if err != nil {
		return nil, fmt.Errorf("sending invite email: %w", err)
	}

	s.logger.Info("user invited", "user_id", user.ID, "role", user.Role, "invited_by", actor.ID)
	return user, nil
}

// SetUserActive deactivates (soft deletes) or restores a user. Deactivation
// revokes all of the user's refresh tokens. Nobody may change their own state.
func (s *Service) SetUserActive(ctx context.Context, actor UserIdentity, id int64, active bool) (*User, error) {
	if !HasPermission(actor.Role, PermUserInvite) {
		return nil, Unauthorized("Prohibited to modify users.")
	}
	if actor.ID == id {
		return nil, Unauthorized("Prohibited to modify own active state.")
	}

	target, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, NotFound("user", "User does not exist.")
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}

	if !HasPermission(actor.Role, PermUserManageAll) {
		modifier, err := s.activeUser(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		if !sameOrganization(modifier.OrganizationID, target.OrganizationID) {
			return nil, NotFound("user", "User does not exist.")
		}
	}

	now := s.now().UTC()
	if active {
		err = s.users.SetDeletedAt(ctx, id, nil)
		target.DeletedAt = nil
	} else {
		err = s.users.SetDeletedAt(ctx, id, &now)
		target.DeletedAt = &now
	}
	if err != nil {
		return nil, err
	}
	if !active {
		if err := s.tokens.RevokeAllForUser(ctx, id, now); err != nil {
			return nil, err
		}
	}

	s.logger.Info("user active state changed", "user_id", id, "active", active, "changed_by", actor.ID)
	return target, nil
}

// activeUser loads the acting user; a vanished or deactivated actor is
// treated as unauthenticated credentials.
func (s *Service) activeUser(ctx context.Context, id int64) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if u.IsDeleted() {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func sameOrganization(a, b *int64) bool {
	return a != nil && b != nil && *a == *b
}
