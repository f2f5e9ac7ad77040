package auth

import (
	"context"
	"strings"
	"testing"
)

func TestSeedSysAdmin_CreatesOnEmptyDB(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	link, err := SeedSysAdmin(ctx, env.svc, "root@example.com", discardLogger())
	if err != nil {
		t.Fatalf("SeedSysAdmin() error = %v", err)
	}
	if !strings.HasSuffix(link, "&initialPasswordSet=true") {
		t.Errorf("link %q should be an initial set-password link", link)
	}

	admin, err := env.users.GetByEmail(ctx, "root@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if admin.Role != RoleSysAdmin || admin.OrganizationID != nil {
		t.Errorf("seeded user = %+v, want sys_admin without organization", admin)
	}
	if env.mailer.count() != 0 {
		t.Error("seeding should not send email")
	}

	id, code, _ := parseResetLink(t, link)
	if err := env.svc.SetNewUserPassword(ctx, id, code, "Bootstrap-1!"); err != nil {
		t.Fatalf("SetNewUserPassword() error = %v", err)
	}
	if _, err := env.svc.Login(ctx, "root@example.com", "Bootstrap-1!"); err != nil {
		t.Errorf("Login() after bootstrap error = %v", err)
	}
}

func TestSeedSysAdmin_SkipsWhenUsersExist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedTestUser(t, env.db, "existing@example.com", RoleSysAdmin, nil, nil)

	link, err := SeedSysAdmin(ctx, env.svc, "root@example.com", discardLogger())
	if err != nil {
		t.Fatalf("SeedSysAdmin() error = %v", err)
	}
	if link != "" {
		t.Error("SeedSysAdmin() should return empty link when users exist")
	}
	if count, _ := env.users.Count(ctx); count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestSeedSysAdmin_SkipsWithoutEmail(t *testing.T) {
	env := newTestEnv(t)

	link, err := SeedSysAdmin(context.Background(), env.svc, "", discardLogger())
	if err != nil || link != "" {
		t.Errorf("SeedSysAdmin(\"\") = %q, %v, want empty, nil", link, err)
	}
}
