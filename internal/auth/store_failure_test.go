package auth

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var errStoreDown = errors.New("disk I/O error")

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sql expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

func TestTokenLedger_RevokeLostRace(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE user_refresh_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL")).
		WithArgs(sqlmock.AnyArg(), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := NewTokenLedger(db).Revoke(context.Background(), 5, time.Now())
	if err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if won {
		t.Error("Revoke() should report false when no row was updated")
	}
}

func TestTokenLedger_StoreErrorsAreWrapped(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("UPDATE user_refresh_tokens").WillReturnError(errStoreDown)

	err := NewTokenLedger(db).RevokeAllForUser(context.Background(), 1, time.Now())
	if !errors.Is(err, errStoreDown) {
		t.Errorf("RevokeAllForUser() error = %v, want wrapped store error", err)
	}
}

func TestResetRequestRepository_ConsumeLostRace(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE user_reset_password_requests SET is_used = 1 WHERE id = ? AND is_used = 0")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	req := &ResetPasswordRequest{ID: 3, UserID: 7}
	won, err := NewResetRequestRepository(db).Consume(context.Background(), req, "hash", time.Now())
	if err != nil || won {
		t.Errorf("Consume() = %v, %v, want false, nil", won, err)
	}
}

func TestResetRequestRepository_ConsumeRollsBackOnStoreError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE user_reset_password_requests SET is_used = 1 WHERE id = ? AND is_used = 0")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash = ? WHERE id = ?")).
		WithArgs("hash", int64(7)).
		WillReturnError(errStoreDown)
	mock.ExpectRollback()

	req := &ResetPasswordRequest{ID: 3, UserID: 7}
	won, err := NewResetRequestRepository(db).Consume(context.Background(), req, "hash", time.Now())
	if !errors.Is(err, errStoreDown) {
		t.Errorf("Consume() error = %v, want wrapped store error", err)
	}
	if won {
		t.Error("Consume() should not report a win when the transaction rolled back")
	}
}

func TestService_StoreFailureIsNotACredentialError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE email = ?").
		WithArgs("user@example.com").
		WillReturnError(errStoreDown)

	codec, _ := NewCodec(testSecret, DefaultIssuer)
	svc, err := NewService(Deps{
		Config:        Config{FrontendResetLink: "https://app.example.com/set-password"},
		Codec:         codec,
		Hasher:        testHasher(),
		Users:         NewUserRepository(db),
		Organizations: NewOrganizationRepository(db),
		Tokens:        NewTokenLedger(db),
		ResetRequests: NewResetRequestRepository(db),
		Gateways:      NewGatewayRepository(db),
		Mailer:        &fakeMailer{},
		Logger:        discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	_, err = svc.Login(context.Background(), "user@example.com", "pw")
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() error = %v, want a store error", err)
	}
	if !errors.Is(err, errStoreDown) {
		t.Errorf("Login() error = %v, want wrapped store error", err)
	}
}

func TestService_RefreshLosesCompareAndSet(t *testing.T) {
	clock := newTestClock()
	codec, _ := NewCodec(testSecret, DefaultIssuer, WithCodecClock(clock.Now))
	token, err := codec.IssueUserRefreshToken(7, "jti-race", clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("IssueUserRefreshToken() error = %v", err)
	}

	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT (.+) FROM user_refresh_tokens WHERE user_id = \\? AND jti = \\?").
		WithArgs(int64(7), "jti-race").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "jti", "created_at", "valid_until", "revoked_at"}).
			AddRow(int64(1), int64(7), "jti-race", "2026-03-01T12:00:00.000000Z", "2026-03-01T13:00:00.000000Z", nil))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id = \\?").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "role", "email", "password_hash", "name", "deleted_at", "created_at"}).
			AddRow(int64(7), nil, "sys_admin", "race@example.com", "hash", "Race", nil, "2026-03-01T12:00:00.000000Z"))
	mock.ExpectExec("UPDATE user_refresh_tokens SET revoked_at").
		WillReturnResult(sqlmock.NewResult(0, 0))

	svc, err := NewService(Deps{
		Config:        Config{FrontendResetLink: "https://app.example.com/set-password"},
		Codec:         codec,
		Hasher:        testHasher(),
		Users:         NewUserRepository(db),
		Organizations: NewOrganizationRepository(db),
		Tokens:        NewTokenLedger(db),
		ResetRequests: NewResetRequestRepository(db),
		Gateways:      NewGatewayRepository(db),
		Mailer:        &fakeMailer{},
		Logger:        discardLogger(),
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	if _, err := svc.RefreshAuth(context.Background(), token); !errors.Is(err, ErrExpired) {
		t.Errorf("RefreshAuth() error = %v, want ErrExpired", err)
	}
}
