package auth

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/smartrack-core/internal/infrastructure/database"
	_ "github.com/nerrad567/smartrack-core/migrations" // registers the embedded schema
)

const testSecret = "test-secret-key-at-least-32-chars!"

// testDB creates a temporary SQLite database with the migrations applied.
// The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db.DB
}

// testHasher uses cheap Argon2 parameters so tests stay fast.
func testHasher() *Argon2Hasher {
	return NewArgon2Hasher(Argon2Params{Time: 1, Memory: 1024, Threads: 1})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is a settable clock shared by the codec and the service.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sentMail is one message captured by fakeMailer.
type sentMail struct {
	Kind         string
	To           string
	Name         string
	Organization string
	Link         string
	ValidFor     time.Duration
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) record(mail sentMail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, mail)
	return nil
}

func (m *fakeMailer) SendResetPassword(_ context.Context, to, name, link string, validFor time.Duration) error {
	return m.record(sentMail{Kind: "reset", To: to, Name: name, Link: link, ValidFor: validFor})
}

func (m *fakeMailer) SendGeneralInvite(_ context.Context, to, name, link string) error {
	return m.record(sentMail{Kind: "general_invite", To: to, Name: name, Link: link})
}

func (m *fakeMailer) SendOrganizationInvite(_ context.Context, to, name, organization, link string) error {
	return m.record(sentMail{Kind: "organization_invite", To: to, Name: name, Organization: organization, Link: link})
}

func (m *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail sent")
	}
	return m.sent[len(m.sent)-1]
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// testEnv is a fully wired Service over a fresh database.
type testEnv struct {
	db      *sql.DB
	svc     *Service
	codec   *Codec
	hasher  *Argon2Hasher
	clock   *testClock
	mailer  *fakeMailer
	users   *SQLiteUserRepository
	orgs    *SQLiteOrganizationRepository
	tokens  *SQLiteTokenLedger
	resets  *SQLiteResetRequestRepository
	devices *SQLiteGatewayRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testDB(t)
	clock := newTestClock()
	codec, err := NewCodec(testSecret, DefaultIssuer, WithCodecClock(clock.Now))
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	env := &testEnv{
		db:      db,
		codec:   codec,
		hasher:  testHasher(),
		clock:   clock,
		mailer:  &fakeMailer{},
		users:   NewUserRepository(db),
		orgs:    NewOrganizationRepository(db),
		tokens:  NewTokenLedger(db),
		resets:  NewResetRequestRepository(db),
		devices: NewGatewayRepository(db),
	}

	env.svc, err = NewService(Deps{
		Config: Config{
			MaxRefreshTokens:     DefaultMaxRefreshTokens,
			RefreshTokenLifetime: DefaultRefreshTokenLifetime,
			ResetRequestValidity: DefaultResetRequestValidity,
			FrontendResetLink:    "https://app.example.com/set-password",
		},
		Codec:         codec,
		Hasher:        env.hasher,
		Users:         env.users,
		Organizations: env.orgs,
		Tokens:        env.tokens,
		ResetRequests: env.resets,
		Gateways:      env.devices,
		Mailer:        env.mailer,
		Logger:        discardLogger(),
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return env
}

// seedTestOrganization inserts an organization and returns it.
func seedTestOrganization(t *testing.T, db *sql.DB, name string) *Organization {
	t.Helper()

	org := &Organization{Name: name, Active: true}
	if err := NewOrganizationRepository(db).Create(context.Background(), org); err != nil {
		t.Fatalf("creating test organization %s: %v", name, err)
	}
	return org
}

// seedTestUser inserts a user with the given password (nil for an invited
// user who has not set one). Non sys_admin users get a fresh organization
// unless orgID is given.
func seedTestUser(t *testing.T, db *sql.DB, email string, role Role, password *string, orgID *int64) *User {
	t.Helper()

	if orgID == nil && role.RequiresOrganization() {
		org := seedTestOrganization(t, db, "Org of "+email)
		orgID = &org.ID
	}

	user := &User{
		OrganizationID: orgID,
		Role:           role,
		Email:          email,
		Name:           email,
	}
	if password != nil {
		hash, err := testHasher().Hash(*password)
		if err != nil {
			t.Fatalf("hashing password: %v", err)
		}
		user.PasswordHash = &hash
	}
	if err := NewUserRepository(db).Create(context.Background(), user); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	return user
}

func ptr[T any](v T) *T {
	return &v
}
