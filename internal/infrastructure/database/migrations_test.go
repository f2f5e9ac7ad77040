package database

import (
	"context"
	"testing"
	"testing/fstest"
	"time"
)

// testMigrations is a single reversible migration.
var testMigrations = fstest.MapFS{
	"testdata/20260101_000000_create_shelves.up.sql": {
		Data: []byte("CREATE TABLE test_shelves (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL);"),
	},
	"testdata/20260101_000000_create_shelves.down.sql": {
		Data: []byte("DROP TABLE test_shelves;"),
	},
	"testdata/README.md": {Data: []byte("ignored")},
}

// useMigrations swaps the registered migrations for the duration of a test.
func useMigrations(t *testing.T, fsys fstest.MapFS, dir string) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})
	if fsys == nil {
		MigrationsFS = nil
	} else {
		MigrationsFS = fsys
	}
	MigrationsDir = dir
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations, "testdata")
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "test_shelves") {
		t.Fatal("table test_shelves not created")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("expected 1 applied migration, got %d", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending migrations, got %d", len(pending))
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not parsed")
	}

	// Running again should be idempotent
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrations, "testdata")
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "test_shelves") {
		t.Error("table test_shelves should have been dropped")
	}

	applied, _, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected 0 applied migrations after rollback, got %d", len(applied))
	}
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"m/20260101_000000_ok.up.sql":     {Data: []byte("CREATE TABLE ok_table (id INTEGER);")},
		"m/20260102_000000_broken.up.sql": {Data: []byte("CREATE TABLE half (id INTEGER); NOT VALID SQL;")},
	}, "m")
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}
	if !tableExists(t, db, "ok_table") {
		t.Error("first migration should remain committed")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 {
		t.Errorf("applied=%d pending=%d, want 1 and 1", len(applied), len(pending))
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	useMigrations(t, nil, ".")
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestGetMigrationStatus_Pending(t *testing.T) {
	useMigrations(t, testMigrations, "testdata")
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.createMigrationsTable(ctx); err != nil {
		t.Fatalf("createMigrationsTable() error = %v", err)
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected 0 applied, got %d", len(applied))
	}
	if len(pending) != 1 {
		t.Errorf("expected 1 pending, got %d", len(pending))
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     migrationFile
		wantOk   bool
	}{
		{"20260301_120000_smartrack_auth.up.sql", migrationFile{version: "20260301_120000", name: "smartrack_auth", up: true}, true},
		{"20260301_120000_smartrack_auth.down.sql", migrationFile{version: "20260301_120000", name: "smartrack_auth"}, true},
		{"20260401_090000_add_gateway_name.up.sql", migrationFile{version: "20260401_090000", name: "add_gateway_name", up: true}, true},
		{"20260401_090000.up.sql", migrationFile{version: "20260401_090000", name: "20260401_090000", up: true}, true},
		{"readme.txt", migrationFile{}, false},
		{"20260301_120000_smartrack_auth.sql", migrationFile{}, false},
		{"invalid.up.sql", migrationFile{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if got != tt.want {
				t.Errorf("parseMigrationFilename(%q) = %+v, want %+v", tt.filename, got, tt.want)
			}
		})
	}
}

func TestLoadMigrations_IgnoresOrphanDown(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"m/20260102_000000_second.up.sql":   {Data: []byte("SELECT 2;")},
		"m/20260101_000000_first.up.sql":    {Data: []byte("SELECT 1;")},
		"m/20260103_000000_orphan.down.sql": {Data: []byte("SELECT 3;")},
	}, "m")

	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("loadMigrations() = %d migrations, want 2", len(migrations))
	}
	if migrations[0].Name != "first" || migrations[1].Name != "second" {
		t.Errorf("order = %s, %s; want first, second", migrations[0].Name, migrations[1].Name)
	}
}
