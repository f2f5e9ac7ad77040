package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func createTestGateway(t *testing.T, repo *SQLiteGatewayRepository, serial string) *GatewayDevice {
	t.Helper()
	d := &GatewayDevice{SerialNumber: serial, SecretHash: "hash-" + serial}
	if err := repo.Create(context.Background(), d); err != nil {
		t.Fatalf("Create(%s) error = %v", serial, err)
	}
	return d
}

func TestGatewayRepository_CreateAndGet(t *testing.T) {
	repo := NewGatewayRepository(testDB(t))
	ctx := context.Background()

	d := createTestGateway(t, repo, "GW-0001")
	if d.ID == 0 {
		t.Fatal("Create() should set ID")
	}

	byID, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if byID.SerialNumber != "GW-0001" || byID.SecretHash != "hash-GW-0001" {
		t.Errorf("GetByID() = %+v", byID)
	}
	if byID.LastConnected != nil {
		t.Error("new gateway should not have connected")
	}

	bySerial, err := repo.GetBySerial(ctx, "GW-0001")
	if err != nil {
		t.Fatalf("GetBySerial() error = %v", err)
	}
	if bySerial.ID != d.ID {
		t.Errorf("GetBySerial().ID = %d, want %d", bySerial.ID, d.ID)
	}

	if _, err := repo.GetBySerial(ctx, "GW-missing"); !errors.Is(err, ErrGatewayNotFound) {
		t.Errorf("GetBySerial(unknown) error = %v, want ErrGatewayNotFound", err)
	}
}

func TestGatewayRepository_DuplicateSerial(t *testing.T) {
	repo := NewGatewayRepository(testDB(t))
	createTestGateway(t, repo, "GW-DUP")

	err := repo.Create(context.Background(), &GatewayDevice{SerialNumber: "GW-DUP", SecretHash: "x"})
	if !errors.Is(err, ErrSerialExists) {
		t.Errorf("Create() error = %v, want ErrSerialExists", err)
	}
}

func TestGatewayRepository_ReplaceClearsLastConnected(t *testing.T) {
	repo := NewGatewayRepository(testDB(t))
	ctx := context.Background()
	d := createTestGateway(t, repo, "GW-OLD")
	createTestGateway(t, repo, "GW-TAKEN")

	if ok, err := repo.UpdateLastConnected(ctx, d.ID, time.Now().UTC()); err != nil || !ok {
		t.Fatalf("UpdateLastConnected() = %v, %v", ok, err)
	}

	if err := repo.Replace(ctx, d.ID, "GW-NEW", "new-hash"); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, d.ID)
	if got.SerialNumber != "GW-NEW" || got.SecretHash != "new-hash" {
		t.Errorf("Replace() stored %+v", got)
	}
	if got.LastConnected != nil {
		t.Error("Replace() should clear last_connected")
	}

	if err := repo.Replace(ctx, d.ID, "GW-TAKEN", "h"); !errors.Is(err, ErrSerialExists) {
		t.Errorf("Replace(taken serial) error = %v, want ErrSerialExists", err)
	}
	if err := repo.Replace(ctx, d.ID+100, "GW-X", "h"); !errors.Is(err, ErrGatewayNotFound) {
		t.Errorf("Replace(unknown) error = %v, want ErrGatewayNotFound", err)
	}
}

func TestGatewayRepository_ListAndDelete(t *testing.T) {
	repo := NewGatewayRepository(testDB(t))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	never := createTestGateway(t, repo, "GW-NEVER")
	early := createTestGateway(t, repo, "GW-EARLY")
	late := createTestGateway(t, repo, "GW-LATE")
	repo.UpdateLastConnected(ctx, early.ID, now)                //nolint:errcheck // test setup
	repo.UpdateLastConnected(ctx, late.ID, now.Add(time.Minute)) //nolint:errcheck // test setup

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []int64{late.ID, early.ID, never.ID}
	if len(list) != len(want) {
		t.Fatalf("List() returned %d, want %d", len(list), len(want))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("List()[%d].ID = %d, want %d", i, list[i].ID, id)
		}
	}

	if err := repo.Delete(ctx, never.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, never.ID); !errors.Is(err, ErrGatewayNotFound) {
		t.Errorf("second Delete() error = %v, want ErrGatewayNotFound", err)
	}
	if ok, err := repo.UpdateLastConnected(ctx, never.ID, now); err != nil || ok {
		t.Errorf("UpdateLastConnected(deleted) = %v, %v, want false, nil", ok, err)
	}
}
