package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the devices table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'IDLE',
			metadata TEXT NOT NULL DEFAULT '{}',
			last_seen TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func testDevice(id string) *Device {
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	return &Device{
		ID:        id,
		Status:    StatusIdle,
		Metadata:  Metadata{"model": "gw-200"},
		LastSeen:  &now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	want := testDevice("dev-1")
	if err := repo.Create(ctx, want); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.ID != want.ID || got.Status != want.Status {
		t.Errorf("GetByID() = %+v, want %+v", got, want)
	}
	if got.Metadata["model"] != "gw-200" {
		t.Errorf("Metadata = %v, want model=gw-200", got.Metadata)
	}
	if got.LastSeen == nil || !got.LastSeen.Equal(*want.LastSeen) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, want.LastSeen)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestSQLiteRepository_CreateDuplicate(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("dev-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, testDevice("dev-1")); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("second Create() error = %v, want ErrDeviceExists", err)
	}
}

func TestSQLiteRepository_NilMetadata(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	d := testDevice("dev-1")
	d.Metadata = nil
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	got, err := repo.GetByID(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Metadata != nil {
		t.Errorf("Metadata = %v, want nil", got.Metadata)
	}
}

func TestSQLiteRepository_GetNotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_ListOrderedByID(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"dev-c", "dev-a", "dev-b"} {
		if err := repo.Create(ctx, testDevice(id)); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"dev-a", "dev-b", "dev-c"}
	if len(devices) != len(want) {
		t.Fatalf("List() returned %d devices, want %d", len(devices), len(want))
	}
	for i, id := range want {
		if devices[i].ID != id {
			t.Errorf("devices[%d].ID = %s, want %s", i, devices[i].ID, id)
		}
	}
}

func TestSQLiteRepository_UpdateStatus(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("dev-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	at := time.Date(2026, 10, 2, 10, 30, 0, 0, time.UTC)
	if err := repo.UpdateStatus(ctx, "dev-1", StatusBusy, at); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusBusy {
		t.Errorf("Status = %s, want BUSY", got.Status)
	}
	if !got.UpdatedAt.Equal(at) || got.LastSeen == nil || !got.LastSeen.Equal(at) {
		t.Errorf("timestamps not bumped: updated=%v last_seen=%v", got.UpdatedAt, got.LastSeen)
	}

	if err := repo.UpdateStatus(ctx, "missing", StatusIdle, at); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("UpdateStatus(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_Touch(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("dev-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	at := time.Date(2026, 10, 3, 8, 0, 0, 0, time.UTC)
	if err := repo.Touch(ctx, "dev-1", at); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, "dev-1")
	if got.LastSeen == nil || !got.LastSeen.Equal(at) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, at)
	}
	if got.Status != StatusIdle {
		t.Errorf("Touch() changed status to %s", got.Status)
	}

	if err := repo.Touch(ctx, "missing", at); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Touch(missing) error = %v, want ErrDeviceNotFound", err)
	}
}
