package database

import (
	"context"
	"os"
	"testing"
	"time"

	"rolectl/internal/model"
	"rolectl/internal/settings"
)

// newTestPostgres connects to the database named by ROLECTL_TEST_POSTGRES_DSN.
// Tests are skipped when it is unset.
func newTestPostgres(t *testing.T) *SQLDatabase {
	t.Helper()

	dsn := os.Getenv("ROLECTL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ROLECTL_TEST_POSTGRES_DSN not set")
	}

	db, err := NewPostgresDatabase(dsn, nil, nil)
	if err != nil {
		t.Fatalf("NewPostgresDatabase() error = %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("Migrate() error = %v", err)
	}
	if _, err := db.DB().Exec("TRUNCATE roles, settings_operations"); err != nil {
		db.Close()
		t.Fatalf("truncating tables: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresDatabase_RoleLifecycle(t *testing.T) {
	db := newTestPostgres(t)
	ctx := context.Background()

	r := createRole(t, db, "Admin")
	if err := db.Update(ctx, "s1", r.ID, settings.Patch{settings.FieldPermissions: uint32(0xffffffff)}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, err := db.Get(ctx, "s1", r.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Permissions != 0xffffffff {
		t.Errorf("Permissions = %#x, want 0xffffffff", got.Permissions)
	}

	op, err := db.CreateOperation("DeleteRole", r.ID)
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	if err := db.Delete(ctx, "s1", r.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := db.FinishOperation(op.ID, "success"); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}
	if err := db.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
}

func TestPostgresDatabase_NotifyFeed(t *testing.T) {
	db := newTestPostgres(t)
	other := newTestPostgres(t)
	ctx := context.Background()

	r := createRole(t, db, "Admin")

	changed := make(chan *model.Role, 4)
	db.Subscribe("s1", r.ID, func(role *model.Role) { changed <- role })

	if err := other.Update(ctx, "s1", r.ID, settings.Patch{settings.FieldName: "Owner"}); err != nil {
		t.Fatalf("Update() via other connection error = %v", err)
	}

	select {
	case got := <-changed:
		if got == nil || got.Name != "Owner" {
			t.Errorf("notification = %v, want Owner", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification from the other connection")
	}
}
