package migrations

import (
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{"roles", "settings_operations", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	err := CheckDBMigrationStatus(db, SQLite)
	if err == nil {
		t.Fatal("CheckDBMigrationStatus() expected error for fresh database, got nil")
	}
	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckDBMigrationStatus() error = %q, want error about needing migration", err.Error())
	}
}

func TestCheckDBMigrationStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if err := CheckDBMigrationStatus(db, SQLite); err != nil {
		t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db, SQLite); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}
	if err := CheckDBMigrationStatus(db, SQLite); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
	}
}

func TestMigrateUp_UnknownDialect(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	err := MigrateUp(db, Dialect("mysql"))
	if err == nil || !strings.Contains(err.Error(), "unknown migration dialect") {
		t.Errorf("MigrateUp(mysql) error = %v, want unknown dialect error", err)
	}
}

func TestLatestVersion_DialectsInStep(t *testing.T) {
	var versions []uint
	for _, d := range []Dialect{SQLite, Postgres} {
		src, err := Source(d)
		if err != nil {
			t.Fatalf("Source(%s) error = %v", d, err)
		}
		v, err := LatestVersion(src)
		src.Close()
		if err != nil {
			t.Fatalf("LatestVersion(%s) error = %v", d, err)
		}
		versions = append(versions, v)
	}
	if versions[0] != versions[1] {
		t.Errorf("sqlite latest = %d, postgres latest = %d, want equal", versions[0], versions[1])
	}
}

func TestSchema_PermissionsRange(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	insert := `INSERT INTO roles (id, server_id, name, permissions, created_at, updated_at)
		VALUES (?, 's1', 'r', ?, datetime('now'), datetime('now'))`

	if _, err := db.Exec(insert, "r1", 4294967295); err != nil {
		t.Fatalf("insert with max permissions failed: %v", err)
	}
	if _, err := db.Exec(insert, "r2", -1); err == nil {
		t.Error("Expected check constraint violation for negative permissions, but insert succeeded")
	}
}

func TestSchema_RoleDefaults(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO roles (id, server_id, name, created_at, updated_at)
		VALUES ('r1', 's1', 'Admin', datetime('now'), datetime('now'))`)
	if err != nil {
		t.Fatalf("Failed to insert role: %v", err)
	}

	var color string
	var perms int64
	var hide bool
	err = db.QueryRow("SELECT hex_color, permissions, hide_role FROM roles WHERE id = 'r1'").Scan(&color, &perms, &hide)
	if err != nil {
		t.Fatalf("Failed to read role: %v", err)
	}
	if color != "#fff" || perms != 0 || hide {
		t.Errorf("defaults = (%q, %d, %v), want (\"#fff\", 0, false)", color, perms, hide)
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	return db
}
