package testutil

import (
	"testing"

	"rolectl/internal/database"
	"rolectl/internal/model"
)

// NewTestDatabase creates a new in-memory SQLite database with schema applied,
// using the fixed clock and sequential IDs. The database is automatically
// closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:", FixedClock(), NewStubIDGenerator())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// SeedRoles inserts roles into db, failing the test on error. IDs and
// positions left empty are assigned by the database.
func SeedRoles(t *testing.T, db *database.SQLDatabase, roles ...*model.Role) []*model.Role {
	t.Helper()

	out := make([]*model.Role, 0, len(roles))
	for _, r := range roles {
		created, err := db.CreateRole(t.Context(), r)
		if err != nil {
			t.Fatalf("seeding role %q: %v", r.Name, err)
		}
		out = append(out, created)
	}
	return out
}
