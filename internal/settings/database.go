package settings

import (
	"context"

	"rolectl/internal/model"
)

// Database is the persistent home of roles and of the settings operation
// log. It is the EntityStore, UpdateService and DeleteService the editor is
// wired to.
type Database interface {
	EntityStore
	UpdateService
	DeleteService

	// Role operations

	// CreateRole inserts a new role. ID, Order and timestamps are assigned
	// by the database when empty.
	CreateRole(ctx context.Context, role *model.Role) (*model.Role, error)

	// ListRoles returns the roles of a server in display order.
	ListRoles(ctx context.Context, serverID string) ([]*model.Role, error)

	// Refresh re-reads every subscribed role and notifies subscribers of
	// changes made outside this process.
	Refresh(ctx context.Context) error

	// Settings operation tracking

	// CreateOperation records the start of a mutating command.
	CreateOperation(operation string, parameters string) (*model.SettingsOperation, error)

	// FinishOperation marks an operation as finished with the given status.
	FinishOperation(id int64, status string) error

	// ListOperations returns the most recent operations, newest first.
	ListOperations(limit int) ([]*model.SettingsOperation, error)

	// Maintenance

	// CheckMigrations verifies the schema is up-to-date.
	CheckMigrations() error

	// SetLogger sets where change feed failures are reported. The default
	// drops them.
	SetLogger(l Logger)

	// Close releases connections and stops change feeds.
	Close() error
}
