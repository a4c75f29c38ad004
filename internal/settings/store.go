package settings

import (
	"context"

	"rolectl/internal/model"
)

// EntityStore is the shared source of roles. It may be changed by other
// processes; subscribers are told about every change it observes.
type EntityStore interface {
	// Get returns the role, or nil with no error if it does not exist.
	Get(ctx context.Context, scopeID, entityID string) (*model.Role, error)

	// Subscribe calls fn with the new state of the role after every change.
	// fn receives nil once the role no longer exists.
	Subscribe(scopeID, entityID string, fn func(*model.Role)) (cancel func())
}

// UpdateService persists a patch. Failures carry a *ServiceError.
type UpdateService interface {
	Update(ctx context.Context, scopeID, entityID string, patch Patch) error
}

// DeleteService deletes an entity. Failures carry a *ServiceError.
type DeleteService interface {
	Delete(ctx context.Context, scopeID, entityID string) error
}

// Navigator moves the user to another location. Fire-and-forget.
type Navigator interface {
	GoTo(path string)
}

// RolesListingPath is the location of a server's role list.
func RolesListingPath(scopeID string) string {
	return "/app/servers/" + scopeID + "/settings/roles"
}

// RoleSettingsPath is the location of one role's settings.
func RoleSettingsPath(scopeID, roleID string) string {
	return RolesListingPath(scopeID) + "/" + roleID
}
