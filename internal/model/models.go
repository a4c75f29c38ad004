package model

import "time"

// Role represents a permission role owned by a server (its scope).
type Role struct {
	ID          string    `json:"id"`          // UUID
	ServerID    string    `json:"server_id"`   // Scope that owns the role
	Name        string    `json:"name"`        // Display name, also the delete confirmation text
	HexColor    string    `json:"hex_color"`   // e.g. "#fff" or "#4c93ff"
	Permissions uint32    `json:"permissions"` // Bitmask over the scope's permission set
	HideRole    bool      `json:"hide_role"`   // Display members with this role along with default members
	Order       int       `json:"order"`       // Display position within the server
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a copy of the role, or nil for a nil role.
func (r *Role) Clone() *Role {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// SameSettings reports whether the editable settings of two roles match.
// Timestamps and ordering are ignored.
func SameSettings(a, b *Role) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID &&
		a.ServerID == b.ServerID &&
		a.Name == b.Name &&
		a.HexColor == b.HexColor &&
		a.Permissions == b.Permissions &&
		a.HideRole == b.HideRole
}

// SettingsOperation is a persisted record of a mutating CLI command.
type SettingsOperation struct {
	ID         int64
	Operation  string // e.g. "UpdateRole", "DeleteRole"
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time // nil while the operation is running
	Status     string     // "running", "success" or "error"
}

// ChangeRecord describes one applied settings change. It is what gets
// written to the change archive.
type ChangeRecord struct {
	ID          string         `json:"id"`
	OperationID int64          `json:"operation_id,omitempty"`
	Action      string         `json:"action"` // "update" or "delete"
	ServerID    string         `json:"server_id"`
	RoleID      string         `json:"role_id"`
	Patch       map[string]any `json:"patch,omitempty"`
	Before      *Role          `json:"before,omitempty"`
	After       *Role          `json:"after,omitempty"`
	RecordedAt  time.Time      `json:"recorded_at"`
}
