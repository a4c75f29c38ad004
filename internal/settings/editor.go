package settings

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"rolectl/internal/model"
)

// EditorDeps are the collaborators of a RoleEditor.
type EditorDeps struct {
	Store       EntityStore
	Updater     UpdateService
	Deleter     DeleteService
	Navigator   Navigator
	Permissions PermissionSet
	Logger      Logger
}

// RoleEditor is the controller behind a role settings screen. It owns a
// DiffTracker and a SaveCoordinator for one role and keeps them in step with
// the store.
//
// Any change to the role observed in the store rebaselines the tracker and
// discards unsaved edits. No merge is attempted.
type RoleEditor struct {
	deps    EditorDeps
	tracker *DiffTracker
	saver   *SaveCoordinator

	mu          sync.Mutex
	scopeID     string
	roleID      string
	role        *model.Role
	gone        bool
	flow        *DeleteConfirmationFlow
	unsubscribe []func() // store and flow subscriptions of the open role

	events emitter
}

// NewRoleEditor creates an editor. Call Open before anything else.
func NewRoleEditor(deps EditorDeps) *RoleEditor {
	if deps.Logger == nil {
		deps.Logger = NewNopLogger()
	}
	if deps.Permissions == nil {
		deps.Permissions = RolePermissions
	}
	e := &RoleEditor{
		deps:    deps,
		tracker: NewDiffTracker(RoleFields),
		saver:   NewSaveCoordinator(),
	}
	e.tracker.Subscribe(e.events.emit)
	e.saver.Subscribe(e.events.emit)
	return e
}

// Open loads the role and starts following store changes. Opening another
// role replaces the baseline and drops any unsaved edits.
func (e *RoleEditor) Open(ctx context.Context, scopeID, roleID string) error {
	role, err := e.deps.Store.Get(ctx, scopeID, roleID)
	if err != nil {
		return fmt.Errorf("loading role: %w", err)
	}
	if role == nil {
		return fmt.Errorf("%w: role %s in server %s", ErrEntityNotFound, roleID, scopeID)
	}

	e.Close()

	e.mu.Lock()
	if e.flow != nil {
		e.flow.Close()
		e.flow = nil
	}
	e.scopeID, e.roleID = scopeID, roleID
	e.role = role
	e.gone = false
	e.mu.Unlock()

	if err := e.tracker.Rebaseline(SnapshotOf(role)); err != nil {
		return fmt.Errorf("loading role: %w", err)
	}
	if foreign := role.Permissions &^ e.deps.Permissions.Mask(); foreign != 0 {
		e.deps.Logger.Warn("role has permissions outside the edited scope", "role", roleID, "bits", fmt.Sprintf("%#x", foreign))
	}

	cancel := e.deps.Store.Subscribe(scopeID, roleID, e.onStoreChange)
	e.mu.Lock()
	e.unsubscribe = append(e.unsubscribe, cancel)
	e.mu.Unlock()

	e.deps.Logger.Debug("role opened", "server", scopeID, "role", roleID)
	return nil
}

// onStoreChange applies an observed store change.
func (e *RoleEditor) onStoreChange(role *model.Role) {
	e.mu.Lock()
	flow := e.flow
	roleID := e.roleID
	if role == nil {
		e.gone = true
		e.role = nil
		e.mu.Unlock()

		if flow != nil {
			flow.TargetChanged(nil)
		}
		e.deps.Logger.Info("role removed from store", "role", roleID)
		e.events.emit(Event{Kind: EventEntityGone})
		return
	}
	previous := e.role
	e.role = role
	e.gone = false
	e.mu.Unlock()

	if flow != nil {
		flow.TargetChanged(role)
	}
	if model.SameSettings(previous, role) {
		return
	}
	snap := SnapshotOf(role)
	if e.tracker.HasPendingChanges() && !maps.Equal(e.tracker.Draft(), snap) {
		e.deps.Logger.Warn("external change discarded unsaved edits", "role", role.ID)
	}
	if err := e.tracker.Rebaseline(snap); err != nil {
		e.deps.Logger.Error("rebaselining role", "role", role.ID, "error", err)
	}
}

// Role returns the last role observed in the store.
func (e *RoleEditor) Role() *model.Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role.Clone()
}

// Gone reports whether the role has been removed from the store.
func (e *RoleEditor) Gone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gone
}

// Title is the header shown for the settings screen.
func (e *RoleEditor) Title() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.role == nil {
		return "Settings - "
	}
	return "Settings - " + e.role.Name
}

// Draft accessors.

func (e *RoleEditor) Name() string {
	v, _ := e.tracker.Field(FieldName).(string)
	return v
}

func (e *RoleEditor) HexColor() string {
	v, _ := e.tracker.Field(FieldHexColor).(string)
	return v
}

func (e *RoleEditor) Permissions() uint32 {
	v, _ := e.tracker.Field(FieldPermissions).(uint32)
	return v
}

func (e *RoleEditor) HideRole() bool {
	v, _ := e.tracker.Field(FieldHideRole).(bool)
	return v
}

// PermissionEntries lists the scope's permissions against the draft bitmask.
func (e *RoleEditor) PermissionEntries() []PermissionEntry {
	return Enumerate(e.deps.Permissions, e.Permissions())
}

// ForeignPermissions returns the draft's bits that the editor's permission
// set does not define, e.g. role-scope bits while editing channel scope.
// They are carried through saves unchanged and cannot be toggled.
func (e *RoleEditor) ForeignPermissions() uint32 {
	return e.Permissions() &^ e.deps.Permissions.Mask()
}

// PermissionSet returns the permission set the editor toggles over.
func (e *RoleEditor) PermissionSet() PermissionSet {
	return e.deps.Permissions
}

// Diff returns the pending patch.
func (e *RoleEditor) Diff() Patch { return e.tracker.Diff() }

// HasPendingChanges reports whether there is anything to save.
func (e *RoleEditor) HasPendingChanges() bool { return e.tracker.HasPendingChanges() }

// IsSaving reports whether a save is in flight.
func (e *RoleEditor) IsSaving() bool { return e.saver.IsSaving() }

// CurrentError returns the last save failure.
func (e *RoleEditor) CurrentError() (string, bool) { return e.saver.CurrentError() }

// SaveLabel is the text of the save button.
func (e *RoleEditor) SaveLabel() string {
	if e.saver.IsSaving() {
		return "Saving..."
	}
	return "Save Changes"
}

// Commands.

func (e *RoleEditor) SetName(name string) error { return e.setField(FieldName, name) }

func (e *RoleEditor) SetHexColor(color string) error { return e.setField(FieldHexColor, color) }

func (e *RoleEditor) SetHideRole(hide bool) error { return e.setField(FieldHideRole, hide) }

// TogglePermission sets or clears one permission bit in the draft. The bit
// must belong to the editor's permission set.
func (e *RoleEditor) TogglePermission(bit uint32, checked bool) error {
	if !e.deps.Permissions.Defines(bit) {
		return fmt.Errorf("permission bit %#x is not part of this scope", bit)
	}
	return e.setField(FieldPermissions, Toggle(e.Permissions(), bit, checked))
}

// ApplyPatch sets every field of patch on the draft, in schema order. The
// whole patch is checked before any field is set.
func (e *RoleEditor) ApplyPatch(patch Patch) error {
	for f, v := range patch {
		if err := checkFieldValue(f, v); err != nil {
			return err
		}
	}
	for _, f := range patch.Fields(e.tracker.Schema()) {
		if err := e.setField(f, patch[f]); err != nil {
			return err
		}
	}
	return nil
}

func (e *RoleEditor) setField(f Field, v any) error {
	if !e.isOpen() {
		return ErrEditorNotOpen
	}
	if f == FieldPermissions {
		// Bits outside the scope may only be ones the stored role already has.
		base, _ := e.tracker.Baseline()[FieldPermissions].(uint32)
		if p, ok := v.(uint32); ok && !e.deps.Permissions.Contains(p&^base) {
			return fmt.Errorf("permissions %#x include bits outside this scope", p)
		}
	}
	return e.tracker.SetField(f, v)
}

func (e *RoleEditor) isOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roleID != ""
}

// Save submits the pending patch through the update service.
func (e *RoleEditor) Save(ctx context.Context) SaveOutcome {
	e.mu.Lock()
	scopeID, roleID := e.scopeID, e.roleID
	e.mu.Unlock()

	outcome := e.saver.Save(ctx, e.tracker, func(ctx context.Context, patch Patch) error {
		return e.deps.Updater.Update(ctx, scopeID, roleID, patch)
	})
	switch outcome {
	case SaveSucceeded:
		e.deps.Logger.Info("role saved", "server", scopeID, "role", roleID)
	case SaveFailed:
		msg, _ := e.saver.CurrentError()
		e.deps.Logger.Error("role save failed", "server", scopeID, "role", roleID, "error", msg)
	}
	return outcome
}

// OpenDeleteConfirmation opens the delete flow for the role. The role must
// still exist.
func (e *RoleEditor) OpenDeleteConfirmation() (*DeleteConfirmationFlow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.roleID == "" {
		return nil, ErrEditorNotOpen
	}
	if e.role == nil {
		return nil, ErrStaleEntity
	}
	if e.flow != nil && e.flow.State() != FlowClosed && e.flow.State() != FlowDeleted {
		return e.flow, nil
	}
	flow := NewDeleteConfirmationFlow(DeleteTarget{
		ScopeID:  e.scopeID,
		EntityID: e.roleID,
		Name:     e.role.Name,
	})
	e.unsubscribe = append(e.unsubscribe, flow.Subscribe(e.events.emit))
	e.flow = flow
	return flow, nil
}

// DeleteFlow returns the current delete flow, if one was opened.
func (e *RoleEditor) DeleteFlow() *DeleteConfirmationFlow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flow
}

// ConfirmDelete attempts the open delete flow with typed text. After a
// successful delete the navigator is sent to the server's role list.
func (e *RoleEditor) ConfirmDelete(ctx context.Context, typed string) (ConfirmOutcome, error) {
	e.mu.Lock()
	flow := e.flow
	scopeID, roleID := e.scopeID, e.roleID
	e.mu.Unlock()
	if flow == nil {
		return ConfirmClosed, fmt.Errorf("no delete confirmation open")
	}

	outcome := flow.AttemptConfirm(ctx, typed, func(ctx context.Context) error {
		return e.deps.Deleter.Delete(ctx, scopeID, roleID)
	})
	switch outcome {
	case ConfirmDeleted:
		e.deps.Logger.Info("role deleted", "server", scopeID, "role", roleID)
		if e.deps.Navigator != nil {
			e.deps.Navigator.GoTo(RolesListingPath(scopeID))
		}
	case ConfirmFailed:
		msg, _ := flow.CurrentError()
		e.deps.Logger.Error("role delete failed", "server", scopeID, "role", roleID, "error", msg)
	case ConfirmRefused:
		return outcome, ErrConfirmationMismatch
	}
	return outcome, nil
}

// Subscribe registers fn for every state change of the editor.
func (e *RoleEditor) Subscribe(fn func(Event)) (cancel func()) {
	return e.events.subscribe(fn)
}

// Close stops following the store and the delete flow.
func (e *RoleEditor) Close() {
	e.mu.Lock()
	cancels := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}
