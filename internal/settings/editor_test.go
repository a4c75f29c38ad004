package settings_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolectl/internal/model"
	"rolectl/internal/settings"
	"rolectl/internal/testutil"
)

func adminRole() *model.Role {
	return &model.Role{ID: "r1", ServerID: "s1", Name: "Admin", HexColor: "#ff0000", Permissions: 1}
}

func openEditor(t *testing.T, roles ...*model.Role) (*settings.RoleEditor, *testutil.FakeRoleStore, *testutil.RecordingNavigator) {
	t.Helper()
	store := testutil.NewFakeRoleStore(roles...)
	nav := &testutil.RecordingNavigator{}
	e := settings.NewRoleEditor(settings.EditorDeps{
		Store:     store,
		Updater:   store,
		Deleter:   store,
		Navigator: nav,
	})
	require.NoError(t, e.Open(context.Background(), "s1", "r1"))
	t.Cleanup(e.Close)
	return e, store, nav
}

func TestRoleEditor_Open(t *testing.T) {
	e, _, _ := openEditor(t, adminRole())

	assert.Equal(t, "Settings - Admin", e.Title())
	assert.Equal(t, "Admin", e.Name())
	assert.Equal(t, "#ff0000", e.HexColor())
	assert.Equal(t, uint32(1), e.Permissions())
	assert.False(t, e.HideRole())
	assert.False(t, e.HasPendingChanges())
	assert.Equal(t, "Save Changes", e.SaveLabel())
}

func TestRoleEditor_OpenMissingRole(t *testing.T) {
	store := testutil.NewFakeRoleStore()
	e := settings.NewRoleEditor(settings.EditorDeps{Store: store, Updater: store, Deleter: store})

	err := e.Open(context.Background(), "s1", "nope")
	assert.ErrorIs(t, err, settings.ErrEntityNotFound)
	assert.ErrorIs(t, e.SetName("x"), settings.ErrEditorNotOpen)
}

func TestRoleEditor_EditAndSave(t *testing.T) {
	e, store, _ := openEditor(t, adminRole())

	require.NoError(t, e.SetName("Moderator"))
	require.NoError(t, e.TogglePermission(16, true))
	require.NoError(t, e.TogglePermission(1, false))

	assert.Equal(t, settings.Patch{
		settings.FieldName:        "Moderator",
		settings.FieldPermissions: uint32(16),
	}, e.Diff())

	assert.Equal(t, settings.SaveSucceeded, e.Save(context.Background()))
	assert.False(t, e.HasPendingChanges())
	require.Len(t, store.Updates, 1)

	stored, err := store.Get(context.Background(), "s1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "Moderator", stored.Name)
	assert.Equal(t, uint32(16), stored.Permissions)
	assert.Equal(t, "Settings - Moderator", e.Title())
}

func TestRoleEditor_SaveWithoutChanges(t *testing.T) {
	e, store, _ := openEditor(t, adminRole())
	assert.Equal(t, settings.SaveNoChanges, e.Save(context.Background()))
	assert.Empty(t, store.Updates)
}

func TestRoleEditor_SaveFailureKeepsDraft(t *testing.T) {
	e, store, _ := openEditor(t, adminRole())
	store.SetUpdateErr(settings.NewServiceError("Forbidden"))

	require.NoError(t, e.SetHideRole(true))
	assert.Equal(t, settings.SaveFailed, e.Save(context.Background()))

	msg, ok := e.CurrentError()
	assert.True(t, ok)
	assert.Equal(t, "Forbidden", msg)
	assert.True(t, e.HideRole())
	assert.True(t, e.HasPendingChanges())
	assert.False(t, e.IsSaving())
}

func TestRoleEditor_TogglePermissionOutsideScope(t *testing.T) {
	e, _, _ := openEditor(t, adminRole())
	assert.Error(t, e.TogglePermission(64, true))
	assert.Error(t, e.TogglePermission(3, true), "only single defined bits can be toggled")
	assert.Equal(t, uint32(1), e.Permissions())
}

func TestRoleEditor_KeepsBitsFromAnotherScope(t *testing.T) {
	// MANAGE_ROLES (4) is a role-scope bit; the editor works on channel scope.
	role := &model.Role{ID: "r1", ServerID: "s1", Name: "General", HexColor: "#fff", Permissions: 4}
	store := testutil.NewFakeRoleStore(role)
	e := settings.NewRoleEditor(settings.EditorDeps{
		Store:       store,
		Updater:     store,
		Deleter:     store,
		Permissions: settings.ChannelPermissions,
	})
	require.NoError(t, e.Open(context.Background(), "s1", "r1"))
	t.Cleanup(e.Close)

	assert.Equal(t, uint32(4), e.ForeignPermissions())

	require.NoError(t, e.TogglePermission(1, true))
	assert.Equal(t, uint32(5), e.Permissions(), "the foreign bit is carried along")
	entries := e.PermissionEntries()
	require.Len(t, entries, 2)
	assert.True(t, entries[0].HasPerm)
	assert.False(t, entries[1].HasPerm)

	// New foreign bits are still refused.
	assert.Error(t, e.ApplyPatch(settings.Patch{settings.FieldPermissions: uint32(5 | 32)}))

	assert.Equal(t, settings.SaveSucceeded, e.Save(context.Background()))
	stored, err := store.Get(context.Background(), "s1", "r1")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), stored.Permissions)
}

func TestRoleEditor_PermissionEntries(t *testing.T) {
	e, _, _ := openEditor(t, adminRole())
	entries := e.PermissionEntries()
	require.Len(t, entries, 6)
	assert.Equal(t, "ADMIN", entries[0].Key)
	assert.True(t, entries[0].HasPerm)
	assert.False(t, entries[1].HasPerm)
}

func TestRoleEditor_ApplyPatch(t *testing.T) {
	e, _, _ := openEditor(t, adminRole())

	err := e.ApplyPatch(settings.Patch{settings.FieldName: "A", settings.FieldHideRole: "yes"})
	assert.ErrorIs(t, err, settings.ErrFieldType)
	assert.False(t, e.HasPendingChanges(), "a rejected patch sets nothing")

	require.NoError(t, e.ApplyPatch(settings.Patch{settings.FieldName: "A", settings.FieldHideRole: true}))
	assert.Equal(t, settings.Patch{settings.FieldName: "A", settings.FieldHideRole: true}, e.Diff())
}

func TestRoleEditor_ExternalChangeRebaselines(t *testing.T) {
	e, store, _ := openEditor(t, adminRole())
	require.NoError(t, e.SetName("Local edit"))

	changed := adminRole()
	changed.HexColor = "#00ff00"
	store.Put(changed)

	assert.Equal(t, "#00ff00", e.HexColor())
	assert.Equal(t, "Admin", e.Name(), "unsaved edits are discarded")
	assert.False(t, e.HasPendingChanges())
}

func TestRoleEditor_ExternalDeleteClosesFlow(t *testing.T) {
	e, store, nav := openEditor(t, adminRole())

	var gone bool
	e.Subscribe(func(ev settings.Event) {
		if ev.Kind == settings.EventEntityGone {
			gone = true
		}
	})

	flow, err := e.OpenDeleteConfirmation()
	require.NoError(t, err)
	flow.Type("Adm")

	store.Remove("s1", "r1")

	assert.True(t, gone)
	assert.True(t, e.Gone())
	assert.Equal(t, settings.FlowClosed, flow.State())
	_, hasErr := flow.CurrentError()
	assert.False(t, hasErr)
	assert.Empty(t, nav.Paths())

	_, err = e.OpenDeleteConfirmation()
	assert.ErrorIs(t, err, settings.ErrStaleEntity)
}

func TestRoleEditor_ConfirmDelete(t *testing.T) {
	e, store, nav := openEditor(t, adminRole())

	flow, err := e.OpenDeleteConfirmation()
	require.NoError(t, err)
	assert.Equal(t, "Delete Admin", flow.Title())

	outcome, err := e.ConfirmDelete(context.Background(), "admin")
	assert.Equal(t, settings.ConfirmRefused, outcome)
	assert.ErrorIs(t, err, settings.ErrConfirmationMismatch)
	assert.Empty(t, store.Deletes)

	outcome, err = e.ConfirmDelete(context.Background(), "Admin")
	require.NoError(t, err)
	assert.Equal(t, settings.ConfirmDeleted, outcome)
	assert.Equal(t, []string{"r1"}, store.Deletes)
	assert.Equal(t, []string{"/app/servers/s1/settings/roles"}, nav.Paths())
	assert.Equal(t, settings.FlowDeleted, flow.State())
}

func TestRoleEditor_ConfirmDeleteFailure(t *testing.T) {
	e, store, nav := openEditor(t, adminRole())
	store.SetDeleteErr(settings.NewServiceError("Missing permissions"))

	flow, err := e.OpenDeleteConfirmation()
	require.NoError(t, err)

	outcome, err := e.ConfirmDelete(context.Background(), "Admin")
	require.NoError(t, err)
	assert.Equal(t, settings.ConfirmFailed, outcome)
	msg, _ := flow.CurrentError()
	assert.Equal(t, "Missing permissions", msg)
	assert.Empty(t, nav.Paths())

	store.SetDeleteErr(nil)
	outcome, err = e.ConfirmDelete(context.Background(), "Admin")
	require.NoError(t, err)
	assert.Equal(t, settings.ConfirmDeleted, outcome)
}

func TestRoleEditor_ConfirmDeleteWithoutFlow(t *testing.T) {
	e, _, _ := openEditor(t, adminRole())
	outcome, err := e.ConfirmDelete(context.Background(), "Admin")
	assert.Error(t, err)
	assert.Equal(t, settings.ConfirmClosed, outcome)
}

func TestRoleEditor_RenameFollowsIntoFlow(t *testing.T) {
	e, store, _ := openEditor(t, adminRole())
	flow, err := e.OpenDeleteConfirmation()
	require.NoError(t, err)

	renamed := adminRole()
	renamed.Name = "Owner"
	store.Put(renamed)

	assert.Equal(t, "Owner", flow.ConfirmText())
	assert.Equal(t, "Settings - Owner", e.Title())
}
