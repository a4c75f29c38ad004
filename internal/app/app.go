package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"rolectl/internal/archive"
	"rolectl/internal/config"
	"rolectl/internal/database"
	"rolectl/internal/encryption"
	"rolectl/internal/model"
	"rolectl/internal/settings"
	"rolectl/internal/watcher"
)

// ErrArchiveDisabled is returned by archive commands when no archive is configured.
var ErrArchiveDisabled = errors.New("change archive is disabled")

// RoleApp is the application layer between the CLI and the settings
// components. It constructs all dependencies from config, runs one command
// against one server's roles, and records the command in the operation log
// if it changes anything.
type RoleApp struct {
	cfg       *config.Config
	db        settings.Database
	perms     settings.PermissionSet
	encryptor settings.Encryptor
	recorder  *archive.Recorder // nil when archiving is disabled
	store     *journaledStore
	nav       *pathNavigator
	logger    *slog.Logger
	op        *Operation
	logFile   *os.File
}

// NewRoleApp creates a fully wired RoleApp from the given config.
// operation identifies the CLI command being run (e.g. "UpdateRole").
// The caller must call Close when done.
func NewRoleApp(ctx context.Context, cfg *config.Config, operation, parameters string) (*RoleApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	perms, err := settings.PermissionSetForScope(cfg.Permissions.Scope)
	if err != nil {
		return nil, err
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	arc, err := archive.NewArchiveFromConfig(cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}
	var recorder *archive.Recorder
	if arc != nil {
		if err := arc.ValidateSetup(); err != nil {
			return nil, fmt.Errorf("checking archive: %w", err)
		}
		var sealer settings.Encryptor
		if cfg.Archive.Encrypted {
			if !enc.IsConfigured() {
				return nil, fmt.Errorf("archive %q is encrypted but no keys are set up: run `rolectl config keys`", arc.Name())
			}
			sealer = enc
		}
		recorder = archive.NewRecorder(arc, sealer, nil, nil)
	}

	db, err := database.NewDatabaseFromConfig(ctx, cfg.Database, cfg.ScopeID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	db.SetLogger(&slogAdapter{l: logger})

	op := NewOperation(operation, parameters)
	return &RoleApp{
		cfg:       cfg,
		db:        db,
		perms:     perms,
		encryptor: enc,
		recorder:  recorder,
		store: &journaledStore{
			db:       db,
			recorder: recorder,
			op:       op,
			logger:   &slogAdapter{l: logger},
		},
		nav:     &pathNavigator{},
		logger:  logger,
		op:      op,
		logFile: logFile,
	}, nil
}

// ScopeID returns the server whose roles the app edits.
func (a *RoleApp) ScopeID() string {
	return a.cfg.ScopeID
}

// Permissions returns the permission set roles are edited against.
func (a *RoleApp) Permissions() settings.PermissionSet {
	return a.perms
}

// Location returns the last location the editor navigated to, if any.
func (a *RoleApp) Location() string {
	return a.nav.last
}

// persistOperation writes the operation to the log, giving it an ID.
// This should only be called right before a change is submitted.
func (a *RoleApp) persistOperation() error {
	if a.op.Persisted() {
		return nil
	}
	dbOp, err := a.db.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting settings operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

func (a *RoleApp) newEditor() *settings.RoleEditor {
	return settings.NewRoleEditor(settings.EditorDeps{
		Store:       a.db,
		Updater:     a.store,
		Deleter:     a.store,
		Navigator:   a.nav,
		Permissions: a.perms,
		Logger:      &slogAdapter{l: a.logger},
	})
}

// CreateRole adds a role named name. docs are applied to the new role's
// defaults in order.
func (a *RoleApp) CreateRole(ctx context.Context, name string, docs ...*settings.PatchDocument) (*model.Role, error) {
	role := &model.Role{ServerID: a.cfg.ScopeID, Name: name, HexColor: settings.DefaultHexColor}
	for _, doc := range docs {
		patch, err := doc.Patch(role, a.perms)
		if err != nil {
			return nil, err
		}
		if role, err = settings.ApplyPatch(role, patch); err != nil {
			return nil, err
		}
	}
	if role.Name == "" {
		return nil, fmt.Errorf("role name must not be empty")
	}

	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	created, err := a.db.CreateRole(ctx, role)
	if err != nil {
		a.op.Fail()
		return nil, err
	}
	a.logger.Info("role created", "server", created.ServerID, "role", created.ID)
	return created, nil
}

// ListRoles returns the server's roles in display order.
func (a *RoleApp) ListRoles(ctx context.Context) ([]*model.Role, error) {
	return a.db.ListRoles(ctx, a.cfg.ScopeID)
}

// RoleView is a role as the settings screen presents it.
type RoleView struct {
	Title       string
	Role        *model.Role
	Permissions []settings.PermissionEntry
}

// ShowRole loads one role through the editor.
func (a *RoleApp) ShowRole(ctx context.Context, roleID string) (*RoleView, error) {
	e := a.newEditor()
	defer e.Close()
	if err := e.Open(ctx, a.cfg.ScopeID, roleID); err != nil {
		return nil, err
	}
	return &RoleView{
		Title:       e.Title(),
		Role:        e.Role(),
		Permissions: e.PermissionEntries(),
	}, nil
}

// EditResult reports what EditRole did.
type EditResult struct {
	Title   string
	Patch   settings.Patch
	Outcome settings.SaveOutcome
	Role    *model.Role
}

// EditRole opens the role, replays docs onto the draft in order and saves
// the resulting patch. A failed save returns the service's message.
func (a *RoleApp) EditRole(ctx context.Context, roleID string, docs ...*settings.PatchDocument) (*EditResult, error) {
	e := a.newEditor()
	defer e.Close()
	if err := e.Open(ctx, a.cfg.ScopeID, roleID); err != nil {
		return nil, err
	}

	for _, doc := range docs {
		if err := doc.Apply(e); err != nil {
			return nil, fmt.Errorf("applying edits: %w", err)
		}
	}

	result := &EditResult{Title: e.Title(), Patch: e.Diff()}
	if !e.HasPendingChanges() {
		result.Outcome = settings.SaveNoChanges
		result.Role = e.Role()
		return result, nil
	}

	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	result.Outcome = e.Save(ctx)
	result.Role = e.Role()
	if result.Outcome == settings.SaveFailed {
		a.op.Fail()
		msg, _ := e.CurrentError()
		return result, fmt.Errorf("saving role: %s", msg)
	}
	return result, nil
}

// ConfirmFunc asks the user to type the confirmation text shown under title.
type ConfirmFunc func(title, confirmText string) (string, error)

// DeleteRole deletes the role once typed, or the answer from confirm when
// typed is empty, matches the role's current name exactly.
func (a *RoleApp) DeleteRole(ctx context.Context, roleID, typed string, confirm ConfirmFunc) (settings.ConfirmOutcome, error) {
	e := a.newEditor()
	defer e.Close()
	if err := e.Open(ctx, a.cfg.ScopeID, roleID); err != nil {
		return settings.ConfirmClosed, err
	}

	flow, err := e.OpenDeleteConfirmation()
	if err != nil {
		return settings.ConfirmClosed, err
	}
	defer flow.Close()

	if typed == "" && confirm != nil {
		if typed, err = confirm(flow.Title(), flow.ConfirmText()); err != nil {
			return settings.ConfirmClosed, err
		}
	}
	flow.Type(typed)
	if !flow.CanConfirm() {
		return settings.ConfirmRefused, fmt.Errorf("%w: type %q to delete", settings.ErrConfirmationMismatch, flow.ConfirmText())
	}

	if err := a.persistOperation(); err != nil {
		return settings.ConfirmClosed, err
	}
	outcome, err := e.ConfirmDelete(ctx, typed)
	switch {
	case err != nil:
		return outcome, err
	case outcome == settings.ConfirmFailed:
		a.op.Fail()
		msg, _ := flow.CurrentError()
		return outcome, fmt.Errorf("deleting role: %s", msg)
	case outcome == settings.ConfirmClosed:
		a.op.Fail()
		return outcome, settings.ErrStaleEntity
	}
	return outcome, nil
}

// WatchEvent is one change observed while watching a role.
type WatchEvent struct {
	Role *model.Role // nil once the role is gone
	Gone bool
}

// WatchRole reports every change to the role until ctx is done or the role
// is deleted. Writes to a SQLite file by other processes are picked up
// through a file watcher when watching is enabled.
func (a *RoleApp) WatchRole(ctx context.Context, roleID string, fn func(WatchEvent)) error {
	e := a.newEditor()
	defer e.Close()
	if err := e.Open(ctx, a.cfg.ScopeID, roleID); err != nil {
		return err
	}

	if path := a.databaseFile(); path != "" && a.cfg.Watch.Enabled {
		debounce := time.Duration(a.cfg.Watch.DebounceMS) * time.Millisecond
		w, err := watcher.New(path, debounce, a.db, &slogAdapter{l: a.logger})
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()
	}

	gone := make(chan struct{})
	var goneOnce sync.Once
	cancel := e.Subscribe(func(ev settings.Event) {
		switch ev.Kind {
		case settings.EventRebaselined:
			fn(WatchEvent{Role: e.Role()})
		case settings.EventEntityGone:
			fn(WatchEvent{Gone: true})
			goneOnce.Do(func() { close(gone) })
		}
	})
	defer cancel()

	select {
	case <-ctx.Done():
	case <-gone:
	}
	return nil
}

// databaseFile returns the path of a file-backed database, or "".
func (a *RoleApp) databaseFile() string {
	if f, ok := a.db.(interface{ Path() string }); ok && f.Path() != ":memory:" {
		return f.Path()
	}
	return ""
}

// History returns the most recent settings operations.
func (a *RoleApp) History(limit int) ([]*model.SettingsOperation, error) {
	return a.db.ListOperations(limit)
}

// ArchiveKeys lists the archived change records of the server, oldest first.
func (a *RoleApp) ArchiveKeys() ([]string, error) {
	if a.recorder == nil {
		return nil, ErrArchiveDisabled
	}
	return a.recorder.List(a.cfg.ScopeID)
}

// ArchiveRecord loads one change record. passphrase unlocks sealed records
// and is ignored for plain ones.
func (a *RoleApp) ArchiveRecord(key, passphrase string) (*model.ChangeRecord, error) {
	if a.recorder == nil {
		return nil, ErrArchiveDisabled
	}
	var dec settings.DecryptionContext
	if archive.IsSealed(key) {
		var err error
		if dec, err = a.encryptor.Unlock(passphrase); err != nil {
			return nil, fmt.Errorf("unlocking archive key: %w", err)
		}
	}
	return a.recorder.Load(key, dec)
}

// Close finalizes the operation and closes all resources.
func (a *RoleApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing settings operation: %w", err)
		}
	}

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
