package app

import (
	"context"

	"rolectl/internal/archive"
	"rolectl/internal/model"
	"rolectl/internal/settings"
)

// journaledStore applies role updates and deletes through the database
// and records each applied change in the archive. An archive failure is
// logged; the change itself has already happened.
type journaledStore struct {
	db       settings.Database
	recorder *archive.Recorder // nil when archiving is disabled
	op       *Operation
	logger   settings.Logger
}

func (s *journaledStore) Update(ctx context.Context, scopeID, roleID string, patch settings.Patch) error {
	before, err := s.db.Get(ctx, scopeID, roleID)
	if err != nil {
		return err
	}
	if err := s.db.Update(ctx, scopeID, roleID, patch); err != nil {
		return err
	}
	after, err := s.db.Get(ctx, scopeID, roleID)
	if err != nil {
		s.logger.Warn("reading role after update", "role", roleID, "error", err)
	}
	s.record(&model.ChangeRecord{
		Action:   "update",
		ServerID: scopeID,
		RoleID:   roleID,
		Patch:    patch.StringKeys(),
		Before:   before,
		After:    after,
	})
	return nil
}

func (s *journaledStore) Delete(ctx context.Context, scopeID, roleID string) error {
	before, err := s.db.Get(ctx, scopeID, roleID)
	if err != nil {
		return err
	}
	if err := s.db.Delete(ctx, scopeID, roleID); err != nil {
		return err
	}
	s.record(&model.ChangeRecord{
		Action:   "delete",
		ServerID: scopeID,
		RoleID:   roleID,
		Before:   before,
	})
	return nil
}

func (s *journaledStore) record(rec *model.ChangeRecord) {
	if s.recorder == nil {
		return
	}
	if s.op != nil {
		rec.OperationID = s.op.ID
	}
	key, err := s.recorder.Record(rec)
	if err != nil {
		s.logger.Error("archiving change", "role", rec.RoleID, "action", rec.Action, "error", err)
		return
	}
	s.logger.Debug("change archived", "key", key)
}

// pathNavigator remembers where the editor asked to go; the CLI prints it.
type pathNavigator struct {
	last string
}

func (n *pathNavigator) GoTo(path string) { n.last = path }
