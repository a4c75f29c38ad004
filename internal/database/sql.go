package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"rolectl/internal/database/migrations"
	"rolectl/internal/model"
	"rolectl/internal/settings"
)

// errRoleNotFound is the service error reported for updates and deletes of
// a role that no longer exists.
var errRoleNotFound = settings.NewServiceError("Role not found")

// SQLDatabase implements settings.Database on database/sql. The same
// queries serve SQLite and PostgreSQL; placeholders are rebound per dialect.
type SQLDatabase struct {
	db      *sql.DB
	dialect migrations.Dialect
	path    string
	clock   settings.Clock
	ids     settings.IDGenerator
	hub     *changeHub

	// stop ends a backend change feed, if one is running.
	stop func() error
}

func newSQLDatabase(db *sql.DB, dialect migrations.Dialect, path string, clock settings.Clock, ids settings.IDGenerator) *SQLDatabase {
	if clock == nil {
		clock = settings.RealClock{}
	}
	if ids == nil {
		ids = settings.UUIDGenerator{}
	}
	return &SQLDatabase{
		db:      db,
		dialect: dialect,
		path:    path,
		clock:   clock,
		ids:     ids,
		hub:     newChangeHub(),
	}
}

// rebind rewrites ? placeholders as $n for PostgreSQL.
func (s *SQLDatabase) rebind(query string) string {
	if s.dialect != migrations.Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const roleColumns = `id, server_id, name, hex_color, permissions, hide_role, position, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (*model.Role, error) {
	var r model.Role
	var perms int64
	if err := row.Scan(&r.ID, &r.ServerID, &r.Name, &r.HexColor, &perms, &r.HideRole, &r.Order, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Permissions = uint32(perms)
	return &r, nil
}

func (s *SQLDatabase) getRole(ctx context.Context, q queryer, serverID, roleID string) (*model.Role, error) {
	row := q.QueryRowContext(ctx, s.rebind(`SELECT `+roleColumns+` FROM roles WHERE server_id = ? AND id = ?`), serverID, roleID)
	r, err := scanRole(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding role: %w", err)
	}
	return r, nil
}

// Role operations

func (s *SQLDatabase) Get(ctx context.Context, serverID, roleID string) (*model.Role, error) {
	return s.getRole(ctx, s.db, serverID, roleID)
}

func (s *SQLDatabase) ListRoles(ctx context.Context, serverID string) ([]*model.Role, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+roleColumns+` FROM roles WHERE server_id = ? ORDER BY position, name`), serverID)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	var roles []*model.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	return roles, nil
}

func (s *SQLDatabase) CreateRole(ctx context.Context, role *model.Role) (*model.Role, error) {
	r := role.Clone()
	if r == nil || r.ServerID == "" || r.Name == "" {
		return nil, fmt.Errorf("creating role: server id and name are required")
	}
	if r.ID == "" {
		r.ID = s.ids.New()
	}
	if r.HexColor == "" {
		r.HexColor = settings.DefaultHexColor
	}
	now := s.clock.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if r.Order == 0 {
		var maxPos sql.NullInt64
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT MAX(position) FROM roles WHERE server_id = ?`), r.ServerID).Scan(&maxPos)
		if err != nil {
			return nil, fmt.Errorf("finding role position: %w", err)
		}
		r.Order = int(maxPos.Int64) + 1
	}

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO roles (`+roleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.ServerID, r.Name, r.HexColor, int64(r.Permissions), r.HideRole, r.Order, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.hub.publish(r.ServerID, r.ID, r)
	return r.Clone(), nil
}

// Update applies patch to the stored role. A missing role is reported as a
// service error, the way a remote settings service would.
func (s *SQLDatabase) Update(ctx context.Context, serverID, roleID string, patch settings.Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := s.getRole(ctx, tx, serverID, roleID)
	if err != nil {
		return err
	}
	if current == nil {
		return errRoleNotFound
	}

	updated, err := settings.ApplyPatch(current, patch)
	if err != nil {
		return &settings.ServiceError{Message: err.Error(), Err: err}
	}
	updated.UpdatedAt = s.clock.Now().UTC()

	_, err = tx.ExecContext(ctx, s.rebind(`UPDATE roles SET name = ?, hex_color = ?, permissions = ?, hide_role = ?, updated_at = ? WHERE server_id = ? AND id = ?`),
		updated.Name, updated.HexColor, int64(updated.Permissions), updated.HideRole, updated.UpdatedAt, serverID, roleID)
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.hub.publish(serverID, roleID, updated)
	return nil
}

func (s *SQLDatabase) Delete(ctx context.Context, serverID, roleID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM roles WHERE server_id = ? AND id = ?`), serverID, roleID)
	if err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}
	if n == 0 {
		return errRoleNotFound
	}

	s.hub.publish(serverID, roleID, nil)
	return nil
}

// Change notification

func (s *SQLDatabase) Subscribe(serverID, roleID string, fn func(*model.Role)) func() {
	return s.hub.subscribe(serverID, roleID, fn)
}

func (s *SQLDatabase) Refresh(ctx context.Context) error {
	for _, key := range s.hub.watched() {
		if err := s.refreshRole(ctx, key.serverID, key.roleID); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLDatabase) refreshRole(ctx context.Context, serverID, roleID string) error {
	r, err := s.Get(ctx, serverID, roleID)
	if err != nil {
		return fmt.Errorf("refreshing role %s: %w", roleID, err)
	}
	s.hub.publish(serverID, roleID, r)
	return nil
}

// Settings operation tracking

func (s *SQLDatabase) CreateOperation(operation string, parameters string) (*model.SettingsOperation, error) {
	op := &model.SettingsOperation{
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  s.clock.Now().UTC(),
		Status:     "running",
	}
	err := s.db.QueryRowContext(context.Background(),
		s.rebind(`INSERT INTO settings_operations (operation, parameters, started_at, status) VALUES (?, ?, ?, ?) RETURNING id`),
		op.Operation, op.Parameters, op.StartedAt, op.Status).Scan(&op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating settings operation: %w", err)
	}
	return op, nil
}

func (s *SQLDatabase) FinishOperation(id int64, status string) error {
	finished := sql.NullTime{Time: s.clock.Now().UTC(), Valid: true}
	_, err := s.db.ExecContext(context.Background(),
		s.rebind(`UPDATE settings_operations SET finished_at = ?, status = ? WHERE id = ?`),
		finished, status, id)
	if err != nil {
		return fmt.Errorf("finishing settings operation: %w", err)
	}
	return nil
}

func (s *SQLDatabase) ListOperations(limit int) ([]*model.SettingsOperation, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(context.Background(),
		s.rebind(`SELECT id, operation, parameters, started_at, finished_at, status FROM settings_operations ORDER BY id DESC LIMIT ?`),
		limit)
	if err != nil {
		return nil, fmt.Errorf("listing settings operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.SettingsOperation
	for rows.Next() {
		var op model.SettingsOperation
		var finished sql.NullTime
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &finished, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning settings operation: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			op.FinishedAt = &t
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing settings operations: %w", err)
	}
	return ops, nil
}

// Maintenance

// Path returns the database file path (or ":memory:"); empty for PostgreSQL.
func (s *SQLDatabase) Path() string {
	return s.path
}

// Migrate applies pending schema migrations.
func (s *SQLDatabase) Migrate() error {
	return migrations.MigrateUp(s.db, s.dialect)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, s.dialect)
}

// SetLogger sets where change feed failures are reported.
func (s *SQLDatabase) SetLogger(l settings.Logger) { s.hub.setLogger(l) }

// Close stops the change feed and closes the database connection.
func (s *SQLDatabase) Close() error {
	var firstErr error
	if s.stop != nil {
		firstErr = s.stop()
		s.stop = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DB exposes the underlying connection pool.
func (s *SQLDatabase) DB() *sql.DB {
	return s.db
}

var _ settings.Database = (*SQLDatabase)(nil)
