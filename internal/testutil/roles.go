package testutil

import (
	"context"
	"sync"

	"rolectl/internal/model"
	"rolectl/internal/settings"
)

// FakeRoleStore is an in-memory EntityStore, UpdateService and DeleteService.
// Put and Remove simulate changes made by someone else. Safe for concurrent use.
type FakeRoleStore struct {
	mu    sync.Mutex
	roles map[string]*model.Role
	subs  map[string]map[int]func(*model.Role)
	next  int

	// UpdateErr and DeleteErr, when set, are returned instead of applying the change.
	UpdateErr error
	DeleteErr error

	Updates []settings.Patch
	Deletes []string
}

// NewFakeRoleStore creates a store holding the given roles.
func NewFakeRoleStore(roles ...*model.Role) *FakeRoleStore {
	s := &FakeRoleStore{
		roles: make(map[string]*model.Role),
		subs:  make(map[string]map[int]func(*model.Role)),
	}
	for _, r := range roles {
		s.roles[roleKey(r.ServerID, r.ID)] = r.Clone()
	}
	return s
}

func roleKey(scopeID, roleID string) string {
	return scopeID + "/" + roleID
}

func (s *FakeRoleStore) Get(_ context.Context, scopeID, roleID string) (*model.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles[roleKey(scopeID, roleID)].Clone(), nil
}

func (s *FakeRoleStore) Subscribe(scopeID, roleID string, fn func(*model.Role)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roleKey(scopeID, roleID)
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func(*model.Role))
	}
	id := s.next
	s.next++
	s.subs[key][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[key], id)
	}
}

func (s *FakeRoleStore) Update(_ context.Context, scopeID, roleID string, patch settings.Patch) error {
	s.mu.Lock()
	if s.UpdateErr != nil {
		err := s.UpdateErr
		s.mu.Unlock()
		return err
	}
	s.Updates = append(s.Updates, patch)
	key := roleKey(scopeID, roleID)
	current := s.roles[key]
	if current == nil {
		s.mu.Unlock()
		return settings.NewServiceError("Role not found")
	}
	updated, err := settings.ApplyPatch(current, patch)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.roles[key] = updated
	s.mu.Unlock()

	s.notify(key, updated)
	return nil
}

func (s *FakeRoleStore) Delete(_ context.Context, scopeID, roleID string) error {
	s.mu.Lock()
	if s.DeleteErr != nil {
		err := s.DeleteErr
		s.mu.Unlock()
		return err
	}
	s.Deletes = append(s.Deletes, roleID)
	key := roleKey(scopeID, roleID)
	delete(s.roles, key)
	s.mu.Unlock()

	s.notify(key, nil)
	return nil
}

// Put stores a role as if another client had changed it.
func (s *FakeRoleStore) Put(r *model.Role) {
	key := roleKey(r.ServerID, r.ID)
	s.mu.Lock()
	s.roles[key] = r.Clone()
	s.mu.Unlock()
	s.notify(key, r)
}

// Remove deletes a role as if another client had deleted it.
func (s *FakeRoleStore) Remove(scopeID, roleID string) {
	key := roleKey(scopeID, roleID)
	s.mu.Lock()
	delete(s.roles, key)
	s.mu.Unlock()
	s.notify(key, nil)
}

// SetUpdateErr sets the error returned by Update.
func (s *FakeRoleStore) SetUpdateErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpdateErr = err
}

// SetDeleteErr sets the error returned by Delete.
func (s *FakeRoleStore) SetDeleteErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteErr = err
}

func (s *FakeRoleStore) notify(key string, r *model.Role) {
	s.mu.Lock()
	fns := make([]func(*model.Role), 0, len(s.subs[key]))
	for _, fn := range s.subs[key] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(r.Clone())
	}
}

// RecordingNavigator remembers every path it was sent to.
type RecordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (n *RecordingNavigator) GoTo(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

// Paths returns the recorded paths in call order.
func (n *RecordingNavigator) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

var (
	_ settings.EntityStore   = (*FakeRoleStore)(nil)
	_ settings.UpdateService = (*FakeRoleStore)(nil)
	_ settings.DeleteService = (*FakeRoleStore)(nil)
	_ settings.Navigator     = (*RecordingNavigator)(nil)
)
