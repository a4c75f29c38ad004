package database

import (
	"slices"
	"sync"
	"sync/atomic"

	"rolectl/internal/model"
	"rolectl/internal/settings"
)

type roleKey struct {
	serverID string
	roleID   string
}

type hubEntry struct {
	subs  map[int]func(*model.Role)
	last  *model.Role
	known bool
}

// changeHub keeps the subscribers of each role and the last state they were
// told about. A publish that matches that state is dropped, so a change seen
// both locally and through a backend change feed is delivered once.
type changeHub struct {
	mu      sync.Mutex
	next    int
	entries map[roleKey]*hubEntry

	log atomic.Pointer[loggerRef]
}

type loggerRef struct{ settings.Logger }

func newChangeHub() *changeHub {
	h := &changeHub{entries: make(map[roleKey]*hubEntry)}
	h.setLogger(nil)
	return h
}

// setLogger replaces the logger change feeds report to. It is safe to call
// while a feed is running.
func (h *changeHub) setLogger(l settings.Logger) {
	if l == nil {
		l = settings.NewNopLogger()
	}
	h.log.Store(&loggerRef{l})
}

func (h *changeHub) logger() settings.Logger {
	return h.log.Load().Logger
}

// subscribe registers fn for one role. The first publish after a role
// gains subscribers is always delivered.
func (h *changeHub) subscribe(serverID, roleID string, fn func(*model.Role)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := roleKey{serverID, roleID}
	e := h.entries[key]
	if e == nil {
		e = &hubEntry{subs: make(map[int]func(*model.Role))}
		h.entries[key] = e
	}
	id := h.next
	h.next++
	e.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(e.subs, id)
			if len(e.subs) == 0 && h.entries[key] == e {
				delete(h.entries, key)
			}
		})
	}
}

// publish delivers role (nil when deleted) to the role's subscribers if it
// differs from what they last saw. Callbacks run without the hub lock held.
func (h *changeHub) publish(serverID, roleID string, role *model.Role) {
	h.mu.Lock()
	e := h.entries[roleKey{serverID, roleID}]
	if e == nil {
		h.mu.Unlock()
		return
	}
	if e.known && model.SameSettings(e.last, role) {
		h.mu.Unlock()
		return
	}
	e.last, e.known = role.Clone(), true

	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(*model.Role), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.subs[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(role.Clone())
	}
}

// watched lists the roles that currently have subscribers.
func (h *changeHub) watched() []roleKey {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]roleKey, 0, len(h.entries))
	for k := range h.entries {
		keys = append(keys, k)
	}
	return keys
}
