package settings

import (
	"fmt"
	"slices"
	"sync"
)

// DiffTracker holds a baseline snapshot of an entity's editable fields and
// a draft that user edits are applied to. It never touches a store: callers
// feed it baselines and read patches out of it.
type DiffTracker struct {
	schema []Field

	mu       sync.RWMutex
	baseline Snapshot
	draft    Snapshot

	events emitter
}

// NewDiffTracker creates a tracker over the given field schema. Baseline and
// draft start empty until the first Rebaseline.
func NewDiffTracker(schema []Field) *DiffTracker {
	return &DiffTracker{
		schema:   slices.Clone(schema),
		baseline: Snapshot{},
		draft:    Snapshot{},
	}
}

// Schema returns the editable fields in order.
func (t *DiffTracker) Schema() []Field {
	return slices.Clone(t.schema)
}

// SetField updates the draft value of key. The baseline is unchanged and
// nothing is persisted.
func (t *DiffTracker) SetField(key Field, value any) error {
	if !slices.Contains(t.schema, key) {
		return fmt.Errorf("%w: %q", ErrUnknownField, key)
	}
	if err := checkFieldValue(key, value); err != nil {
		return err
	}

	t.mu.Lock()
	t.draft[key] = value
	t.mu.Unlock()

	t.events.emit(Event{Kind: EventDraftChanged, Field: key})
	return nil
}

// Field returns the draft value of key, or nil if it has none.
func (t *DiffTracker) Field(key Field) any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.draft[key]
}

// Draft returns a copy of the draft snapshot.
func (t *DiffTracker) Draft() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.draft.Clone()
}

// Baseline returns a copy of the baseline snapshot.
func (t *DiffTracker) Baseline() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.baseline.Clone()
}

// Diff returns the fields whose draft value differs from the baseline.
// Values are compared with ==, so nested data is never inspected.
func (t *DiffTracker) Diff() Patch {
	t.mu.RLock()
	defer t.mu.RUnlock()

	patch := Patch{}
	for _, key := range t.schema {
		draft, base := t.draft[key], t.baseline[key]
		if draft != base {
			patch[key] = draft
		}
	}
	return patch
}

// HasPendingChanges reports whether Diff is non-empty.
func (t *DiffTracker) HasPendingChanges() bool {
	return len(t.Diff()) > 0
}

// Rebaseline replaces the baseline and resets the draft to it. Unsaved
// edits are discarded. Values are checked the way SetField checks them;
// on error nothing changes.
func (t *DiffTracker) Rebaseline(baseline Snapshot) error {
	for key, value := range baseline {
		if !slices.Contains(t.schema, key) {
			return fmt.Errorf("%w: %q", ErrUnknownField, key)
		}
		if err := checkFieldValue(key, value); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.baseline = baseline.Clone()
	t.draft = baseline.Clone()
	t.mu.Unlock()

	t.events.emit(Event{Kind: EventRebaselined})
	return nil
}

// Subscribe registers fn for draft and baseline changes.
func (t *DiffTracker) Subscribe(fn func(Event)) (cancel func()) {
	return t.events.subscribe(fn)
}
