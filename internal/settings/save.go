package settings

import (
	"context"
	"sync"
)

// UpdateFunc submits a patch for persistence.
type UpdateFunc func(ctx context.Context, patch Patch) error

// SaveOutcome reports what a Save call did.
type SaveOutcome int

const (
	// SaveIgnored means a save was already in flight; the call was dropped.
	SaveIgnored SaveOutcome = iota
	// SaveNoChanges means the patch was empty and nothing was submitted.
	SaveNoChanges
	// SaveSucceeded means the patch was persisted and the tracker rebaselined.
	SaveSucceeded
	// SaveFailed means the update failed; see CurrentError.
	SaveFailed
)

func (o SaveOutcome) String() string {
	switch o {
	case SaveIgnored:
		return "ignored"
	case SaveNoChanges:
		return "no changes"
	case SaveSucceeded:
		return "saved"
	case SaveFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SaveCoordinator serializes patch submission for one entity. At most one
// UpdateFunc runs at a time; a Save issued while one is in flight is
// dropped, not queued.
type SaveCoordinator struct {
	mu      sync.Mutex
	saving  bool
	lastErr string
	hasErr  bool

	events emitter
}

// NewSaveCoordinator creates an idle coordinator.
func NewSaveCoordinator() *SaveCoordinator {
	return &SaveCoordinator{}
}

// Save submits tracker.Diff() through update. Failures are kept as local
// error state and never returned. On success the tracker is rebaselined to
// its baseline merged with the submitted patch. The lock is not held while
// update runs.
func (c *SaveCoordinator) Save(ctx context.Context, tracker *DiffTracker, update UpdateFunc) SaveOutcome {
	c.mu.Lock()
	if c.saving {
		c.mu.Unlock()
		return SaveIgnored
	}
	c.saving = true
	c.lastErr, c.hasErr = "", false
	c.mu.Unlock()
	c.events.emit(Event{Kind: EventSaveStarted})

	patch := tracker.Diff()
	if len(patch) == 0 {
		c.finish("", false)
		return SaveNoChanges
	}

	if err := update(ctx, patch); err != nil {
		c.finish(failureMessage(err), true)
		return SaveFailed
	}

	// The patch came out of the tracker's own draft, so it always passes
	// the checks Rebaseline applies.
	_ = tracker.Rebaseline(Merge(tracker.Baseline(), patch))
	c.finish("", false)
	return SaveSucceeded
}

func (c *SaveCoordinator) finish(msg string, failed bool) {
	c.mu.Lock()
	c.saving = false
	c.lastErr, c.hasErr = msg, failed
	c.mu.Unlock()
	c.events.emit(Event{Kind: EventSaveFinished, Err: msg})
}

// IsSaving reports whether an update is in flight.
func (c *SaveCoordinator) IsSaving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saving
}

// CurrentError returns the message of the last failed save. It is cleared
// when the next save starts.
func (c *SaveCoordinator) CurrentError() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr, c.hasErr
}

// Subscribe registers fn for save start and finish events.
func (c *SaveCoordinator) Subscribe(fn func(Event)) (cancel func()) {
	return c.events.subscribe(fn)
}
