package settings

import (
	"context"
	"sync"

	"rolectl/internal/model"
)

// FlowState is the state of a DeleteConfirmationFlow.
type FlowState int

const (
	FlowClosed FlowState = iota
	FlowOpen
	FlowConfirming
	FlowError
	FlowDeleted
)

func (s FlowState) String() string {
	switch s {
	case FlowClosed:
		return "closed"
	case FlowOpen:
		return "open"
	case FlowConfirming:
		return "confirming"
	case FlowError:
		return "error"
	case FlowDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// DeleteTarget identifies the entity a flow deletes. Name is the text the
// user has to type.
type DeleteTarget struct {
	ScopeID  string
	EntityID string
	Name     string
}

// DeleteFunc performs the destructive action.
type DeleteFunc func(ctx context.Context) error

// ConfirmOutcome reports what an AttemptConfirm call did.
type ConfirmOutcome int

const (
	// ConfirmRefused means the typed text did not match; nothing was called.
	ConfirmRefused ConfirmOutcome = iota
	// ConfirmBusy means a delete was already in flight.
	ConfirmBusy
	// ConfirmClosed means the flow was closed or already finished.
	ConfirmClosed
	// ConfirmDeleted means the entity was deleted; the flow is terminal.
	ConfirmDeleted
	// ConfirmFailed means the delete failed; the flow stays open for retry.
	ConfirmFailed
)

func (o ConfirmOutcome) String() string {
	switch o {
	case ConfirmRefused:
		return "refused"
	case ConfirmBusy:
		return "busy"
	case ConfirmClosed:
		return "closed"
	case ConfirmDeleted:
		return "deleted"
	case ConfirmFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DeleteConfirmationFlow gates a destructive action behind typing the
// entity's current name exactly.
//
// Open -> Confirming -> Deleted, and Confirming -> Error -> Confirming when
// the delete fails. Close from any non-terminal state discards typed input.
type DeleteConfirmationFlow struct {
	mu       sync.Mutex
	target   DeleteTarget
	state    FlowState
	typed    string
	inFlight bool
	gone     bool // target vanished while a delete was in flight
	lastErr  string
	hasErr   bool

	events emitter
}

// NewDeleteConfirmationFlow opens a flow for target.
func NewDeleteConfirmationFlow(target DeleteTarget) *DeleteConfirmationFlow {
	return &DeleteConfirmationFlow{target: target, state: FlowOpen}
}

// Title is the heading shown above the confirmation input.
func (f *DeleteConfirmationFlow) Title() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "Delete " + f.target.Name
}

// Target returns the entity being deleted.
func (f *DeleteConfirmationFlow) Target() DeleteTarget {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target
}

// ConfirmText is the text the user must type.
func (f *DeleteConfirmationFlow) ConfirmText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target.Name
}

// State returns the current state.
func (f *DeleteConfirmationFlow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// CurrentError returns the message of the last failed attempt.
func (f *DeleteConfirmationFlow) CurrentError() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr, f.hasErr
}

// Type records the text typed so far.
func (f *DeleteConfirmationFlow) Type(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active() {
		f.typed = text
	}
}

// TypedText returns the recorded input.
func (f *DeleteConfirmationFlow) TypedText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typed
}

// CanConfirm reports whether the recorded input enables the confirm action.
func (f *DeleteConfirmationFlow) CanConfirm() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active() && !f.inFlight && f.typed == f.target.Name
}

// active reports whether the flow is open and not finished. Callers hold mu.
func (f *DeleteConfirmationFlow) active() bool {
	return f.state != FlowClosed && f.state != FlowDeleted
}

// AttemptConfirm calls del if typed matches the target name exactly
// (case-sensitive). A failure is stored as the current error and the flow
// returns to Confirming so the user can retry.
func (f *DeleteConfirmationFlow) AttemptConfirm(ctx context.Context, typed string, del DeleteFunc) ConfirmOutcome {
	f.mu.Lock()
	if !f.active() {
		f.mu.Unlock()
		return ConfirmClosed
	}
	if f.inFlight {
		f.mu.Unlock()
		return ConfirmBusy
	}
	f.typed = typed
	if typed != f.target.Name {
		f.mu.Unlock()
		return ConfirmRefused
	}
	f.inFlight = true
	f.lastErr, f.hasErr = "", false
	f.state = FlowConfirming
	f.mu.Unlock()
	f.emitState(FlowConfirming, "")

	err := del(ctx)

	f.mu.Lock()
	f.inFlight = false
	if err == nil {
		f.state = FlowDeleted
		f.typed = ""
		f.mu.Unlock()
		f.emitState(FlowDeleted, "")
		return ConfirmDeleted
	}
	if f.gone || f.state == FlowClosed {
		// The entity is already gone or the user closed the flow; the
		// failure is not reported.
		f.state = FlowClosed
		f.typed = ""
		f.mu.Unlock()
		f.emitState(FlowClosed, "")
		return ConfirmClosed
	}
	msg := failureMessage(err)
	f.lastErr, f.hasErr = msg, true
	f.state = FlowError
	f.mu.Unlock()
	f.emitState(FlowError, msg)

	f.mu.Lock()
	if f.state == FlowError {
		f.state = FlowConfirming
	}
	f.mu.Unlock()
	f.emitState(FlowConfirming, msg)
	return ConfirmFailed
}

// TargetChanged reports the live entity from the store. A nil role closes
// the flow without entering Error; a rename updates the confirm text. If a
// delete is in flight the disappearance is expected and is resolved when
// the delete returns.
func (f *DeleteConfirmationFlow) TargetChanged(r *model.Role) {
	f.mu.Lock()
	if !f.active() {
		f.mu.Unlock()
		return
	}
	if r != nil {
		f.target.Name = r.Name
		f.mu.Unlock()
		return
	}
	if f.inFlight {
		f.gone = true
		f.mu.Unlock()
		return
	}
	f.state = FlowClosed
	f.typed = ""
	f.lastErr, f.hasErr = "", false
	f.mu.Unlock()
	f.emitState(FlowClosed, "")
}

// Close closes the flow without side effects. It is a no-op once deleted.
func (f *DeleteConfirmationFlow) Close() {
	f.mu.Lock()
	if !f.active() {
		f.mu.Unlock()
		return
	}
	f.state = FlowClosed
	f.typed = ""
	f.lastErr, f.hasErr = "", false
	f.mu.Unlock()
	f.emitState(FlowClosed, "")
}

// Subscribe registers fn for state transitions.
func (f *DeleteConfirmationFlow) Subscribe(fn func(Event)) (cancel func()) {
	return f.events.subscribe(fn)
}

func (f *DeleteConfirmationFlow) emitState(s FlowState, msg string) {
	f.events.emit(Event{Kind: EventFlowChanged, State: s, Err: msg})
}
