package settings

import (
	"slices"
	"sync"
)

// EventKind identifies a state change reported to subscribers.
type EventKind int

const (
	EventDraftChanged EventKind = iota + 1
	EventRebaselined
	EventSaveStarted
	EventSaveFinished
	EventFlowChanged
	EventEntityGone
)

func (k EventKind) String() string {
	switch k {
	case EventDraftChanged:
		return "draft_changed"
	case EventRebaselined:
		return "rebaselined"
	case EventSaveStarted:
		return "save_started"
	case EventSaveFinished:
		return "save_finished"
	case EventFlowChanged:
		return "flow_changed"
	case EventEntityGone:
		return "entity_gone"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after a state change has been applied.
type Event struct {
	Kind  EventKind
	Field Field     // EventDraftChanged
	State FlowState // EventFlowChanged
	Err   string    // EventSaveFinished, EventFlowChanged
}

// emitter fans events out to subscribers. Callbacks run outside the lock,
// so a callback may read component state or unsubscribe itself.
type emitter struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Event)
}

func (e *emitter) subscribe(fn func(Event)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[int]func(Event))
	}
	id := e.next
	e.next++
	e.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	fns := make([]func(Event), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, e.subs[id])
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
