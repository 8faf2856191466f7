package trace

import (
	"time"

	"github.com/google/uuid"
)

// #region event
// Event is a single timestamped entry in a run's decision history.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Component string         `json:"component"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
}

// #endregion event

// #region trace
// Trace is the append-only audit trail for one query run. Every retrieval,
// consumption, denial, batch decision and error lands here. The action
// sequence is deterministic for identical inputs; timestamps are not.
type Trace struct {
	RunID  string  `json:"run_id"`
	Events []Event `json:"events"`
}

// New creates an empty trace with a fresh run id.
func New() *Trace {
	return &Trace{RunID: uuid.New().String()}
}

// Add appends an event. details may be nil.
func (t *Trace) Add(component, action string, details map[string]any) {
	t.Events = append(t.Events, Event{
		Timestamp: time.Now().UTC(),
		Component: component,
		Action:    action,
		Details:   details,
	})
}

// #endregion trace

// #region accessors

// Actions returns the ordered action names, the timestamp-free view used for
// determinism comparisons.
func (t *Trace) Actions() []string {
	actions := make([]string, len(t.Events))
	for i, e := range t.Events {
		actions[i] = e.Action
	}
	return actions
}

// Find returns the first event with the given action, or nil.
func (t *Trace) Find(action string) *Event {
	for i := range t.Events {
		if t.Events[i].Action == action {
			return &t.Events[i]
		}
	}
	return nil
}

// Count returns how many events carry the given action.
func (t *Trace) Count(action string) int {
	n := 0
	for _, e := range t.Events {
		if e.Action == action {
			n++
		}
	}
	return n
}

// #endregion accessors
