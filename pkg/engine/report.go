package engine

import (
	"sync"
	"time"
)

// Event is one entry of a report.
type Event struct {
	// Seq is the position of the event in the report, starting at 1.
	Seq int `json:"seq"`

	// Status is the lifecycle state the action reached.
	Status EventStatus `json:"status"`

	// Action is the name of the action.
	Action string `json:"action"`

	// Output is the action's output, set on succeeded events.
	Output string `json:"output,omitempty"`

	// Err is the failure, set on errored events.
	Err error `json:"-"`

	// Error is Err's message, kept for serialized reports.
	Error string `json:"error,omitempty"`

	// Timestamp is when the event was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Summary counts the terminal events of a report.
type Summary struct {
	Total     int `json:"total"`
	Skipped   int `json:"skipped"`
	Succeeded int `json:"succeeded"`
	Errored   int `json:"errored"`
}

// Report is the append-only history of action lifecycle events of one
// deployment. It is safe for a presentation layer to read while the
// executor writes.
type Report struct {
	mu     sync.RWMutex
	events []Event
	now    func() time.Time
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{now: time.Now}
}

// ReportActionRunning records that the action is about to be evaluated.
func (r *Report) ReportActionRunning(a Action) {
	r.append(Event{Status: EventRunning, Action: a.Name()})
}

// ReportActionSkipped records that the action's skip predicate held.
func (r *Report) ReportActionSkipped(a Action) {
	r.append(Event{Status: EventSkipped, Action: a.Name()})
}

// ReportActionSucceed records a successful execution with its output.
func (r *Report) ReportActionSucceed(a Action, output string) {
	r.append(Event{Status: EventSucceeded, Action: a.Name(), Output: output})
}

// ReportActionError records a failed action.
func (r *Report) ReportActionError(a Action, err error) {
	e := Event{Status: EventErrored, Action: a.Name(), Err: err}
	if err != nil {
		e.Error = err.Error()
	}
	r.append(e)
}

func (r *Report) append(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.Seq = len(r.events) + 1
	e.Timestamp = r.now()
	r.events = append(r.events, e)
}

// Events returns a copy of all events in the order they were recorded.
func (r *Report) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of events.
func (r *Report) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// Last returns the most recent event.
func (r *Report) Last() (Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}

// Summary counts the terminal events.
func (r *Report) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Summary
	for _, e := range r.events {
		switch e.Status {
		case EventSkipped:
			s.Skipped++
		case EventSucceeded:
			s.Succeeded++
		case EventErrored:
			s.Errored++
		default:
			continue
		}
		s.Total++
	}
	return s
}
