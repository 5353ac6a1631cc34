package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of a deployment run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every action succeeded or was skipped.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates an action failed and the run stopped.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run's context was cancelled between
	// actions.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// EventStatus is the lifecycle state an action reached in a report event.
type EventStatus string

const (
	// EventRunning is recorded when an action is about to be evaluated.
	EventRunning EventStatus = "running"

	// EventSkipped is recorded when the action's skip predicate held.
	EventSkipped EventStatus = "skipped"

	// EventSucceeded is recorded when the action executed successfully.
	EventSucceeded EventStatus = "succeeded"

	// EventErrored is recorded when the skip predicate or the execution failed.
	EventErrored EventStatus = "errored"
)

// IsTerminal returns true if no further event follows for the same action.
func (s EventStatus) IsTerminal() bool {
	return s == EventSkipped || s == EventSucceeded || s == EventErrored
}

// Glyph returns the marker used for the status in console output.
func (s EventStatus) Glyph() string {
	switch s {
	case EventRunning:
		return "➤"
	case EventSkipped:
		return "⇣"
	case EventSucceeded:
		return "✔"
	case EventErrored:
		return "✘"
	default:
		return "?"
	}
}

// Validate checks if the event status is valid.
func (s EventStatus) Validate() error {
	switch s {
	case EventRunning, EventSkipped, EventSucceeded, EventErrored:
		return nil
	default:
		return fmt.Errorf("invalid event status: %s", s)
	}
}

// UnmarshalJSON rejects unknown statuses.
func (s *EventStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := EventStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}

// UnmarshalJSON rejects unknown statuses.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := RunStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}
