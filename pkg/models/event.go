package models

import "time"

// Event names emitted on the per-task stream. Lifecycle:
// started precedes iterations precedes exactly one of complete or error.
const (
	EventStarted   = "started"
	EventIteration = "iteration"
	EventComplete  = "complete"
	EventError     = "error"
)

// TaskEvent is one message on a task's event stream.
type TaskEvent struct {
	TaskID    string         `json:"task_id"`
	Name      string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// IsTerminal reports whether the event closes the stream.
func (e TaskEvent) IsTerminal() bool {
	return e.Name == EventComplete || e.Name == EventError
}
