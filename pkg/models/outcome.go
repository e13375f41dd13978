package models

import "strings"

// Outcome is the terminal classification of an executed task.
type Outcome string

const (
	// OutcomeComplete means the run converged above the confidence threshold.
	OutcomeComplete Outcome = "COMPLETE"
	// OutcomeSaturated means iteration stopped producing new information.
	OutcomeSaturated Outcome = "SATURATED"
	// OutcomeBounded means an iteration or resource cap was hit.
	OutcomeBounded Outcome = "BOUNDED"
	// OutcomeInconclusive means the run ended in conflict or failure.
	OutcomeInconclusive Outcome = "INCONCLUSIVE"
)

// IsSuccess reports whether the outcome counts as a success for trust
// accounting. BOUNDED and INCONCLUSIVE break success streaks.
func (o Outcome) IsSuccess() bool {
	return o == OutcomeComplete || o == OutcomeSaturated
}

// ParseOutcome normalizes a wire outcome string. Unknown values map to
// INCONCLUSIVE so remote rooms cannot inject new outcome states.
func ParseOutcome(s string) Outcome {
	switch Outcome(strings.ToUpper(strings.TrimSpace(s))) {
	case OutcomeComplete:
		return OutcomeComplete
	case OutcomeSaturated:
		return OutcomeSaturated
	case OutcomeBounded:
		return OutcomeBounded
	case OutcomeInconclusive:
		return OutcomeInconclusive
	default:
		return OutcomeInconclusive
	}
}

// TaskStatus tracks the lifecycle of a background task.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusRunning    TaskStatus = "running"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelling TaskStatus = "cancelling"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// ProcessType classifies how much deliberation a task required.
type ProcessType string

const (
	// ProcessAutonomic is a single reflexive call (Note).
	ProcessAutonomic ProcessType = "AUTONOMIC"
	// ProcessSemiAutonomic is a bounded iterative run (Research, Synthesis, Vision).
	ProcessSemiAutonomic ProcessType = "SEMI_AUTONOMIC"
	// ProcessConscious is a planned multi-instrument run (Composition, Loop).
	ProcessConscious ProcessType = "CONSCIOUS"
)
