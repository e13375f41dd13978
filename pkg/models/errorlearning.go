package models

import "time"

// ErrorCategory is the typed classification of a recorded error.
type ErrorCategory string

const (
	ErrAPIFailure         ErrorCategory = "api_failure"
	ErrTimeout            ErrorCategory = "timeout"
	ErrRateLimited        ErrorCategory = "rate_limited"
	ErrLowConfidence      ErrorCategory = "low_confidence"
	ErrContradictions     ErrorCategory = "contradictions"
	ErrNoResults          ErrorCategory = "no_results"
	ErrValidation         ErrorCategory = "validation"
	ErrDepthExceeded      ErrorCategory = "depth_exceeded"
	ErrContextOverflow    ErrorCategory = "context_overflow"
	ErrInstrumentFailure  ErrorCategory = "instrument_failure"
	ErrArrangementFailure ErrorCategory = "arrangement_failure"
	ErrToolFailure        ErrorCategory = "tool_failure"
	ErrUnknown            ErrorCategory = "unknown"
)

// ErrorSeverity ranks recorded errors.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ErrorRecord is one observed error.
type ErrorRecord struct {
	ID         string        `json:"id"`
	Category   ErrorCategory `json:"category"`
	Severity   ErrorSeverity `json:"severity"`
	Message    string        `json:"message"`
	Instrument string        `json:"instrument,omitempty"`
	Tool       string        `json:"tool,omitempty"`
	TaskID     string        `json:"task_id,omitempty"`
	Recovered  bool          `json:"recovered"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// ErrorPattern aggregates identical (category, instrument, tool) errors.
type ErrorPattern struct {
	ID              string        `json:"id"`
	Category        ErrorCategory `json:"category"`
	Instrument      string        `json:"instrument,omitempty"`
	Tool            string        `json:"tool,omitempty"`
	OccurrenceCount int           `json:"occurrence_count"`
	FirstSeen       time.Time     `json:"first_seen"`
	LastSeen        time.Time     `json:"last_seen"`
	SuggestedAction string        `json:"suggested_action,omitempty"`
}

// ErrorStats summarizes the tracker state.
type ErrorStats struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	BySeverity   map[ErrorSeverity]int `json:"by_severity"`
	ByInstrument map[string]int        `json:"by_instrument"`
	RecoveryRate float64               `json:"recovery_rate"`
	LastHour     int                   `json:"last_hour"`
	LastDay      int                   `json:"last_day"`
	PatternCount int                   `json:"pattern_count"`
}
