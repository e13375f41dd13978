package models

// Finding is the atomic unit of evidence produced by an instrument.
type Finding struct {
	Content    string  `json:"content"`
	Source     string  `json:"source,omitempty"`
	Confidence float64 `json:"confidence"`
}

// ExecutionMetadata describes how a result was produced.
type ExecutionMetadata struct {
	InstrumentUsed   string      `json:"instrument_used"`
	Iterations       int         `json:"iterations"`
	DurationMs       int64       `json:"duration_ms"`
	SourcesConsulted []string    `json:"sources_consulted"`
	ProcessType      ProcessType `json:"process_type"`
	RoomID           string      `json:"room_id,omitempty"`
}

// InstrumentResult is the uniform output of every instrument, composition,
// and loop execution.
type InstrumentResult struct {
	Outcome            Outcome   `json:"outcome"`
	Findings           []Finding `json:"findings"`
	Summary            string    `json:"summary"`
	Confidence         float64   `json:"confidence"`
	Iterations         int       `json:"iterations"`
	SourcesConsulted   []string  `json:"sources_consulted"`
	Discrepancy        string    `json:"discrepancy,omitempty"`
	SuggestedFollowups []string  `json:"suggested_followups,omitempty"`
}
