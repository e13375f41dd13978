package models

// InterventionType names the four post-task detectors.
type InterventionType string

const (
	InterventionProactive InterventionType = "proactive"
	InterventionPushback  InterventionType = "pushback"
	InterventionScoping   InterventionType = "scoping"
	InterventionEducation InterventionType = "education"
)

// Intervention is a post-task suggestion appended to suggested_followups.
type Intervention struct {
	Type       InterventionType `json:"type"`
	Message    string           `json:"message"`
	Confidence float64          `json:"confidence"`
}

// InterventionContext is the snapshot detectors evaluate after each task.
type InterventionContext struct {
	Query         string
	Summary       string
	Outcome       Outcome
	Confidence    float64
	Instrument    string
	Intent        string
	TrustLevel    int
	ErrorPatterns []ErrorPattern
	RecentQueries []string
}
