package models

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Thoroughness controls how much effort routing allocates to a query.
type Thoroughness string

const (
	ThoroughnessQuick    Thoroughness = "quick"
	ThoroughnessBalanced Thoroughness = "balanced"
	ThoroughnessThorough Thoroughness = "thorough"
)

// CheckpointFunc records one completed iteration of a running task.
type CheckpointFunc func(ctx context.Context, iteration int, phase string, output map[string]any, duration time.Duration) error

// SpawnFunc runs a sub-task on behalf of a loop phase. Implementations must
// enforce the depth limit carried in TaskContext.
type SpawnFunc func(ctx context.Context, req *TaskRequest) (*TaskResponse, error)

// TaskContext carries per-request state between pipeline stages.
// InputResults chains serialized stage outputs; Depth guards recursive spawns.
type TaskContext struct {
	UserID              string         `json:"user_id,omitempty"`
	AppID               string         `json:"app_id,omitempty"`
	ConversationSummary string         `json:"conversation_summary,omitempty"`
	Attachments         []string       `json:"attachments,omitempty"`
	Location            string         `json:"location,omitempty"`
	InputResults        []map[string]any `json:"input_results,omitempty"`
	Depth               int            `json:"depth"`
	MaxDepth            int            `json:"max_depth"`
	Intent              string         `json:"intent,omitempty"`
	Timestamp           time.Time      `json:"timestamp"`

	Checkpoint CheckpointFunc `json:"-"`
	Spawn      SpawnFunc      `json:"-"`
}

// NewTaskContext returns a context with the spawn-depth default applied.
func NewTaskContext() *TaskContext {
	return &TaskContext{MaxDepth: 3, Timestamp: time.Now().UTC()}
}

// Clone returns a shallow copy safe to mutate per stage.
func (c *TaskContext) Clone() *TaskContext {
	if c == nil {
		return NewTaskContext()
	}
	cp := *c
	return &cp
}

// TaskPreferences are caller-supplied execution preferences.
type TaskPreferences struct {
	Thoroughness     Thoroughness `json:"thoroughness,omitempty"`
	TrustLevel       int          `json:"trust_level"`
	NotifyOnComplete bool         `json:"notify_on_complete"`
	MaxSpawnDepth    *int         `json:"max_spawn_depth,omitempty"`
}

// TaskRequest is the unit of work submitted by a client. Immutable after
// submission.
type TaskRequest struct {
	ID          string           `json:"id"`
	Query       string           `json:"query" binding:"required"`
	Context     *TaskContext     `json:"context,omitempty"`
	Preferences *TaskPreferences `json:"preferences,omitempty"`
}

// EnsureID assigns a fresh UUID when the caller did not provide one.
func (r *TaskRequest) EnsureID() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
}

// Thoroughness returns the effective thoroughness preference.
func (r *TaskRequest) Thoroughness() Thoroughness {
	if r.Preferences == nil || r.Preferences.Thoroughness == "" {
		return ThoroughnessBalanced
	}
	return r.Preferences.Thoroughness
}

// TrustLevel returns the caller-declared trust level, clamped to [0,3].
func (r *TaskRequest) TrustLevel() int {
	if r.Preferences == nil {
		return 0
	}
	lvl := r.Preferences.TrustLevel
	if lvl < 0 {
		return 0
	}
	if lvl > 3 {
		return 3
	}
	return lvl
}

// TaskPlan is the execution plan returned instead of a result when the
// policy gate requires approval at trust level 0.
type TaskPlan struct {
	TaskID              string      `json:"task_id"`
	Query               string      `json:"query"`
	Instrument          string      `json:"instrument"`
	ProcessType         ProcessType `json:"process_type"`
	EstimatedIterations int         `json:"estimated_iterations"`
	Description         string      `json:"description"`
	RequiresApproval    bool        `json:"requires_approval"`
	ApprovalID          string      `json:"approval_id,omitempty"`
}

// TaskSubmitResponse acknowledges task submission.
type TaskSubmitResponse struct {
	TaskID  string     `json:"task_id"`
	Status  TaskStatus `json:"status"`
	Message string     `json:"message"`
	Plan    *TaskPlan  `json:"plan,omitempty"`
}

// TaskPendingResponse reports an in-flight task.
type TaskPendingResponse struct {
	TaskID    string     `json:"task_id"`
	Status    TaskStatus `json:"status"`
	Progress  string     `json:"progress,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// TaskResponse is the full response for a finished task.
type TaskResponse struct {
	RequestID          string            `json:"request_id"`
	Outcome            Outcome           `json:"outcome"`
	Findings           []Finding         `json:"findings"`
	Summary            string            `json:"summary"`
	Confidence         float64           `json:"confidence"`
	Metadata           ExecutionMetadata `json:"metadata"`
	Discrepancy        string            `json:"discrepancy,omitempty"`
	SuggestedFollowups []string          `json:"suggested_followups,omitempty"`
}

// TaskRecord is the persisted view of a task.
type TaskRecord struct {
	ID          string        `json:"id"`
	AppID       string        `json:"app_id,omitempty"`
	UserID      string        `json:"user_id,omitempty"`
	Query       string        `json:"query"`
	Status      TaskStatus    `json:"status"`
	Response    *TaskResponse `json:"response,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// TaskIteration is one recorded checkpoint of a running task.
type TaskIteration struct {
	TaskID       string         `json:"task_id"`
	IterationNum int            `json:"iteration_num"`
	Phase        string         `json:"phase"`
	Output       map[string]any `json:"output,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
	CreatedAt    time.Time      `json:"created_at"`
}
