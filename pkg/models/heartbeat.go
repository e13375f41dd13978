package models

import "time"

// HeartbeatRunStatus tracks a single scheduled execution.
type HeartbeatRunStatus string

const (
	HeartbeatRunPending   HeartbeatRunStatus = "pending"
	HeartbeatRunRunning   HeartbeatRunStatus = "running"
	HeartbeatRunCompleted HeartbeatRunStatus = "completed"
	HeartbeatRunFailed    HeartbeatRunStatus = "failed"
)

// Heartbeat is a recurring task definition. UserID empty means app-wide.
type Heartbeat struct {
	ID              string         `json:"id"`
	AppID           string         `json:"app_id"`
	UserID          string         `json:"user_id,omitempty"`
	Name            string         `json:"name"`
	QueryTemplate   string         `json:"query_template"`
	CronExpression  string         `json:"cron_expression"`
	Timezone        string         `json:"timezone"`
	IsActive        bool           `json:"is_active"`
	ContextTemplate map[string]any `json:"context_template,omitempty"`
	WebhookURL      string         `json:"webhook_url,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// HeartbeatCreate is the create-endpoint payload.
type HeartbeatCreate struct {
	Name            string         `json:"name" binding:"required"`
	QueryTemplate   string         `json:"query_template" binding:"required"`
	CronExpression  string         `json:"cron_expression" binding:"required"`
	Timezone        string         `json:"timezone"`
	ContextTemplate map[string]any `json:"context_template"`
	WebhookURL      string         `json:"webhook_url"`
}

// HeartbeatUpdate is the partial-update payload; nil fields are unchanged.
type HeartbeatUpdate struct {
	Name            *string         `json:"name,omitempty"`
	QueryTemplate   *string         `json:"query_template,omitempty"`
	CronExpression  *string         `json:"cron_expression,omitempty"`
	Timezone        *string         `json:"timezone,omitempty"`
	IsActive        *bool           `json:"is_active,omitempty"`
	ContextTemplate *map[string]any `json:"context_template,omitempty"`
	WebhookURL      *string         `json:"webhook_url,omitempty"`
}

// HeartbeatRun is one execution of a heartbeat.
type HeartbeatRun struct {
	ID           string             `json:"id"`
	HeartbeatID  string             `json:"heartbeat_id"`
	TaskID       string             `json:"task_id,omitempty"`
	Status       HeartbeatRunStatus `json:"status"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}
