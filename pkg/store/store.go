// Package store persists identity, task history, and heartbeat schedules.
// Two implementations: an in-memory store for development and tests, and
// PostgreSQL for production. Runtime registries (rooms, events, approvals)
// are intentionally not persisted; rooms re-register on restart.
package store

import (
	"context"
	"errors"

	"github.com/loopsymphony/symphony/pkg/models"
)

// ErrNotFound is returned for lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Store is the persistence boundary.
type Store interface {
	// Apps.
	CreateApp(ctx context.Context, name, apiKey string) (models.App, error)
	AppByAPIKey(ctx context.Context, apiKey string) (models.App, error)

	// User profiles, created lazily on first sight per app.
	GetOrCreateUser(ctx context.Context, appID, externalID string) (models.UserProfile, error)

	// Task records. SaveTask upserts by ID.
	SaveTask(ctx context.Context, rec models.TaskRecord) error
	Task(ctx context.Context, id string) (models.TaskRecord, error)
	TasksByApp(ctx context.Context, appID string, limit int) ([]models.TaskRecord, error)

	// Per-task iteration checkpoints.
	AddIteration(ctx context.Context, it models.TaskIteration) error
	Iterations(ctx context.Context, taskID string) ([]models.TaskIteration, error)

	// Heartbeat definitions and their run history. SaveHeartbeat and
	// SaveHeartbeatRun upsert by ID, so a run transitions in place.
	SaveHeartbeat(ctx context.Context, hb models.Heartbeat) error
	Heartbeat(ctx context.Context, id string) (models.Heartbeat, error)
	Heartbeats(ctx context.Context) ([]models.Heartbeat, error)
	DeleteHeartbeat(ctx context.Context, id string) error
	SaveHeartbeatRun(ctx context.Context, run models.HeartbeatRun) error
	HeartbeatRuns(ctx context.Context, heartbeatID string, limit int) ([]models.HeartbeatRun, error)

	Close()
}
