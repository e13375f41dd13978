// Package tasks tracks background task lifecycle and cooperative
// cancellation. The manager owns the cancel funcs of running tasks; running
// jobs observe cancellation through their context at iteration boundaries.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loopsymphony/symphony/pkg/models"
)

// Task is the manager's view of one background task. Snapshots returned by
// the manager are copies; the canonical record never leaves the lock.
type Task struct {
	ID            string
	AppID         string
	UserID        string
	Query         string
	Status        models.TaskStatus
	Progress      string
	Iteration     int
	MaxIterations int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time

	cancel context.CancelFunc
}

// Manager is the process-wide task registry. All operations are serialized
// per manager; per-task state never mutates outside the lock.
type Manager struct {
	mu    sync.Mutex
	tasks map[string]*Task
	now   func() time.Time
	log   *slog.Logger
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{
		tasks: make(map[string]*Task),
		now:   time.Now,
		log:   slog.With("component", "task_manager"),
	}
}

// Register adds a task in QUEUED state.
func (m *Manager) Register(id, appID, userID, query string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[id]; exists {
		return fmt.Errorf("task %q already registered", id)
	}
	now := m.now().UTC()
	m.tasks[id] = &Task{
		ID:        id,
		AppID:     appID,
		UserID:    userID,
		Query:     query,
		Status:    models.TaskStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// Start transitions QUEUED to RUNNING and records the cancel handle.
func (m *Manager) Start(id string, cancel context.CancelFunc, maxIterations int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not registered", id)
	}
	if task.Status != models.TaskStatusQueued {
		return fmt.Errorf("task %q is %s, cannot start", id, task.Status)
	}
	task.Status = models.TaskStatusRunning
	task.MaxIterations = maxIterations
	task.cancel = cancel
	task.UpdatedAt = m.now().UTC()
	return nil
}

// UpdateProgress records the current iteration and a progress message.
func (m *Manager) UpdateProgress(id string, iteration int, progress string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok || task.Status.IsTerminal() {
		return
	}
	task.Iteration = iteration
	task.Progress = progress
	task.UpdatedAt = m.now().UTC()
}

// Complete marks the task COMPLETED.
func (m *Manager) Complete(id string) { m.finish(id, models.TaskStatusCompleted, "") }

// Fail marks the task FAILED with a message.
func (m *Manager) Fail(id, errMsg string) { m.finish(id, models.TaskStatusFailed, errMsg) }

// MarkCancelled finalizes a CANCELLING task once the running job has
// observed cancellation.
func (m *Manager) MarkCancelled(id string) { m.finish(id, models.TaskStatusCancelled, "") }

func (m *Manager) finish(id string, status models.TaskStatus, progress string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok || task.Status.IsTerminal() {
		return
	}
	now := m.now().UTC()
	task.Status = status
	if progress != "" {
		task.Progress = progress
	}
	task.UpdatedAt = now
	task.CompletedAt = &now
	task.cancel = nil
}

// Cancel requests cancellation. Returns true only on the transition to
// CANCELLING; repeat calls and unknown or terminal tasks return false.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok || task.Status.IsTerminal() || task.Status == models.TaskStatusCancelling {
		m.mu.Unlock()
		return false
	}

	cancel := task.cancel
	if task.Status == models.TaskStatusQueued {
		// Never started: finalize immediately.
		now := m.now().UTC()
		task.Status = models.TaskStatusCancelled
		task.UpdatedAt = now
		task.CompletedAt = &now
		m.mu.Unlock()
		return true
	}

	task.Status = models.TaskStatusCancelling
	task.UpdatedAt = m.now().UTC()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.log.Info("cancellation requested", "task_id", id)
	return true
}

// Get returns a snapshot of the task.
func (m *Manager) Get(id string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return Task{}, false
	}
	return snapshot(task), true
}

// GetActive returns non-terminal tasks, optionally filtered by app and
// user. Empty filter values match everything.
func (m *Manager) GetActive(appID, userID string) []Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Task
	for _, task := range m.tasks {
		if task.Status.IsTerminal() {
			continue
		}
		if appID != "" && task.AppID != appID {
			continue
		}
		if userID != "" && task.UserID != userID {
			continue
		}
		out = append(out, snapshot(task))
	}
	return out
}

// CleanupOld removes terminal tasks older than maxAge. Returns the number
// removed.
func (m *Manager) CleanupOld(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().UTC().Add(-maxAge)
	removed := 0
	for id, task := range m.tasks {
		if task.Status.IsTerminal() && task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}

func snapshot(t *Task) Task {
	cp := *t
	cp.cancel = nil
	return cp
}
