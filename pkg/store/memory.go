package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loopsymphony/symphony/pkg/models"
)

// Memory is the in-memory store. Safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	apps       map[string]models.App
	users      map[string]models.UserProfile
	tasks      map[string]models.TaskRecord
	iterations map[string][]models.TaskIteration
	heartbeats map[string]models.Heartbeat
	hbRuns     map[string][]models.HeartbeatRun
	now        func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		apps:       make(map[string]models.App),
		users:      make(map[string]models.UserProfile),
		tasks:      make(map[string]models.TaskRecord),
		iterations: make(map[string][]models.TaskIteration),
		heartbeats: make(map[string]models.Heartbeat),
		hbRuns:     make(map[string][]models.HeartbeatRun),
		now:        time.Now,
	}
}

func (m *Memory) CreateApp(_ context.Context, name, apiKey string) (models.App, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	app := models.App{
		ID:        uuid.NewString(),
		Name:      name,
		APIKey:    apiKey,
		IsActive:  true,
		CreatedAt: m.now().UTC(),
	}
	m.apps[apiKey] = app
	return app, nil
}

func (m *Memory) AppByAPIKey(_ context.Context, apiKey string) (models.App, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[apiKey]
	if !ok {
		return models.App{}, ErrNotFound
	}
	return app, nil
}

func userKey(appID, externalID string) string { return appID + "\x00" + externalID }

func (m *Memory) GetOrCreateUser(_ context.Context, appID, externalID string) (models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	if user, ok := m.users[userKey(appID, externalID)]; ok {
		user.LastSeenAt = now
		m.users[userKey(appID, externalID)] = user
		return user, nil
	}
	user := models.UserProfile{
		ID:         uuid.NewString(),
		AppID:      appID,
		ExternalID: externalID,
		LastSeenAt: now,
		CreatedAt:  now,
	}
	m.users[userKey(appID, externalID)] = user
	return user, nil
}

func (m *Memory) SaveTask(_ context.Context, rec models.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Upserts never move the creation time, matching the SQL store.
	if existing, ok := m.tasks[rec.ID]; ok {
		rec.CreatedAt = existing.CreatedAt
	}
	m.tasks[rec.ID] = rec
	return nil
}

func (m *Memory) Task(_ context.Context, id string) (models.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[id]
	if !ok {
		return models.TaskRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) TasksByApp(_ context.Context, appID string, limit int) ([]models.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.TaskRecord
	for _, rec := range m.tasks {
		if rec.AppID == appID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AddIteration(_ context.Context, it models.TaskIteration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = m.now().UTC()
	}
	m.iterations[it.TaskID] = append(m.iterations[it.TaskID], it)
	return nil
}

func (m *Memory) Iterations(_ context.Context, taskID string) ([]models.TaskIteration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.iterations[taskID]
	out := make([]models.TaskIteration, len(history))
	copy(out, history)
	return out, nil
}

func (m *Memory) SaveHeartbeat(_ context.Context, hb models.Heartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[hb.ID] = hb
	return nil
}

func (m *Memory) Heartbeat(_ context.Context, id string) (models.Heartbeat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hb, ok := m.heartbeats[id]
	if !ok {
		return models.Heartbeat{}, ErrNotFound
	}
	return hb, nil
}

func (m *Memory) Heartbeats(_ context.Context) ([]models.Heartbeat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Heartbeat, 0, len(m.heartbeats))
	for _, hb := range m.heartbeats {
		out = append(out, hb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteHeartbeat(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.heartbeats, id)
	delete(m.hbRuns, id)
	return nil
}

func (m *Memory) SaveHeartbeatRun(_ context.Context, run models.HeartbeatRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = m.now().UTC()
	}
	history := m.hbRuns[run.HeartbeatID]
	for i, existing := range history {
		if existing.ID == run.ID {
			history[i] = run
			return nil
		}
	}
	m.hbRuns[run.HeartbeatID] = append(history, run)
	return nil
}

func (m *Memory) HeartbeatRuns(_ context.Context, heartbeatID string, limit int) ([]models.HeartbeatRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.hbRuns[heartbeatID]
	out := make([]models.HeartbeatRun, len(history))
	for i, run := range history {
		out[len(history)-1-i] = run
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() {}
