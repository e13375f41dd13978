package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/store"
)

const (
	// DefaultTickInterval is how often the scheduler evaluates due-ness.
	DefaultTickInterval = 60 * time.Second
	webhookTimeout      = 30 * time.Second
	maxRunsPerHeartbeat = 50
)

// Runner executes one heartbeat task. A nil error marks the run completed;
// the response, when present, is forwarded to the heartbeat's webhook.
type Runner func(ctx context.Context, hb models.Heartbeat, query string) (taskID string, resp *models.TaskResponse, err error)

// Scheduler owns heartbeat definitions, their run history, and the tick
// loop. Definitions and runs are written through to the store; the in-memory
// maps are the working set. One run per heartbeat at a time; an overdue
// heartbeat whose previous run is still executing is skipped until it
// finishes.
type Scheduler struct {
	mu         sync.Mutex
	heartbeats map[string]*models.Heartbeat
	runs       map[string][]models.HeartbeatRun
	lastOK     map[string]time.Time
	inFlight   map[string]bool

	store   store.Store
	runner  Runner
	tick    time.Duration
	now     func() time.Time
	http    *http.Client
	log     *slog.Logger
	stopCh  chan struct{}
	stopped sync.Once
}

// NewScheduler returns a stopped scheduler; call Load to pick up persisted
// heartbeats and Run to start ticking.
func NewScheduler(st store.Store, runner Runner) *Scheduler {
	return &Scheduler{
		heartbeats: make(map[string]*models.Heartbeat),
		runs:       make(map[string][]models.HeartbeatRun),
		lastOK:     make(map[string]time.Time),
		inFlight:   make(map[string]bool),
		store:      st,
		runner:     runner,
		tick:       DefaultTickInterval,
		now:        time.Now,
		http:       &http.Client{Timeout: webhookTimeout},
		log:        slog.With("component", "heartbeat_scheduler"),
		stopCh:     make(chan struct{}),
	}
}

// Load hydrates the working set from the store. Last-success times come
// from the newest completed run of each heartbeat, so schedules resume
// where they left off across restarts.
func (s *Scheduler) Load(ctx context.Context) error {
	heartbeats, err := s.store.Heartbeats(ctx)
	if err != nil {
		return fmt.Errorf("load heartbeats: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range heartbeats {
		hb := heartbeats[i]
		s.heartbeats[hb.ID] = &hb

		runs, err := s.store.HeartbeatRuns(ctx, hb.ID, maxRunsPerHeartbeat)
		if err != nil {
			return fmt.Errorf("load runs for %s: %w", hb.ID, err)
		}
		// Store order is newest first; history is kept oldest first.
		history := make([]models.HeartbeatRun, len(runs))
		for j, run := range runs {
			history[len(runs)-1-j] = run
		}
		s.runs[hb.ID] = history
		for _, run := range runs {
			if run.Status == models.HeartbeatRunCompleted && run.CompletedAt != nil {
				s.lastOK[hb.ID] = *run.CompletedAt
				break
			}
		}
	}
	return nil
}

// Create validates and stores a heartbeat definition.
func (s *Scheduler) Create(ctx context.Context, appID, userID string, create models.HeartbeatCreate) (models.Heartbeat, error) {
	if _, err := ParseCron(create.CronExpression); err != nil {
		return models.Heartbeat{}, err
	}
	if create.Timezone != "" {
		if _, err := time.LoadLocation(create.Timezone); err != nil {
			return models.Heartbeat{}, fmt.Errorf("invalid timezone %q: %w", create.Timezone, err)
		}
	}
	if err := ValidateTemplate(create.QueryTemplate); err != nil {
		return models.Heartbeat{}, err
	}

	now := s.now().UTC()
	hb := &models.Heartbeat{
		ID:              uuid.NewString(),
		AppID:           appID,
		UserID:          userID,
		Name:            create.Name,
		QueryTemplate:   create.QueryTemplate,
		CronExpression:  create.CronExpression,
		Timezone:        create.Timezone,
		IsActive:        true,
		ContextTemplate: create.ContextTemplate,
		WebhookURL:      create.WebhookURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.SaveHeartbeat(ctx, *hb); err != nil {
		return models.Heartbeat{}, err
	}

	s.mu.Lock()
	s.heartbeats[hb.ID] = hb
	s.mu.Unlock()

	s.log.Info("heartbeat created", "heartbeat_id", hb.ID, "name", hb.Name,
		"cron", hb.CronExpression)
	return *hb, nil
}

// Update applies a partial update. Nil fields keep their current value.
func (s *Scheduler) Update(ctx context.Context, id string, update models.HeartbeatUpdate) (models.Heartbeat, error) {
	if update.CronExpression != nil {
		if _, err := ParseCron(*update.CronExpression); err != nil {
			return models.Heartbeat{}, err
		}
	}
	if update.Timezone != nil && *update.Timezone != "" {
		if _, err := time.LoadLocation(*update.Timezone); err != nil {
			return models.Heartbeat{}, fmt.Errorf("invalid timezone %q: %w", *update.Timezone, err)
		}
	}
	if update.QueryTemplate != nil {
		if err := ValidateTemplate(*update.QueryTemplate); err != nil {
			return models.Heartbeat{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hb, ok := s.heartbeats[id]
	if !ok {
		return models.Heartbeat{}, fmt.Errorf("heartbeat %q not found", id)
	}
	updated := *hb
	if update.Name != nil {
		updated.Name = *update.Name
	}
	if update.QueryTemplate != nil {
		updated.QueryTemplate = *update.QueryTemplate
	}
	if update.CronExpression != nil {
		updated.CronExpression = *update.CronExpression
	}
	if update.Timezone != nil {
		updated.Timezone = *update.Timezone
	}
	if update.IsActive != nil {
		updated.IsActive = *update.IsActive
	}
	if update.ContextTemplate != nil {
		updated.ContextTemplate = *update.ContextTemplate
	}
	if update.WebhookURL != nil {
		updated.WebhookURL = *update.WebhookURL
	}
	updated.UpdatedAt = s.now().UTC()

	if err := s.store.SaveHeartbeat(ctx, updated); err != nil {
		return models.Heartbeat{}, err
	}
	*hb = updated
	return updated, nil
}

// Delete removes a heartbeat and its run history.
func (s *Scheduler) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.heartbeats[id]; !ok {
		return false
	}
	if err := s.store.DeleteHeartbeat(ctx, id); err != nil {
		s.log.Error("heartbeat delete not persisted", "heartbeat_id", id, "error", err)
	}
	delete(s.heartbeats, id)
	delete(s.runs, id)
	delete(s.lastOK, id)
	return true
}

// Get returns one heartbeat.
func (s *Scheduler) Get(id string) (models.Heartbeat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hb, ok := s.heartbeats[id]
	if !ok {
		return models.Heartbeat{}, false
	}
	return *hb, true
}

// List returns heartbeats for the app (and user when set), sorted by name.
func (s *Scheduler) List(appID, userID string) []models.Heartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Heartbeat
	for _, hb := range s.heartbeats {
		if appID != "" && hb.AppID != appID {
			continue
		}
		if userID != "" && hb.UserID != userID {
			continue
		}
		out = append(out, *hb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Runs returns the heartbeat's run history, newest first. An executing run
// appears with status running until it finishes.
func (s *Scheduler) Runs(id string) []models.HeartbeatRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.runs[id]
	out := make([]models.HeartbeatRun, len(history))
	for i, run := range history {
		out[len(history)-1-i] = run
	}
	return out
}

// Run ticks until ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	s.log.Info("heartbeat scheduler started", "tick_interval", s.tick)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Stop terminates the tick loop. Idempotent.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
}

// Sweep evaluates due-ness once and dispatches due heartbeats. Exposed for
// deterministic tests and manual triggering.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	var due []models.Heartbeat
	for id, hb := range s.heartbeats {
		if !hb.IsActive || s.inFlight[id] {
			continue
		}
		var lastSuccess *time.Time
		if t, ok := s.lastOK[id]; ok {
			lastSuccess = &t
		}
		isDue, err := IsDue(hb.CronExpression, hb.Timezone, lastSuccess, now)
		if err != nil {
			s.log.Error("heartbeat schedule unusable", "heartbeat_id", id, "error", err)
			continue
		}
		if isDue {
			s.inFlight[id] = true
			due = append(due, *hb)
		}
	}
	s.mu.Unlock()

	for _, hb := range due {
		go s.execute(ctx, hb)
	}
}

func (s *Scheduler) execute(ctx context.Context, hb models.Heartbeat) {
	defer func() {
		s.mu.Lock()
		s.inFlight[hb.ID] = false
		s.mu.Unlock()
	}()

	// The run row exists, as running, before any work happens.
	started := s.now().UTC()
	run := models.HeartbeatRun{
		ID:          uuid.NewString(),
		HeartbeatID: hb.ID,
		Status:      models.HeartbeatRunRunning,
		StartedAt:   &started,
		CreatedAt:   started,
	}
	s.recordRun(ctx, run)

	var (
		taskID string
		resp   *models.TaskResponse
	)
	query, err := ExpandTemplate(hb.QueryTemplate, hb.Name, hb.Timezone, started)
	if err == nil {
		taskID, resp, err = s.runner(ctx, hb, query)
	}

	completed := s.now().UTC()
	run.TaskID = taskID
	run.CompletedAt = &completed
	if err != nil {
		run.Status = models.HeartbeatRunFailed
		run.ErrorMessage = err.Error()
		s.log.Warn("heartbeat run failed", "heartbeat_id", hb.ID, "error", err)
	} else {
		run.Status = models.HeartbeatRunCompleted
		s.mu.Lock()
		s.lastOK[hb.ID] = completed
		s.mu.Unlock()
	}
	s.updateRun(ctx, run)

	if hb.WebhookURL != "" {
		s.notify(ctx, hb, run, resp)
	}
}

// recordRun appends a run to the history and persists it.
func (s *Scheduler) recordRun(ctx context.Context, run models.HeartbeatRun) {
	if err := s.store.SaveHeartbeatRun(ctx, run); err != nil {
		s.log.Error("heartbeat run not persisted", "run_id", run.ID, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	history := append(s.runs[run.HeartbeatID], run)
	if len(history) > maxRunsPerHeartbeat {
		history = history[len(history)-maxRunsPerHeartbeat:]
	}
	s.runs[run.HeartbeatID] = history
}

// updateRun replaces the run with the same ID in place and persists it.
func (s *Scheduler) updateRun(ctx context.Context, run models.HeartbeatRun) {
	if err := s.store.SaveHeartbeatRun(ctx, run); err != nil {
		s.log.Error("heartbeat run not persisted", "run_id", run.ID, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.runs[run.HeartbeatID]
	for i := range history {
		if history[i].ID == run.ID {
			history[i] = run
			return
		}
	}
	// Trimmed out of the window while executing; re-append.
	s.runs[run.HeartbeatID] = append(history, run)
}

// notify posts the run result to the heartbeat's webhook, for failed runs
// too. Delivery failures are logged, never propagated, and never change the
// run's status.
func (s *Scheduler) notify(ctx context.Context, hb models.Heartbeat, run models.HeartbeatRun, resp *models.TaskResponse) {
	event := "heartbeat.completed"
	if run.Status == models.HeartbeatRunFailed {
		event = "heartbeat.failed"
	}
	body := map[string]any{
		"event":               event,
		"heartbeat_id":        hb.ID,
		"heartbeat_name":      hb.Name,
		"run_id":              run.ID,
		"task_id":             run.TaskID,
		"outcome":             "",
		"confidence":          0.0,
		"summary":             run.ErrorMessage,
		"findings":            []models.Finding{},
		"suggested_followups": []string{},
		"timestamp":           s.now().UTC(),
	}
	if resp != nil {
		body["outcome"] = string(resp.Outcome)
		body["confidence"] = resp.Confidence
		body["summary"] = resp.Summary
		if resp.Findings != nil {
			body["findings"] = resp.Findings
		}
		if resp.SuggestedFollowups != nil {
			body["suggested_followups"] = resp.SuggestedFollowups
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hb.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		s.log.Warn("webhook request build failed", "heartbeat_id", hb.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := s.http.Do(req)
	if err != nil {
		s.log.Warn("webhook delivery failed", "heartbeat_id", hb.ID, "error", err)
		return
	}
	httpResp.Body.Close()
	if httpResp.StatusCode >= 300 {
		s.log.Warn("webhook rejected", "heartbeat_id", hb.ID, "status", httpResp.StatusCode)
	}
}
