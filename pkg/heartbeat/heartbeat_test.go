package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/store"
)

func TestParseCronRejectsGarbage(t *testing.T) {
	_, err := ParseCron("not a cron")
	assert.Error(t, err)
	_, err = ParseCron("*/5 * * * *")
	assert.NoError(t, err)
}

func TestPrevScheduled(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 2, 0, 0, time.UTC)
	prev, err := PrevScheduled("*/5 * * * *", "", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC), prev)

	// Daily 09:00 in New York, evaluated at 12:02 UTC (08:02 EDT): the most
	// recent fire is yesterday's.
	prev, err = PrevScheduled("0 9 * * *", "America/New_York", now)
	require.NoError(t, err)
	loc, _ := time.LoadLocation("America/New_York")
	assert.Equal(t, time.Date(2026, 8, 23, 9, 0, 0, 0, loc), prev)
}

func TestIsDueNeverRunWithinWindow(t *testing.T) {
	// Fire at 12:00, now 12:02, never succeeded: due.
	now := time.Date(2026, 8, 24, 12, 2, 0, 0, time.UTC)
	due, err := IsDue("*/5 * * * *", "", nil, now)
	require.NoError(t, err)
	assert.True(t, due)

	// Daily at midnight, now 12:02, never succeeded: fire is 12h stale, not
	// due.
	due, err = IsDue("0 0 * * *", "", nil, now)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestIsDueComparesLastSuccess(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 2, 0, 0, time.UTC)

	before := time.Date(2026, 8, 24, 11, 58, 0, 0, time.UTC)
	due, err := IsDue("*/5 * * * *", "", &before, now)
	require.NoError(t, err)
	assert.True(t, due)

	after := time.Date(2026, 8, 24, 12, 1, 0, 0, time.UTC)
	due, err = IsDue("*/5 * * * *", "", &after, now)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestExpandTemplate(t *testing.T) {
	now := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	got, err := ExpandTemplate(
		"Good morning. It is {weekday} {date} at {time}. Run {heartbeat_name}.",
		"daily-brief", "", now)
	require.NoError(t, err)
	assert.Equal(t, "Good morning. It is Monday 2026-08-24 at 09:30. Run daily-brief.", got)
}

func TestExpandTemplateRejectsUnknownPlaceholder(t *testing.T) {
	_, err := ExpandTemplate("hello {user_name}", "hb", "", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_name")
	assert.Error(t, ValidateTemplate("hi {whatever}"))
	assert.NoError(t, ValidateTemplate("hi {date}"))
}

func okResponse(summary string) *models.TaskResponse {
	return &models.TaskResponse{
		Outcome:    models.OutcomeComplete,
		Findings:   []models.Finding{{Content: summary, Confidence: 0.9}},
		Summary:    summary,
		Confidence: 0.9,
	}
}

func newTestScheduler(runner Runner) *Scheduler {
	return NewScheduler(store.NewMemory(), runner)
}

func TestCreateValidates(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(nil)
	_, err := s.Create(ctx, "app", "u", models.HeartbeatCreate{
		Name: "bad", QueryTemplate: "q", CronExpression: "nope",
	})
	assert.Error(t, err)

	_, err = s.Create(ctx, "app", "u", models.HeartbeatCreate{
		Name: "bad-tz", QueryTemplate: "q", CronExpression: "0 9 * * *", Timezone: "Mars/Olympus",
	})
	assert.Error(t, err)

	_, err = s.Create(ctx, "app", "u", models.HeartbeatCreate{
		Name: "bad-template", QueryTemplate: "hi {nope}", CronExpression: "0 9 * * *",
	})
	assert.Error(t, err)

	hb, err := s.Create(ctx, "app", "u", models.HeartbeatCreate{
		Name: "ok", QueryTemplate: "brief for {date}", CronExpression: "0 9 * * *",
	})
	require.NoError(t, err)
	assert.True(t, hb.IsActive)
	assert.NotEmpty(t, hb.ID)
}

func TestUpdatePartial(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(nil)
	hb, err := s.Create(ctx, "app", "u", models.HeartbeatCreate{
		Name: "brief", QueryTemplate: "q", CronExpression: "0 9 * * *",
	})
	require.NoError(t, err)

	inactive := false
	name := "renamed"
	updated, err := s.Update(ctx, hb.ID, models.HeartbeatUpdate{Name: &name, IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "0 9 * * *", updated.CronExpression)

	badCron := "bogus"
	_, err = s.Update(ctx, hb.ID, models.HeartbeatUpdate{CronExpression: &badCron})
	assert.Error(t, err)

	_, err = s.Update(ctx, "missing", models.HeartbeatUpdate{Name: &name})
	assert.Error(t, err)
}

func TestSweepRunsDueHeartbeatOnce(t *testing.T) {
	var calls atomic.Int32
	var gotQuery string
	var mu sync.Mutex
	s := newTestScheduler(func(ctx context.Context, hb models.Heartbeat, query string) (string, *models.TaskResponse, error) {
		calls.Add(1)
		mu.Lock()
		gotQuery = query
		mu.Unlock()
		return "task-1", okResponse("all good"), nil
	})
	current := time.Date(2026, 8, 24, 12, 2, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	hb, err := s.Create(context.Background(), "app", "u", models.HeartbeatCreate{
		Name: "five-minute", QueryTemplate: "status at {time}", CronExpression: "*/5 * * * *",
	})
	require.NoError(t, err)

	s.Sweep(context.Background())
	waitFor(t, func() bool { return calls.Load() == 1 })

	mu.Lock()
	assert.Equal(t, "status at 12:02", gotQuery)
	mu.Unlock()

	// Success recorded at 12:02; same fire window is no longer due.
	s.Sweep(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	waitFor(t, func() bool {
		runs := s.Runs(hb.ID)
		return len(runs) == 1 && runs[0].Status == models.HeartbeatRunCompleted
	})
	runs := s.Runs(hb.ID)
	assert.Equal(t, "task-1", runs[0].TaskID)
	require.NotNil(t, runs[0].CompletedAt)

	// Next fire window: due again.
	current = time.Date(2026, 8, 24, 12, 6, 0, 0, time.UTC)
	s.Sweep(context.Background())
	waitFor(t, func() bool { return calls.Load() == 2 })
}

func TestRunRowVisibleWhileExecuting(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	s := newTestScheduler(func(ctx context.Context, hb models.Heartbeat, query string) (string, *models.TaskResponse, error) {
		once.Do(func() { close(started) })
		<-release
		return "task-slow", okResponse("done"), nil
	})
	current := time.Date(2026, 8, 24, 12, 2, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	hb, err := s.Create(context.Background(), "app", "u", models.HeartbeatCreate{
		Name: "slow", QueryTemplate: "q", CronExpression: "*/5 * * * *",
	})
	require.NoError(t, err)

	s.Sweep(context.Background())
	<-started

	// The run is already in history, as running, while the task executes.
	runs := s.Runs(hb.ID)
	require.Len(t, runs, 1)
	assert.Equal(t, models.HeartbeatRunRunning, runs[0].Status)
	require.NotNil(t, runs[0].StartedAt)
	assert.Nil(t, runs[0].CompletedAt)

	// The same row transitions to completed, keeping its ID.
	runID := runs[0].ID
	close(release)
	waitFor(t, func() bool {
		runs := s.Runs(hb.ID)
		return len(runs) == 1 && runs[0].Status == models.HeartbeatRunCompleted
	})
	runs = s.Runs(hb.ID)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, "task-slow", runs[0].TaskID)
	require.NotNil(t, runs[0].CompletedAt)
}

func TestSweepSkipsInFlight(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	s := newTestScheduler(func(ctx context.Context, hb models.Heartbeat, query string) (string, *models.TaskResponse, error) {
		calls.Add(1)
		<-release
		return "", nil, nil
	})
	current := time.Date(2026, 8, 24, 12, 2, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	_, err := s.Create(context.Background(), "app", "u", models.HeartbeatCreate{
		Name: "busy", QueryTemplate: "q", CronExpression: "*/5 * * * *",
	})
	require.NoError(t, err)

	s.Sweep(context.Background())
	waitFor(t, func() bool { return calls.Load() == 1 })
	s.Sweep(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	close(release)
}

func TestFailedRunDoesNotAdvanceLastSuccess(t *testing.T) {
	var calls atomic.Int32
	s := newTestScheduler(func(ctx context.Context, hb models.Heartbeat, query string) (string, *models.TaskResponse, error) {
		calls.Add(1)
		return "", nil, errors.New("conductor unavailable")
	})
	current := time.Date(2026, 8, 24, 12, 2, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	hb, err := s.Create(context.Background(), "app", "u", models.HeartbeatCreate{
		Name: "flaky", QueryTemplate: "q", CronExpression: "*/5 * * * *",
	})
	require.NoError(t, err)

	s.Sweep(context.Background())
	waitFor(t, func() bool {
		runs := s.Runs(hb.ID)
		return len(runs) == 1 && runs[0].Status == models.HeartbeatRunFailed
	})
	runs := s.Runs(hb.ID)
	assert.Contains(t, runs[0].ErrorMessage, "unavailable")

	// Still within the due window with no success: retried on next sweep.
	waitFor(t, func() bool {
		s.Sweep(context.Background())
		return calls.Load() >= 2
	})
}

func TestWebhookNotifiedOnSuccess(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		received <- payload
	}))
	defer srv.Close()

	resp := okResponse("summary text")
	resp.SuggestedFollowups = []string{"check again tomorrow"}
	s := newTestScheduler(func(ctx context.Context, hb models.Heartbeat, query string) (string, *models.TaskResponse, error) {
		return "task-9", resp, nil
	})
	current := time.Date(2026, 8, 24, 12, 2, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	hb, err := s.Create(context.Background(), "app", "u", models.HeartbeatCreate{
		Name: "notify", QueryTemplate: "q", CronExpression: "*/5 * * * *", WebhookURL: srv.URL,
	})
	require.NoError(t, err)

	s.Sweep(context.Background())
	select {
	case payload := <-received:
		assert.Equal(t, "heartbeat.completed", payload["event"])
		assert.Equal(t, hb.ID, payload["heartbeat_id"])
		assert.Equal(t, "notify", payload["heartbeat_name"])
		assert.NotEmpty(t, payload["run_id"])
		assert.Equal(t, "task-9", payload["task_id"])
		assert.Equal(t, string(models.OutcomeComplete), payload["outcome"])
		assert.Equal(t, 0.9, payload["confidence"])
		assert.Equal(t, "summary text", payload["summary"])
		findings, _ := payload["findings"].([]any)
		require.Len(t, findings, 1)
		followups, _ := payload["suggested_followups"].([]any)
		assert.Equal(t, []any{"check again tomorrow"}, followups)
		assert.NotEmpty(t, payload["timestamp"])
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never called")
	}
}

func TestWebhookNotifiedOnFailure(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		received <- payload
	}))
	defer srv.Close()

	s := newTestScheduler(func(ctx context.Context, hb models.Heartbeat, query string) (string, *models.TaskResponse, error) {
		return "task-f", nil, errors.New("instrument blew up")
	})
	current := time.Date(2026, 8, 24, 12, 2, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	hb, err := s.Create(context.Background(), "app", "u", models.HeartbeatCreate{
		Name: "notify-fail", QueryTemplate: "q", CronExpression: "*/5 * * * *", WebhookURL: srv.URL,
	})
	require.NoError(t, err)

	s.Sweep(context.Background())
	select {
	case payload := <-received:
		assert.Equal(t, "heartbeat.failed", payload["event"])
		assert.Equal(t, hb.ID, payload["heartbeat_id"])
		assert.Contains(t, payload["summary"], "blew up")
		// The full shape is posted for failed runs too.
		for _, key := range []string{"run_id", "task_id", "outcome", "confidence",
			"findings", "suggested_followups", "timestamp"} {
			assert.Contains(t, payload, key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never called")
	}

	waitFor(t, func() bool {
		runs := s.Runs(hb.ID)
		return len(runs) == 1 && runs[0].Status == models.HeartbeatRunFailed
	})
}

func TestLoadRestoresPersistedState(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	first := NewScheduler(st, func(ctx context.Context, hb models.Heartbeat, query string) (string, *models.TaskResponse, error) {
		return "task-1", okResponse("ok"), nil
	})
	current := time.Date(2026, 8, 24, 12, 2, 0, 0, time.UTC)
	first.now = func() time.Time { return current }

	hb, err := first.Create(ctx, "app", "u", models.HeartbeatCreate{
		Name: "durable", QueryTemplate: "q", CronExpression: "*/5 * * * *",
	})
	require.NoError(t, err)
	first.Sweep(ctx)
	waitFor(t, func() bool {
		runs := first.Runs(hb.ID)
		return len(runs) == 1 && runs[0].Status == models.HeartbeatRunCompleted
	})

	// A fresh scheduler over the same store sees the definition, the run
	// history, and the last success, so the fire window is not repeated.
	second := NewScheduler(st, func(ctx context.Context, hb models.Heartbeat, query string) (string, *models.TaskResponse, error) {
		t.Error("heartbeat must not re-fire within an already satisfied window")
		return "", nil, nil
	})
	second.now = func() time.Time { return current }
	require.NoError(t, second.Load(ctx))

	got, ok := second.Get(hb.ID)
	require.True(t, ok)
	assert.Equal(t, "durable", got.Name)
	runs := second.Runs(hb.ID)
	require.Len(t, runs, 1)
	assert.Equal(t, models.HeartbeatRunCompleted, runs[0].Status)

	second.Sweep(ctx)
	time.Sleep(20 * time.Millisecond)
}

func TestDeleteRemovesHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(nil)
	hb, err := s.Create(ctx, "app", "u", models.HeartbeatCreate{
		Name: "gone", QueryTemplate: "q", CronExpression: "0 9 * * *",
	})
	require.NoError(t, err)
	assert.True(t, s.Delete(ctx, hb.ID))
	assert.False(t, s.Delete(ctx, hb.ID))
	_, ok := s.Get(hb.ID)
	assert.False(t, ok)
	assert.Empty(t, s.Runs(hb.ID))
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(nil)
	_, err := s.Create(ctx, "app-a", "u1", models.HeartbeatCreate{Name: "b", QueryTemplate: "q", CronExpression: "0 9 * * *"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "app-a", "u2", models.HeartbeatCreate{Name: "a", QueryTemplate: "q", CronExpression: "0 9 * * *"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "app-b", "u1", models.HeartbeatCreate{Name: "c", QueryTemplate: "q", CronExpression: "0 9 * * *"})
	require.NoError(t, err)

	all := s.List("app-a", "")
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	assert.Len(t, s.List("app-a", "u1"), 1)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
