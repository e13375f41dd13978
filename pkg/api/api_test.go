package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopsymphony/symphony/pkg/approval"
	"github.com/loopsymphony/symphony/pkg/conductor"
	"github.com/loopsymphony/symphony/pkg/errtrack"
	"github.com/loopsymphony/symphony/pkg/events"
	"github.com/loopsymphony/symphony/pkg/heartbeat"
	"github.com/loopsymphony/symphony/pkg/knowledge"
	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/privacy"
	"github.com/loopsymphony/symphony/pkg/rooms"
	"github.com/loopsymphony/symphony/pkg/store"
	"github.com/loopsymphony/symphony/pkg/tasks"
	"github.com/loopsymphony/symphony/pkg/tools"
	"github.com/loopsymphony/symphony/pkg/trust"
)

const testAPIKey = "key-test"

// stubReasoner provides the reasoning capability without an LLM.
type stubReasoner struct{}

func (s *stubReasoner) Name() string            { return "stub-reasoner" }
func (s *stubReasoner) Capabilities() []string  { return []string{tools.CapReasoning} }
func (s *stubReasoner) Manifest() tools.Manifest {
	return tools.Manifest{Name: s.Name(), Capabilities: s.Capabilities()}
}
func (s *stubReasoner) HealthCheck(context.Context) error { return nil }
func (s *stubReasoner) Invoke(context.Context, tools.Call) (*tools.Result, error) {
	return &tools.Result{Text: "42"}, nil
}

type testEnv struct {
	server    *Server
	ts        *httptest.Server
	trust     *trust.Tracker
	approvals *approval.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemory()
	t.Cleanup(st.Close)
	_, err := st.CreateApp(context.Background(), "test-app", testAPIKey)
	require.NoError(t, err)

	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&stubReasoner{}))
	lib, err := conductor.NewLibrary(reg, 3, nil)
	require.NoError(t, err)

	bus := events.NewBus()
	tracker := trust.NewTracker()
	policy := trust.NewPolicyEngine()
	approvals := approval.NewRouter()
	errs := errtrack.NewTracker()
	classifier := privacy.NewClassifier(false)
	roomReg := rooms.NewRegistry([]string{tools.CapReasoning}, []string{"note"})
	scheduler := heartbeat.NewScheduler(st, func(context.Context, models.Heartbeat, string) (string, *models.TaskResponse, error) {
		return "hb-task", &models.TaskResponse{Outcome: models.OutcomeComplete, Summary: "ok"}, nil
	})

	cond, err := conductor.New(conductor.Deps{
		Lib: lib, Privacy: classifier, Trust: tracker, Policy: policy,
		Approvals: approvals, Errors: errs, Bus: bus,
	})
	require.NoError(t, err)

	srv := NewServer(Deps{
		Conductor: cond, Store: st, Tasks: tasks.NewManager(), Bus: bus,
		Rooms: roomReg, Heartbeats: scheduler, Knowledge: knowledge.NewBase(),
		Approvals: approvals, Trust: tracker, Policy: policy,
		Errors: errs, Privacy: classifier, Version: "test",
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: srv, ts: ts, trust: tracker, approvals: approvals}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", testAPIKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

// waitForStatus polls the task endpoint until it reports the wanted status.
func (e *testEnv) waitForStatus(t *testing.T, taskID, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, body := e.do(t, http.MethodGet, "/api/v1/tasks/"+taskID, nil, nil)
		if resp.StatusCode == http.StatusOK && body["status"] == want {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", taskID, want)
	return nil
}

func TestHealthNoAuth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/api/v1/tasks", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.Header.Set("X-Api-Key", "wrong-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubmitNoteTaskRunsInBackground(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/tasks",
		map[string]any{"query": "what is the answer"}, map[string]string{"X-User-Id": "alice"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	taskID, _ := body["task_id"].(string)
	require.NotEmpty(t, taskID)

	done := env.waitForStatus(t, taskID, string(models.TaskStatusCompleted))
	response, ok := done["response"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "42", response["summary"])
	assert.Equal(t, string(models.OutcomeComplete), response["outcome"])
}

func TestSubmitMissingQuery(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/v1/tasks", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResearchGatedThenApproved(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/tasks",
		map[string]any{"query": "research the latest advances in solid-state batteries"},
		map[string]string{"X-User-Id": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	plan, ok := body["plan"].(map[string]any)
	require.True(t, ok, "gated submission must return a plan")
	assert.Equal(t, true, plan["requires_approval"])
	approvalID, _ := plan["approval_id"].(string)
	require.NotEmpty(t, approvalID)
	taskID, _ := body["task_id"].(string)

	_, pending := env.do(t, http.MethodGet, "/api/v1/approvals", nil, nil)
	approvals, _ := pending["approvals"].([]any)
	require.Len(t, approvals, 1)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/approvals/"+approvalID+"/resolve",
		map[string]any{"approved": true, "resolved_by": "operator"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// No web_search tool and no delegable room: the approved run ends
	// BOUNDED rather than erroring.
	done := env.waitForStatus(t, taskID, string(models.TaskStatusCompleted))
	response, ok := done["response"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(models.OutcomeBounded), response["outcome"])
}

func TestDeniedApprovalDropsParkedTask(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.do(t, http.MethodPost, "/api/v1/tasks",
		map[string]any{"query": "research quantum error correction trends"},
		map[string]string{"X-User-Id": "alice"})
	plan := body["plan"].(map[string]any)
	approvalID := plan["approval_id"].(string)

	resp, resolved := env.do(t, http.MethodPost, "/api/v1/approvals/"+approvalID+"/resolve",
		map[string]any{"approved": false, "resolved_by": "operator"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(models.ApprovalDenied), resolved["status"])

	env.server.mu.Lock()
	parked := len(env.server.pending)
	env.server.mu.Unlock()
	assert.Zero(t, parked)
}

func TestResolveUnknownApproval(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/v1/approvals/nope/resolve",
		map[string]any{"approved": true, "resolved_by": "operator"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTrustUpgradeApprovalAppliesLevel(t *testing.T) {
	env := newTestEnv(t)

	req := env.approvals.Submit("trust", trust.ActionUpgradeTrust, "promote", 0,
		map[string]any{"app_id": "app-x", "user_id": "alice", "suggested_level": 1})
	resp, _ := env.do(t, http.MethodPost, "/api/v1/approvals/"+req.ID+"/resolve",
		map[string]any{"approved": true, "resolved_by": "operator"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, env.trust.Level("app-x", "alice"))
}

func TestCancelTask(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/tasks/unknown/cancel", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, body := env.do(t, http.MethodPost, "/api/v1/tasks",
		map[string]any{"query": "hello there"}, nil)
	taskID := body["task_id"].(string)
	env.waitForStatus(t, taskID, string(models.TaskStatusCompleted))

	resp, cancelBody := env.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, cancelBody["cancelled"])
}

func TestTaskEventStream(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.do(t, http.MethodPost, "/api/v1/tasks",
		map[string]any{"query": "stream me"}, nil)
	taskID := body["task_id"].(string)
	env.waitForStatus(t, taskID, string(models.TaskStatusCompleted))

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/api/v1/tasks/"+taskID+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("X-Api-Key", testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	stream := string(raw)
	assert.Contains(t, stream, "event: "+models.EventStarted)
	assert.Contains(t, stream, "event: "+models.EventComplete)
	assert.True(t, strings.Index(stream, "event: "+models.EventStarted) <
		strings.Index(stream, "event: "+models.EventComplete))
}

func TestRoomLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/rooms/register",
		map[string]any{"room_id": "phone-1", "room_type": "ios", "capabilities": []string{"vision"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/rooms/heartbeat",
		map[string]any{"room_id": "phone-1"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/rooms/heartbeat",
		map[string]any{"room_id": "ghost"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/rooms/register",
		map[string]any{"room_id": rooms.ServerRoomID}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, listBody := env.do(t, http.MethodGet, "/api/v1/rooms", nil, nil)
	roomList, _ := listBody["rooms"].([]any)
	assert.Len(t, roomList, 2)

	resp, delBody := env.do(t, http.MethodDelete, "/api/v1/rooms/phone-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, delBody["removed"])
}

func TestHeartbeatCRUD(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/heartbeats",
		map[string]any{"name": "bad", "query_template": "x", "cron_expression": "not-cron"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, created := env.do(t, http.MethodPost, "/api/v1/heartbeats",
		map[string]any{"name": "daily-brief", "query_template": "Summarize {date}", "cron_expression": "0 9 * * *"},
		map[string]string{"X-User-Id": "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	hbID := created["id"].(string)

	resp, got := env.do(t, http.MethodGet, "/api/v1/heartbeats/"+hbID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "daily-brief", got["name"])

	resp, updated := env.do(t, http.MethodPatch, "/api/v1/heartbeats/"+hbID,
		map[string]any{"is_active": false}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, updated["is_active"])

	resp, _ = env.do(t, http.MethodGet, "/api/v1/heartbeats/"+hbID+"/runs", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/heartbeats/"+hbID, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/api/v1/heartbeats/"+hbID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKnowledgeEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, push := env.do(t, http.MethodPost, "/api/v1/knowledge/sync/room-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries, _ := push["entries"].([]any)
	assert.NotEmpty(t, entries, "first sync must carry the seed entries")

	resp, accepted := env.do(t, http.MethodPost, "/api/v1/knowledge/learnings",
		map[string]any{"room_id": "room-1", "learnings": []map[string]any{
			{"title": "slow wifi", "content": "uploads fail on hotel wifi", "confidence": 0.6},
		}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), accepted["accepted"])

	resp, agg := env.do(t, http.MethodPost, "/api/v1/knowledge/aggregate", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), agg["learnings_processed"])

	resp, _ = env.do(t, http.MethodGet, "/api/v1/knowledge/files/capabilities", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/api/v1/knowledge/files/nonsense", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/knowledge/entries",
		map[string]any{"category": "patterns", "title": "t", "content": "c"}, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestTrustEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, metrics := env.do(t, http.MethodGet, "/api/v1/trust", nil,
		map[string]string{"X-User-Id": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), metrics["current_trust_level"])

	resp, updated := env.do(t, http.MethodPut, "/api/v1/trust/level",
		map[string]any{"user_id": "alice", "level": 2}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), updated["current_trust_level"])

	resp, _ = env.do(t, http.MethodPut, "/api/v1/trust/level",
		map[string]any{"user_id": "alice", "level": 9}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, rules := env.do(t, http.MethodGet, "/api/v1/trust/policies", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, rules["rules"])
}

func TestPrivacyCheck(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodPost, "/api/v1/privacy/check",
		map[string]any{"query": "what is my bank account balance"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["should_stay_local"])
}

func TestErrorEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, stats := env.do(t, http.MethodGet, "/api/v1/errors/stats", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), stats["total"])

	resp, patterns := env.do(t, http.MethodGet, "/api/v1/errors/patterns", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, patterns["patterns"])
}

func TestGetTaskNotFound(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/api/v1/tasks/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
