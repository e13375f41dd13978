package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/store"
)

// submitTask routes one task. Gated submissions return the plan and park
// the request until the approval resolves; ungated ones run in the
// background immediately.
func (s *Server) submitTask(c *gin.Context) {
	var req models.TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	auth := authFrom(c)

	plan, err := s.deps.Conductor.Plan(&req, auth)
	if err != nil {
		s.mapError(c, err)
		return
	}

	if plan != nil {
		s.parkPending(plan.ApprovalID, &req, auth)
		s.persistQueued(c.Request.Context(), &req, auth)
		c.JSON(http.StatusOK, models.TaskSubmitResponse{
			TaskID:  req.ID,
			Status:  models.TaskStatusQueued,
			Message: "approval required before execution",
			Plan:    plan,
		})
		return
	}

	if err := s.launch(&req, auth, 0); err != nil {
		s.mapError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, models.TaskSubmitResponse{
		TaskID:  req.ID,
		Status:  models.TaskStatusRunning,
		Message: "task accepted",
	})
}

// parkPending stashes a gated request under its approval id.
func (s *Server) parkPending(approvalID string, req *models.TaskRequest, auth *models.AuthContext) {
	if approvalID == "" {
		return
	}
	s.mu.Lock()
	s.pending[approvalID] = pendingTask{req: req, auth: auth}
	s.mu.Unlock()
}

// takePending removes and returns the parked request for an approval.
func (s *Server) takePending(approvalID string) (pendingTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[approvalID]
	if ok {
		delete(s.pending, approvalID)
	}
	return p, ok
}

func (s *Server) persistQueued(ctx context.Context, req *models.TaskRequest, auth *models.AuthContext) {
	now := time.Now().UTC()
	rec := models.TaskRecord{
		ID: req.ID, AppID: auth.AppID(), UserID: auth.UserID(),
		Query: req.Query, Status: models.TaskStatusQueued,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.deps.Store.SaveTask(ctx, rec); err != nil {
		s.log.Error("persist queued task failed", "task_id", req.ID, "error", err)
	}
}

// launch registers the task, wires checkpoint persistence, and starts the
// background run. Approved resubmissions arrive with the task already
// persisted as queued.
func (s *Server) launch(req *models.TaskRequest, auth *models.AuthContext, maxIterations int) error {
	id := req.ID
	if err := s.deps.Tasks.Register(id, auth.AppID(), auth.UserID(), req.Query); err != nil {
		return err
	}

	now := time.Now().UTC()
	rec := models.TaskRecord{
		ID: id, AppID: auth.AppID(), UserID: auth.UserID(),
		Query: req.Query, Status: models.TaskStatusRunning,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.deps.Store.SaveTask(context.Background(), rec); err != nil {
		s.log.Error("persist task failed", "task_id", id, "error", err)
	}

	if req.Context == nil {
		req.Context = models.NewTaskContext()
	}
	req.Context.Checkpoint = s.checkpointFunc(id)

	runCtx, cancel := context.WithCancel(context.Background())
	if err := s.deps.Tasks.Start(id, cancel, maxIterations); err != nil {
		cancel()
		return err
	}
	go s.run(runCtx, req, auth, rec)
	return nil
}

// checkpointFunc persists each iteration and mirrors it to the manager and
// the event stream.
func (s *Server) checkpointFunc(taskID string) models.CheckpointFunc {
	return func(ctx context.Context, iteration int, phase string, output map[string]any, duration time.Duration) error {
		s.deps.Tasks.UpdateProgress(taskID, iteration, phase)
		if err := s.deps.Store.AddIteration(ctx, models.TaskIteration{
			TaskID:       taskID,
			IterationNum: iteration,
			Phase:        phase,
			Output:       output,
			DurationMs:   duration.Milliseconds(),
		}); err != nil {
			s.log.Warn("checkpoint persist failed", "task_id", taskID, "error", err)
		}
		s.deps.Bus.Emit(taskID, models.EventIteration, map[string]any{
			"iteration_num": iteration,
			"phase":         phase,
			"duration_ms":   duration.Milliseconds(),
		})
		return nil
	}
}

func (s *Server) run(ctx context.Context, req *models.TaskRequest, auth *models.AuthContext, rec models.TaskRecord) {
	resp, err := s.deps.Conductor.ExecuteApproved(ctx, req, auth)

	now := time.Now().UTC()
	rec.UpdatedAt = now
	rec.CompletedAt = &now
	switch {
	case ctx.Err() != nil:
		s.deps.Tasks.MarkCancelled(req.ID)
		rec.Status = models.TaskStatusCancelled
		rec.Error = "cancelled"
	case err != nil:
		s.deps.Tasks.Fail(req.ID, err.Error())
		rec.Status = models.TaskStatusFailed
		rec.Error = err.Error()
	default:
		s.deps.Tasks.Complete(req.ID)
		rec.Status = models.TaskStatusCompleted
		rec.Response = resp
	}

	if err := s.deps.Store.SaveTask(context.Background(), rec); err != nil {
		s.log.Error("persist task result failed", "task_id", req.ID, "error", err)
	}
}

// getTask reports an in-flight task from the manager and a finished one
// from the store.
func (s *Server) getTask(c *gin.Context) {
	id := c.Param("id")

	if task, ok := s.deps.Tasks.Get(id); ok && !task.Status.IsTerminal() {
		progress := task.Progress
		if task.Iteration > 0 {
			progress = fmt.Sprintf("iteration %d: %s", task.Iteration, task.Progress)
		}
		started := task.UpdatedAt
		c.JSON(http.StatusOK, models.TaskPendingResponse{
			TaskID:    id,
			Status:    task.Status,
			Progress:  progress,
			StartedAt: &started,
		})
		return
	}

	rec, err := s.deps.Store.Task(c.Request.Context(), id)
	if err != nil {
		s.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) listTasks(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	recs, err := s.deps.Store.TasksByApp(c.Request.Context(), authFrom(c).AppID(), limit)
	if err != nil {
		s.mapError(c, err)
		return
	}
	if recs == nil {
		recs = []models.TaskRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": recs})
}

func (s *Server) activeTasks(c *gin.Context) {
	auth := authFrom(c)
	active := s.deps.Tasks.GetActive(auth.AppID(), c.Query("user_id"))
	out := make([]models.TaskPendingResponse, 0, len(active))
	for _, task := range active {
		started := task.UpdatedAt
		out = append(out, models.TaskPendingResponse{
			TaskID: task.ID, Status: task.Status,
			Progress: task.Progress, StartedAt: &started,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

// cancelTask is idempotent: repeat cancels report cancelled=false with the
// current status.
func (s *Server) cancelTask(c *gin.Context) {
	id := c.Param("id")

	cancelled := s.deps.Tasks.Cancel(id)
	task, ok := s.deps.Tasks.Get(id)
	if !ok {
		if _, err := s.deps.Store.Task(c.Request.Context(), id); errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": false, "status": models.TaskStatusCompleted})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled, "status": task.Status})
}

func (s *Server) taskCheckpoints(c *gin.Context) {
	its, err := s.deps.Store.Iterations(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.mapError(c, err)
		return
	}
	if its == nil {
		its = []models.TaskIteration{}
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": its})
}

// streamTaskEvents serves the task's SSE stream: history first, then live
// events until the terminal event or client disconnect.
func (s *Server) streamTaskEvents(c *gin.Context) {
	id := c.Param("id")

	ch := s.deps.Bus.Subscribe(id)
	defer s.deps.Bus.Unsubscribe(id, ch)

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(c.Writer, ev)
			c.Writer.Flush()
			if ev.IsTerminal() {
				return
			}
		}
	}
}

func writeSSE(w io.Writer, ev models.TaskEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
