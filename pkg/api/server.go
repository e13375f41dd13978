// Package api is the HTTP surface of the symphony server: task submission
// and streaming, room and heartbeat management, knowledge sync, approvals,
// trust, and diagnostics.
package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

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
	"github.com/loopsymphony/symphony/pkg/trust"
)

// DefaultSSEKeepalive is the idle-comment interval on event streams.
const DefaultSSEKeepalive = 30 * time.Second

// Deps are the collaborators the server exposes over HTTP. Conductor,
// Store, Tasks, and Bus are required; nil optional deps disable their
// endpoints with 503.
type Deps struct {
	Conductor  *conductor.Conductor
	Store      store.Store
	Tasks      *tasks.Manager
	Bus        *events.Bus
	Rooms      *rooms.Registry
	Heartbeats *heartbeat.Scheduler
	Knowledge  *knowledge.Base
	Approvals  *approval.Router
	Trust      *trust.Tracker
	Policy     *trust.PolicyEngine
	Errors     *errtrack.Tracker
	Privacy    *privacy.Classifier
	Version    string

	// Instruments and Tools are advertised on the health surface.
	Instruments []string
	Tools       []string
}

// pendingTask is a gated submission parked until its approval resolves.
type pendingTask struct {
	req  *models.TaskRequest
	auth *models.AuthContext
}

// Server is the HTTP API server.
type Server struct {
	deps      Deps
	keepalive time.Duration
	log       *slog.Logger

	mu      sync.Mutex
	pending map[string]pendingTask
	started time.Time
}

// NewServer returns a server over the given collaborators.
func NewServer(deps Deps) *Server {
	return &Server{
		deps:      deps,
		keepalive: DefaultSSEKeepalive,
		log:       slog.With("component", "api"),
		pending:   make(map[string]pendingTask),
		started:   time.Now().UTC(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders())

	r.GET("/health", s.health)

	v1 := r.Group("/api/v1", s.authenticate())
	{
		v1.POST("/tasks", s.submitTask)
		v1.GET("/tasks", s.listTasks)
		v1.GET("/tasks/active", s.activeTasks)
		v1.GET("/tasks/:id", s.getTask)
		v1.POST("/tasks/:id/cancel", s.cancelTask)
		v1.GET("/tasks/:id/events", s.streamTaskEvents)
		v1.GET("/tasks/:id/checkpoints", s.taskCheckpoints)

		v1.POST("/rooms/register", s.registerRoom)
		v1.POST("/rooms/heartbeat", s.roomHeartbeat)
		v1.DELETE("/rooms/:id", s.deregisterRoom)
		v1.GET("/rooms", s.listRooms)

		v1.POST("/heartbeats", s.createHeartbeat)
		v1.GET("/heartbeats", s.listHeartbeats)
		v1.GET("/heartbeats/:id", s.getHeartbeat)
		v1.PATCH("/heartbeats/:id", s.updateHeartbeat)
		v1.DELETE("/heartbeats/:id", s.deleteHeartbeat)
		v1.GET("/heartbeats/:id/runs", s.heartbeatRuns)

		v1.POST("/knowledge/sync/:room_id", s.knowledgeSync)
		v1.POST("/knowledge/learnings", s.knowledgeLearnings)
		v1.POST("/knowledge/aggregate", s.knowledgeAggregate)
		v1.GET("/knowledge/files/:category", s.knowledgeFile)
		v1.GET("/knowledge/entries", s.knowledgeEntries)
		v1.POST("/knowledge/entries", s.createKnowledgeEntry)

		v1.GET("/approvals", s.pendingApprovals)
		v1.POST("/approvals/:id/resolve", s.resolveApproval)

		v1.GET("/trust", s.trustMetrics)
		v1.PUT("/trust/level", s.setTrustLevel)
		v1.GET("/trust/policies", s.trustPolicies)

		v1.GET("/errors/stats", s.errorStats)
		v1.GET("/errors/patterns", s.errorPatterns)
		v1.GET("/errors/recent", s.recentErrors)

		v1.POST("/privacy/check", s.privacyCheck)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":         "healthy",
		"version":        s.deps.Version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"instruments":    s.deps.Instruments,
		"tools":          s.deps.Tools,
	}
	if s.deps.Rooms != nil {
		body["rooms_online"] = len(s.deps.Rooms.Online(false))
	}
	c.JSON(http.StatusOK, body)
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Next()
	}
}
