package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loopsymphony/symphony/pkg/models"
)

func (s *Server) createHeartbeat(c *gin.Context) {
	var create models.HeartbeatCreate
	if err := c.ShouldBindJSON(&create); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, query_template, and cron_expression are required"})
		return
	}
	auth := authFrom(c)
	hb, err := s.deps.Heartbeats.Create(c.Request.Context(), auth.AppID(), auth.UserID(), create)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, hb)
}

func (s *Server) listHeartbeats(c *gin.Context) {
	auth := authFrom(c)
	c.JSON(http.StatusOK, gin.H{"heartbeats": s.deps.Heartbeats.List(auth.AppID(), c.Query("user_id"))})
}

func (s *Server) getHeartbeat(c *gin.Context) {
	hb, ok := s.deps.Heartbeats.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown heartbeat"})
		return
	}
	c.JSON(http.StatusOK, hb)
}

func (s *Server) updateHeartbeat(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.deps.Heartbeats.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown heartbeat"})
		return
	}
	var update models.HeartbeatUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed update payload"})
		return
	}
	hb, err := s.deps.Heartbeats.Update(c.Request.Context(), id, update)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, hb)
}

func (s *Server) deleteHeartbeat(c *gin.Context) {
	if !s.deps.Heartbeats.Delete(c.Request.Context(), c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown heartbeat"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) heartbeatRuns(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.deps.Heartbeats.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown heartbeat"})
		return
	}
	runs := s.deps.Heartbeats.Runs(id)
	if runs == nil {
		runs = []models.HeartbeatRun{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
