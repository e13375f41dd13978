package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loopsymphony/symphony/pkg/models"
)

func (s *Server) trustMetrics(c *gin.Context) {
	auth := authFrom(c)
	userID := c.Query("user_id")
	if userID == "" {
		userID = auth.UserID()
	}
	c.JSON(http.StatusOK, s.deps.Trust.Get(auth.AppID(), userID))
}

type setTrustLevelRequest struct {
	UserID string `json:"user_id"`
	Level  *int   `json:"level" binding:"required"`
}

// setTrustLevel is the only path that changes a trust level. Suggestions
// and approvals both funnel through here or the approval resolver.
func (s *Server) setTrustLevel(c *gin.Context) {
	var req setTrustLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "level is required"})
		return
	}
	auth := authFrom(c)
	if err := s.deps.Trust.SetTrustLevel(auth.AppID(), req.UserID, *req.Level); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.deps.Trust.Get(auth.AppID(), req.UserID))
}

func (s *Server) trustPolicies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": s.deps.Policy.Rules()})
}

func (s *Server) errorStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Errors.Stats())
}

func (s *Server) errorPatterns(c *gin.Context) {
	patterns := s.deps.Errors.Patterns(intQuery(c, "min_occurrences", 1))
	if patterns == nil {
		patterns = []models.ErrorPattern{}
	}
	c.JSON(http.StatusOK, gin.H{"patterns": patterns})
}

func (s *Server) recentErrors(c *gin.Context) {
	recent := s.deps.Errors.Recent(intQuery(c, "limit", 20))
	if recent == nil {
		recent = []models.ErrorRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"errors": recent})
}

type privacyCheckRequest struct {
	Query string `json:"query" binding:"required"`
}

func (s *Server) privacyCheck(c *gin.Context) {
	var req privacyCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Privacy.Classify(req.Query))
}
