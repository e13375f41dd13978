package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/trust"
)

func (s *Server) pendingApprovals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"approvals": s.deps.Approvals.Pending()})
}

// resolveApproval records the decision and, on approval, carries out the
// deferred action: parked tasks start executing, trust upgrades apply.
func (s *Server) resolveApproval(c *gin.Context) {
	var res models.ApprovalResolution
	if err := c.ShouldBindJSON(&res); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resolved_by is required"})
		return
	}

	req, err := s.deps.Approvals.Resolve(c.Param("id"), res)
	if err != nil {
		s.mapError(c, err)
		return
	}

	if req.Status == models.ApprovalApproved {
		s.applyApproved(c, req)
	} else {
		// A denied task will never run; drop the parked request.
		s.takePending(req.ID)
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) applyApproved(c *gin.Context, req models.ApprovalRequest) {
	if req.ActionType == trust.ActionUpgradeTrust {
		appID, _ := req.Context["app_id"].(string)
		userID, _ := req.Context["user_id"].(string)
		level, ok := contextInt(req.Context, "suggested_level")
		if !ok {
			s.log.Warn("trust approval missing suggested_level", "approval_id", req.ID)
			return
		}
		if err := s.deps.Trust.SetTrustLevel(appID, userID, level); err != nil {
			s.log.Error("trust upgrade failed", "approval_id", req.ID, "error", err)
		}
		return
	}

	if parked, ok := s.takePending(req.ID); ok {
		if err := s.launch(parked.req, parked.auth, 0); err != nil {
			s.log.Error("approved task launch failed",
				"approval_id", req.ID, "task_id", parked.req.ID, "error", err)
		}
	}
}

// contextInt reads an int from an approval context, tolerating the float64
// shape JSON round-trips produce.
func contextInt(ctx map[string]any, key string) (int, bool) {
	switch v := ctx[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
