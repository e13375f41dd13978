package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loopsymphony/symphony/pkg/models"
)

// knowledgeSync pushes the delta since the room's last synced version and
// advances its sync state.
func (s *Server) knowledgeSync(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Knowledge.SyncPush(c.Param("room_id")))
}

func (s *Server) knowledgeLearnings(c *gin.Context) {
	var batch models.RoomLearningBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_id and learnings are required"})
		return
	}
	accepted := s.deps.Knowledge.AcceptLearnings(batch)
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}

func (s *Server) knowledgeAggregate(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Knowledge.AggregateLearnings())
}

func (s *Server) knowledgeFile(c *gin.Context) {
	category := models.KnowledgeCategory(c.Param("category"))
	if !validCategory(category) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown knowledge category"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Knowledge.File(category))
}

func (s *Server) knowledgeEntries(c *gin.Context) {
	category := models.KnowledgeCategory(c.Query("category"))
	if category != "" && !validCategory(category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown knowledge category"})
		return
	}
	entries := s.deps.Knowledge.Entries(category)
	if entries == nil {
		entries = []models.KnowledgeEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) createKnowledgeEntry(c *gin.Context) {
	var create models.KnowledgeEntryCreate
	if err := c.ShouldBindJSON(&create); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category, title, and content are required"})
		return
	}
	if !validCategory(create.Category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown knowledge category"})
		return
	}
	c.JSON(http.StatusCreated, s.deps.Knowledge.Create(create))
}

func validCategory(c models.KnowledgeCategory) bool {
	switch c {
	case models.KnowledgeCapabilities, models.KnowledgeBoundaries,
		models.KnowledgePatterns, models.KnowledgeChangelog, models.KnowledgeUser:
		return true
	}
	return false
}
