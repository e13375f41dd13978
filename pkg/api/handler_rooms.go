package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/rooms"
)

func (s *Server) registerRoom(c *gin.Context) {
	var reg models.RoomRegistration
	if err := c.ShouldBindJSON(&reg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_id is required"})
		return
	}
	if reg.RoomID == rooms.ServerRoomID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room id is reserved"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Rooms.Register(reg))
}

// roomHeartbeat returns 404 for unknown rooms so the room re-registers
// instead of pinging a registry that lost it.
func (s *Server) roomHeartbeat(c *gin.Context) {
	var ping models.RoomHeartbeatPing
	if err := c.ShouldBindJSON(&ping); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_id is required"})
		return
	}
	if err := s.deps.Rooms.Heartbeat(ping); err != nil {
		s.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": true})
}

func (s *Server) deregisterRoom(c *gin.Context) {
	id := c.Param("id")
	if id == rooms.ServerRoomID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room id is reserved"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": s.deps.Rooms.Deregister(id)})
}

func (s *Server) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.deps.Rooms.List()})
}
