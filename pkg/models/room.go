package models

import "time"

// RoomStatus is the liveness state of a registered room.
type RoomStatus string

const (
	RoomOnline   RoomStatus = "online"
	RoomDegraded RoomStatus = "degraded"
	RoomOffline  RoomStatus = "offline"
)

// RoomType distinguishes where a room runs.
type RoomType string

const (
	RoomTypeServer RoomType = "server"
	RoomTypeLocal  RoomType = "local"
	RoomTypeIOS    RoomType = "ios"
)

// RoomInfo describes a registered execution endpoint.
type RoomInfo struct {
	RoomID        string     `json:"room_id"`
	RoomName      string     `json:"room_name"`
	RoomType      RoomType   `json:"room_type"`
	URL           string     `json:"url,omitempty"`
	Capabilities  []string   `json:"capabilities"`
	Instruments   []string   `json:"instruments"`
	Status        RoomStatus `json:"status"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
}

// HasCapability reports whether the room advertises cap.
func (r *RoomInfo) HasCapability(cap string) bool {
	for _, c := range r.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// IsLocal reports whether delegation to this room keeps data on-premise.
func (r *RoomInfo) IsLocal() bool {
	return r.RoomType == RoomTypeLocal || r.RoomType == RoomTypeServer
}

// RoomRegistration is the register-endpoint payload.
type RoomRegistration struct {
	RoomID       string   `json:"room_id" binding:"required"`
	RoomName     string   `json:"room_name"`
	RoomType     RoomType `json:"room_type"`
	URL          string   `json:"url"`
	Capabilities []string `json:"capabilities"`
	Instruments  []string `json:"instruments"`
}

// RoomHeartbeatPing is the liveness ping payload. Distinct from Heartbeat,
// the scheduled recurring task.
type RoomHeartbeatPing struct {
	RoomID string     `json:"room_id" binding:"required"`
	Status RoomStatus `json:"status,omitempty"`
}

// RoomDelegationResult is the normalized outcome of delegating a task to a
// room. Failures are values, never propagated errors.
type RoomDelegationResult struct {
	Success  bool          `json:"success"`
	Response *TaskResponse `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
	RoomID   string        `json:"room_id"`
}
