// Package rooms tracks execution endpoints (rooms) and delegates tasks to
// them. The registry is in memory; rooms re-register on restart.
package rooms

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loopsymphony/symphony/pkg/models"
)

const (
	// ServerRoomID is the sentinel room representing this process. It is
	// always online and never swept.
	ServerRoomID = "server"

	// DefaultHeartbeatTimeout marks a room offline when no ping arrives
	// within it.
	DefaultHeartbeatTimeout = 120 * time.Second
)

// ErrUnknownRoom reports a ping or lookup for a room that is not registered.
type ErrUnknownRoom struct {
	RoomID string
}

func (e *ErrUnknownRoom) Error() string {
	return "unknown room: " + e.RoomID
}

// Registry is the in-memory room directory. Liveness is evaluated lazily:
// reads sweep stale rooms to offline before answering.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*models.RoomInfo
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger
}

// NewRegistry returns a registry seeded with the sentinel server room.
func NewRegistry(serverCapabilities, serverInstruments []string) *Registry {
	r := &Registry{
		rooms:   make(map[string]*models.RoomInfo),
		timeout: DefaultHeartbeatTimeout,
		now:     time.Now,
		log:     slog.With("component", "room_registry"),
	}
	r.rooms[ServerRoomID] = &models.RoomInfo{
		RoomID:       ServerRoomID,
		RoomName:     "Symphony Server",
		RoomType:     models.RoomTypeServer,
		Capabilities: serverCapabilities,
		Instruments:  serverInstruments,
		Status:       models.RoomOnline,
	}
	return r
}

// Register adds or replaces a room. Re-registration with the same ID
// overwrites the previous entry and resets liveness.
func (r *Registry) Register(reg models.RoomRegistration) models.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomType := reg.RoomType
	if roomType == "" {
		roomType = models.RoomTypeLocal
	}
	info := &models.RoomInfo{
		RoomID:        reg.RoomID,
		RoomName:      reg.RoomName,
		RoomType:      roomType,
		URL:           reg.URL,
		Capabilities:  reg.Capabilities,
		Instruments:   reg.Instruments,
		Status:        models.RoomOnline,
		LastHeartbeat: r.now().UTC(),
	}
	r.rooms[reg.RoomID] = info
	r.log.Info("room registered", "room_id", reg.RoomID, "room_type", roomType,
		"capabilities", len(reg.Capabilities))
	return *info
}

// Deregister removes a room. The sentinel server room cannot be removed.
func (r *Registry) Deregister(roomID string) bool {
	if roomID == ServerRoomID {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[roomID]; !ok {
		return false
	}
	delete(r.rooms, roomID)
	r.log.Info("room deregistered", "room_id", roomID)
	return true
}

// Heartbeat records a liveness ping. Pings from unknown rooms return
// ErrUnknownRoom so the room knows to re-register.
func (r *Registry) Heartbeat(ping models.RoomHeartbeatPing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[ping.RoomID]
	if !ok {
		return &ErrUnknownRoom{RoomID: ping.RoomID}
	}
	room.LastHeartbeat = r.now().UTC()
	room.Status = models.RoomOnline
	if ping.Status != "" {
		room.Status = ping.Status
	}
	return nil
}

// Get returns a snapshot of one room after a liveness sweep.
func (r *Registry) Get(roomID string) (models.RoomInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	room, ok := r.rooms[roomID]
	if !ok {
		return models.RoomInfo{}, false
	}
	return *room, true
}

// List returns all rooms sorted by ID, sweeping liveness first.
func (r *Registry) List() []models.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	out := make([]models.RoomInfo, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, *room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// Online returns online rooms, optionally restricted to local ones.
func (r *Registry) Online(localOnly bool) []models.RoomInfo {
	var out []models.RoomInfo
	for _, room := range r.List() {
		if room.Status != models.RoomOnline {
			continue
		}
		if localOnly && !room.IsLocal() {
			continue
		}
		out = append(out, room)
	}
	return out
}

// FindByCapability returns online rooms advertising cap, honoring the
// local-only restriction.
func (r *Registry) FindByCapability(cap string, localOnly bool) []models.RoomInfo {
	var out []models.RoomInfo
	for _, room := range r.Online(localOnly) {
		if room.HasCapability(cap) {
			out = append(out, room)
		}
	}
	return out
}

// BestRoom scores candidate rooms for a capability and returns the winner.
// Score: 10 for a room-type match, 5 when preferLocal and the room is local,
// plus one per advertised capability. Ties go to the first by room ID order.
func (r *Registry) BestRoom(cap string, wantType models.RoomType, preferLocal, localOnly bool) (models.RoomInfo, bool) {
	candidates := r.FindByCapability(cap, localOnly)
	if len(candidates) == 0 {
		return models.RoomInfo{}, false
	}

	best := candidates[0]
	bestScore := scoreRoom(best, wantType, preferLocal)
	for _, room := range candidates[1:] {
		if s := scoreRoom(room, wantType, preferLocal); s > bestScore {
			best, bestScore = room, s
		}
	}
	return best, true
}

func scoreRoom(room models.RoomInfo, wantType models.RoomType, preferLocal bool) int {
	score := len(room.Capabilities)
	if wantType != "" && room.RoomType == wantType {
		score += 10
	}
	if preferLocal && room.IsLocal() {
		score += 5
	}
	return score
}

// sweepLocked flips rooms with expired heartbeats to offline. The server
// room has no heartbeat and is exempt.
func (r *Registry) sweepLocked() {
	cutoff := r.now().UTC().Add(-r.timeout)
	for id, room := range r.rooms {
		if id == ServerRoomID || room.Status == models.RoomOffline {
			continue
		}
		if room.LastHeartbeat.Before(cutoff) {
			room.Status = models.RoomOffline
			r.log.Warn("room heartbeat expired", "room_id", id,
				"last_heartbeat", room.LastHeartbeat)
		}
	}
}
