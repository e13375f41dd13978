package models

import "time"

// KnowledgeCategory partitions knowledge entries.
type KnowledgeCategory string

const (
	KnowledgeCapabilities KnowledgeCategory = "capabilities"
	KnowledgeBoundaries   KnowledgeCategory = "boundaries"
	KnowledgePatterns     KnowledgeCategory = "patterns"
	KnowledgeChangelog    KnowledgeCategory = "changelog"
	KnowledgeUser         KnowledgeCategory = "user"
)

// KnowledgeSource records how an entry came to exist.
type KnowledgeSource string

const (
	SourceSeed         KnowledgeSource = "seed"
	SourceErrorTracker KnowledgeSource = "error_tracker"
	SourceTrustTracker KnowledgeSource = "trust_tracker"
	SourceAggregated   KnowledgeSource = "aggregated"
	SourceRoomLearning KnowledgeSource = "room_learning"
	SourceManual       KnowledgeSource = "manual"
	SourceSystem       KnowledgeSource = "system"
)

// KnowledgeEntry is a versioned fact known to the server, replicable to
// rooms via delta sync. Version is assigned from the global monotonic
// counter on every create, update, and deactivate.
type KnowledgeEntry struct {
	ID         string            `json:"id"`
	Category   KnowledgeCategory `json:"category"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Source     KnowledgeSource   `json:"source"`
	Confidence float64           `json:"confidence"`
	UserID     string            `json:"user_id,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Version    int64             `json:"version"`
	IsActive   bool              `json:"is_active"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// KnowledgeEntryCreate is the manual-entry payload.
type KnowledgeEntryCreate struct {
	Category   KnowledgeCategory `json:"category" binding:"required"`
	Title      string            `json:"title" binding:"required"`
	Content    string            `json:"content" binding:"required"`
	Confidence float64           `json:"confidence"`
	UserID     string            `json:"user_id"`
	Tags       []string          `json:"tags"`
}

// KnowledgeFile is a rendered per-category view, markdown plus entries.
type KnowledgeFile struct {
	Category    KnowledgeCategory `json:"category"`
	Title       string            `json:"title"`
	Markdown    string            `json:"markdown"`
	Entries     []KnowledgeEntry  `json:"entries"`
	LastUpdated *time.Time        `json:"last_updated,omitempty"`
}

// KnowledgeSyncPush is the server-to-room delta since the room's last
// synced version.
type KnowledgeSyncPush struct {
	ServerVersion int64            `json:"server_version"`
	Entries       []KnowledgeEntry `json:"entries"`
	RemovedIDs    []string         `json:"removed_ids"`
}

// KnowledgeSyncState tracks per-room sync progress.
type KnowledgeSyncState struct {
	RoomID            string     `json:"room_id"`
	LastSyncedVersion int64      `json:"last_synced_version"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
}

// RoomLearning is one observation reported by a room.
type RoomLearning struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	Category   string    `json:"category"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Tags       []string  `json:"tags,omitempty"`
	Processed  bool      `json:"processed"`
	ObservedAt time.Time `json:"observed_at"`
}

// RoomLearningBatch is the learning-intake payload.
type RoomLearningBatch struct {
	RoomID    string         `json:"room_id" binding:"required"`
	Learnings []RoomLearning `json:"learnings" binding:"required"`
}

// LearningAggregationResult summarizes one aggregation pass.
type LearningAggregationResult struct {
	EntriesCreated     int `json:"entries_created"`
	EntriesUpdated     int `json:"entries_updated"`
	LearningsProcessed int `json:"learnings_processed"`
}
