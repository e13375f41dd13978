// Package knowledge maintains the versioned knowledge base and replicates
// it to rooms through delta sync.
//
// Versioning: a single monotonic counter stamps every create, update, and
// deactivate. A room syncing from version V receives exactly the entries
// whose version exceeds V, plus the IDs deactivated since V.
package knowledge

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loopsymphony/symphony/pkg/models"
)

// aggregationMinRooms is how many distinct rooms must report the same
// observation before it is promoted to shared knowledge.
const aggregationMinRooms = 3

// Base is the in-memory knowledge store.
type Base struct {
	mu        sync.Mutex
	version   int64
	entries   map[string]*models.KnowledgeEntry
	syncState map[string]*models.KnowledgeSyncState
	learnings []*models.RoomLearning
	now       func() time.Time
	log       *slog.Logger
}

// NewBase returns a base pre-loaded with the seed entries.
func NewBase() *Base {
	b := &Base{
		entries:   make(map[string]*models.KnowledgeEntry),
		syncState: make(map[string]*models.KnowledgeSyncState),
		now:       time.Now,
		log:       slog.With("component", "knowledge_base"),
	}
	b.seed()
	return b
}

func (b *Base) seed() {
	seeds := []struct {
		category models.KnowledgeCategory
		title    string
		content  string
	}{
		{models.KnowledgeCapabilities, "Available instruments",
			"The server routes queries to note, research, synthesis, and vision instruments, plus compositions and loops for multi-step work."},
		{models.KnowledgeBoundaries, "Privacy routing",
			"Queries classified PRIVATE or CONFIDENTIAL never leave local rooms."},
		{models.KnowledgeBoundaries, "Spawn depth",
			"Sub-task spawning is capped at depth 3; deeper chains end BOUNDED."},
		{models.KnowledgePatterns, "Research convergence",
			"Research stops when confidence converges above 0.8 or findings stop growing."},
	}
	for _, s := range seeds {
		b.createLocked(models.KnowledgeEntry{
			Category:   s.category,
			Title:      s.title,
			Content:    s.content,
			Source:     models.SourceSeed,
			Confidence: 1.0,
		})
	}
}

func (b *Base) nextVersionLocked() int64 {
	b.version++
	return b.version
}

func (b *Base) createLocked(entry models.KnowledgeEntry) models.KnowledgeEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := b.now().UTC()
	entry.Version = b.nextVersionLocked()
	entry.IsActive = true
	entry.CreatedAt = now
	entry.UpdatedAt = now
	b.entries[entry.ID] = &entry
	return entry
}

// Create adds a manual entry.
func (b *Base) Create(create models.KnowledgeEntryCreate) models.KnowledgeEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	confidence := create.Confidence
	if confidence <= 0 {
		confidence = 0.8
	}
	return b.createLocked(models.KnowledgeEntry{
		Category:   create.Category,
		Title:      create.Title,
		Content:    create.Content,
		Source:     models.SourceManual,
		Confidence: confidence,
		UserID:     create.UserID,
		Tags:       create.Tags,
	})
}

// Deactivate retires an entry. Rooms learn of it via RemovedIDs on their
// next sync.
func (b *Base) Deactivate(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[id]
	if !ok || !entry.IsActive {
		return false
	}
	entry.IsActive = false
	entry.Version = b.nextVersionLocked()
	entry.UpdatedAt = b.now().UTC()
	return true
}

// Version returns the current global version.
func (b *Base) Version() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// SyncPush computes the delta for roomID since its last synced version and
// advances the room's sync state.
func (b *Base) SyncPush(roomID string) models.KnowledgeSyncPush {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.syncState[roomID]
	if !ok {
		state = &models.KnowledgeSyncState{RoomID: roomID}
		b.syncState[roomID] = state
	}

	push := models.KnowledgeSyncPush{ServerVersion: b.version}
	for _, entry := range b.entries {
		if entry.Version <= state.LastSyncedVersion {
			continue
		}
		if entry.IsActive {
			push.Entries = append(push.Entries, *entry)
		} else {
			push.RemovedIDs = append(push.RemovedIDs, entry.ID)
		}
	}
	sort.Slice(push.Entries, func(i, j int) bool { return push.Entries[i].Version < push.Entries[j].Version })
	sort.Strings(push.RemovedIDs)

	now := b.now().UTC()
	state.LastSyncedVersion = b.version
	state.LastSyncAt = &now

	b.log.Info("knowledge sync", "room_id", roomID,
		"entries", len(push.Entries), "removed", len(push.RemovedIDs),
		"server_version", b.version)
	return push
}

// SyncState returns the room's sync progress.
func (b *Base) SyncState(roomID string) (models.KnowledgeSyncState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.syncState[roomID]
	if !ok {
		return models.KnowledgeSyncState{}, false
	}
	return *state, true
}

// AcceptLearnings queues room observations for aggregation.
func (b *Base) AcceptLearnings(batch models.RoomLearningBatch) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	accepted := 0
	for _, l := range batch.Learnings {
		if l.Title == "" || l.Content == "" {
			continue
		}
		learning := l
		learning.RoomID = batch.RoomID
		if learning.ID == "" {
			learning.ID = uuid.NewString()
		}
		if learning.ObservedAt.IsZero() {
			learning.ObservedAt = b.now().UTC()
		}
		learning.Processed = false
		b.learnings = append(b.learnings, &learning)
		accepted++
	}
	return accepted
}

// AggregateLearnings folds unprocessed room learnings into knowledge
// entries. Observations with the same normalized title reported by at least
// aggregationMinRooms distinct rooms become shared AGGREGATED entries;
// smaller groups become ROOM_LEARNING entries at reduced confidence. All
// touched learnings are marked processed.
func (b *Base) AggregateLearnings() models.LearningAggregationResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	groups := make(map[string][]*models.RoomLearning)
	for _, l := range b.learnings {
		if !l.Processed {
			key := strings.ToLower(strings.TrimSpace(l.Title))
			groups[key] = append(groups[key], l)
		}
	}

	var result models.LearningAggregationResult
	for _, group := range groups {
		rooms := make(map[string]struct{})
		var confSum float64
		for _, l := range group {
			rooms[l.RoomID] = struct{}{}
			confSum += l.Confidence
		}
		mean := confSum / float64(len(group))
		sample := group[0]

		source := models.SourceRoomLearning
		confidence := mean
		if confidence > 0.8 {
			confidence = 0.8
		}
		if len(rooms) >= aggregationMinRooms {
			source = models.SourceAggregated
			confidence = mean + 0.2
			if confidence > 1.0 {
				confidence = 1.0
			}
		}

		b.createLocked(models.KnowledgeEntry{
			Category:   models.KnowledgePatterns,
			Title:      sample.Title,
			Content:    sample.Content,
			Source:     source,
			Confidence: confidence,
			Tags:       sample.Tags,
		})
		result.EntriesCreated++

		for _, l := range group {
			l.Processed = true
			result.LearningsProcessed++
		}
	}
	if result.EntriesCreated > 0 {
		b.log.Info("learnings aggregated",
			"entries_created", result.EntriesCreated,
			"learnings_processed", result.LearningsProcessed)
	}
	return result
}

// Entries returns active entries, optionally filtered by category, newest
// version first.
func (b *Base) Entries(category models.KnowledgeCategory) []models.KnowledgeEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []models.KnowledgeEntry
	for _, entry := range b.entries {
		if !entry.IsActive {
			continue
		}
		if category != "" && entry.Category != category {
			continue
		}
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out
}

// File renders the per-category markdown view.
func (b *Base) File(category models.KnowledgeCategory) models.KnowledgeFile {
	entries := b.Entries(category)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", titleCase(string(category)))
	var last *time.Time
	for _, entry := range entries {
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", entry.Title, entry.Content)
		if last == nil || entry.UpdatedAt.After(*last) {
			updated := entry.UpdatedAt
			last = &updated
		}
	}

	return models.KnowledgeFile{
		Category:    category,
		Title:       titleCase(string(category)),
		Markdown:    sb.String(),
		Entries:     entries,
		LastUpdated: last,
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
