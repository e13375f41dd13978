// Package events provides the per-task in-memory pub/sub bus that feeds
// SSE streams.
//
// Concurrency model: all stream state is guarded by a single RWMutex. Emit
// takes a snapshot of subscriber channels under the lock and pushes
// non-blocking; a full subscriber queue drops the new event for that
// subscriber only. History is retained for late joiners up to the queue
// bound, and swept after the TTL once a terminal event lands.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/loopsymphony/symphony/pkg/models"
)

const (
	// DefaultQueueSize bounds each subscriber channel and the history
	// replayed to late joiners.
	DefaultQueueSize = 100
	// DefaultHistoryTTL is how long a task's events survive after its
	// terminal event.
	DefaultHistoryTTL = 300 * time.Second
)

type taskStream struct {
	history     []models.TaskEvent
	subscribers []chan models.TaskEvent
	terminalAt  time.Time
}

// Bus is the process-wide event bus.
type Bus struct {
	mu         sync.RWMutex
	streams    map[string]*taskStream
	queueSize  int
	historyTTL time.Duration
	now        func() time.Time
	log        *slog.Logger
}

// NewBus returns a bus with default bounds.
func NewBus() *Bus {
	return &Bus{
		streams:    make(map[string]*taskStream),
		queueSize:  DefaultQueueSize,
		historyTTL: DefaultHistoryTTL,
		now:        time.Now,
		log:        slog.With("component", "event_bus"),
	}
}

// Emit appends the event to the task's history and pushes it to every
// subscriber without blocking. Events for subscribers with full queues are
// dropped.
func (b *Bus) Emit(taskID, name string, data map[string]any) {
	event := models.TaskEvent{
		TaskID:    taskID,
		Name:      name,
		Timestamp: b.now().UTC(),
		Data:      data,
	}

	b.mu.Lock()
	stream, ok := b.streams[taskID]
	if !ok {
		stream = &taskStream{}
		b.streams[taskID] = stream
	}
	stream.history = append(stream.history, event)
	if len(stream.history) > b.queueSize {
		stream.history = stream.history[len(stream.history)-b.queueSize:]
	}
	if event.IsTerminal() && stream.terminalAt.IsZero() {
		stream.terminalAt = event.Timestamp
	}
	subscribers := make([]chan models.TaskEvent, len(stream.subscribers))
	copy(subscribers, stream.subscribers)
	b.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			b.log.Warn("subscriber queue full, dropping event",
				"task_id", taskID, "event", name)
		}
	}
}

// Subscribe returns a channel pre-populated with the task's history. The
// channel is bounded; when history exceeds the bound the oldest events are
// truncated first.
func (b *Bus) Subscribe(taskID string) <-chan models.TaskEvent {
	b.sweepStale()

	b.mu.Lock()
	defer b.mu.Unlock()

	stream, ok := b.streams[taskID]
	if !ok {
		stream = &taskStream{}
		b.streams[taskID] = stream
	}

	ch := make(chan models.TaskEvent, b.queueSize)
	history := stream.history
	if len(history) > b.queueSize {
		history = history[len(history)-b.queueSize:]
	}
	for _, ev := range history {
		ch <- ev
	}
	stream.subscribers = append(stream.subscribers, ch)
	return ch
}

// Unsubscribe removes the channel from the task's subscriber list.
// Idempotent; unknown channels and tasks are ignored.
func (b *Bus) Unsubscribe(taskID string, ch <-chan models.TaskEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stream, ok := b.streams[taskID]
	if !ok {
		return
	}
	for i, sub := range stream.subscribers {
		if sub == ch {
			stream.subscribers = append(stream.subscribers[:i], stream.subscribers[i+1:]...)
			return
		}
	}
}

// HasTerminalEvent reports whether the task's history contains a complete
// or error event.
func (b *Bus) HasTerminalEvent(taskID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stream, ok := b.streams[taskID]
	return ok && !stream.terminalAt.IsZero()
}

// History returns a copy of the task's retained events.
func (b *Bus) History(taskID string) []models.TaskEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stream, ok := b.streams[taskID]
	if !ok {
		return nil
	}
	out := make([]models.TaskEvent, len(stream.history))
	copy(out, stream.history)
	return out
}

// CleanupStale removes all state for tasks whose terminal event is older
// than the history TTL. Called on subscribe so test behavior stays
// deterministic; callers may also sweep explicitly.
func (b *Bus) CleanupStale() int {
	return b.sweepStale()
}

func (b *Bus) sweepStale() int {
	cutoff := b.now().UTC().Add(-b.historyTTL)

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for taskID, stream := range b.streams {
		if !stream.terminalAt.IsZero() && stream.terminalAt.Before(cutoff) {
			delete(b.streams, taskID)
			removed++
		}
	}
	return removed
}
