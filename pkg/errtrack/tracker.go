// Package errtrack records typed errors and aggregates recurring patterns
// so the conductor can surface proactive suggestions.
package errtrack

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loopsymphony/symphony/pkg/models"
)

// maxRecords bounds the retained record ring. Patterns are kept forever;
// raw records rotate.
const maxRecords = 1000

// Tracker is the in-memory error log and pattern aggregator.
type Tracker struct {
	mu       sync.Mutex
	records  []models.ErrorRecord
	patterns map[string]*models.ErrorPattern
	now      func() time.Time
	log      *slog.Logger
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		patterns: make(map[string]*models.ErrorPattern),
		now:      time.Now,
		log:      slog.With("component", "error_tracker"),
	}
}

func patternKey(category models.ErrorCategory, instrument, tool string) string {
	return string(category) + "|" + instrument + "|" + tool
}

// Record logs one error and folds it into its (category, instrument, tool)
// pattern. Returns the updated pattern.
func (t *Tracker) Record(rec models.ErrorRecord) models.ErrorPattern {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Category == "" {
		rec.Category = models.ErrUnknown
	}
	if rec.Severity == "" {
		rec.Severity = defaultSeverity(rec.Category)
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = t.now().UTC()
	}

	t.records = append(t.records, rec)
	if len(t.records) > maxRecords {
		t.records = t.records[len(t.records)-maxRecords:]
	}

	key := patternKey(rec.Category, rec.Instrument, rec.Tool)
	pattern, ok := t.patterns[key]
	if !ok {
		pattern = &models.ErrorPattern{
			ID:         uuid.NewString(),
			Category:   rec.Category,
			Instrument: rec.Instrument,
			Tool:       rec.Tool,
			FirstSeen:  rec.OccurredAt,
		}
		t.patterns[key] = pattern
	}
	pattern.OccurrenceCount++
	pattern.LastSeen = rec.OccurredAt
	pattern.SuggestedAction = suggestedAction(rec.Category, pattern.OccurrenceCount)

	t.log.Warn("error recorded", "category", rec.Category, "severity", rec.Severity,
		"instrument", rec.Instrument, "tool", rec.Tool, "occurrences", pattern.OccurrenceCount)
	return *pattern
}

// Classify maps an error message to a category heuristically. Callers with
// typed knowledge should set the category themselves.
func Classify(err error) models.ErrorCategory {
	if err == nil {
		return models.ErrUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return models.ErrRateLimited
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"),
		strings.Contains(msg, "deadline exceeded"):
		return models.ErrTimeout
	case strings.Contains(msg, "depth"):
		return models.ErrDepthExceeded
	case strings.Contains(msg, "no results"):
		return models.ErrNoResults
	case strings.Contains(msg, "validation"), strings.Contains(msg, "invalid"):
		return models.ErrValidation
	case strings.Contains(msg, "http 5"), strings.Contains(msg, "api"):
		return models.ErrAPIFailure
	default:
		return models.ErrUnknown
	}
}

func defaultSeverity(cat models.ErrorCategory) models.ErrorSeverity {
	switch cat {
	case models.ErrContextOverflow, models.ErrDepthExceeded:
		return models.SeverityHigh
	case models.ErrAPIFailure, models.ErrRateLimited, models.ErrTimeout,
		models.ErrInstrumentFailure, models.ErrArrangementFailure, models.ErrToolFailure:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func suggestedAction(cat models.ErrorCategory, occurrences int) string {
	if occurrences < 3 {
		return ""
	}
	switch cat {
	case models.ErrRateLimited:
		return "Reduce request rate or raise the provider quota"
	case models.ErrTimeout:
		return "Increase the operation timeout or reduce query scope"
	case models.ErrNoResults:
		return "Rephrase queries or add sources for this topic"
	case models.ErrLowConfidence:
		return "Allow more iterations or lower the thoroughness expectation"
	case models.ErrDepthExceeded:
		return "Flatten spawn chains or raise max_spawn_depth deliberately"
	default:
		return "Investigate the recurring failure before relying on this path"
	}
}

// Patterns returns patterns with at least minOccurrences, most frequent
// first.
func (t *Tracker) Patterns(minOccurrences int) []models.ErrorPattern {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []models.ErrorPattern
	for _, p := range t.patterns {
		if p.OccurrenceCount >= minOccurrences {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurrenceCount != out[j].OccurrenceCount {
			return out[i].OccurrenceCount > out[j].OccurrenceCount
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Recent returns the most recent records, newest first, up to limit.
func (t *Tracker) Recent(limit int) []models.ErrorRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.ErrorRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, t.records[i])
	}
	return out
}

// Stats summarizes everything currently retained.
func (t *Tracker) Stats() models.ErrorStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := models.ErrorStats{
		ByCategory:   make(map[models.ErrorCategory]int),
		BySeverity:   make(map[models.ErrorSeverity]int),
		ByInstrument: make(map[string]int),
		PatternCount: len(t.patterns),
	}
	now := t.now().UTC()
	recovered := 0
	for _, rec := range t.records {
		stats.Total++
		stats.ByCategory[rec.Category]++
		stats.BySeverity[rec.Severity]++
		if rec.Instrument != "" {
			stats.ByInstrument[rec.Instrument]++
		}
		if rec.Recovered {
			recovered++
		}
		if now.Sub(rec.OccurredAt) <= time.Hour {
			stats.LastHour++
		}
		if now.Sub(rec.OccurredAt) <= 24*time.Hour {
			stats.LastDay++
		}
	}
	if stats.Total > 0 {
		stats.RecoveryRate = float64(recovered) / float64(stats.Total)
	}
	return stats
}
