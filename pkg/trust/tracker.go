// Package trust implements the trust ladder and the policy gate.
//
// Trust is earned per (app, user) pair through outcome history. The tracker
// only ever suggests promotions; applying a new level is an explicit,
// human-approved call. Demotion is likewise never automatic.
package trust

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loopsymphony/symphony/pkg/models"
)

// Ladder thresholds: consecutive successes and overall success rate required
// to suggest the next level.
var upgradeThresholds = map[int]struct {
	consecutive int
	successRate float64
}{
	0: {consecutive: 5, successRate: 0.80},
	1: {consecutive: 10, successRate: 0.90},
	2: {consecutive: 20, successRate: 0.95},
}

// MaxTrustLevel is the top of the ladder.
const MaxTrustLevel = 3

// Tracker accumulates outcome metrics per (app, user) pair.
type Tracker struct {
	mu      sync.Mutex
	metrics map[string]*models.TrustMetrics
	now     func() time.Time
	log     *slog.Logger
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		metrics: make(map[string]*models.TrustMetrics),
		now:     time.Now,
		log:     slog.With("component", "trust_tracker"),
	}
}

func key(appID, userID string) string {
	return appID + "\x00" + userID
}

// RecordOutcome updates the pair's metrics. COMPLETE and SATURATED extend
// the success streak; anything else resets it. Returns an upgrade
// suggestion when the new streak crosses the next threshold, nil otherwise.
func (t *Tracker) RecordOutcome(appID, userID string, outcome models.Outcome) *models.TrustUpgradeSuggestion {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.metrics[key(appID, userID)]
	if !ok {
		m = &models.TrustMetrics{AppID: appID, UserID: userID}
		t.metrics[key(appID, userID)] = m
	}

	now := t.now().UTC()
	m.TotalTasks++
	m.LastTaskAt = &now
	m.UpdatedAt = now

	if outcome.IsSuccess() {
		m.SuccessfulTasks++
		m.ConsecutiveSuccesses++
	} else {
		m.FailedTasks++
		m.ConsecutiveSuccesses = 0
	}

	return t.suggestionLocked(m)
}

func (t *Tracker) suggestionLocked(m *models.TrustMetrics) *models.TrustUpgradeSuggestion {
	threshold, ok := upgradeThresholds[m.CurrentTrustLevel]
	if !ok {
		return nil
	}
	if m.ConsecutiveSuccesses < threshold.consecutive || m.SuccessRate() < threshold.successRate {
		return nil
	}
	suggestion := &models.TrustUpgradeSuggestion{
		AppID:          m.AppID,
		UserID:         m.UserID,
		CurrentLevel:   m.CurrentTrustLevel,
		SuggestedLevel: m.CurrentTrustLevel + 1,
		SuccessRate:    m.SuccessRate(),
		Reason: fmt.Sprintf("%d consecutive successes at %.0f%% overall success rate",
			m.ConsecutiveSuccesses, m.SuccessRate()*100),
	}
	t.log.Info("trust upgrade suggested",
		"app_id", m.AppID, "user_id", m.UserID,
		"current_level", suggestion.CurrentLevel, "suggested_level", suggestion.SuggestedLevel)
	return suggestion
}

// SetTrustLevel applies an approved level change. This is the only path
// that changes the level, in either direction.
func (t *Tracker) SetTrustLevel(appID, userID string, level int) error {
	if level < 0 || level > MaxTrustLevel {
		return fmt.Errorf("trust level %d out of range [0,%d]", level, MaxTrustLevel)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.metrics[key(appID, userID)]
	if !ok {
		m = &models.TrustMetrics{AppID: appID, UserID: userID}
		t.metrics[key(appID, userID)] = m
	}
	t.log.Info("trust level changed", "app_id", appID, "user_id", userID,
		"from", m.CurrentTrustLevel, "to", level)
	m.CurrentTrustLevel = level
	m.ConsecutiveSuccesses = 0
	m.UpdatedAt = t.now().UTC()
	return nil
}

// Get returns the pair's metrics snapshot. A pair with no history gets
// zeroed metrics at level 0.
func (t *Tracker) Get(appID, userID string) models.TrustMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.metrics[key(appID, userID)]; ok {
		return *m
	}
	return models.TrustMetrics{AppID: appID, UserID: userID}
}

// Level returns the pair's current trust level.
func (t *Tracker) Level(appID, userID string) int {
	return t.Get(appID, userID).CurrentTrustLevel
}
