package models

import "time"

// TrustMetrics accumulates outcome history per (app, user). A missing user
// id is the app-wide key, not a fallback for user-scoped metrics.
type TrustMetrics struct {
	AppID                string     `json:"app_id"`
	UserID               string     `json:"user_id,omitempty"`
	TotalTasks           int        `json:"total_tasks"`
	SuccessfulTasks      int        `json:"successful_tasks"`
	FailedTasks          int        `json:"failed_tasks"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	CurrentTrustLevel    int        `json:"current_trust_level"`
	LastTaskAt           *time.Time `json:"last_task_at,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// SuccessRate returns successes over total, 0 when no tasks recorded.
func (m *TrustMetrics) SuccessRate() float64 {
	if m.TotalTasks == 0 {
		return 0
	}
	return float64(m.SuccessfulTasks) / float64(m.TotalTasks)
}

// TrustUpgradeSuggestion recommends (never applies) a trust promotion.
type TrustUpgradeSuggestion struct {
	AppID        string  `json:"app_id"`
	UserID       string  `json:"user_id,omitempty"`
	CurrentLevel int     `json:"current_level"`
	SuggestedLevel int   `json:"suggested_level"`
	Reason       string  `json:"reason"`
	SuccessRate  float64 `json:"success_rate"`
}

// PolicyAction is what a matched policy rule mandates.
type PolicyAction string

const (
	PolicyAllow           PolicyAction = "ALLOW"
	PolicyDeny            PolicyAction = "DENY"
	PolicyRequireApproval PolicyAction = "REQUIRE_APPROVAL"
)

// PolicyRule gates an action type to a trust-level bracket. Rules are
// evaluated by descending priority, first match wins.
type PolicyRule struct {
	Name          string       `json:"name" yaml:"name"`
	Description   string       `json:"description,omitempty" yaml:"description,omitempty"`
	ActionTypes   []string     `json:"action_types" yaml:"action_types"`
	MinTrustLevel int          `json:"min_trust_level" yaml:"min_trust_level"`
	MaxTrustLevel int          `json:"max_trust_level" yaml:"max_trust_level"`
	Action        PolicyAction `json:"action" yaml:"action"`
	Priority      int          `json:"priority" yaml:"priority"`
}

// Matches reports whether the rule covers the action at the trust level.
func (r *PolicyRule) Matches(actionType string, trustLevel int) bool {
	if trustLevel < r.MinTrustLevel || trustLevel > r.MaxTrustLevel {
		return false
	}
	for _, at := range r.ActionTypes {
		if at == actionType {
			return true
		}
	}
	return false
}

// PolicyEvaluation is the outcome of evaluating (action_type, trust_level).
type PolicyEvaluation struct {
	Action       PolicyAction `json:"action"`
	MatchingRule *PolicyRule  `json:"matching_rule,omitempty"`
	Reason       string       `json:"reason"`
}
