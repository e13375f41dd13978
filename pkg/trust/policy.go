package trust

import (
	"fmt"
	"sort"
	"sync"

	"github.com/loopsymphony/symphony/pkg/models"
)

// Action types gated by policy.
const (
	ActionAutonomousResearch = "autonomous_research"
	ActionExecuteTask        = "execute_task"
	ActionSpawnSubConductor  = "spawn_sub_conductor"
	ActionAccessFinancial    = "access_financial_data"
	ActionUpgradeTrust       = "upgrade_trust"
)

// DeniedError reports a policy DENY for an action.
type DeniedError struct {
	ActionType string
	Rule       string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("action %q denied by policy rule %q", e.ActionType, e.Rule)
}

// PolicyEngine evaluates action requests against an ordered rule set.
// Unmatched actions require approval, never silently pass.
type PolicyEngine struct {
	mu    sync.RWMutex
	rules []models.PolicyRule
}

// NewPolicyEngine returns an engine loaded with the default rules plus any
// extras. Extras are evaluated by the same priority ordering.
func NewPolicyEngine(extra ...models.PolicyRule) *PolicyEngine {
	e := &PolicyEngine{rules: append(defaultRules(), extra...)}
	e.sortRules()
	return e
}

func defaultRules() []models.PolicyRule {
	return []models.PolicyRule{
		{
			Name:          "financial-data-requires-approval",
			Description:   "financial data access always needs a human",
			ActionTypes:   []string{ActionAccessFinancial},
			MinTrustLevel: 0,
			MaxTrustLevel: MaxTrustLevel,
			Action:        models.PolicyRequireApproval,
			Priority:      100,
		},
		{
			Name:          "trust-upgrade-requires-approval",
			Description:   "trust promotions are applied only after approval",
			ActionTypes:   []string{ActionUpgradeTrust},
			MinTrustLevel: 0,
			MaxTrustLevel: MaxTrustLevel,
			Action:        models.PolicyRequireApproval,
			Priority:      100,
		},
		{
			Name:          "autonomous-research",
			ActionTypes:   []string{ActionAutonomousResearch},
			MinTrustLevel: 1,
			MaxTrustLevel: MaxTrustLevel,
			Action:        models.PolicyAllow,
			Priority:      50,
		},
		{
			Name:          "autonomous-task-execution",
			ActionTypes:   []string{ActionExecuteTask},
			MinTrustLevel: 2,
			MaxTrustLevel: MaxTrustLevel,
			Action:        models.PolicyAllow,
			Priority:      50,
		},
		{
			Name:          "sub-conductor-spawning",
			ActionTypes:   []string{ActionSpawnSubConductor},
			MinTrustLevel: 3,
			MaxTrustLevel: MaxTrustLevel,
			Action:        models.PolicyAllow,
			Priority:      50,
		},
	}
}

func (e *PolicyEngine) sortRules() {
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority > e.rules[j].Priority
	})
}

// AddRule inserts a rule, keeping priority order.
func (e *PolicyEngine) AddRule(rule models.PolicyRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
	e.sortRules()
}

// Rules returns a copy of the active rule set in evaluation order.
func (e *PolicyEngine) Rules() []models.PolicyRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.PolicyRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate returns the action mandated for (actionType, trustLevel). First
// match in descending priority wins; no match means REQUIRE_APPROVAL.
func (e *PolicyEngine) Evaluate(actionType string, trustLevel int) models.PolicyEvaluation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for i := range e.rules {
		rule := &e.rules[i]
		if rule.Matches(actionType, trustLevel) {
			matched := *rule
			return models.PolicyEvaluation{
				Action:       rule.Action,
				MatchingRule: &matched,
				Reason:       fmt.Sprintf("matched rule %q", rule.Name),
			}
		}
	}
	return models.PolicyEvaluation{
		Action: models.PolicyRequireApproval,
		Reason: "no rule matched; defaulting to approval",
	}
}

// Check is Evaluate with DENY surfaced as a typed error. The returned bool
// reports whether approval is required.
func (e *PolicyEngine) Check(actionType string, trustLevel int) (requiresApproval bool, err error) {
	eval := e.Evaluate(actionType, trustLevel)
	switch eval.Action {
	case models.PolicyDeny:
		name := ""
		if eval.MatchingRule != nil {
			name = eval.MatchingRule.Name
		}
		return false, &DeniedError{ActionType: actionType, Rule: name}
	case models.PolicyRequireApproval:
		return true, nil
	default:
		return false, nil
	}
}
