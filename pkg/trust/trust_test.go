package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopsymphony/symphony/pkg/models"
)

func TestRecordOutcomeAccumulates(t *testing.T) {
	tr := NewTracker()
	tr.RecordOutcome("app", "user", models.OutcomeComplete)
	tr.RecordOutcome("app", "user", models.OutcomeSaturated)
	tr.RecordOutcome("app", "user", models.OutcomeInconclusive)

	m := tr.Get("app", "user")
	assert.Equal(t, 3, m.TotalTasks)
	assert.Equal(t, 2, m.SuccessfulTasks)
	assert.Equal(t, 1, m.FailedTasks)
	assert.Equal(t, 0, m.ConsecutiveSuccesses)
	assert.InDelta(t, 2.0/3.0, m.SuccessRate(), 1e-9)
	require.NotNil(t, m.LastTaskAt)
}

func TestStreakResetsOnBounded(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 4; i++ {
		tr.RecordOutcome("app", "u", models.OutcomeComplete)
	}
	tr.RecordOutcome("app", "u", models.OutcomeBounded)
	assert.Equal(t, 0, tr.Get("app", "u").ConsecutiveSuccesses)
}

func TestUpgradeSuggestedAtLevelZeroThreshold(t *testing.T) {
	tr := NewTracker()
	var suggestion *models.TrustUpgradeSuggestion
	for i := 0; i < 5; i++ {
		suggestion = tr.RecordOutcome("app", "u", models.OutcomeComplete)
	}
	require.NotNil(t, suggestion)
	assert.Equal(t, 0, suggestion.CurrentLevel)
	assert.Equal(t, 1, suggestion.SuggestedLevel)
	assert.Equal(t, 1.0, suggestion.SuccessRate)

	// Suggestion never applies itself.
	assert.Equal(t, 0, tr.Level("app", "u"))
}

func TestNoUpgradeBelowSuccessRate(t *testing.T) {
	tr := NewTracker()
	// 20 failures then 5 successes: streak met, rate 5/25 = 0.20 < 0.80.
	for i := 0; i < 20; i++ {
		tr.RecordOutcome("app", "u", models.OutcomeInconclusive)
	}
	var suggestion *models.TrustUpgradeSuggestion
	for i := 0; i < 5; i++ {
		suggestion = tr.RecordOutcome("app", "u", models.OutcomeComplete)
	}
	assert.Nil(t, suggestion)
}

func TestLevelOneNeedsTenConsecutive(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.SetTrustLevel("app", "u", 1))

	var suggestion *models.TrustUpgradeSuggestion
	for i := 0; i < 9; i++ {
		suggestion = tr.RecordOutcome("app", "u", models.OutcomeComplete)
		assert.Nil(t, suggestion)
	}
	suggestion = tr.RecordOutcome("app", "u", models.OutcomeComplete)
	require.NotNil(t, suggestion)
	assert.Equal(t, 2, suggestion.SuggestedLevel)
}

func TestNoSuggestionAtMaxLevel(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.SetTrustLevel("app", "u", 3))
	for i := 0; i < 30; i++ {
		assert.Nil(t, tr.RecordOutcome("app", "u", models.OutcomeComplete))
	}
	assert.Equal(t, 3, tr.Level("app", "u"))
}

func TestSetTrustLevelValidatesAndResetsStreak(t *testing.T) {
	tr := NewTracker()
	assert.Error(t, tr.SetTrustLevel("app", "u", 4))
	assert.Error(t, tr.SetTrustLevel("app", "u", -1))

	for i := 0; i < 3; i++ {
		tr.RecordOutcome("app", "u", models.OutcomeComplete)
	}
	require.NoError(t, tr.SetTrustLevel("app", "u", 2))
	m := tr.Get("app", "u")
	assert.Equal(t, 2, m.CurrentTrustLevel)
	assert.Equal(t, 0, m.ConsecutiveSuccesses)

	// Demotion goes through the same explicit path.
	require.NoError(t, tr.SetTrustLevel("app", "u", 0))
	assert.Equal(t, 0, tr.Level("app", "u"))
}

func TestMetricsAreScopedPerPair(t *testing.T) {
	tr := NewTracker()
	tr.RecordOutcome("app", "alice", models.OutcomeComplete)
	assert.Equal(t, 1, tr.Get("app", "alice").TotalTasks)
	assert.Equal(t, 0, tr.Get("app", "bob").TotalTasks)
	assert.Equal(t, 0, tr.Get("other", "alice").TotalTasks)
}

func TestPolicyDefaultRequiresApproval(t *testing.T) {
	e := NewPolicyEngine()
	eval := e.Evaluate("teleport", 3)
	assert.Equal(t, models.PolicyRequireApproval, eval.Action)
	assert.Nil(t, eval.MatchingRule)
}

func TestPolicyLadderGates(t *testing.T) {
	e := NewPolicyEngine()

	assert.Equal(t, models.PolicyRequireApproval, e.Evaluate(ActionAutonomousResearch, 0).Action)
	assert.Equal(t, models.PolicyAllow, e.Evaluate(ActionAutonomousResearch, 1).Action)

	assert.Equal(t, models.PolicyRequireApproval, e.Evaluate(ActionExecuteTask, 1).Action)
	assert.Equal(t, models.PolicyAllow, e.Evaluate(ActionExecuteTask, 2).Action)

	assert.Equal(t, models.PolicyRequireApproval, e.Evaluate(ActionSpawnSubConductor, 2).Action)
	assert.Equal(t, models.PolicyAllow, e.Evaluate(ActionSpawnSubConductor, 3).Action)
}

func TestPolicyFinancialAlwaysNeedsApproval(t *testing.T) {
	e := NewPolicyEngine()
	for lvl := 0; lvl <= 3; lvl++ {
		eval := e.Evaluate(ActionAccessFinancial, lvl)
		assert.Equal(t, models.PolicyRequireApproval, eval.Action)
		require.NotNil(t, eval.MatchingRule)
		assert.Equal(t, "financial-data-requires-approval", eval.MatchingRule.Name)
	}
}

func TestPolicyHigherPriorityWins(t *testing.T) {
	e := NewPolicyEngine(models.PolicyRule{
		Name:          "lockdown-research",
		ActionTypes:   []string{ActionAutonomousResearch},
		MinTrustLevel: 0,
		MaxTrustLevel: 3,
		Action:        models.PolicyDeny,
		Priority:      200,
	})
	eval := e.Evaluate(ActionAutonomousResearch, 3)
	assert.Equal(t, models.PolicyDeny, eval.Action)

	_, err := e.Check(ActionAutonomousResearch, 3)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "lockdown-research", denied.Rule)
}

func TestPolicyCheck(t *testing.T) {
	e := NewPolicyEngine()
	needsApproval, err := e.Check(ActionExecuteTask, 0)
	require.NoError(t, err)
	assert.True(t, needsApproval)

	needsApproval, err = e.Check(ActionExecuteTask, 3)
	require.NoError(t, err)
	assert.False(t, needsApproval)
}
