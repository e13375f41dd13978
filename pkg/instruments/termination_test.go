package instruments

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loopsymphony/symphony/pkg/models"
)

func TestEvaluateBounds(t *testing.T) {
	e := NewEvaluator()
	d := e.Evaluate(5, 5, []float64{0.5, 0.6, 0.7, 0.75, 0.78}, 10, 8)
	assert.True(t, d.Stop)
	assert.Equal(t, models.OutcomeBounded, d.Outcome)
}

func TestEvaluateConvergence(t *testing.T) {
	// Confidence history [0.6, 0.82, 0.84] with threshold 0.8 and delta 0.05
	// terminates after iteration 3 with COMPLETE.
	e := NewEvaluator()

	d := e.Evaluate(1, 5, []float64{0.6}, 3, 0)
	assert.False(t, d.Stop)

	d = e.Evaluate(2, 5, []float64{0.6, 0.82}, 6, 3)
	assert.False(t, d.Stop, "delta 0.22 is not convergence")

	d = e.Evaluate(3, 5, []float64{0.6, 0.82, 0.84}, 9, 6)
	assert.True(t, d.Stop)
	assert.Equal(t, models.OutcomeComplete, d.Outcome)
}

func TestEvaluateLowConfidenceStall(t *testing.T) {
	e := NewEvaluator()
	d := e.Evaluate(3, 10, []float64{0.40, 0.41, 0.42}, 9, 6)
	assert.True(t, d.Stop)
	assert.Equal(t, models.OutcomeInconclusive, d.Outcome)
}

func TestEvaluateSaturation(t *testing.T) {
	e := NewEvaluator()
	d := e.Evaluate(2, 10, []float64{0.5, 0.55}, 4, 4)
	assert.True(t, d.Stop)
	assert.Equal(t, models.OutcomeSaturated, d.Outcome)
}

func TestEvaluateRuleOrderBoundsBeforeConvergence(t *testing.T) {
	// Both bounds and convergence hold; bounds is evaluated first.
	e := NewEvaluator()
	d := e.Evaluate(3, 3, []float64{0.85, 0.86, 0.86}, 9, 6)
	assert.True(t, d.Stop)
	assert.Equal(t, models.OutcomeBounded, d.Outcome)
}

func TestEvaluateContinue(t *testing.T) {
	e := NewEvaluator()
	d := e.Evaluate(2, 10, []float64{0.4, 0.6}, 6, 3)
	assert.False(t, d.Stop)
}

func TestConfidenceEmpty(t *testing.T) {
	assert.Zero(t, Confidence(nil, true))
}

func TestConfidenceFormula(t *testing.T) {
	findings := []models.Finding{
		{Content: "a", Source: "s1", Confidence: 0.8},
		{Content: "b", Source: "s2", Confidence: 0.6},
	}
	// 0.3 + 0.05*2 + 0.04*2 + 0.2 + 0.1*0.7 = 0.75
	assert.InDelta(t, 0.75, Confidence(findings, true), 1e-9)
	// Without an answer: 0.55.
	assert.InDelta(t, 0.55, Confidence(findings, false), 1e-9)
}

func TestConfidenceCaps(t *testing.T) {
	var findings []models.Finding
	for i := 0; i < 50; i++ {
		findings = append(findings, models.Finding{
			Content:    "f",
			Source:     string(rune('a' + i%26)),
			Confidence: 1,
		})
	}
	// Volume and breadth components cap at 0.2 each; total caps at 1.
	assert.LessOrEqual(t, Confidence(findings, true), 1.0)
	assert.InDelta(t, 1.0, Confidence(findings, true), 1e-9)
}
