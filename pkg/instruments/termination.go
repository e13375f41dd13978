package instruments

import (
	"fmt"

	"github.com/loopsymphony/symphony/pkg/models"
)

// Termination evaluator defaults.
const (
	DefaultConfidenceThreshold = 0.8
	DefaultDeltaThreshold      = 0.05
)

// Decision is the evaluator's verdict for one iteration.
type Decision struct {
	Stop    bool
	Outcome models.Outcome
	Reason  string
}

// Evaluator decides when an iterative loop stops and with what outcome.
// Pure evaluation, never suspends.
type Evaluator struct {
	ConfidenceThreshold float64
	DeltaThreshold      float64
}

// NewEvaluator returns an evaluator with default thresholds.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		DeltaThreshold:      DefaultDeltaThreshold,
	}
}

// Evaluate applies the termination rules in order; the first satisfied rule
// determines the outcome.
//
//  1. Bounds: iteration >= maxIterations stops with BOUNDED.
//  2. Convergence: two consecutive confidences within delta, at or above the
//     threshold, stops with COMPLETE.
//  3. Stall: three consecutive confidences within delta, below the
//     threshold, stops with INCONCLUSIVE.
//  4. Saturation: no new findings versus the previous iteration stops with
//     SATURATED.
func (e *Evaluator) Evaluate(iteration, maxIterations int, confHistory []float64, findingCount, prevFindingCount int) Decision {
	if iteration >= maxIterations {
		return Decision{Stop: true, Outcome: models.OutcomeBounded,
			Reason: fmt.Sprintf("hit iteration cap %d", maxIterations)}
	}

	n := len(confHistory)
	if iteration >= 2 && n >= 2 {
		delta := abs(confHistory[n-1] - confHistory[n-2])
		if delta < e.DeltaThreshold && confHistory[n-1] >= e.ConfidenceThreshold {
			return Decision{Stop: true, Outcome: models.OutcomeComplete,
				Reason: "confidence converged above threshold"}
		}
	}

	if iteration >= 3 && n >= 3 {
		d1 := abs(confHistory[n-1] - confHistory[n-2])
		d2 := abs(confHistory[n-2] - confHistory[n-3])
		if d1 < e.DeltaThreshold && d2 < e.DeltaThreshold && confHistory[n-1] < e.ConfidenceThreshold {
			return Decision{Stop: true, Outcome: models.OutcomeInconclusive,
				Reason: "confidence stalled below threshold"}
		}
	}

	if iteration > 1 && findingCount <= prevFindingCount {
		return Decision{Stop: true, Outcome: models.OutcomeSaturated,
			Reason: "no new findings"}
	}

	return Decision{Stop: false}
}

// Confidence scores the current evidence. Returns 0 when there are no
// findings. Components: 0.3 base, up to 0.2 for finding volume, up to 0.2
// for source breadth, 0.2 for a synthesized answer, up to 0.1 for mean
// finding confidence; capped at 1.
func Confidence(findings []models.Finding, hasAnswer bool) float64 {
	if len(findings) == 0 {
		return 0
	}

	sources := make(map[string]struct{})
	var confSum float64
	for _, f := range findings {
		if f.Source != "" {
			sources[f.Source] = struct{}{}
		}
		confSum += f.Confidence
	}

	score := 0.3
	score += min2(0.2, 0.05*float64(len(findings)))
	score += min2(0.2, 0.04*float64(len(sources)))
	if hasAnswer {
		score += 0.2
	}
	score += 0.1 * (confSum / float64(len(findings)))

	return min2(1, score)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
