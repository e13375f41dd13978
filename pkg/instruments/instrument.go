// Package instruments contains the concrete task executors and the
// termination evaluator that bounds their iteration loops.
package instruments

import (
	"context"
	"fmt"
	"sort"

	"github.com/loopsymphony/symphony/pkg/models"
)

// Instrument is a single executor with a declared capability requirement
// and a bounded iteration budget. Execute must observe ctx cancellation at
// iteration boundaries and before network calls.
type Instrument interface {
	Name() string
	MaxIterations() int
	RequiredCapabilities() []string
	OptionalCapabilities() []string
	Execute(ctx context.Context, query string, tc *models.TaskContext) (*models.InstrumentResult, error)
}

// inconclusive builds the diagnostic result returned when a tool failure is
// not recoverable inside an instrument.
func inconclusive(name string, iterations int, err error) *models.InstrumentResult {
	if iterations < 1 {
		iterations = 1
	}
	return &models.InstrumentResult{
		Outcome: models.OutcomeInconclusive,
		Findings: []models.Finding{{
			Content:    fmt.Sprintf("%s failed: %v", name, err),
			Confidence: 0,
		}},
		Summary:          fmt.Sprintf("%s could not complete: %v", name, err),
		Confidence:       0,
		Iterations:       iterations,
		SourcesConsulted: []string{},
	}
}

// dedupSorted returns the unique values of in, sorted.
func dedupSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
