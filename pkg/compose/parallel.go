package compose

import (
	"context"
	"fmt"
	"time"

	"github.com/loopsymphony/symphony/pkg/models"
)

// Parallel fans a query out to branch instruments concurrently and merges
// the branch results with a merge instrument (default: synthesis). The merge
// instrument must be order-insensitive; branch results arrive in completion
// order.
type Parallel struct {
	branches      []string
	merge         string
	branchTimeout time.Duration
	lib           Library
}

// NewParallel validates branch and merge instrument names. A zero timeout
// disables per-branch deadlines; mergeName "" uses synthesis.
func NewParallel(branches []string, mergeName string, branchTimeout time.Duration, lib Library) (*Parallel, error) {
	if mergeName == "" {
		mergeName = "synthesis"
	}
	for _, b := range branches {
		if _, ok := lib.Instrument(b); !ok {
			return nil, unknownInstrument(b)
		}
	}
	if _, ok := lib.Instrument(mergeName); !ok {
		return nil, unknownInstrument(mergeName)
	}
	return &Parallel{branches: branches, merge: mergeName, branchTimeout: branchTimeout, lib: lib}, nil
}

type branchResult struct {
	index  int
	result *models.InstrumentResult
}

// Run executes all branches concurrently, then the merge step.
func (p *Parallel) Run(ctx context.Context, query string, tc *models.TaskContext) (*models.InstrumentResult, error) {
	results := make(chan branchResult, len(p.branches))

	for i, name := range p.branches {
		inst, _ := p.lib.Instrument(name)
		go func(idx int, instName string) {
			branchCtx := ctx
			cancel := context.CancelFunc(func() {})
			if p.branchTimeout > 0 {
				branchCtx, cancel = context.WithTimeout(ctx, p.branchTimeout)
			}
			defer cancel()

			res, err := inst.Execute(branchCtx, query, tc.Clone())
			if err != nil {
				// A branch failure or timeout becomes a single INCONCLUSIVE
				// finding; it never fails the composition.
				res = &models.InstrumentResult{
					Outcome: models.OutcomeInconclusive,
					Findings: []models.Finding{{
						Content:    fmt.Sprintf("branch %s did not complete: %v", instName, err),
						Source:     branchSource(idx, instName),
						Confidence: 0,
					}},
					Summary:          fmt.Sprintf("branch %s did not complete", instName),
					Confidence:       0,
					Iterations:       1,
					SourcesConsulted: []string{branchSource(idx, instName)},
				}
			}
			results <- branchResult{index: idx, result: res}
		}(i, name)
	}

	collected := make([]*models.InstrumentResult, 0, len(p.branches))
	var (
		iterations int
		sources    [][]string
		anySuccess bool
	)
	for range p.branches {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case br := <-results:
			collected = append(collected, br.result)
			iterations += br.result.Iterations
			sources = append(sources, br.result.SourcesConsulted)
			if br.result.Outcome != models.OutcomeInconclusive {
				anySuccess = true
			}
		}
	}

	mergeInst, _ := p.lib.Instrument(p.merge)
	mergeCtx := tc.Clone()
	mergeCtx.InputResults = make([]map[string]any, 0, len(collected))
	for _, res := range collected {
		mergeCtx.InputResults = append(mergeCtx.InputResults, SerializeResult(res))
	}

	merged, err := mergeInst.Execute(ctx, query, mergeCtx)
	if err != nil {
		return nil, err
	}

	outcome := merged.Outcome
	confidence := merged.Confidence
	if !anySuccess {
		outcome = models.OutcomeInconclusive
		confidence = 0
	}

	var findings []models.Finding
	for _, res := range collected {
		findings = append(findings, res.Findings...)
	}

	return &models.InstrumentResult{
		Outcome:            outcome,
		Findings:           findings,
		Summary:            merged.Summary,
		Confidence:         confidence,
		Iterations:         iterations,
		SourcesConsulted:   unionSources(sources...),
		SuggestedFollowups: merged.SuggestedFollowups,
	}, nil
}

func branchSource(idx int, name string) string {
	return fmt.Sprintf("branch:%d:%s", idx, name)
}
