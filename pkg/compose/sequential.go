package compose

import (
	"context"

	"github.com/loopsymphony/symphony/pkg/models"
)

// Step is one stage of a sequential composition.
type Step struct {
	Instrument string         `json:"instrument"`
	Config     map[string]any `json:"config,omitempty"`
}

// Sequential runs steps in strict order. Each step receives the previous
// step's serialized result as its only input; an INCONCLUSIVE step
// short-circuits the pipeline.
type Sequential struct {
	steps []Step
	lib   Library
}

// NewSequential validates that every step names a known instrument.
func NewSequential(steps []Step, lib Library) (*Sequential, error) {
	for _, s := range steps {
		if _, ok := lib.Instrument(s.Instrument); !ok {
			return nil, unknownInstrument(s.Instrument)
		}
	}
	return &Sequential{steps: steps, lib: lib}, nil
}

// Run executes the pipeline.
func (s *Sequential) Run(ctx context.Context, query string, tc *models.TaskContext) (*models.InstrumentResult, error) {
	var (
		last       *models.InstrumentResult
		iterations int
		sources    [][]string
	)

	stageCtx := tc.Clone()
	for _, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inst, _ := s.lib.Instrument(step.Instrument)

		if last != nil {
			stageCtx = stageCtx.Clone()
			stageCtx.InputResults = []map[string]any{SerializeResult(last)}
		}

		res, err := inst.Execute(ctx, query, stageCtx)
		if err != nil {
			return nil, err
		}
		iterations += res.Iterations
		sources = append(sources, res.SourcesConsulted)

		if res.Outcome == models.OutcomeInconclusive {
			return &models.InstrumentResult{
				Outcome:          models.OutcomeInconclusive,
				Findings:         res.Findings,
				Summary:          res.Summary,
				Confidence:       res.Confidence,
				Iterations:       iterations,
				SourcesConsulted: unionSources(sources...),
			}, nil
		}
		last = res
	}

	if last == nil {
		return nil, unknownInstrument("(empty pipeline)")
	}

	return &models.InstrumentResult{
		Outcome:            last.Outcome,
		Findings:           last.Findings,
		Summary:            last.Summary,
		Confidence:         last.Confidence,
		Iterations:         iterations,
		SourcesConsulted:   unionSources(sources...),
		Discrepancy:        last.Discrepancy,
		SuggestedFollowups: last.SuggestedFollowups,
	}, nil
}
