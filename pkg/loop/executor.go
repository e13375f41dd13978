package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/loopsymphony/symphony/pkg/compose"
	"github.com/loopsymphony/symphony/pkg/instruments"
	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/tools"
)

// Executor runs a validated proposal phase by phase, accumulating findings
// and sources under the total iteration budget.
type Executor struct {
	lib    compose.Library
	reason tools.Tool
	eval   *instruments.Evaluator
	log    *slog.Logger
}

// NewExecutor resolves the reasoning capability used by prompt phases.
func NewExecutor(lib compose.Library, reg *tools.Registry, eval *instruments.Evaluator) (*Executor, error) {
	resolved, err := reg.Resolve([]string{tools.CapReasoning}, nil)
	if err != nil {
		return nil, err
	}
	if eval == nil {
		eval = instruments.NewEvaluator()
	}
	return &Executor{
		lib:    lib,
		reason: resolved[tools.CapReasoning],
		eval:   eval,
		log:    slog.With("component", "loop_executor"),
	}, nil
}

// Run executes the proposal. Outcomes: BOUNDED when the budget is spent,
// INCONCLUSIVE when a phase fails, COMPLETE when the final confidence meets
// the threshold, SATURATED otherwise.
func (e *Executor) Run(ctx context.Context, p *Proposal, query string, tc *models.TaskContext) (*models.InstrumentResult, error) {
	if v := Validate(p, e.lib); !v.Valid {
		return nil, fmt.Errorf("invalid loop proposal: %s", strings.Join(v.Errors, "; "))
	}
	if tc == nil {
		tc = models.NewTaskContext()
	}

	budget := p.MaxTotalIterations
	var (
		findings   []models.Finding
		sources    []string
		iterations int
		confidence float64
		bounded    bool
	)

	for _, phase := range p.Phases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if iterations >= budget {
			bounded = true
			break
		}

		// A phase spends at most its own max_iterations out of what is
		// left of the total budget.
		phaseBudget := minInt(phase.MaxIterations, budget-iterations)
		res, used, err := e.runPhase(ctx, phase, p, query, tc, findings, phaseBudget)
		iterations += used
		if err != nil {
			var depthErr *DepthExceededError
			if errors.As(err, &depthErr) {
				return &models.InstrumentResult{
					Outcome:            models.OutcomeBounded,
					Findings:           findings,
					Summary:            fmt.Sprintf("loop stopped at phase %q: %v", phase.Name, depthErr),
					Confidence:         confidence,
					Iterations:         maxInt(iterations, 1),
					SourcesConsulted:   dedupSorted(sources),
					SuggestedFollowups: []string{"Reduce spawn depth or raise max_depth for this task"},
				}, nil
			}
			return nil, err
		}

		findings = append(findings, res.Findings...)
		sources = append(sources, res.SourcesConsulted...)
		confidence = instruments.Confidence(findings, res.Summary != "")

		if tc.Checkpoint != nil {
			_ = tc.Checkpoint(ctx, iterations, phase.Name, map[string]any{
				"phase":      phase.Name,
				"findings":   len(findings),
				"confidence": confidence,
			}, 0)
		}

		if res.Outcome == models.OutcomeInconclusive {
			return &models.InstrumentResult{
				Outcome:          models.OutcomeInconclusive,
				Findings:         findings,
				Summary:          fmt.Sprintf("loop stopped at phase %q: %s", phase.Name, res.Summary),
				Confidence:       confidence,
				Iterations:       maxInt(iterations, 1),
				SourcesConsulted: dedupSorted(sources),
			}, nil
		}
	}

	outcome := models.OutcomeSaturated
	switch {
	case bounded || iterations >= budget:
		outcome = models.OutcomeBounded
	case confidence >= e.eval.ConfidenceThreshold:
		outcome = models.OutcomeComplete
	}

	return &models.InstrumentResult{
		Outcome:          outcome,
		Findings:         findings,
		Summary:          e.summaryFor(findings, p.Name),
		Confidence:       confidence,
		Iterations:       maxInt(iterations, 1),
		SourcesConsulted: dedupSorted(sources),
	}, nil
}

// runPhase executes one phase and reports the iterations consumed.
func (e *Executor) runPhase(ctx context.Context, phase Phase, p *Proposal, query string, tc *models.TaskContext, prior []models.Finding, remaining int) (*models.InstrumentResult, int, error) {
	switch phase.Action {
	case ActionInstrument:
		inst, _ := e.lib.Instrument(phase.Instrument)
		phaseCtx := tc.Clone()
		if len(prior) > 0 {
			phaseCtx.InputResults = []map[string]any{findingsAsInput(prior)}
		}
		res, err := inst.Execute(ctx, query, phaseCtx)
		if err != nil {
			return nil, 0, err
		}
		return res, minInt(res.Iterations, remaining), nil

	case ActionPrompt:
		prompt := ExpandTemplate(phase.PromptTemplate, query, renderFindings(prior), phase.Name)
		res, err := e.reason.Invoke(ctx, tools.Call{Capability: tools.CapReasoning, Prompt: prompt})
		if err != nil {
			if ctx.Err() != nil {
				return nil, 1, ctx.Err()
			}
			return &models.InstrumentResult{
				Outcome:          models.OutcomeInconclusive,
				Findings:         []models.Finding{{Content: fmt.Sprintf("phase %s failed: %v", phase.Name, err), Confidence: 0}},
				Summary:          fmt.Sprintf("prompt phase failed: %v", err),
				Iterations:       1,
				SourcesConsulted: []string{},
			}, 1, nil
		}
		return &models.InstrumentResult{
			Outcome:          models.OutcomeComplete,
			Findings:         []models.Finding{{Content: res.Text, Source: "phase:" + phase.Name, Confidence: 0.6}},
			Summary:          res.Text,
			Confidence:       0.6,
			Iterations:       1,
			SourcesConsulted: []string{"phase:" + phase.Name},
		}, 1, nil

	case ActionSpawn:
		spawnCtx := tc.Clone()
		spawnCtx.Depth++
		if spawnCtx.Depth > spawnCtx.MaxDepth {
			return nil, 0, &DepthExceededError{Depth: spawnCtx.Depth, MaxDepth: spawnCtx.MaxDepth}
		}
		if tc.Spawn == nil {
			return nil, 0, fmt.Errorf("phase %q: spawn is not available in this context", phase.Name)
		}
		sub := &models.TaskRequest{Query: phase.Description, Context: spawnCtx}
		sub.EnsureID()
		resp, err := tc.Spawn(ctx, sub)
		if err != nil {
			return nil, 1, err
		}
		return &models.InstrumentResult{
			Outcome:          resp.Outcome,
			Findings:         resp.Findings,
			Summary:          resp.Summary,
			Confidence:       resp.Confidence,
			Iterations:       1,
			SourcesConsulted: resp.Metadata.SourcesConsulted,
		}, 1, nil

	default:
		return nil, 0, fmt.Errorf("phase %q: unknown action %q", phase.Name, phase.Action)
	}
}

func (e *Executor) summaryFor(findings []models.Finding, loopName string) string {
	if len(findings) == 0 {
		return fmt.Sprintf("loop %q produced no findings", loopName)
	}
	// The last finding is the most synthesized view of the run.
	return findings[len(findings)-1].Content
}

func renderFindings(findings []models.Finding) string {
	if len(findings) == 0 {
		return "(none yet)"
	}
	var sb strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&sb, "- %s\n", f.Content)
	}
	return sb.String()
}

func findingsAsInput(findings []models.Finding) map[string]any {
	items := make([]any, 0, len(findings))
	for _, f := range findings {
		items = append(items, map[string]any{
			"content":    f.Content,
			"source":     f.Source,
			"confidence": f.Confidence,
		})
	}
	return map[string]any{"findings": items}
}

func dedupSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
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

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
