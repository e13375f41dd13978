package instruments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/tools"
)

const (
	DefaultResearchIterations = 5
	maxQueriesPerIteration    = 3
	maxResultsPerSearch       = 5
)

// Research is the iterative search-and-refine instrument. Each iteration
// searches, folds new results into the finding set, and asks the evaluator
// whether to stop.
type Research struct {
	reason    tools.Tool
	search    tools.Tool
	synthesis tools.Tool // nil when the optional capability is unprovided
	analysis  tools.Tool // nil when the optional capability is unprovided
	maxIters  int
	evaluator *Evaluator
	log       *slog.Logger
}

// NewResearch resolves reasoning and web_search (required) plus synthesis
// and analysis (optional).
func NewResearch(reg *tools.Registry, maxIterations int, eval *Evaluator) (*Research, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultResearchIterations
	}
	if eval == nil {
		eval = NewEvaluator()
	}
	resolved, err := reg.Resolve(
		[]string{tools.CapReasoning, tools.CapWebSearch},
		[]string{tools.CapSynthesis, tools.CapAnalysis},
	)
	if err != nil {
		return nil, err
	}
	return &Research{
		reason:    resolved[tools.CapReasoning],
		search:    resolved[tools.CapWebSearch],
		synthesis: resolved[tools.CapSynthesis],
		analysis:  resolved[tools.CapAnalysis],
		maxIters:  maxIterations,
		evaluator: eval,
		log:       slog.With("instrument", "research"),
	}, nil
}

func (r *Research) Name() string       { return "research" }
func (r *Research) MaxIterations() int { return r.maxIters }
func (r *Research) RequiredCapabilities() []string {
	return []string{tools.CapReasoning, tools.CapWebSearch}
}
func (r *Research) OptionalCapabilities() []string {
	return []string{tools.CapSynthesis, tools.CapAnalysis}
}

func (r *Research) Execute(ctx context.Context, query string, tc *models.TaskContext) (*models.InstrumentResult, error) {
	queries, err := r.initialQueries(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Query generation is recoverable: fall back to the raw query.
		r.log.Warn("initial query generation failed, using raw query", "error", err)
		queries = []string{query}
	}

	var (
		findings    []models.Finding
		confHistory []float64
		seen        = make(map[string]struct{})
		iterations  int
		outcome     = models.OutcomeBounded
	)

	for i := 1; i <= r.maxIters; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iterations = i
		prevCount := len(findings)
		start := time.Now()

		for _, q := range queries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			res, err := r.search.Invoke(ctx, tools.Call{
				Capability: tools.CapWebSearch,
				Query:      q,
				MaxResults: maxResultsPerSearch,
			})
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				// A single failed search is skipped, not fatal.
				r.log.Warn("search failed", "query", q, "error", err)
				continue
			}
			for _, hit := range res.Results {
				if _, dup := seen[hit.URL]; dup {
					continue
				}
				seen[hit.URL] = struct{}{}
				conf := hit.Score
				if conf <= 0 || conf > 1 {
					conf = 0.5
				}
				findings = append(findings, models.Finding{
					Content:    hit.Content,
					Source:     hit.URL,
					Confidence: conf,
				})
			}
		}

		conf := Confidence(findings, false)
		confHistory = append(confHistory, conf)

		if tc != nil && tc.Checkpoint != nil {
			_ = tc.Checkpoint(ctx, i, "search", map[string]any{
				"queries":    queries,
				"findings":   len(findings),
				"confidence": conf,
			}, time.Since(start))
		}

		decision := r.evaluator.Evaluate(i, r.maxIters, confHistory, len(findings), prevCount)
		if decision.Stop {
			outcome = decision.Outcome
			r.log.Info("research terminated", "iteration", i, "outcome", outcome, "reason", decision.Reason)
			break
		}

		queries = r.refineQueries(ctx, query, findings)
	}

	if len(findings) == 0 {
		return inconclusive(r.Name(), iterations, fmt.Errorf("no results found for %q", query)), nil
	}

	summary, err := r.summarize(ctx, query, findings)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		summary = fmt.Sprintf("Collected %d findings for %q; synthesis unavailable.", len(findings), query)
	}

	sources := make([]string, 0, len(findings))
	for _, f := range findings {
		sources = append(sources, f.Source)
	}

	result := &models.InstrumentResult{
		Outcome:          outcome,
		Findings:         findings,
		Summary:          summary,
		Confidence:       Confidence(findings, summary != ""),
		Iterations:       iterations,
		SourcesConsulted: dedupSorted(sources),
	}
	r.detectDiscrepancy(ctx, result)
	return result, nil
}

// initialQueries asks the reasoning tool for up to three search queries.
func (r *Research) initialQueries(ctx context.Context, query string) ([]string, error) {
	res, err := r.reason.Invoke(ctx, tools.Call{
		Capability: tools.CapReasoning,
		System:     "Generate focused web search queries. Output one query per line, nothing else.",
		Prompt:     fmt.Sprintf("Generate up to %d search queries to research: %s", maxQueriesPerIteration, query),
	})
	if err != nil {
		return nil, err
	}
	queries := parseQueryLines(res.Text)
	if len(queries) == 0 {
		queries = []string{query}
	}
	return queries, nil
}

// refineQueries asks for follow-up queries given findings to date. Failure
// falls back to the original query.
func (r *Research) refineQueries(ctx context.Context, query string, findings []models.Finding) []string {
	var sb strings.Builder
	for i, f := range findings {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&sb, "- %s\n", truncate(f.Content, 200))
	}
	res, err := r.reason.Invoke(ctx, tools.Call{
		Capability: tools.CapReasoning,
		System:     "Generate refined web search queries that fill gaps in the findings. Output one query per line, nothing else.",
		Prompt:     fmt.Sprintf("Original question: %s\n\nFindings so far:\n%s\nGenerate up to %d refined queries.", query, sb.String(), maxQueriesPerIteration),
	})
	if err != nil {
		return []string{query}
	}
	queries := parseQueryLines(res.Text)
	if len(queries) == 0 {
		return []string{query}
	}
	return queries
}

// summarize produces the final answer, preferring the synthesis tool.
func (r *Research) summarize(ctx context.Context, query string, findings []models.Finding) (string, error) {
	tool := r.synthesis
	cap := tools.CapSynthesis
	if tool == nil {
		tool = r.reason
		cap = tools.CapReasoning
	}

	var sb strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&sb, "- %s (source: %s)\n", truncate(f.Content, 300), f.Source)
	}
	res, err := tool.Invoke(ctx, tools.Call{
		Capability: cap,
		System:     "Synthesize research findings into a direct, sourced answer.",
		Prompt:     fmt.Sprintf("Question: %s\n\nFindings:\n%s", query, sb.String()),
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// detectDiscrepancy flags contradictory findings via the analysis tool.
// Fail-open: analysis errors leave the result untouched.
func (r *Research) detectDiscrepancy(ctx context.Context, result *models.InstrumentResult) {
	if r.analysis == nil || len(result.Findings) < 2 {
		return
	}
	var sb strings.Builder
	for _, f := range result.Findings {
		fmt.Fprintf(&sb, "- %s\n", truncate(f.Content, 200))
	}
	res, err := r.analysis.Invoke(ctx, tools.Call{
		Capability: tools.CapAnalysis,
		System:     "Check findings for contradictions. If any two findings disagree, reply starting with CONTRADICTION: followed by a one-line description. Otherwise reply CONSISTENT.",
		Prompt:     sb.String(),
	})
	if err != nil {
		r.log.Warn("discrepancy analysis failed", "error", err)
		return
	}
	text := strings.TrimSpace(res.Text)
	if strings.HasPrefix(text, "CONTRADICTION") {
		result.Discrepancy = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(text, "CONTRADICTION"), ":"))
		result.SuggestedFollowups = append(result.SuggestedFollowups,
			"Verify the contradictory findings against a primary source")
	}
}

func parseQueryLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789. "))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == maxQueriesPerIteration {
			break
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
