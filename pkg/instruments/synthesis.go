package instruments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/tools"
)

// Synthesis merges prior stage results from context.InputResults into one
// coherent summary. Used standalone and as the parallel-composition merge.
type Synthesis struct {
	tool tools.Tool
}

// NewSynthesis resolves reasoning and synthesis; the synthesis provider does
// the work.
func NewSynthesis(reg *tools.Registry) (*Synthesis, error) {
	resolved, err := reg.Resolve([]string{tools.CapReasoning, tools.CapSynthesis}, nil)
	if err != nil {
		return nil, err
	}
	return &Synthesis{tool: resolved[tools.CapSynthesis]}, nil
}

func (s *Synthesis) Name() string       { return "synthesis" }
func (s *Synthesis) MaxIterations() int { return 2 }
func (s *Synthesis) RequiredCapabilities() []string {
	return []string{tools.CapReasoning, tools.CapSynthesis}
}
func (s *Synthesis) OptionalCapabilities() []string { return nil }

func (s *Synthesis) Execute(ctx context.Context, query string, tc *models.TaskContext) (*models.InstrumentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tc == nil || len(tc.InputResults) == 0 {
		return &models.InstrumentResult{
			Outcome:          models.OutcomeInconclusive,
			Findings:         []models.Finding{{Content: "synthesis requires input results from prior stages", Confidence: 0}},
			Summary:          "No input results to synthesize",
			Confidence:       0,
			Iterations:       1,
			SourcesConsulted: []string{},
		}, nil
	}

	var (
		sb       strings.Builder
		findings []models.Finding
		sources  []string
	)
	for i, input := range tc.InputResults {
		encoded, err := json.Marshal(input)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "Result %d: %s\n", i+1, truncate(string(encoded), 2000))
		findings = append(findings, extractFindings(input)...)
		sources = append(sources, extractSources(input)...)
	}

	res, err := s.tool.Invoke(ctx, tools.Call{
		Capability: tools.CapSynthesis,
		System:     "Merge the provided results into one coherent, non-repetitive summary that answers the question.",
		Prompt:     fmt.Sprintf("Question: %s\n\n%s", query, sb.String()),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return inconclusive(s.Name(), 1, err), nil
	}

	conf := Confidence(findings, true)
	if len(findings) == 0 {
		findings = []models.Finding{{Content: res.Text, Source: s.tool.Name(), Confidence: 0.7}}
		conf = 0.7
	}

	return &models.InstrumentResult{
		Outcome:          models.OutcomeComplete,
		Findings:         findings,
		Summary:          res.Text,
		Confidence:       conf,
		Iterations:       1,
		SourcesConsulted: dedupSorted(sources),
	}, nil
}

// extractFindings pulls serialized findings out of a prior stage result.
func extractFindings(input map[string]any) []models.Finding {
	raw, ok := input["findings"].([]any)
	if !ok {
		return nil
	}
	var out []models.Finding
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		f := models.Finding{Confidence: 0.5}
		if v, ok := m["content"].(string); ok {
			f.Content = v
		}
		if v, ok := m["source"].(string); ok {
			f.Source = v
		}
		if v, ok := m["confidence"].(float64); ok {
			f.Confidence = v
		}
		if f.Content != "" {
			out = append(out, f)
		}
	}
	return out
}

func extractSources(input map[string]any) []string {
	raw, ok := input["sources_consulted"].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
