// Package compose provides the two composition shapes over instruments:
// sequential pipelines and parallel fan-out with a merge step.
package compose

import (
	"fmt"
	"sort"

	"github.com/loopsymphony/symphony/pkg/instruments"
	"github.com/loopsymphony/symphony/pkg/models"
)

// Library resolves instrument names for compositions. The conductor's
// instrument table satisfies it.
type Library interface {
	Instrument(name string) (instruments.Instrument, bool)
}

// SerializeResult flattens an instrument result into the map shape carried
// between stages in TaskContext.InputResults.
func SerializeResult(res *models.InstrumentResult) map[string]any {
	findings := make([]any, 0, len(res.Findings))
	for _, f := range res.Findings {
		findings = append(findings, map[string]any{
			"content":    f.Content,
			"source":     f.Source,
			"confidence": f.Confidence,
		})
	}
	sources := make([]any, 0, len(res.SourcesConsulted))
	for _, s := range res.SourcesConsulted {
		sources = append(sources, s)
	}
	return map[string]any{
		"outcome":           string(res.Outcome),
		"findings":          findings,
		"summary":           res.Summary,
		"confidence":        res.Confidence,
		"sources_consulted": sources,
	}
}

func unknownInstrument(name string) error {
	return fmt.Errorf("unknown instrument %q", name)
}

// unionSources merges per-step source lists, deduplicated and sorted.
func unionSources(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
