// Package loop implements dynamically proposed multi-phase loops: the
// proposal model with validation, an LLM-backed proposer, and the
// budget-aware executor.
package loop

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/loopsymphony/symphony/pkg/compose"
)

// PhaseAction is how a loop phase executes.
type PhaseAction string

const (
	ActionInstrument PhaseAction = "instrument"
	ActionPrompt     PhaseAction = "prompt"
	ActionSpawn      PhaseAction = "spawn"
)

// MaxTotalIterations is the hard budget cap; WarnTotalIterations triggers a
// validation warning.
const (
	MaxTotalIterations  = 20
	WarnTotalIterations = 15
)

// scientificPhases are the method steps a sound loop should cover.
var scientificPhases = []string{"hypothesize", "gather", "analyze", "synthesize"}

// phasePlaceholders is the fixed placeholder set allowed in prompt
// templates. Unknown placeholders are rejected at validation time.
var phasePlaceholders = map[string]struct{}{
	"query":             {},
	"previous_findings": {},
	"phase_name":        {},
}

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// Phase is one step of a proposed loop.
type Phase struct {
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	Action         PhaseAction `json:"action"`
	Instrument     string      `json:"instrument,omitempty"`
	PromptTemplate string      `json:"prompt_template,omitempty"`
	MaxIterations  int         `json:"max_iterations"`
}

// Proposal defines a new loop type: ordered phases, termination criteria,
// and required capabilities.
type Proposal struct {
	Name                 string   `json:"name"`
	Description          string   `json:"description"`
	Phases               []Phase  `json:"phases"`
	TerminationCriteria  string   `json:"termination_criteria"`
	MaxTotalIterations   int      `json:"max_total_iterations"`
	RequiredCapabilities []string `json:"required_capabilities"`
}

// Validation is the result of validating a proposal.
type Validation struct {
	Valid                     bool            `json:"valid"`
	Errors                    []string        `json:"errors,omitempty"`
	Warnings                  []string        `json:"warnings,omitempty"`
	ScientificMethodCoverage  map[string]bool `json:"scientific_method_coverage"`
}

// ExecutionPlan is returned for approval when trust level 0 proposes a loop.
type ExecutionPlan struct {
	Proposal                 Proposal   `json:"proposal"`
	Validation               Validation `json:"validation"`
	EstimatedIterations      int        `json:"estimated_iterations"`
	EstimatedDurationSeconds int        `json:"estimated_duration_seconds"`
	RequiresApproval         bool       `json:"requires_approval"`
}

// Validate checks structural rules and scientific-method coverage. lib
// resolves instrument names for instrument-action phases.
func Validate(p *Proposal, lib compose.Library) Validation {
	v := Validation{ScientificMethodCoverage: coverage(p)}

	if len(p.Phases) < 2 {
		v.Errors = append(v.Errors, "loop must have at least 2 phases")
	}
	if p.MaxTotalIterations < 1 {
		v.Errors = append(v.Errors, "max_total_iterations must be at least 1")
	}
	if p.MaxTotalIterations > MaxTotalIterations {
		v.Errors = append(v.Errors, fmt.Sprintf("max_total_iterations %d exceeds cap %d", p.MaxTotalIterations, MaxTotalIterations))
	} else if p.MaxTotalIterations > WarnTotalIterations {
		v.Warnings = append(v.Warnings, fmt.Sprintf("max_total_iterations %d is high; consider %d or fewer", p.MaxTotalIterations, WarnTotalIterations))
	}

	for i, ph := range p.Phases {
		switch ph.Action {
		case ActionInstrument:
			if ph.Instrument == "" {
				v.Errors = append(v.Errors, fmt.Sprintf("phase %d (%s): instrument action requires an instrument name", i, ph.Name))
			} else if _, ok := lib.Instrument(ph.Instrument); !ok {
				v.Errors = append(v.Errors, fmt.Sprintf("phase %d (%s): unknown instrument %q", i, ph.Name, ph.Instrument))
			}
		case ActionPrompt:
			if ph.PromptTemplate == "" {
				v.Errors = append(v.Errors, fmt.Sprintf("phase %d (%s): prompt action requires a prompt_template", i, ph.Name))
			} else if bad := unknownPlaceholders(ph.PromptTemplate); len(bad) > 0 {
				v.Errors = append(v.Errors, fmt.Sprintf("phase %d (%s): unknown placeholders %v", i, ph.Name, bad))
			}
		case ActionSpawn:
			// Depth is enforced at execution time.
		default:
			v.Errors = append(v.Errors, fmt.Sprintf("phase %d (%s): unknown action %q", i, ph.Name, ph.Action))
		}
		if ph.MaxIterations < 1 {
			v.Errors = append(v.Errors, fmt.Sprintf("phase %d (%s): max_iterations must be at least 1", i, ph.Name))
		}
	}

	covered := 0
	for _, ok := range v.ScientificMethodCoverage {
		if ok {
			covered++
		}
	}
	if covered < 3 {
		v.Warnings = append(v.Warnings, fmt.Sprintf("loop covers only %d of 4 scientific method phases", covered))
	}

	v.Valid = len(v.Errors) == 0
	return v
}

// coverage checks which scientific method steps are evidenced by phase
// names or descriptions.
func coverage(p *Proposal) map[string]bool {
	text := strings.ToLower(p.Description)
	for _, ph := range p.Phases {
		text += " " + strings.ToLower(ph.Name) + " " + strings.ToLower(ph.Description)
	}
	out := make(map[string]bool, len(scientificPhases))
	stems := map[string][]string{
		"hypothesize": {"hypothes"},
		"gather":      {"gather", "collect", "search"},
		"analyze":     {"analy"},
		"synthesize":  {"synthes", "summar", "merge"},
	}
	for sp, list := range stems {
		out[sp] = false
		for _, stem := range list {
			if strings.Contains(text, stem) {
				out[sp] = true
				break
			}
		}
	}
	return out
}

// ExpandTemplate substitutes the fixed phase placeholder set.
func ExpandTemplate(tmpl, query, previousFindings, phaseName string) string {
	r := strings.NewReplacer(
		"{query}", query,
		"{previous_findings}", previousFindings,
		"{phase_name}", phaseName,
	)
	return r.Replace(tmpl)
}

func unknownPlaceholders(tmpl string) []string {
	var bad []string
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		if _, ok := phasePlaceholders[m[1]]; !ok {
			bad = append(bad, m[1])
		}
	}
	return bad
}

// EstimatedIterations sums phase budgets, clamped to the total cap.
func (p *Proposal) EstimatedIterations() int {
	total := 0
	for _, ph := range p.Phases {
		total += ph.MaxIterations
	}
	if p.MaxTotalIterations > 0 && total > p.MaxTotalIterations {
		total = p.MaxTotalIterations
	}
	return total
}
