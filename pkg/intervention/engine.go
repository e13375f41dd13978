// Package intervention runs post-task detectors that turn execution
// history into caller-facing suggestions. Detectors never fail a task: a
// panicking detector is logged and skipped.
package intervention

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/loopsymphony/symphony/pkg/models"
)

// MaxInterventions caps how many suggestions one task may carry.
const MaxInterventions = 3

type detector struct {
	kind models.InterventionType
	run  func(models.InterventionContext) *models.Intervention
}

// Engine holds the detector set.
type Engine struct {
	detectors []detector
	log       *slog.Logger
}

// NewEngine returns the engine with the four built-in detectors.
func NewEngine() *Engine {
	e := &Engine{log: slog.With("component", "intervention_engine")}
	e.detectors = []detector{
		{models.InterventionProactive, detectProactive},
		{models.InterventionPushback, detectPushback},
		{models.InterventionScoping, detectScoping},
		{models.InterventionEducation, detectEducation},
	}
	return e
}

// allowed gates detectors by trust level. Higher trust earns less
// hand-holding; proactive and pushback always apply.
func allowed(kind models.InterventionType, trustLevel int) bool {
	switch kind {
	case models.InterventionProactive, models.InterventionPushback:
		return true
	case models.InterventionScoping:
		return trustLevel <= 1
	case models.InterventionEducation:
		return trustLevel == 0
	default:
		return false
	}
}

// Evaluate runs the gated detectors and returns at most MaxInterventions
// suggestions, highest confidence first.
func (e *Engine) Evaluate(ictx models.InterventionContext) []models.Intervention {
	var out []models.Intervention
	for _, d := range e.detectors {
		if !allowed(d.kind, ictx.TrustLevel) {
			continue
		}
		if iv := e.safeRun(d, ictx); iv != nil {
			out = append(out, *iv)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > MaxInterventions {
		out = out[:MaxInterventions]
	}
	return out
}

// Followups formats interventions for suggested_followups.
func Followups(interventions []models.Intervention) []string {
	out := make([]string, 0, len(interventions))
	for _, iv := range interventions {
		out = append(out, fmt.Sprintf("[%s] %s", iv.Type, iv.Message))
	}
	return out
}

func (e *Engine) safeRun(d detector, ictx models.InterventionContext) (iv *models.Intervention) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("intervention detector panicked", "type", d.kind, "panic", r)
			iv = nil
		}
	}()
	return d.run(ictx)
}

// detectProactive surfaces recurring error patterns touching the task's
// instrument.
func detectProactive(ictx models.InterventionContext) *models.Intervention {
	for _, p := range ictx.ErrorPatterns {
		if p.OccurrenceCount < 3 {
			continue
		}
		if p.Instrument != "" && p.Instrument != ictx.Instrument {
			continue
		}
		msg := fmt.Sprintf("Recurring %s errors (%d occurrences)", p.Category, p.OccurrenceCount)
		if p.SuggestedAction != "" {
			msg += ": " + p.SuggestedAction
		}
		return &models.Intervention{
			Type:       models.InterventionProactive,
			Message:    msg,
			Confidence: 0.7,
		}
	}
	return nil
}

var impossibleScopeRe = regexp.MustCompile(
	`(?i)\b(everything about|all possible|every single|exhaustive(ly)? cover|complete(ly)? analyze all)\b`)

// detectPushback flags queries too large to answer well in one task.
func detectPushback(ictx models.InterventionContext) *models.Intervention {
	words := len(strings.Fields(ictx.Query))
	if words > 100 {
		return &models.Intervention{
			Type:       models.InterventionPushback,
			Message:    fmt.Sprintf("This query is very long (%d words); splitting it into focused questions would produce better answers", words),
			Confidence: 0.8,
		}
	}
	if impossibleScopeRe.MatchString(ictx.Query) {
		return &models.Intervention{
			Type:       models.InterventionPushback,
			Message:    "The requested scope is unbounded; narrowing it to a concrete aspect would let the task converge",
			Confidence: 0.75,
		}
	}
	return nil
}

// detectScoping suggests splitting compound queries that did not converge.
func detectScoping(ictx models.InterventionContext) *models.Intervention {
	conjunctions := countConjunctions(ictx.Query)
	weak := ictx.Outcome == models.OutcomeInconclusive ||
		ictx.Outcome == models.OutcomeBounded ||
		ictx.Confidence < 0.3
	if conjunctions < 3 || !weak {
		return nil
	}
	return &models.Intervention{
		Type:       models.InterventionScoping,
		Message:    fmt.Sprintf("The query bundles %d sub-questions and did not converge; try asking them separately", conjunctions),
		Confidence: 0.6,
	}
}

func countConjunctions(query string) int {
	count := 0
	for _, w := range strings.Fields(strings.ToLower(query)) {
		switch strings.Trim(w, ",.;?") {
		case "and", "also", "plus", "additionally":
			count++
		}
	}
	return count
}

var (
	imageHintRe = regexp.MustCompile(`(?i)\b(image|photo|picture|screenshot|diagram)\b`)
	shellHintRe = regexp.MustCompile(`(?i)\b(run|execute|install|restart)\b.*\b(command|script|server|service)\b`)
)

// detectEducation explains capability mismatches to new callers.
func detectEducation(ictx models.InterventionContext) *models.Intervention {
	if imageHintRe.MatchString(ictx.Query) && ictx.Instrument != "vision" &&
		!strings.HasPrefix(ictx.Instrument, "room:") {
		return &models.Intervention{
			Type:       models.InterventionEducation,
			Message:    "Image questions need the image attached; attach it and the vision instrument will analyze it",
			Confidence: 0.5,
		}
	}
	if shellHintRe.MatchString(ictx.Query) && !strings.HasPrefix(ictx.Instrument, "room:") {
		return &models.Intervention{
			Type:       models.InterventionEducation,
			Message:    "Command execution runs on registered rooms with shell_execution capability; register one to enable it",
			Confidence: 0.5,
		}
	}
	return nil
}
