package conductor

import (
	"regexp"
	"strings"

	"github.com/loopsymphony/symphony/pkg/instruments"
	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/trust"
)

// Intent is the conductor's routing decision for a query.
type Intent string

const (
	IntentNote     Intent = "note"
	IntentResearch Intent = "research"
	IntentVision   Intent = "vision"
)

var researchKeywords = []string{
	"research", "investigate", "compare", "comparison", "analyze", "analysis",
	"find out", "look up", "latest", "news", "recent", "trends",
	"pros and cons", "evidence", "sources",
}

var complexPatternRe = regexp.MustCompile(
	`(?i)\b(vs\.?|versus|difference between|better than|trade-?offs?)\b`)

// DetectIntent classifies the query. Image attachments force vision;
// research signals are keywords, comparison patterns, length, and stacked
// questions; everything else is a reflexive note.
func DetectIntent(req *models.TaskRequest) Intent {
	if req.Context != nil && len(instruments.ImageAttachments(req.Context.Attachments)) > 0 {
		return IntentVision
	}

	query := strings.ToLower(req.Query)
	for _, kw := range researchKeywords {
		if strings.Contains(query, kw) {
			return IntentResearch
		}
	}
	if complexPatternRe.MatchString(req.Query) {
		return IntentResearch
	}
	if len(strings.Fields(req.Query)) > 20 {
		return IntentResearch
	}
	if strings.Count(req.Query, "?") > 1 {
		return IntentResearch
	}
	if req.Thoroughness() == models.ThoroughnessThorough {
		return IntentResearch
	}
	return IntentNote
}

// processTypeFor maps an instrument name to its process classification.
func processTypeFor(instrument string) models.ProcessType {
	switch instrument {
	case "note":
		return models.ProcessAutonomic
	case "research", "synthesis", "vision", "falcon":
		return models.ProcessSemiAutonomic
	default:
		return models.ProcessConscious
	}
}

// actionTypeFor maps an intent to the policy action it exercises. Notes are
// reflexive and ungated.
func actionTypeFor(intent Intent) string {
	switch intent {
	case IntentResearch, IntentVision:
		return trust.ActionAutonomousResearch
	default:
		return ""
	}
}
