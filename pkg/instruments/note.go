package instruments

import (
	"context"

	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/tools"
)

const noteSystemPrompt = "You are a quick-answer assistant. Answer the question directly and concisely in one or two sentences."

// Note is the atomic single-call instrument for simple factual queries.
type Note struct {
	reason tools.Tool
}

// NewNote resolves the reasoning capability; fails when unprovided.
func NewNote(reg *tools.Registry) (*Note, error) {
	resolved, err := reg.Resolve([]string{tools.CapReasoning}, nil)
	if err != nil {
		return nil, err
	}
	return &Note{reason: resolved[tools.CapReasoning]}, nil
}

func (n *Note) Name() string                    { return "note" }
func (n *Note) MaxIterations() int              { return 1 }
func (n *Note) RequiredCapabilities() []string  { return []string{tools.CapReasoning} }
func (n *Note) OptionalCapabilities() []string  { return nil }

// Execute makes a single reasoning call. Confidence is fixed at 0.9; a tool
// failure yields INCONCLUSIVE.
func (n *Note) Execute(ctx context.Context, query string, tc *models.TaskContext) (*models.InstrumentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	system := noteSystemPrompt
	if tc != nil && tc.ConversationSummary != "" {
		system += "\n\nConversation so far: " + tc.ConversationSummary
	}

	res, err := n.reason.Invoke(ctx, tools.Call{
		Capability: tools.CapReasoning,
		System:     system,
		Prompt:     query,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return inconclusive(n.Name(), 1, err), nil
	}

	return &models.InstrumentResult{
		Outcome:          models.OutcomeComplete,
		Findings:         []models.Finding{{Content: res.Text, Source: n.reason.Name(), Confidence: 0.9}},
		Summary:          res.Text,
		Confidence:       0.9,
		Iterations:       1,
		SourcesConsulted: []string{n.reason.Name()},
	}, nil
}
