package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loopsymphony/symphony/pkg/compose"
	"github.com/loopsymphony/symphony/pkg/tools"
)

const proposerSystemPrompt = `You design multi-phase execution loops. Respond with a single JSON object:
{"name": str, "description": str,
 "phases": [{"name": str, "description": str, "action": "instrument"|"prompt",
             "instrument": str?, "prompt_template": str?, "max_iterations": int}],
 "termination_criteria": str, "max_total_iterations": int,
 "required_capabilities": [str]}
Prompt templates may only use the placeholders {query}, {previous_findings}, {phase_name}.
Cover the scientific method: hypothesize, gather, analyze, synthesize.`

// Proposer asks the reasoning tool to design a loop for a query no
// registered arrangement fits.
type Proposer struct {
	reason tools.Tool
	lib    compose.Library
}

// NewProposer resolves the reasoning capability.
func NewProposer(reg *tools.Registry, lib compose.Library) (*Proposer, error) {
	resolved, err := reg.Resolve([]string{tools.CapReasoning}, nil)
	if err != nil {
		return nil, err
	}
	return &Proposer{reason: resolved[tools.CapReasoning], lib: lib}, nil
}

// Propose generates and validates a proposal for the query. The returned
// validation may carry warnings even when valid.
func (p *Proposer) Propose(ctx context.Context, query string, availableInstruments []string) (*Proposal, Validation, error) {
	res, err := p.reason.Invoke(ctx, tools.Call{
		Capability: tools.CapReasoning,
		System:     proposerSystemPrompt,
		Prompt: fmt.Sprintf("Design a loop for this task: %s\n\nAvailable instruments: %s",
			query, strings.Join(availableInstruments, ", ")),
	})
	if err != nil {
		return nil, Validation{}, fmt.Errorf("loop proposal generation: %w", err)
	}

	proposal, err := parseProposal(res.Text)
	if err != nil {
		return nil, Validation{}, fmt.Errorf("loop proposal parse: %w", err)
	}
	if proposal.MaxTotalIterations == 0 {
		proposal.MaxTotalIterations = 10
	}
	if len(proposal.RequiredCapabilities) == 0 {
		proposal.RequiredCapabilities = []string{tools.CapReasoning}
	}

	v := Validate(proposal, p.lib)
	return proposal, v, nil
}

// parseProposal extracts the first JSON object from model output, tolerating
// surrounding prose or code fences.
func parseProposal(text string) (*Proposal, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in proposal output")
	}
	var p Proposal
	if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
