package instruments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/tools"
)

func TestSynthesisMergesInputResults(t *testing.T) {
	brain := newScriptedTool("claude", tools.CapReasoning, tools.CapSynthesis).
		reply(tools.CapSynthesis, text("merged answer"))
	s, err := NewSynthesis(registryWith(t, brain))
	require.NoError(t, err)

	tc := models.NewTaskContext()
	tc.InputResults = []map[string]any{
		{
			"summary": "part one",
			"findings": []any{
				map[string]any{"content": "fact a", "source": "https://a", "confidence": 0.8},
			},
			"sources_consulted": []any{"https://a"},
		},
		{
			"summary": "part two",
			"findings": []any{
				map[string]any{"content": "fact b", "source": "https://b", "confidence": 0.6},
			},
			"sources_consulted": []any{"https://b"},
		},
	}

	res, err := s.Execute(context.Background(), "combine these", tc)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeComplete, res.Outcome)
	assert.Equal(t, "merged answer", res.Summary)
	assert.Len(t, res.Findings, 2)
	assert.Equal(t, []string{"https://a", "https://b"}, res.SourcesConsulted)
}

func TestSynthesisWithoutInputsIsInconclusive(t *testing.T) {
	brain := newScriptedTool("claude", tools.CapReasoning, tools.CapSynthesis)
	s, err := NewSynthesis(registryWith(t, brain))
	require.NoError(t, err)

	res, err := s.Execute(context.Background(), "combine", models.NewTaskContext())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeInconclusive, res.Outcome)
	assert.Zero(t, brain.callCount(tools.CapSynthesis))
}

func TestSynthesisConstructionRequiresCapability(t *testing.T) {
	brain := newScriptedTool("claude", tools.CapReasoning)
	_, err := NewSynthesis(registryWith(t, brain))
	var capErr *tools.CapabilityError
	require.ErrorAs(t, err, &capErr)
}
