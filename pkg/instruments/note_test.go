package instruments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/tools"
)

func registryWith(t *testing.T, ts ...tools.Tool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	for _, tool := range ts {
		require.NoError(t, reg.Register(tool))
	}
	return reg
}

func TestNoteAnswersSimpleQuery(t *testing.T) {
	brain := newScriptedTool("claude", tools.CapReasoning).reply(tools.CapReasoning, text("Paris."))
	note, err := NewNote(registryWith(t, brain))
	require.NoError(t, err)

	res, err := note.Execute(context.Background(), "What is the capital of France?", models.NewTaskContext())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeComplete, res.Outcome)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "Paris.", res.Findings[0].Content)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, 1, res.Iterations)
}

func TestNoteConstructionFailsWithoutReasoning(t *testing.T) {
	_, err := NewNote(tools.NewRegistry())
	var capErr *tools.CapabilityError
	require.ErrorAs(t, err, &capErr)
}

func TestNoteToolFailureIsInconclusive(t *testing.T) {
	brain := newScriptedTool("claude", tools.CapReasoning).failWith(tools.CapReasoning, errors.New("api down"))
	note, err := NewNote(registryWith(t, brain))
	require.NoError(t, err)

	res, err := note.Execute(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeInconclusive, res.Outcome)
	assert.Equal(t, 1, res.Iterations)
	assert.Zero(t, res.Confidence)
}

func TestNoteCancellationPropagates(t *testing.T) {
	brain := newScriptedTool("claude", tools.CapReasoning).reply(tools.CapReasoning, text("ignored"))
	note, err := NewNote(registryWith(t, brain))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = note.Execute(ctx, "anything", nil)
	require.ErrorIs(t, err, context.Canceled)
}
