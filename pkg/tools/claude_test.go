package tools

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMessages struct {
	lastParams sdk.MessageNewParams
	reply      string
}

func (s *stubMessages) New(_ context.Context, params sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = params
	return &sdk.Message{Content: []sdk.ContentBlockUnion{{Type: "text", Text: s.reply}}}, nil
}

func TestClaudeInvokeReasoning(t *testing.T) {
	stub := &stubMessages{reply: "Paris."}
	tool := NewClaudeToolWithClient(stub, "")

	res, err := tool.Invoke(context.Background(), Call{
		Capability: CapReasoning,
		System:     "Answer concisely.",
		Prompt:     "What is the capital of France?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris.", res.Text)
	require.Len(t, stub.lastParams.System, 1)
	assert.Equal(t, "Answer concisely.", stub.lastParams.System[0].Text)
	require.Len(t, stub.lastParams.Messages, 1)
}

func TestClaudeInvokeRequiresPrompt(t *testing.T) {
	tool := NewClaudeToolWithClient(&stubMessages{}, "")
	_, err := tool.Invoke(context.Background(), Call{Capability: CapReasoning})
	require.Error(t, err)
}

func TestClaudeVisionURLAttachment(t *testing.T) {
	stub := &stubMessages{reply: "a cat"}
	tool := NewClaudeToolWithClient(stub, "")

	res, err := tool.Invoke(context.Background(), Call{
		Capability: CapVision,
		Prompt:     "Describe this image.",
		Images:     []string{"https://example.com/cat.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a cat", res.Text)
}

func TestClaudeHealthCheck(t *testing.T) {
	assert.Error(t, NewClaudeTool("", "").HealthCheck(context.Background()))
	assert.NoError(t, NewClaudeToolWithClient(&stubMessages{}, "").HealthCheck(context.Background()))
}

func TestClaudeCapabilities(t *testing.T) {
	tool := NewClaudeToolWithClient(&stubMessages{}, "")
	assert.ElementsMatch(t, []string{CapReasoning, CapSynthesis, CapAnalysis, CapVision}, tool.Capabilities())
}
