package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	claudeToolName     = "claude"
	defaultClaudeModel = "claude-sonnet-4-20250514"
	defaultMaxTokens   = 4096
)

// messagesAPI is the subset of the Anthropic SDK used by the tool. Satisfied
// by *sdk.MessageService; tests pass a stub.
type messagesAPI interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// ClaudeTool provides reasoning, synthesis, analysis, and vision over the
// Anthropic Messages API.
type ClaudeTool struct {
	msg       messagesAPI
	model     string
	maxTokens int64
	hasKey    bool
}

// NewClaudeTool builds the tool from an API key. An empty model uses the
// default.
func NewClaudeTool(apiKey, model string) *ClaudeTool {
	if model == "" {
		model = defaultClaudeModel
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &ClaudeTool{
		msg:       &client.Messages,
		model:     model,
		maxTokens: defaultMaxTokens,
		hasKey:    apiKey != "",
	}
}

// NewClaudeToolWithClient injects a messages client, for tests.
func NewClaudeToolWithClient(msg messagesAPI, model string) *ClaudeTool {
	if model == "" {
		model = defaultClaudeModel
	}
	return &ClaudeTool{msg: msg, model: model, maxTokens: defaultMaxTokens, hasKey: true}
}

func (t *ClaudeTool) Name() string { return claudeToolName }

func (t *ClaudeTool) Capabilities() []string {
	return []string{CapReasoning, CapSynthesis, CapAnalysis, CapVision}
}

func (t *ClaudeTool) Manifest() Manifest {
	return Manifest{
		Name:         claudeToolName,
		Version:      "1.0",
		Description:  "Anthropic Claude reasoning, synthesis, analysis, and vision",
		Capabilities: t.Capabilities(),
		ConfigKeys:   []string{"ANTHROPIC_API_KEY"},
	}
}

// HealthCheck verifies the tool is usable without spending tokens.
func (t *ClaudeTool) HealthCheck(_ context.Context) error {
	if !t.hasKey {
		return errors.New("claude: ANTHROPIC_API_KEY not configured")
	}
	return nil
}

// Invoke runs one model call for the requested capability.
func (t *ClaudeTool) Invoke(ctx context.Context, call Call) (*Result, error) {
	if call.Prompt == "" {
		return nil, errors.New("claude: prompt is required")
	}

	var blocks []sdk.ContentBlockParamUnion
	blocks = append(blocks, sdk.NewTextBlock(call.Prompt))
	if call.Capability == CapVision {
		for _, att := range call.Images {
			block, err := imageBlock(att)
			if err != nil {
				return nil, fmt.Errorf("claude: attachment %q: %w", att, err)
			}
			blocks = append(blocks, block)
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(t.model),
		MaxTokens: t.maxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
	}
	if call.System != "" {
		params.System = []sdk.TextBlockParam{{Text: call.System}}
	}

	msg, err := t.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude: messages.new: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Text != "" {
			out.WriteString(block.Text)
		}
	}
	return &Result{Text: out.String()}, nil
}

// imageBlock builds an image content block from an attachment reference.
// HTTPS URLs are passed by reference; anything else is read from disk and
// inlined as base64.
func imageBlock(att string) (sdk.ContentBlockParamUnion, error) {
	if strings.HasPrefix(att, "https://") || strings.HasPrefix(att, "http://") {
		return sdk.NewImageBlock(sdk.URLImageSourceParam{URL: att}), nil
	}
	data, err := os.ReadFile(att)
	if err != nil {
		return sdk.ContentBlockParamUnion{}, err
	}
	mediaType := imageMediaType(att)
	if mediaType == "" {
		return sdk.ContentBlockParamUnion{}, fmt.Errorf("unsupported image type")
	}
	return sdk.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(data)), nil
}

func imageMediaType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}
