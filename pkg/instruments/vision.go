package instruments

import (
	"context"
	"strings"

	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/tools"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".heic"}

// Vision analyzes image attachments.
type Vision struct {
	tool tools.Tool
}

// NewVision resolves reasoning and vision.
func NewVision(reg *tools.Registry) (*Vision, error) {
	resolved, err := reg.Resolve([]string{tools.CapReasoning, tools.CapVision}, nil)
	if err != nil {
		return nil, err
	}
	return &Vision{tool: resolved[tools.CapVision]}, nil
}

func (v *Vision) Name() string       { return "vision" }
func (v *Vision) MaxIterations() int { return 3 }
func (v *Vision) RequiredCapabilities() []string {
	return []string{tools.CapReasoning, tools.CapVision}
}
func (v *Vision) OptionalCapabilities() []string { return nil }

func (v *Vision) Execute(ctx context.Context, query string, tc *models.TaskContext) (*models.InstrumentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var images []string
	if tc != nil {
		images = ImageAttachments(tc.Attachments)
	}
	if len(images) == 0 {
		return &models.InstrumentResult{
			Outcome:          models.OutcomeInconclusive,
			Findings:         []models.Finding{{Content: "no image attachments to analyze", Confidence: 0}},
			Summary:          "Vision requires at least one image attachment",
			Confidence:       0,
			Iterations:       1,
			SourcesConsulted: []string{},
		}, nil
	}

	res, err := v.tool.Invoke(ctx, tools.Call{
		Capability: tools.CapVision,
		System:     "Analyze the attached images and answer the question about them.",
		Prompt:     query,
		Images:     images,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return inconclusive(v.Name(), 1, err), nil
	}

	findings := make([]models.Finding, 0, len(images))
	for _, img := range images {
		findings = append(findings, models.Finding{Content: res.Text, Source: img, Confidence: 0.8})
	}

	return &models.InstrumentResult{
		Outcome:          models.OutcomeComplete,
		Findings:         findings,
		Summary:          res.Text,
		Confidence:       Confidence(findings, true),
		Iterations:       1,
		SourcesConsulted: dedupSorted(images),
	}, nil
}

// ImageAttachments filters attachment references down to ones the vision
// tool can consume: image extensions or plain HTTPS URLs.
func ImageAttachments(attachments []string) []string {
	var out []string
	for _, att := range attachments {
		if IsImageAttachment(att) {
			out = append(out, att)
		}
	}
	return out
}

// IsImageAttachment reports whether att looks like an image the vision tool
// can load.
func IsImageAttachment(att string) bool {
	lower := strings.ToLower(att)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	if strings.HasPrefix(lower, "image/") {
		return true
	}
	// Plain HTTPS URLs are treated as image references.
	return strings.HasPrefix(lower, "https://") && !strings.ContainsAny(att, " \t")
}
