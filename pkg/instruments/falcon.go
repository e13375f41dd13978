package instruments

import (
	"context"
	"fmt"

	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/tools"
)

// Falcon is the room-delegating stub. It declares a capability only remote
// rooms provide; the conductor routes matching tasks to a scored room before
// this instrument ever runs. Executing it locally means no room qualified.
type Falcon struct{}

// NewFalcon needs nothing from the local registry.
func NewFalcon() *Falcon { return &Falcon{} }

func (f *Falcon) Name() string                   { return "falcon" }
func (f *Falcon) MaxIterations() int             { return 1 }
func (f *Falcon) RequiredCapabilities() []string { return nil }
func (f *Falcon) OptionalCapabilities() []string { return nil }

// RoomCapability is the capability a room must advertise to serve this
// instrument.
func (f *Falcon) RoomCapability() string { return tools.CapShellExecution }

func (f *Falcon) Execute(ctx context.Context, query string, _ *models.TaskContext) (*models.InstrumentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("no online room provides %q; the task %q cannot run locally", f.RoomCapability(), truncate(query, 80))
	return &models.InstrumentResult{
		Outcome:            models.OutcomeBounded,
		Findings:           []models.Finding{{Content: msg, Confidence: 0}},
		Summary:            msg,
		Confidence:         0,
		Iterations:         1,
		SourcesConsulted:   []string{},
		SuggestedFollowups: []string{"Register a room with shell_execution capability and retry"},
	}, nil
}
