// Package conductor routes natural-language queries to instruments,
// compositions, loops, and rooms, and applies the trust, policy, and
// privacy gates around execution.
package conductor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopsymphony/symphony/pkg/approval"
	"github.com/loopsymphony/symphony/pkg/compose"
	"github.com/loopsymphony/symphony/pkg/errtrack"
	"github.com/loopsymphony/symphony/pkg/events"
	"github.com/loopsymphony/symphony/pkg/intervention"
	"github.com/loopsymphony/symphony/pkg/loop"
	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/privacy"
	"github.com/loopsymphony/symphony/pkg/rooms"
	"github.com/loopsymphony/symphony/pkg/trust"
)

// Delegator hands a task to a remote room. *rooms.Client satisfies it.
type Delegator interface {
	Delegate(ctx context.Context, room models.RoomInfo, instrument string, req *models.TaskRequest) models.RoomDelegationResult
}

// Deps are the collaborators a conductor needs. Lib, Privacy, Trust, Policy
// and Interventions are required; the rest may be nil and their features
// degrade gracefully.
type Deps struct {
	Lib           *Library
	Privacy       *privacy.Classifier
	Trust         *trust.Tracker
	Policy        *trust.PolicyEngine
	Approvals     *approval.Router
	Interventions *intervention.Engine
	Errors        *errtrack.Tracker
	Bus           *events.Bus
	Rooms         *rooms.Registry
	RoomClient    Delegator
	Loops         *loop.Executor
	Proposer      *loop.Proposer
}

// Conductor is the orchestration entry point. One conductor serves all
// apps; per-pair state lives in the trust tracker.
type Conductor struct {
	deps Deps
	log  *slog.Logger
}

// New validates required deps and returns a conductor.
func New(deps Deps) (*Conductor, error) {
	if deps.Lib == nil {
		return nil, fmt.Errorf("conductor requires an instrument library")
	}
	if deps.Privacy == nil {
		deps.Privacy = privacy.NewClassifier(false)
	}
	if deps.Trust == nil {
		deps.Trust = trust.NewTracker()
	}
	if deps.Policy == nil {
		deps.Policy = trust.NewPolicyEngine()
	}
	if deps.Interventions == nil {
		deps.Interventions = intervention.NewEngine()
	}
	return &Conductor{deps: deps, log: slog.With("component", "conductor")}, nil
}

// Execute routes and runs one task. When the policy gate requires approval
// the returned plan is non-nil and no execution happens; the caller
// resubmits through ExecuteApproved once the approval resolves.
func (c *Conductor) Execute(ctx context.Context, req *models.TaskRequest, auth *models.AuthContext) (*models.TaskResponse, *models.TaskPlan, error) {
	return c.execute(ctx, req, auth, true)
}

// Plan runs routing and the policy gate without executing. A nil plan with
// a nil error means the task may run immediately.
func (c *Conductor) Plan(req *models.TaskRequest, auth *models.AuthContext) (*models.TaskPlan, error) {
	req.EnsureID()
	intent := DetectIntent(req)
	trustLevel := c.deps.Trust.Level(auth.AppID(), auth.UserID())
	return c.gate(req, intent, trustLevel)
}

// ExecuteApproved runs a task whose plan was already approved, skipping the
// policy gate.
func (c *Conductor) ExecuteApproved(ctx context.Context, req *models.TaskRequest, auth *models.AuthContext) (*models.TaskResponse, error) {
	resp, _, err := c.execute(ctx, req, auth, false)
	return resp, err
}

func (c *Conductor) execute(ctx context.Context, req *models.TaskRequest, auth *models.AuthContext, gated bool) (*models.TaskResponse, *models.TaskPlan, error) {
	req.EnsureID()
	tc := req.Context
	if tc == nil {
		tc = models.NewTaskContext()
		req.Context = tc
	}
	tc.AppID = auth.AppID()
	tc.UserID = auth.UserID()
	c.attachCallbacks(req, auth)

	classification := c.deps.Privacy.Classify(req.Query)
	intent := DetectIntent(req)
	trustLevel := c.deps.Trust.Level(auth.AppID(), auth.UserID())

	c.log.Info("task routed", "task_id", req.ID, "intent", intent,
		"privacy_level", classification.Level, "trust_level", trustLevel)

	if gated {
		if plan, err := c.gate(req, intent, trustLevel); plan != nil || err != nil {
			return nil, plan, err
		}
	}

	c.emit(req.ID, models.EventStarted, map[string]any{
		"intent":        string(intent),
		"privacy_level": string(classification.Level),
	})

	started := time.Now()
	resp, err := c.dispatch(ctx, req, intent, classification, tc)
	if err != nil {
		c.recordError(req, string(intent), err)
		c.emit(req.ID, models.EventError, map[string]any{"error": err.Error()})
		return nil, nil, err
	}
	if resp.Metadata.DurationMs == 0 {
		resp.Metadata.DurationMs = time.Since(started).Milliseconds()
	}

	c.finalize(req, auth, intent, trustLevel, resp)
	return resp, nil, nil
}

// gate applies the policy engine. A nil plan with nil error means proceed.
func (c *Conductor) gate(req *models.TaskRequest, intent Intent, trustLevel int) (*models.TaskPlan, error) {
	actionType := actionTypeFor(intent)
	if actionType == "" {
		return nil, nil
	}
	requiresApproval, err := c.deps.Policy.Check(actionType, trustLevel)
	if err != nil {
		return nil, err
	}
	if !requiresApproval {
		return nil, nil
	}

	instrument := string(intent)
	plan := &models.TaskPlan{
		TaskID:              req.ID,
		Query:               req.Query,
		Instrument:          instrument,
		ProcessType:         processTypeFor(instrument),
		EstimatedIterations: c.estimatedIterations(instrument),
		Description:         fmt.Sprintf("Run the %s instrument for: %s", instrument, truncateQuery(req.Query)),
		RequiresApproval:    true,
	}
	if c.deps.Approvals != nil {
		approvalReq := c.deps.Approvals.Submit(req.ID, actionType, plan.Description, trustLevel,
			map[string]any{"task_id": req.ID, "instrument": instrument})
		plan.ApprovalID = approvalReq.ID
	}
	return plan, nil
}

func (c *Conductor) estimatedIterations(instrument string) int {
	if inst, ok := c.deps.Lib.Instrument(instrument); ok {
		return inst.MaxIterations()
	}
	return 1
}

// dispatch executes the routed instrument, delegating to a room when the
// capability is not available locally.
func (c *Conductor) dispatch(ctx context.Context, req *models.TaskRequest, intent Intent, cls privacy.Classification, tc *models.TaskContext) (*models.TaskResponse, error) {
	instrument := string(intent)

	// Web research ships the query to external search providers. Restricted
	// queries stay on the reasoning model instead.
	privacyDowngraded := false
	if intent == IntentResearch && cls.ShouldStayLocal {
		instrument = string(IntentNote)
		privacyDowngraded = true
	}

	inst, ok := c.deps.Lib.Instrument(instrument)
	if !ok {
		return c.delegateOrBound(ctx, req, instrument, capabilityFor(intent), cls)
	}

	// Instruments that proxy a remote capability hand the task to a scored
	// room when one is online; their local Execute is the no-room fallback.
	if remote, isRemote := inst.(interface{ RoomCapability() string }); isRemote {
		if room, found := c.roomFor(remote.RoomCapability(), cls); found {
			return c.delegate(ctx, req, instrument, room)
		}
	}

	res, err := inst.Execute(ctx, req.Query, tc)
	if err != nil {
		return nil, err
	}
	resp := c.respond(req, instrument, res, "")
	if privacyDowngraded {
		resp.SuggestedFollowups = append(resp.SuggestedFollowups,
			"External research was skipped because the query contains private details; rephrase without them for a fuller answer")
	}
	return resp, nil
}

// capabilityFor is the room capability needed when the instrument is not
// locally available.
func capabilityFor(intent Intent) string {
	switch intent {
	case IntentVision:
		return "vision"
	case IntentResearch:
		return "web_search"
	default:
		return "reasoning"
	}
}

// roomFor scores online rooms for the capability. Privacy-restricted
// queries only consider local rooms.
func (c *Conductor) roomFor(capability string, cls privacy.Classification) (models.RoomInfo, bool) {
	if c.deps.Rooms == nil || c.deps.RoomClient == nil {
		return models.RoomInfo{}, false
	}
	return c.deps.Rooms.BestRoom(capability, "", cls.ShouldStayLocal, cls.ShouldStayLocal)
}

func (c *Conductor) delegate(ctx context.Context, req *models.TaskRequest, instrument string, room models.RoomInfo) (*models.TaskResponse, error) {
	result := c.deps.RoomClient.Delegate(ctx, room, instrument, req)
	if !result.Success {
		return nil, fmt.Errorf("room %s delegation failed: %s", result.RoomID, result.Error)
	}
	return result.Response, nil
}

// delegateOrBound finds a room for the capability. When privacy restriction
// leaves no candidate the task ends BOUNDED with a privacy note instead of
// leaking the query.
func (c *Conductor) delegateOrBound(ctx context.Context, req *models.TaskRequest, instrument, capability string, cls privacy.Classification) (*models.TaskResponse, error) {
	room, ok := c.roomFor(capability, cls)
	if !ok {
		// Distinguish "nothing anywhere" from "blocked by privacy".
		restricted := false
		if cls.ShouldStayLocal && c.deps.Rooms != nil {
			if _, anywhere := c.deps.Rooms.BestRoom(capability, "", false, false); anywhere {
				restricted = true
			}
		}
		return c.boundedNoCapability(req, instrument, capability, restricted), nil
	}
	return c.delegate(ctx, req, instrument, room)
}

func (c *Conductor) boundedNoCapability(req *models.TaskRequest, instrument, capability string, privacyRestricted bool) *models.TaskResponse {
	summary := fmt.Sprintf("No room with %s capability is available", capability)
	followup := fmt.Sprintf("Register a room with %s capability and retry", capability)
	if privacyRestricted {
		summary = fmt.Sprintf("This query must stay local, and no local room offers %s", capability)
		followup = fmt.Sprintf("Register a local room with %s capability, or rephrase without the private details", capability)
	}
	return &models.TaskResponse{
		RequestID:  req.ID,
		Outcome:    models.OutcomeBounded,
		Findings:   []models.Finding{},
		Summary:    summary,
		Confidence: 0,
		Metadata: models.ExecutionMetadata{
			InstrumentUsed:   instrument,
			Iterations:       1,
			SourcesConsulted: []string{},
			ProcessType:      processTypeFor(instrument),
		},
		SuggestedFollowups: []string{followup},
	}
}

// ExecuteComposition runs a sequential or parallel composition as a
// CONSCIOUS task.
func (c *Conductor) ExecuteComposition(ctx context.Context, req *models.TaskRequest, auth *models.AuthContext, steps []compose.Step, parallel bool, mergeName string) (*models.TaskResponse, error) {
	req.EnsureID()
	tc := req.Context
	if tc == nil {
		tc = models.NewTaskContext()
		req.Context = tc
	}
	c.attachCallbacks(req, auth)

	var (
		res *models.InstrumentResult
		err error
	)
	if parallel {
		names := make([]string, len(steps))
		for i, s := range steps {
			names[i] = s.Instrument
		}
		var par *compose.Parallel
		par, err = compose.NewParallel(names, mergeName, 0, c.deps.Lib)
		if err == nil {
			res, err = par.Run(ctx, req.Query, tc)
		}
	} else {
		var seq *compose.Sequential
		seq, err = compose.NewSequential(steps, c.deps.Lib)
		if err == nil {
			res, err = seq.Run(ctx, req.Query, tc)
		}
	}
	if err != nil {
		c.recordError(req, "composition", err)
		return nil, err
	}

	resp := c.respond(req, "composition", res, "")
	resp.Metadata.ProcessType = models.ProcessConscious
	trustLevel := c.deps.Trust.Level(auth.AppID(), auth.UserID())
	c.finalize(req, auth, IntentResearch, trustLevel, resp)
	return resp, nil
}

// ExecuteLoopProposal proposes and runs a loop for the query as a CONSCIOUS
// task. Returns the validation failure as an error when the proposed loop
// is unusable.
func (c *Conductor) ExecuteLoopProposal(ctx context.Context, req *models.TaskRequest, auth *models.AuthContext) (*models.TaskResponse, error) {
	if c.deps.Proposer == nil || c.deps.Loops == nil {
		return nil, fmt.Errorf("loop execution is not configured")
	}
	req.EnsureID()
	tc := req.Context
	if tc == nil {
		tc = models.NewTaskContext()
		req.Context = tc
	}
	c.attachCallbacks(req, auth)

	proposal, validation, err := c.deps.Proposer.Propose(ctx, req.Query, c.deps.Lib.Names())
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return nil, fmt.Errorf("proposed loop is invalid: %v", validation.Errors)
	}
	for _, warn := range validation.Warnings {
		c.log.Warn("loop proposal warning", "task_id", req.ID, "warning", warn)
	}

	res, err := c.deps.Loops.Run(ctx, proposal, req.Query, tc)
	if err != nil {
		c.recordError(req, "loop", err)
		return nil, err
	}

	resp := c.respond(req, "loop", res, "")
	resp.Metadata.ProcessType = models.ProcessConscious
	trustLevel := c.deps.Trust.Level(auth.AppID(), auth.UserID())
	c.finalize(req, auth, IntentResearch, trustLevel, resp)
	return resp, nil
}

// attachCallbacks wires the checkpoint and spawn hooks into the task
// context. Spawn runs the sub-request through routing with the caller's
// identity; depth enforcement happens in the loop executor.
func (c *Conductor) attachCallbacks(req *models.TaskRequest, auth *models.AuthContext) {
	taskID := req.ID
	tc := req.Context
	if tc.Checkpoint == nil {
		tc.Checkpoint = func(ctx context.Context, iteration int, phase string, output map[string]any, duration time.Duration) error {
			c.emit(taskID, models.EventIteration, map[string]any{
				"iteration_num": iteration,
				"phase":         phase,
				"duration_ms":   duration.Milliseconds(),
			})
			return nil
		}
	}
	if tc.Spawn == nil {
		tc.Spawn = func(ctx context.Context, sub *models.TaskRequest) (*models.TaskResponse, error) {
			return c.ExecuteApproved(ctx, sub, auth)
		}
	}
}

// respond converts an instrument result to the task response shape.
func (c *Conductor) respond(req *models.TaskRequest, instrument string, res *models.InstrumentResult, roomID string) *models.TaskResponse {
	return &models.TaskResponse{
		RequestID:  req.ID,
		Outcome:    res.Outcome,
		Findings:   res.Findings,
		Summary:    res.Summary,
		Confidence: res.Confidence,
		Metadata: models.ExecutionMetadata{
			InstrumentUsed:   instrument,
			Iterations:       res.Iterations,
			SourcesConsulted: res.SourcesConsulted,
			ProcessType:      processTypeFor(instrument),
			RoomID:           roomID,
		},
		Discrepancy:        res.Discrepancy,
		SuggestedFollowups: res.SuggestedFollowups,
	}
}

// finalize applies post-task bookkeeping: trust accounting, interventions,
// the completion event.
func (c *Conductor) finalize(req *models.TaskRequest, auth *models.AuthContext, intent Intent, trustLevel int, resp *models.TaskResponse) {
	suggestion := c.deps.Trust.RecordOutcome(auth.AppID(), auth.UserID(), resp.Outcome)
	if suggestion != nil {
		if c.deps.Approvals != nil {
			c.deps.Approvals.Submit("trust", trust.ActionUpgradeTrust,
				fmt.Sprintf("Promote %s/%s from trust %d to %d: %s",
					suggestion.AppID, suggestion.UserID,
					suggestion.CurrentLevel, suggestion.SuggestedLevel, suggestion.Reason),
				suggestion.CurrentLevel,
				map[string]any{"app_id": suggestion.AppID, "user_id": suggestion.UserID,
					"suggested_level": suggestion.SuggestedLevel})
		}
		resp.SuggestedFollowups = append(resp.SuggestedFollowups,
			fmt.Sprintf("Trust upgrade to level %d is ready for approval", suggestion.SuggestedLevel))
	}

	if !resp.Outcome.IsSuccess() && c.deps.Errors != nil {
		c.deps.Errors.Record(models.ErrorRecord{
			Category:   categoryForOutcome(resp.Outcome),
			Message:    resp.Summary,
			Instrument: resp.Metadata.InstrumentUsed,
			TaskID:     req.ID,
			Recovered:  resp.Outcome == models.OutcomeBounded,
		})
	}

	ictx := models.InterventionContext{
		Query:      req.Query,
		Summary:    resp.Summary,
		Outcome:    resp.Outcome,
		Confidence: resp.Confidence,
		Instrument: resp.Metadata.InstrumentUsed,
		Intent:     string(intent),
		TrustLevel: trustLevel,
	}
	if c.deps.Errors != nil {
		ictx.ErrorPatterns = c.deps.Errors.Patterns(3)
	}
	resp.SuggestedFollowups = append(resp.SuggestedFollowups,
		intervention.Followups(c.deps.Interventions.Evaluate(ictx))...)

	c.emit(req.ID, models.EventComplete, map[string]any{
		"outcome":    string(resp.Outcome),
		"confidence": resp.Confidence,
		"summary":    resp.Summary,
	})
}

func categoryForOutcome(outcome models.Outcome) models.ErrorCategory {
	if outcome == models.OutcomeInconclusive {
		return models.ErrInstrumentFailure
	}
	return models.ErrLowConfidence
}

func (c *Conductor) recordError(req *models.TaskRequest, instrument string, err error) {
	if c.deps.Errors == nil {
		return
	}
	c.deps.Errors.Record(models.ErrorRecord{
		Category:   errtrack.Classify(err),
		Message:    err.Error(),
		Instrument: instrument,
		TaskID:     req.ID,
	})
}

func (c *Conductor) emit(taskID, name string, data map[string]any) {
	if c.deps.Bus != nil {
		c.deps.Bus.Emit(taskID, name, data)
	}
}

func truncateQuery(q string) string {
	const max = 120
	if len(q) <= max {
		return q
	}
	return q[:max] + "..."
}
