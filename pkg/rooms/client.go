package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/loopsymphony/symphony/pkg/models"
)

// DefaultDelegationTimeout bounds one delegated task round-trip.
const DefaultDelegationTimeout = 60 * time.Second

// Client delegates tasks to remote rooms over HTTP. Delegation failures are
// returned as RoomDelegationResult values so callers can fall back without
// error plumbing.
type Client struct {
	http *http.Client
	log  *slog.Logger
}

// NewClient returns a delegation client with the default timeout.
func NewClient() *Client {
	return &Client{
		http: &http.Client{Timeout: DefaultDelegationTimeout},
		log:  slog.With("component", "room_client"),
	}
}

type delegationPayload struct {
	Query      string              `json:"query"`
	Instrument string              `json:"instrument"`
	Context    *models.TaskContext `json:"context,omitempty"`
}

// roomResponse is the loose wire shape rooms reply with. Findings may be
// objects or bare strings.
type roomResponse struct {
	Outcome          string            `json:"outcome"`
	Findings         []json.RawMessage `json:"findings"`
	Summary          string            `json:"summary"`
	Confidence       float64           `json:"confidence"`
	SourcesConsulted []string          `json:"sources_consulted"`
}

// Delegate posts the task to the room and normalizes the reply.
func (c *Client) Delegate(ctx context.Context, room models.RoomInfo, instrument string, req *models.TaskRequest) models.RoomDelegationResult {
	fail := func(msg string) models.RoomDelegationResult {
		c.log.Warn("room delegation failed", "room_id", room.RoomID, "error", msg)
		return models.RoomDelegationResult{Success: false, Error: msg, RoomID: room.RoomID}
	}

	if room.URL == "" {
		return fail("room has no delegation URL")
	}

	payload, err := json.Marshal(delegationPayload{
		Query:      req.Query,
		Instrument: instrument,
		Context:    req.Context,
	})
	if err != nil {
		return fail(fmt.Sprintf("encode request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, room.URL+"/task", bytes.NewReader(payload))
	if err != nil {
		return fail(fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			return fail(fmt.Sprintf("room timed out after %s", c.http.Timeout))
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return fail("delegation cancelled")
		default:
			return fail(fmt.Sprintf("connection failed: %v", err))
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fail(fmt.Sprintf("read response: %v", err))
	}
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Sprintf("room returned HTTP %d", resp.StatusCode))
	}

	var wire roomResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return fail(fmt.Sprintf("decode response: %v", err))
	}

	response := &models.TaskResponse{
		RequestID:  req.ID,
		Outcome:    models.ParseOutcome(wire.Outcome),
		Findings:   normalizeFindings(wire.Findings),
		Summary:    wire.Summary,
		Confidence: wire.Confidence,
		Metadata: models.ExecutionMetadata{
			InstrumentUsed:   fmt.Sprintf("room:%s/%s", room.RoomID, instrument),
			Iterations:       1,
			DurationMs:       time.Since(started).Milliseconds(),
			SourcesConsulted: wire.SourcesConsulted,
			ProcessType:      models.ProcessSemiAutonomic,
			RoomID:           room.RoomID,
		},
	}
	return models.RoomDelegationResult{Success: true, Response: response, RoomID: room.RoomID}
}

// normalizeFindings accepts finding objects and bare strings.
func normalizeFindings(raw []json.RawMessage) []models.Finding {
	var out []models.Finding
	for _, item := range raw {
		var f models.Finding
		if err := json.Unmarshal(item, &f); err == nil && f.Content != "" {
			out = append(out, f)
			continue
		}
		var s string
		if err := json.Unmarshal(item, &s); err == nil && s != "" {
			out = append(out, models.Finding{Content: s, Confidence: 0.5})
		}
	}
	return out
}
