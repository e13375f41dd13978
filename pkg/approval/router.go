// Package approval queues deferred actions for a human decision. Expiry is
// lazy: PENDING requests past their TTL are swept on every read.
package approval

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loopsymphony/symphony/pkg/models"
)

// DefaultTTL is how long a request stays PENDING before expiring.
const DefaultTTL = 3600 * time.Second

// NotFoundError reports a resolve against a request that is missing or no
// longer PENDING.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no pending approval request %q", e.ID)
}

// Router holds in-flight approval requests.
type Router struct {
	mu       sync.Mutex
	requests map[string]*models.ApprovalRequest
	ttl      time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// NewRouter returns an empty router with the default TTL.
func NewRouter() *Router {
	return &Router{
		requests: make(map[string]*models.ApprovalRequest),
		ttl:      DefaultTTL,
		now:      time.Now,
		log:      slog.With("component", "approval_router"),
	}
}

// Submit queues an action for approval and returns the stored request.
func (r *Router) Submit(conductorID, actionType, description string, trustLevel int, ctx map[string]any) models.ApprovalRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	req := &models.ApprovalRequest{
		ID:          uuid.NewString(),
		ConductorID: conductorID,
		ActionType:  actionType,
		Description: description,
		Context:     ctx,
		TrustLevel:  trustLevel,
		Status:      models.ApprovalPending,
		RequestedAt: r.now().UTC(),
		TTLSeconds:  int(r.ttl.Seconds()),
	}
	r.requests[req.ID] = req
	r.log.Info("approval requested", "approval_id", req.ID,
		"action_type", actionType, "conductor_id", conductorID)
	return *req
}

// Resolve applies a human decision to a PENDING request.
func (r *Router) Resolve(id string, res models.ApprovalResolution) (models.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()

	req, ok := r.requests[id]
	if !ok || req.Status != models.ApprovalPending {
		return models.ApprovalRequest{}, &NotFoundError{ID: id}
	}

	now := r.now().UTC()
	if res.Approved {
		req.Status = models.ApprovalApproved
	} else {
		req.Status = models.ApprovalDenied
	}
	req.ResolvedAt = &now
	req.ResolvedBy = res.ResolvedBy
	r.log.Info("approval resolved", "approval_id", id,
		"status", req.Status, "resolved_by", res.ResolvedBy)
	return *req, nil
}

// Get returns one request by ID after an expiry sweep.
func (r *Router) Get(id string) (models.ApprovalRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()

	req, ok := r.requests[id]
	if !ok {
		return models.ApprovalRequest{}, false
	}
	return *req, true
}

// Pending returns PENDING requests ordered oldest first.
func (r *Router) Pending() []models.ApprovalRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()

	var out []models.ApprovalRequest
	for _, req := range r.requests {
		if req.Status == models.ApprovalPending {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// ExpireStale sweeps explicitly and returns the number expired.
func (r *Router) ExpireStale() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expireLocked()
}

func (r *Router) expireLocked() int {
	now := r.now().UTC()
	expired := 0
	for _, req := range r.requests {
		if req.Status != models.ApprovalPending {
			continue
		}
		deadline := req.RequestedAt.Add(time.Duration(req.TTLSeconds) * time.Second)
		if now.After(deadline) {
			req.Status = models.ApprovalExpired
			resolvedAt := now
			req.ResolvedAt = &resolvedAt
			expired++
			r.log.Warn("approval request expired", "approval_id", req.ID,
				"action_type", req.ActionType)
		}
	}
	return expired
}
