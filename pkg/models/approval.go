package models

import "time"

// ApprovalStatus is the lifecycle of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalDenied   ApprovalStatus = "DENIED"
	ApprovalExpired  ApprovalStatus = "EXPIRED"
)

// ApprovalRequest is a deferred action awaiting a human decision. Requests
// still PENDING past TTLSeconds are swept to EXPIRED.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	ConductorID string         `json:"conductor_id"`
	ActionType  string         `json:"action_type"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`
	TrustLevel  int            `json:"trust_level"`
	Status      ApprovalStatus `json:"status"`
	RequestedAt time.Time      `json:"requested_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy  string         `json:"resolved_by,omitempty"`
	TTLSeconds  int            `json:"ttl_seconds"`
}

// ApprovalResolution is the resolve-endpoint payload.
type ApprovalResolution struct {
	Approved   bool   `json:"approved"`
	ResolvedBy string `json:"resolved_by" binding:"required"`
}
