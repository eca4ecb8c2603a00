package hitl

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusAmended  Status = "amended"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionAmend   Decision = "amend"
)

// Status maps a decision to the terminal status it produces.
func (d Decision) Status() (Status, bool) {
	switch d {
	case DecisionApprove:
		return StatusApproved, true
	case DecisionReject:
		return StatusRejected, true
	case DecisionAmend:
		return StatusAmended, true
	default:
		return "", false
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

func ParsePriority(s string) Priority {
	p := Priority(s)
	if _, ok := priorityRank[p]; ok {
		return p
	}
	return PriorityMedium
}

func (p Priority) Rank() int {
	return priorityRank[p]
}

// RequestContext carries the opaque payload attached to an approval
// request: cost estimates, the originating task and project, and any
// instructions the agent supplied.
type RequestContext struct {
	EstimatedTokens int            `json:"estimated_tokens,omitempty"`
	EstimatedCost   float64        `json:"estimated_cost,omitempty"`
	TaskID          string         `json:"task_id,omitempty"`
	ProjectID       string         `json:"project_id,omitempty"`
	Instructions    string         `json:"instructions,omitempty"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// ApprovalRequest is one pending human decision point. ApprovalID is
// assigned by the remote authority and may be empty for requests that
// exist only in this process.
type ApprovalRequest struct {
	LocalID      string         `json:"local_id"`
	ApprovalID   string         `json:"approval_id,omitempty"`
	AgentName    string         `json:"agent_name"`
	RequestKind  string         `json:"request_kind"`
	Context      RequestContext `json:"context"`
	Priority     Priority       `json:"priority"`
	CreatedAt    time.Time      `json:"created_at"`
	Status       Status         `json:"status"`
	DecisionNote string         `json:"decision_note"`
}

// IdentityKey is the value used to recognize two ingested events as the
// same approval: the authority's identifier when present, otherwise a
// key synthesized from the process-local identifier.
func (r ApprovalRequest) IdentityKey() string {
	if r.ApprovalID != "" {
		return r.ApprovalID
	}
	return "local:" + r.LocalID
}

// HasRemoteID reports whether ApprovalID is present and well formed.
// Requests without a valid remote identifier are resolved locally and
// never submitted to the authority.
func (r ApprovalRequest) HasRemoteID() bool {
	if r.ApprovalID == "" {
		return false
	}
	_, err := uuid.Parse(r.ApprovalID)
	return err == nil
}

var localIDSeq atomic.Uint64

func newLocalID() string {
	return fmt.Sprintf("req_%d_%d", time.Now().UnixNano(), localIDSeq.Add(1))
}
