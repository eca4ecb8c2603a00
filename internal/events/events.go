package events

import (
	"time"

	"tollgate/internal/hitl"
)

// PushApproval is the flat payload the push transport delivers when an
// agent needs a human decision.
type PushApproval struct {
	ApprovalID      string         `json:"approval_id"`
	AgentType       string         `json:"agent_type"`
	RequestType     string         `json:"request_type"`
	Priority        string         `json:"priority,omitempty"`
	EstimatedTokens int            `json:"estimated_tokens,omitempty"`
	EstimatedCost   float64        `json:"estimated_cost,omitempty"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	TaskID          string         `json:"task_id,omitempty"`
	ProjectID       string         `json:"project_id,omitempty"`
	RequestData     map[string]any `json:"request_data,omitempty"`
}

// PullApproval is one item of the authority's pending list. It names
// fields differently from the push shape and nests the identifier.
type PullApproval struct {
	Approval struct {
		ID string `json:"id"`
	} `json:"approval"`
	Agent     string         `json:"agent"`
	Kind      string         `json:"kind"`
	Priority  string         `json:"priority,omitempty"`
	Tokens    int            `json:"tokens,omitempty"`
	Cost      float64        `json:"cost,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	ProjectID string         `json:"project_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// SettingsChanged is the push payload for per-project budget changes.
type SettingsChanged struct {
	ProjectID        string `json:"project_id"`
	CounterTotal     int    `json:"counter_total"`
	CounterRemaining int    `json:"counter_remaining"`
	HitlEnabled      bool   `json:"hitl_enabled"`
	Locked           *bool  `json:"locked,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

func (s SettingsChanged) Payload() hitl.SettingsPayload {
	return hitl.SettingsPayload{
		ProjectID:        s.ProjectID,
		CounterTotal:     s.CounterTotal,
		CounterRemaining: s.CounterRemaining,
		HitlEnabled:      s.HitlEnabled,
		Locked:           s.Locked,
		Reason:           s.Reason,
	}
}

// NormalizePush converts a push payload into the single inbound shape
// the ingestor consumes.
func NormalizePush(p PushApproval) hitl.InboundEvent {
	return hitl.InboundEvent{
		Channel:     "push",
		ApprovalID:  p.ApprovalID,
		AgentName:   p.AgentType,
		RequestKind: p.RequestType,
		Priority:    hitl.ParsePriority(p.Priority),
		Context: hitl.RequestContext{
			EstimatedTokens: p.EstimatedTokens,
			EstimatedCost:   p.EstimatedCost,
			TaskID:          p.TaskID,
			ProjectID:       p.ProjectID,
			Instructions:    instructions(p.RequestData),
			ExpiresAt:       p.ExpiresAt,
			Extra:           stripInstructions(p.RequestData),
		},
	}
}

// NormalizePull converts a pull list item into the same inbound shape.
func NormalizePull(p PullApproval) hitl.InboundEvent {
	return hitl.InboundEvent{
		Channel:     "pull",
		ApprovalID:  p.Approval.ID,
		AgentName:   p.Agent,
		RequestKind: p.Kind,
		Priority:    hitl.ParsePriority(p.Priority),
		Context: hitl.RequestContext{
			EstimatedTokens: p.Tokens,
			EstimatedCost:   p.Cost,
			TaskID:          p.TaskID,
			ProjectID:       p.ProjectID,
			Instructions:    instructions(p.Data),
			ExpiresAt:       p.ExpiresAt,
			Extra:           stripInstructions(p.Data),
		},
	}
}

func instructions(data map[string]any) string {
	if data == nil {
		return ""
	}
	if s, ok := data["instructions"].(string); ok {
		return s
	}
	return ""
}

func stripInstructions(data map[string]any) map[string]any {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if k == "instructions" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
