package hitl

import "time"

// Settings is the per-project human-oversight configuration mirrored
// from the remote authority. CounterRemaining is never computed locally;
// it only ever reflects an authoritative payload.
type Settings struct {
	ProjectID        string    `json:"project_id"`
	Enabled          bool      `json:"enabled"`
	CounterTotal     int       `json:"counter_total"`
	CounterRemaining int       `json:"counter_remaining"`
	Locked           bool      `json:"locked"`
	Reason           string    `json:"reason,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SettingsPayload is the wire shape of an authoritative settings record,
// delivered over the push channel or returned by settings commands.
type SettingsPayload struct {
	ProjectID        string `json:"project_id"`
	CounterTotal     int    `json:"counter_total"`
	CounterRemaining int    `json:"counter_remaining"`
	HitlEnabled      bool   `json:"hitl_enabled"`
	Locked           *bool  `json:"locked,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// Settings converts an authoritative payload into the stored record.
// The remaining counter is clamped into [0, total]. Locked defaults to
// "budget exhausted" unless the authority set it explicitly.
func (p SettingsPayload) Settings(now time.Time) Settings {
	total := p.CounterTotal
	if total < 0 {
		total = 0
	}
	remaining := p.CounterRemaining
	if remaining < 0 {
		remaining = 0
	}
	if remaining > total {
		remaining = total
	}
	locked := remaining == 0
	if p.Locked != nil {
		locked = *p.Locked
	}
	return Settings{
		ProjectID:        p.ProjectID,
		Enabled:          p.HitlEnabled,
		CounterTotal:     total,
		CounterRemaining: remaining,
		Locked:           locked,
		Reason:           p.Reason,
		UpdatedAt:        now,
	}
}
