package hitl

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tollgate/internal/metrics"
)

// SettingsClient is the authority's settings surface. Every mutating
// call returns the authoritative record that results from it.
type SettingsClient interface {
	Settings(ctx context.Context, projectID string) (SettingsPayload, error)
	Toggle(ctx context.Context, projectID string, enabled bool) (SettingsPayload, error)
	SetBudget(ctx context.Context, projectID string, total int, reset bool) (SettingsPayload, error)
	Resume(ctx context.Context, projectID string, total *int) (SettingsPayload, error)
	Halt(ctx context.Context, projectID string) (SettingsPayload, error)
}

// CounterGate owns the auto-approval budget. It never computes the
// remaining counter itself: mutations go to the authority first and only
// the returned payload is applied, since consumption may be happening
// concurrently on the remote side while agents act.
type CounterGate struct {
	Ledger   *Ledger
	Client   SettingsClient
	Now      func() time.Time
	OnUpdate func(Settings)
}

// ApplyAuthoritative is the single convergence point for push-delivered
// settings notifications and command responses. It overwrites the whole
// per-project record; no field from a previous payload survives.
func (g *CounterGate) ApplyAuthoritative(projectID string, payload SettingsPayload, source string) Settings {
	if projectID == "" {
		projectID = payload.ProjectID
	}
	s := g.Ledger.ApplySettings(projectID, payload.Settings(g.now()))
	metrics.SettingsUpdatesTotal.WithLabelValues(source).Inc()
	slog.Info("settings applied",
		"project", projectID, "enabled", s.Enabled,
		"remaining", s.CounterRemaining, "total", s.CounterTotal,
		"locked", s.Locked, "source", source)
	if g.OnUpdate != nil {
		g.OnUpdate(s)
	}
	return s
}

func (g *CounterGate) ToggleEnabled(ctx context.Context, projectID string, enabled bool) (Settings, error) {
	payload, err := g.client().Toggle(ctx, projectID, enabled)
	if err != nil {
		return Settings{}, err
	}
	return g.ApplyAuthoritative(projectID, payload, "command"), nil
}

// SetBudget reconfigures the budget total. When resetRemaining is set
// the authority re-arms the remaining counter to the new total.
func (g *CounterGate) SetBudget(ctx context.Context, projectID string, total int, resetRemaining bool) (Settings, error) {
	if total < 0 {
		return Settings{}, errors.New("budget total must not be negative")
	}
	payload, err := g.client().SetBudget(ctx, projectID, total, resetRemaining)
	if err != nil {
		return Settings{}, err
	}
	return g.ApplyAuthoritative(projectID, payload, "command"), nil
}

// ResumeWithBudget re-arms auto-approval after a lock. A nil total keeps
// the authority's current budget.
func (g *CounterGate) ResumeWithBudget(ctx context.Context, projectID string, total *int) (Settings, error) {
	if total != nil && *total < 0 {
		return Settings{}, errors.New("budget total must not be negative")
	}
	payload, err := g.client().Resume(ctx, projectID, total)
	if err != nil {
		return Settings{}, err
	}
	return g.ApplyAuthoritative(projectID, payload, "command"), nil
}

// HaltBudget locks the budget immediately, forcing every further action
// back to a human decision.
func (g *CounterGate) HaltBudget(ctx context.Context, projectID string) (Settings, error) {
	payload, err := g.client().Halt(ctx, projectID)
	if err != nil {
		return Settings{}, err
	}
	return g.ApplyAuthoritative(projectID, payload, "command"), nil
}

// Refresh re-reads the authoritative record, used after reconnects when
// push notifications may have been lost.
func (g *CounterGate) Refresh(ctx context.Context, projectID string) (Settings, error) {
	payload, err := g.client().Settings(ctx, projectID)
	if err != nil {
		return Settings{}, err
	}
	return g.ApplyAuthoritative(projectID, payload, "refresh"), nil
}

func (g *CounterGate) client() SettingsClient {
	if g.Client == nil {
		return unavailableSettings{}
	}
	return g.Client
}

func (g *CounterGate) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

type unavailableSettings struct{}

var errNoSettingsClient = errors.New("settings client not configured")

func (unavailableSettings) Settings(context.Context, string) (SettingsPayload, error) {
	return SettingsPayload{}, errNoSettingsClient
}
func (unavailableSettings) Toggle(context.Context, string, bool) (SettingsPayload, error) {
	return SettingsPayload{}, errNoSettingsClient
}
func (unavailableSettings) SetBudget(context.Context, string, int, bool) (SettingsPayload, error) {
	return SettingsPayload{}, errNoSettingsClient
}
func (unavailableSettings) Resume(context.Context, string, *int) (SettingsPayload, error) {
	return SettingsPayload{}, errNoSettingsClient
}
func (unavailableSettings) Halt(context.Context, string) (SettingsPayload, error) {
	return SettingsPayload{}, errNoSettingsClient
}
