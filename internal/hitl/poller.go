package hitl

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// PullClient lists the approvals the authority still considers pending.
type PullClient interface {
	ListPending(ctx context.Context) ([]InboundEvent, error)
}

// Poller is the pull fallback. Push delivery is not guaranteed across
// reconnect windows, so the same set of pending approvals is re-derived
// from the authority on a fixed interval; the ingestor's dedup gate
// keeps the double observation harmless. A failed sync is logged and
// retried on the next tick rather than stopping the loop.
type Poller struct {
	Client       PullClient
	Ingest       *Ingestor
	PollInterval time.Duration
	Now          func() time.Time
}

func NewPoller(client PullClient, ingest *Ingestor) *Poller {
	return &Poller{Client: client, Ingest: ingest, PollInterval: 15 * time.Second}
}

func (p *Poller) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.Client == nil {
		return errors.New("client required")
	}
	if p.Ingest == nil {
		return errors.New("ingestor required")
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 15 * time.Second
	}
	if err := p.SyncOnce(ctx); err != nil {
		slog.Warn("approval pull sync failed", "error", err)
	}
	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.SyncOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("approval pull sync failed", "error", err)
			}
		}
	}
}

// SyncOnce fetches the authority's pending set and feeds it through the
// dedup gate.
func (p *Poller) SyncOnce(ctx context.Context) error {
	events, err := p.Client.ListPending(ctx)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.Channel == "" {
			ev.Channel = "pull"
		}
		p.Ingest.Ingest(ev)
	}
	return nil
}
