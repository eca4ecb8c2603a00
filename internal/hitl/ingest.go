package hitl

import (
	"log/slog"
	"time"

	"tollgate/internal/metrics"
)

// InboundEvent is the normalized shape of an approval-need notification,
// whichever channel observed it.
type InboundEvent struct {
	Channel     string
	ApprovalID  string
	AgentName   string
	RequestKind string
	Priority    Priority
	Context     RequestContext
}

// Ingestor turns inbound events into ledger entries. Push delivery and
// the pull fallback routinely observe the same approval, so an event
// whose identity key already has a pending entry is dropped; that single
// check is what lets the two channels race into one table safely.
type Ingestor struct {
	Ledger *Ledger
	Now    func() time.Time
	Notify func(ApprovalRequest)
}

// Ingest records the event as a new pending request, or drops it as a
// duplicate. Returns the stored request and whether one was created.
func (g *Ingestor) Ingest(ev InboundEvent) (ApprovalRequest, bool) {
	if g.Ledger == nil {
		return ApprovalRequest{}, false
	}
	if ev.ApprovalID != "" {
		if existing, ok := g.Ledger.FindPendingByKey(ev.ApprovalID); ok {
			metrics.EventsDeduplicatedTotal.Inc()
			slog.Debug("duplicate approval event dropped",
				"approval_id", ev.ApprovalID, "channel", ev.Channel, "local_id", existing.LocalID)
			return existing, false
		}
	}
	req := ApprovalRequest{
		ApprovalID:  ev.ApprovalID,
		AgentName:   ev.AgentName,
		RequestKind: ev.RequestKind,
		Priority:    ev.Priority,
		Context:     ev.Context,
		CreatedAt:   g.now(),
		Status:      StatusPending,
	}
	req = g.Ledger.Add(req)
	channel := ev.Channel
	if channel == "" {
		channel = "unknown"
	}
	metrics.EventsIngestedTotal.WithLabelValues(channel).Inc()
	slog.Info("approval request ingested",
		"local_id", req.LocalID, "approval_id", req.ApprovalID,
		"agent", req.AgentName, "kind", req.RequestKind, "channel", channel)
	if g.Notify != nil {
		g.Notify(req)
	}
	return req, true
}

func (g *Ingestor) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}
