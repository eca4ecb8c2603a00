package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"tollgate/internal/metrics"
)

// Stale signals from the authority. Either one means the decision window
// no longer exists on the remote side; the local entry is purged rather
// than resolved.
var (
	ErrNotFound       = errors.New("approval not found")
	ErrAlreadyDecided = errors.New("approval already decided")
)

// IsStale reports whether an authority error means the remote
// counterpart of a request is gone or already decided.
func IsStale(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyDecided)
}

// AuthorityClient is the slice of the remote authority the resolver
// needs: a status probe and the decision submission.
type AuthorityClient interface {
	Status(ctx context.Context, approvalID string) (string, error)
	Decide(ctx context.Context, approvalID string, decision Decision, note string) error
}

// AuditWriter records terminal outcomes. Failures are logged and
// swallowed, same policy as snapshot persistence.
type AuditWriter interface {
	InsertDecisionEvent(ctx context.Context, payload []byte) (string, error)
}

// DecisionEvent is emitted to the presentation layer whenever a request
// reaches a terminal state. Transcript entries correlate by ApprovalID,
// not LocalID.
type DecisionEvent struct {
	LocalID    string `json:"local_id"`
	ApprovalID string `json:"approval_id,omitempty"`
	Status     Status `json:"status"`
	Note       string `json:"note"`
	Outcome    string `json:"outcome"`
}

const (
	OutcomeResolved  = "resolved"
	OutcomeLocalOnly = "local_only"
	OutcomeStale     = "stale"
	OutcomeExpired   = "expired"
)

// Resolver validates a human decision, reconciles it with the remote
// authority, and updates the ledger accordingly. Resolve is idempotent:
// a second call for the same request finds it already terminal and
// returns without effect, and two resolvers racing on the same
// ApprovalID converge because the loser observes a stale signal.
type Resolver struct {
	Ledger     *Ledger
	Authority  AuthorityClient
	Audit      AuditWriter
	OnDecision func(DecisionEvent)
}

func (r *Resolver) Resolve(ctx context.Context, localID string, decision Decision, note string) error {
	status, ok := decision.Status()
	if !ok {
		return errors.New("unknown decision: " + string(decision))
	}
	if r.Ledger == nil {
		return errors.New("ledger required")
	}
	req, found := r.Ledger.Get(localID)
	if !found || req.Status != StatusPending {
		// Already resolved or removed by a concurrent path.
		return nil
	}

	if !req.HasRemoteID() {
		if req.ApprovalID != "" {
			slog.Warn("approval id malformed, resolving locally",
				"local_id", localID, "approval_id", req.ApprovalID)
		}
		resolved, _ := r.Ledger.MarkResolved(localID, status, note)
		metrics.ResolutionsTotal.WithLabelValues(string(decision), OutcomeLocalOnly).Inc()
		r.finish(ctx, resolved, OutcomeLocalOnly)
		return nil
	}

	remote, err := r.Authority.Status(ctx, req.ApprovalID)
	if err != nil {
		if IsStale(err) {
			r.purgeStale(ctx, req, decision)
			return nil
		}
		metrics.ResolutionsTotal.WithLabelValues(string(decision), "error").Inc()
		return err
	}
	if !strings.EqualFold(remote, "pending") {
		r.purgeStale(ctx, req, decision)
		return nil
	}

	if err := r.Authority.Decide(ctx, req.ApprovalID, decision, note); err != nil {
		if IsStale(err) {
			r.purgeStale(ctx, req, decision)
			return nil
		}
		metrics.ResolutionsTotal.WithLabelValues(string(decision), "error").Inc()
		return err
	}

	resolved, _ := r.Ledger.MarkResolved(localID, status, note)
	metrics.ResolutionsTotal.WithLabelValues(string(decision), OutcomeResolved).Inc()
	r.finish(ctx, resolved, OutcomeResolved)
	return nil
}

// purgeStale removes a request whose remote counterpart was closed by
// someone else. Nothing went wrong from the operator's point of view,
// so no error surfaces.
func (r *Resolver) purgeStale(ctx context.Context, req ApprovalRequest, decision Decision) {
	removed, ok := r.Ledger.Remove(req.LocalID)
	if !ok {
		return
	}
	slog.Info("stale approval request purged",
		"local_id", req.LocalID, "approval_id", req.ApprovalID)
	metrics.ResolutionsTotal.WithLabelValues(string(decision), OutcomeStale).Inc()
	removed.Status = StatusPending
	r.audit(ctx, DecisionEvent{
		LocalID:    removed.LocalID,
		ApprovalID: removed.ApprovalID,
		Status:     removed.Status,
		Outcome:    OutcomeStale,
	})
}

func (r *Resolver) finish(ctx context.Context, req ApprovalRequest, outcome string) {
	ev := DecisionEvent{
		LocalID:    req.LocalID,
		ApprovalID: req.ApprovalID,
		Status:     req.Status,
		Note:       req.DecisionNote,
		Outcome:    outcome,
	}
	r.audit(ctx, ev)
	if r.OnDecision != nil {
		r.OnDecision(ev)
	}
}

func (r *Resolver) audit(ctx context.Context, ev DecisionEvent) {
	if r.Audit == nil {
		return
	}
	payload, err := json.Marshal(struct {
		DecisionEvent
		TS time.Time `json:"ts"`
	}{ev, time.Now().UTC()})
	if err != nil {
		return
	}
	if _, err := r.Audit.InsertDecisionEvent(ctx, payload); err != nil {
		slog.Warn("decision audit write failed", "error", err, "local_id", ev.LocalID)
	}
}
