package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"tollgate/internal/metrics"
)

// Sweeper periodically drops pending requests that have outlived the
// ledger's TTL. Expired entries are removed, not marked rejected: the
// ledger reflects what still needs a decision, and recording that an
// opportunity lapsed is the authority's job. Runs once at start so
// anything that expired while the process was down is discarded before
// the first read.
type Sweeper struct {
	Ledger   *Ledger
	Interval time.Duration
	Cron     string
	Parser   *cron.Parser
	Now      func() time.Time
	Audit    AuditWriter
}

func NewSweeper(ledger *Ledger) *Sweeper {
	return &Sweeper{Ledger: ledger, Interval: time.Minute, Now: time.Now}
}

func (s *Sweeper) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Ledger == nil {
		return errors.New("ledger required")
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	s.Sweep(ctx, s.Now())
	if spec := strings.TrimSpace(s.Cron); spec != "" {
		return s.runCron(ctx, spec)
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx, s.Now())
		}
	}
}

func (s *Sweeper) runCron(ctx context.Context, spec string) error {
	if s.Parser == nil {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		s.Parser = &parser
	}
	schedule, err := s.Parser.Parse(spec)
	if err != nil {
		return err
	}
	for {
		next := schedule.Next(s.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.Sweep(ctx, s.Now())
		}
	}
}

// Sweep removes expired requests and returns how many were dropped.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) int {
	removed := s.Ledger.RemoveExpired(now)
	if len(removed) == 0 {
		return 0
	}
	metrics.RequestsExpiredTotal.Add(float64(len(removed)))
	for _, req := range removed {
		slog.Info("approval request expired",
			"local_id", req.LocalID, "approval_id", req.ApprovalID,
			"age", now.Sub(req.CreatedAt).String())
		s.audit(ctx, req)
	}
	return len(removed)
}

func (s *Sweeper) audit(ctx context.Context, req ApprovalRequest) {
	if s.Audit == nil {
		return
	}
	payload, err := json.Marshal(struct {
		DecisionEvent
		TS time.Time `json:"ts"`
	}{
		DecisionEvent{
			LocalID:    req.LocalID,
			ApprovalID: req.ApprovalID,
			Status:     req.Status,
			Outcome:    OutcomeExpired,
		},
		time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if _, err := s.Audit.InsertDecisionEvent(ctx, payload); err != nil {
		slog.Warn("expiry audit write failed", "error", err, "local_id", req.LocalID)
	}
}
