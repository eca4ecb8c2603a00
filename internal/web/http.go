package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tollgate/internal/hitl"
	"tollgate/internal/metrics"
)

const maxRequestBody = 1 << 20 // 1 MB

var marshalJSON = json.Marshal

// Resolver is the slice of the resolution pipeline the API needs.
type Resolver interface {
	Resolve(ctx context.Context, localID string, decision hitl.Decision, note string) error
}

// SettingsGate is the counter-gate surface exposed to the operator.
type SettingsGate interface {
	ToggleEnabled(ctx context.Context, projectID string, enabled bool) (hitl.Settings, error)
	SetBudget(ctx context.Context, projectID string, total int, resetRemaining bool) (hitl.Settings, error)
	ResumeWithBudget(ctx context.Context, projectID string, total *int) (hitl.Settings, error)
	HaltBudget(ctx context.Context, projectID string) (hitl.Settings, error)
}

// Server is the console API the presentation layer reads. It only reads
// ledger state and forwards intents; it never mutates requests or
// settings directly.
type Server struct {
	Mux        *http.ServeMux
	Ledger     *hitl.Ledger
	Resolver   Resolver
	Gate       SettingsGate
	Events     *EventHub
	Goroutines *GoroutineTracker
	StorePing  func(ctx context.Context) error
	Now        func() time.Time

	eventsOnce sync.Once
}

func NewServer(ledger *hitl.Ledger, resolver Resolver, gate SettingsGate) *Server {
	s := &Server{
		Mux:      http.NewServeMux(),
		Ledger:   ledger,
		Resolver: resolver,
		Gate:     gate,
		Events:   NewEventHub(),
		Now:      time.Now,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.Mux.HandleFunc("/healthz", s.handleHealthz)
	s.Mux.HandleFunc("/readyz", s.handleReadyz)
	s.Mux.Handle("/metrics", metrics.Handler())

	s.Mux.HandleFunc("/v1/requests", s.handleRequests)
	s.Mux.HandleFunc("/v1/requests/", s.handleRequestByID)
	s.Mux.HandleFunc("/v1/settings/", s.handleSettings)
	s.Mux.HandleFunc("/v1/events", s.handleEventsSSE)
}

func (s *Server) eventHub() *EventHub {
	s.eventsOnce.Do(func() {
		if s.Events == nil {
			s.Events = NewEventHub()
		}
	})
	return s.Events
}

// PublishDecision forwards a terminal outcome to the SSE stream. The
// transcript entry on the presentation side correlates by approval id.
func (s *Server) PublishDecision(ev hitl.DecisionEvent) {
	s.eventHub().Publish(Event{Event: "approval.resolved", Data: ev, TS: s.now()})
}

// PublishPending announces a newly ingested request.
func (s *Server) PublishPending(req hitl.ApprovalRequest) {
	s.eventHub().Publish(Event{Event: "approval.pending", Data: req, TS: s.now()})
	s.updatePendingGauge()
}

// PublishSettings announces an applied authoritative settings record.
func (s *Server) PublishSettings(settings hitl.Settings) {
	s.eventHub().Publish(Event{Event: "settings.updated", Data: settings, TS: s.now()})
}

func (s *Server) updatePendingGauge() {
	if s.Ledger == nil {
		return
	}
	metrics.PendingRequests.Set(float64(s.Ledger.CountPending(s.now())))
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.Ledger == nil {
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
		return
	}
	var requests []hitl.ApprovalRequest
	if agent := strings.TrimSpace(r.URL.Query().Get("agent")); agent != "" {
		requests = s.Ledger.ListByAgent(agent)
	} else {
		requests = s.Ledger.List()
	}
	now := s.now()
	pending := s.Ledger.CountPending(now)
	metrics.PendingRequests.Set(float64(pending))
	writeJSON(w, http.StatusOK, map[string]any{
		"requests":      requests,
		"pending_count": pending,
	})
}

type resolveRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
}

func (s *Server) handleRequestByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleRequestGet(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "resolve" && r.Method == http.MethodPost:
		s.handleResolve(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleRequestGet(w http.ResponseWriter, r *http.Request, localID string) {
	if s.Ledger == nil {
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
		return
	}
	req, ok := s.Ledger.Get(localID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request, localID string) {
	if s.Resolver == nil {
		http.Error(w, "resolver unavailable", http.StatusServiceUnavailable)
		return
	}
	var body resolveRequest
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	decision := hitl.Decision(strings.ToLower(strings.TrimSpace(body.Decision)))
	if _, ok := decision.Status(); !ok {
		http.Error(w, "unknown decision", http.StatusBadRequest)
		return
	}
	if err := s.Resolver.Resolve(r.Context(), localID, decision, body.Note); err != nil {
		// Transient failure: the request stays pending so the operator
		// can retry. Stale and no-op cases return nil and fall through.
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "approval could not be submitted, try again",
		})
		return
	}
	s.updatePendingGauge()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

type budgetRequest struct {
	Total int  `json:"total"`
	Reset bool `json:"reset"`
}

type resumeRequest struct {
	Total *int `json:"total"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/settings/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	projectID := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if s.Ledger == nil {
			http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
			return
		}
		settings, ok := s.Ledger.SettingsFor(projectID)
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, settings)
		return
	}
	if len(parts) != 2 || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if s.Gate == nil {
		http.Error(w, "settings unavailable", http.StatusServiceUnavailable)
		return
	}
	settings, err := s.settingsCommand(r, projectID, parts[1])
	if err != nil {
		if errors.Is(err, errBadSettingsBody) {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if errors.Is(err, errUnknownSettingsOp) {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "settings change could not be submitted, try again",
		})
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

var (
	errBadSettingsBody   = errors.New("bad settings body")
	errUnknownSettingsOp = errors.New("unknown settings op")
)

func (s *Server) settingsCommand(r *http.Request, projectID, op string) (hitl.Settings, error) {
	ctx := r.Context()
	switch op {
	case "toggle":
		var body toggleRequest
		if err := decodeBody(r, &body); err != nil {
			return hitl.Settings{}, errBadSettingsBody
		}
		return s.Gate.ToggleEnabled(ctx, projectID, body.Enabled)
	case "budget":
		var body budgetRequest
		if err := decodeBody(r, &body); err != nil || body.Total < 0 {
			return hitl.Settings{}, errBadSettingsBody
		}
		return s.Gate.SetBudget(ctx, projectID, body.Total, body.Reset)
	case "resume":
		var body resumeRequest
		if err := decodeBody(r, &body); err != nil {
			return hitl.Settings{}, errBadSettingsBody
		}
		return s.Gate.ResumeWithBudget(ctx, projectID, body.Total)
	case "halt":
		return s.Gate.HaltBudget(ctx, projectID)
	default:
		return hitl.Settings{}, errUnknownSettingsOp
	}
}

func decodeBody(r *http.Request, out any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (s *Server) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
