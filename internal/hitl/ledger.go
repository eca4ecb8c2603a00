package hitl

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultTTL is how long a request may stay pending before it no longer
// needs a decision and is dropped by the sweeper.
const DefaultTTL = 30 * time.Minute

// Ledger holds the approval-request table and the per-project settings
// map behind one mutex. It is the only source of truth for the
// presentation layer; every mutation writes the full snapshot through
// to the store. Store failures are logged and swallowed so a broken
// cache degrades the session to memory-only instead of blocking it.
type Ledger struct {
	Store SnapshotStore
	TTL   time.Duration
	Now   func() time.Time

	mu       sync.Mutex
	requests map[string]*ApprovalRequest
	order    []string
	settings map[string]Settings
}

func NewLedger(store SnapshotStore) *Ledger {
	return &Ledger{
		Store:    store,
		TTL:      DefaultTTL,
		Now:      time.Now,
		requests: map[string]*ApprovalRequest{},
		settings: map[string]Settings{},
	}
}

// Restore loads the persisted snapshot into the ledger. A missing
// snapshot is not an error. A version mismatch discards the cache.
func (l *Ledger) Restore(ctx context.Context) error {
	if l.Store == nil {
		return nil
	}
	snap, err := l.Store.Load(ctx)
	if err != nil {
		if err == ErrNoSnapshot {
			return nil
		}
		slog.Warn("snapshot load failed, starting empty", "error", err)
		return nil
	}
	if snap.Version != SnapshotVersion {
		slog.Warn("snapshot version mismatch, discarding cache",
			"have", snap.Version, "want", SnapshotVersion)
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = map[string]*ApprovalRequest{}
	l.order = l.order[:0]
	for _, req := range snap.Requests {
		if req.LocalID == "" {
			continue
		}
		copied := req
		l.requests[req.LocalID] = &copied
		l.order = append(l.order, req.LocalID)
	}
	l.settings = map[string]Settings{}
	for project, s := range snap.Settings {
		l.settings[project] = s
	}
	return nil
}

// Add inserts a request. A missing LocalID is assigned; a missing
// CreatedAt is stamped with the current time. CreatedAt is fixed here
// and never refreshed afterwards.
func (l *Ledger) Add(req ApprovalRequest) ApprovalRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	if req.LocalID == "" {
		req.LocalID = newLocalID()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = l.now()
	}
	if req.Status == "" {
		req.Status = StatusPending
	}
	if req.Priority == "" {
		req.Priority = PriorityMedium
	}
	copied := req
	l.requests[req.LocalID] = &copied
	l.order = append(l.order, req.LocalID)
	l.persistLocked()
	return req
}

func (l *Ledger) Get(localID string) (ApprovalRequest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	req, ok := l.requests[localID]
	if !ok {
		return ApprovalRequest{}, false
	}
	return *req, true
}

// List returns all requests in insertion order, pending before resolved,
// higher priority first within the pending block.
func (l *Ledger) List() []ApprovalRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listLocked(func(ApprovalRequest) bool { return true })
}

func (l *Ledger) ListByAgent(name string) []ApprovalRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listLocked(func(r ApprovalRequest) bool { return r.AgentName == name })
}

func (l *Ledger) listLocked(keep func(ApprovalRequest) bool) []ApprovalRequest {
	out := make([]ApprovalRequest, 0, len(l.order))
	for _, id := range l.order {
		req, ok := l.requests[id]
		if !ok || !keep(*req) {
			continue
		}
		out = append(out, *req)
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Status == StatusPending, out[j].Status == StatusPending
		if pi != pj {
			return pi
		}
		if pi && out[i].Priority != out[j].Priority {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return false
	})
	return out
}

// CountPending applies the expiry rule inline: a request past its TTL is
// excluded even if the sweeper has not removed it yet, so counts read
// between sweeps never over-report.
func (l *Ledger) CountPending(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, req := range l.requests {
		if req.Status != StatusPending {
			continue
		}
		if l.expired(*req, now) {
			continue
		}
		count++
	}
	return count
}

// FindPendingByKey returns the pending request with the given identity
// key, if one exists. This is the dedup scan: expired-but-unswept
// entries still count, so a re-observed approval is not duplicated in
// the window between logical and physical expiry.
func (l *Ledger) FindPendingByKey(key string) (ApprovalRequest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, req := range l.requests {
		if req.Status == StatusPending && req.IdentityKey() == key {
			return *req, true
		}
	}
	return ApprovalRequest{}, false
}

// MarkResolved moves a request to a terminal status. The note is stored
// as given, an empty note explicitly. Resolved requests are retained so
// the operator can still see what was decided.
func (l *Ledger) MarkResolved(localID string, status Status, note string) (ApprovalRequest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	req, ok := l.requests[localID]
	if !ok {
		return ApprovalRequest{}, false
	}
	req.Status = status
	req.DecisionNote = note
	l.persistLocked()
	return *req, true
}

// Remove drops a request outright. Used for stale entries whose remote
// counterpart was decided elsewhere or no longer exists.
func (l *Ledger) Remove(localID string) (ApprovalRequest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	req, ok := l.requests[localID]
	if !ok {
		return ApprovalRequest{}, false
	}
	delete(l.requests, localID)
	for i, id := range l.order {
		if id == localID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.persistLocked()
	return *req, true
}

// RemoveExpired drops every pending request older than the TTL and
// returns the removed entries.
func (l *Ledger) RemoveExpired(now time.Time) []ApprovalRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	var removed []ApprovalRequest
	kept := l.order[:0]
	for _, id := range l.order {
		req, ok := l.requests[id]
		if !ok {
			continue
		}
		if req.Status == StatusPending && l.expired(*req, now) {
			removed = append(removed, *req)
			delete(l.requests, id)
			continue
		}
		kept = append(kept, id)
	}
	l.order = kept
	if len(removed) > 0 {
		l.persistLocked()
	}
	return removed
}

// ApplySettings overwrites the whole per-project record. Counter fields
// are never merged locally; the authority's numbers always win.
func (l *Ledger) ApplySettings(projectID string, s Settings) Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.ProjectID = projectID
	l.settings[projectID] = s
	l.persistLocked()
	return s
}

func (l *Ledger) SettingsFor(projectID string) (Settings, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.settings[projectID]
	return s, ok
}

func (l *Ledger) AllSettings() map[string]Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Settings, len(l.settings))
	for project, s := range l.settings {
		out[project] = s
	}
	return out
}

func (l *Ledger) expired(req ApprovalRequest, now time.Time) bool {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return now.Sub(req.CreatedAt) > ttl
}

func (l *Ledger) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

func (l *Ledger) persistLocked() {
	if l.Store == nil {
		return
	}
	snap := Snapshot{
		Version:  SnapshotVersion,
		SavedAt:  l.now(),
		Requests: make([]ApprovalRequest, 0, len(l.order)),
		Settings: make(map[string]Settings, len(l.settings)),
	}
	for _, id := range l.order {
		if req, ok := l.requests[id]; ok {
			snap.Requests = append(snap.Requests, *req)
		}
	}
	for project, s := range l.settings {
		snap.Settings[project] = s
	}
	if err := l.Store.Save(context.Background(), snap); err != nil {
		slog.Warn("snapshot save failed, continuing memory-only", "error", err)
	}
}
