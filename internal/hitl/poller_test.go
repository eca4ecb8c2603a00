package hitl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePullClient struct {
	mu     sync.Mutex
	events []InboundEvent
	err    error
	calls  int
}

func (f *fakePullClient) ListPending(ctx context.Context) ([]InboundEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.events, f.err
}

func (f *fakePullClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSyncOnceIngestsWithPullChannel(t *testing.T) {
	ledger := NewLedger(nil)
	ing := &Ingestor{Ledger: ledger}
	client := &fakePullClient{events: []InboundEvent{
		{ApprovalID: "a1", AgentName: "builder"},
		{ApprovalID: "a2", AgentName: "reviewer", Channel: "push"},
	}}
	p := NewPoller(client, ing)
	if err := p.SyncOnce(context.Background()); err != nil {
		t.Fatalf("err: %v", err)
	}
	if got := len(ledger.List()); got != 2 {
		t.Fatalf("entries: %d", got)
	}
}

func TestSyncOnceDedupsAgainstPush(t *testing.T) {
	ledger := NewLedger(nil)
	ing := &Ingestor{Ledger: ledger}
	ing.Ingest(InboundEvent{Channel: "push", ApprovalID: "a1"})

	client := &fakePullClient{events: []InboundEvent{{ApprovalID: "a1"}}}
	p := NewPoller(client, ing)
	if err := p.SyncOnce(context.Background()); err != nil {
		t.Fatalf("err: %v", err)
	}
	if got := len(ledger.List()); got != 1 {
		t.Fatalf("entries: %d", got)
	}
}

func TestSyncOnceError(t *testing.T) {
	p := NewPoller(&fakePullClient{err: errors.New("boom")}, &Ingestor{Ledger: NewLedger(nil)})
	if err := p.SyncOnce(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunRequiresClient(t *testing.T) {
	p := &Poller{Ingest: &Ingestor{Ledger: NewLedger(nil)}}
	if err := p.Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	client := &fakePullClient{}
	p := NewPoller(client, &Ingestor{Ledger: NewLedger(nil)})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for client.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("initial sync never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("err: %v", err)
	}
}
