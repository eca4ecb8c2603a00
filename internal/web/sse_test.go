package web

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tollgate/internal/hitl"
)

func TestEventsSSEStream(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Mux)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type: %q", got)
	}

	reader := bufio.NewReader(resp.Body)
	preamble, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read preamble: %v", err)
	}
	if !strings.HasPrefix(preamble, ":ok") {
		t.Fatalf("preamble: %q", preamble)
	}

	go func() {
		// The subscriber registers after the handler sends the preamble.
		time.Sleep(50 * time.Millisecond)
		srv.PublishDecision(hitl.DecisionEvent{LocalID: "req_1", Status: hitl.StatusApproved, Outcome: "resolved"})
	}()

	var sawEvent, sawData bool
	for !sawEvent || !sawData {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.HasPrefix(line, "event: approval.resolved") {
			sawEvent = true
		}
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "req_1") {
			sawData = true
		}
	}
}

func TestEventsSSEMethodNotAllowed(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/v1/events", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code: %d", rec.Code)
	}
}
