package authority

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"tollgate/internal/hitl"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "tok"), srv
}

func TestStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/approvals/abc" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth: %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
	})
	got, err := client.Status(context.Background(), "abc")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got != "pending" {
		t.Fatalf("status: %q", got)
	}
}

func TestStatusNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := client.Status(context.Background(), "abc")
	if !errors.Is(err, hitl.ErrNotFound) {
		t.Fatalf("err: %v", err)
	}
}

func TestStatusRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "approved"})
	})
	got, err := client.Status(context.Background(), "abc")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got != "approved" {
		t.Fatalf("status: %q", got)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls: %d", calls.Load())
	}
}

func TestStatusExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	client.RetryAttempts = 2
	if _, err := client.Status(context.Background(), "abc"); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 2 {
		t.Fatalf("calls: %d", calls.Load())
	}
}

func TestDecide(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/approvals/abc/decision" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["decision"] != "approve" || body["note"] != "lgtm" {
			t.Errorf("body: %+v", body)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := client.Decide(context.Background(), "abc", hitl.DecisionApprove, "lgtm"); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestDecideStaleSignals(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{http.StatusNotFound, hitl.ErrNotFound},
		{http.StatusConflict, hitl.ErrAlreadyDecided},
	}
	for _, tc := range cases {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
		})
		err := client.Decide(context.Background(), "abc", hitl.DecisionApprove, "")
		if !errors.Is(err, tc.want) {
			t.Errorf("code %d: err %v", tc.code, err)
		}
	}
}

func TestDecideTransientError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	err := client.Decide(context.Background(), "abc", hitl.DecisionApprove, "")
	if err == nil || hitl.IsStale(err) {
		t.Fatalf("err: %v", err)
	}
}

func TestDecideSubmitsOnce(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	if err := client.Decide(context.Background(), "abc", hitl.DecisionApprove, ""); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("decision must not be retried, calls: %d", calls.Load())
	}
}

func TestListPending(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/approvals" || r.URL.Query().Get("status") != "pending" {
			t.Errorf("url: %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"approvals":[{"approval":{"id":"a1"},"agent":"builder","kind":"tool_call"}]}`))
	})
	got, err := client.ListPending(context.Background())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(got) != 1 || got[0].ApprovalID != "a1" || got[0].Channel != "pull" {
		t.Fatalf("got: %+v", got)
	}
}

func TestSettings(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/projects/proj/settings" {
			t.Errorf("path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"project_id":"proj","counter_total":5,"counter_remaining":2,"hitl_enabled":true}`))
	})
	got, err := client.Settings(context.Background(), "proj")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got.CounterRemaining != 2 || !got.HitlEnabled {
		t.Fatalf("got: %+v", got)
	}
}

func TestSettingsCommands(t *testing.T) {
	var paths []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"project_id":"proj","counter_total":5,"counter_remaining":5,"hitl_enabled":true}`))
	})
	ctx := context.Background()
	if _, err := client.Toggle(ctx, "proj", true); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := client.SetBudget(ctx, "proj", 5, true); err != nil {
		t.Fatalf("budget: %v", err)
	}
	total := 8
	if _, err := client.Resume(ctx, "proj", &total); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := client.Halt(ctx, "proj"); err != nil {
		t.Fatalf("halt: %v", err)
	}
	want := []string{
		"/v1/projects/proj/settings/toggle",
		"/v1/projects/proj/settings/budget",
		"/v1/projects/proj/settings/resume",
		"/v1/projects/proj/settings/halt",
	}
	if len(paths) != len(want) {
		t.Fatalf("paths: %+v", paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("path %d: %s", i, paths[i])
		}
	}
}

func TestEmptyIDs(t *testing.T) {
	client := NewClient("http://example.invalid", "")
	if _, err := client.Status(context.Background(), ""); err == nil {
		t.Fatalf("expected error")
	}
	if err := client.Decide(context.Background(), "", hitl.DecisionApprove, ""); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := client.Settings(context.Background(), ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMissingBaseURL(t *testing.T) {
	client := &Client{}
	if _, err := client.Status(context.Background(), "abc"); err == nil {
		t.Fatalf("expected error")
	}
}
