package events

import (
	"strings"
	"testing"
)

func TestParsePushApprovalValid(t *testing.T) {
	raw := []byte(`{
		"approval_id": "abc",
		"agent_type": "builder",
		"request_type": "tool_call",
		"priority": "high",
		"estimated_tokens": 100,
		"request_data": {"instructions": "do it"}
	}`)
	got, err := ParsePushApproval(raw)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got.ApprovalID != "abc" || got.EstimatedTokens != 100 {
		t.Fatalf("got: %+v", got)
	}
}

func TestParsePushApprovalMissingRequired(t *testing.T) {
	raw := []byte(`{"agent_type": "builder", "request_type": "tool_call"}`)
	if _, err := ParsePushApproval(raw); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParsePushApprovalBadPriority(t *testing.T) {
	raw := []byte(`{"approval_id": "abc", "agent_type": "b", "request_type": "t", "priority": "critical"}`)
	if _, err := ParsePushApproval(raw); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParsePushApprovalNotJSON(t *testing.T) {
	if _, err := ParsePushApproval([]byte("not json")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParsePushApprovalEmpty(t *testing.T) {
	_, err := ParsePushApproval(nil)
	if err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("err: %v", err)
	}
}

func TestParseSettingsChangedValid(t *testing.T) {
	raw := []byte(`{
		"project_id": "proj",
		"counter_total": 10,
		"counter_remaining": 0,
		"hitl_enabled": true,
		"locked": true,
		"reason": "budget exhausted"
	}`)
	got, err := ParseSettingsChanged(raw)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got.ProjectID != "proj" || got.CounterRemaining != 0 {
		t.Fatalf("got: %+v", got)
	}
	if got.Locked == nil || !*got.Locked {
		t.Fatalf("locked: %+v", got.Locked)
	}
}

func TestParseSettingsChangedMissingCounter(t *testing.T) {
	raw := []byte(`{"project_id": "proj", "hitl_enabled": true}`)
	if _, err := ParseSettingsChanged(raw); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseSettingsChangedNegativeCounter(t *testing.T) {
	raw := []byte(`{"project_id": "proj", "counter_total": 5, "counter_remaining": -1, "hitl_enabled": true}`)
	if _, err := ParseSettingsChanged(raw); err == nil {
		t.Fatalf("expected error")
	}
}
