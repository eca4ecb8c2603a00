package hitl

import "testing"

func TestIdentityKey(t *testing.T) {
	remote := ApprovalRequest{LocalID: "req_1", ApprovalID: "abc"}
	if got := remote.IdentityKey(); got != "abc" {
		t.Fatalf("got: %q", got)
	}
	local := ApprovalRequest{LocalID: "req_1"}
	if got := local.IdentityKey(); got != "local:req_1" {
		t.Fatalf("got: %q", got)
	}
}

func TestHasRemoteID(t *testing.T) {
	if (ApprovalRequest{}).HasRemoteID() {
		t.Fatalf("empty id is not remote")
	}
	if (ApprovalRequest{ApprovalID: "not-a-uuid"}).HasRemoteID() {
		t.Fatalf("malformed id is not remote")
	}
	if !(ApprovalRequest{ApprovalID: testApprovalID}).HasRemoteID() {
		t.Fatalf("uuid should be remote")
	}
}

func TestDecisionStatus(t *testing.T) {
	cases := []struct {
		decision Decision
		status   Status
		ok       bool
	}{
		{DecisionApprove, StatusApproved, true},
		{DecisionReject, StatusRejected, true},
		{DecisionAmend, StatusAmended, true},
		{Decision("maybe"), "", false},
	}
	for _, tc := range cases {
		status, ok := tc.decision.Status()
		if status != tc.status || ok != tc.ok {
			t.Errorf("%q: got %q %v", tc.decision, status, ok)
		}
	}
}

func TestParsePriority(t *testing.T) {
	if got := ParsePriority("urgent"); got != PriorityUrgent {
		t.Fatalf("got: %q", got)
	}
	if got := ParsePriority(""); got != PriorityMedium {
		t.Fatalf("default: %q", got)
	}
	if got := ParsePriority("critical"); got != PriorityMedium {
		t.Fatalf("unknown: %q", got)
	}
}

func TestPriorityRankOrdering(t *testing.T) {
	if PriorityUrgent.Rank() <= PriorityHigh.Rank() ||
		PriorityHigh.Rank() <= PriorityMedium.Rank() ||
		PriorityMedium.Rank() <= PriorityLow.Rank() {
		t.Fatalf("rank ordering broken")
	}
}

func TestNewLocalIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := newLocalID()
		if seen[id] {
			t.Fatalf("duplicate: %s", id)
		}
		seen[id] = true
	}
}
