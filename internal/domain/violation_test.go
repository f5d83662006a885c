package domain

import "testing"

func TestViolationPolicyDecide(t *testing.T) {
	p := ViolationPolicy{CriticalTypes: DefaultCriticalViolationTypes(), SuspendThreshold: 3}
	cases := []struct {
		violation  string
		cumulative int
		want       string
	}{
		{ViolationTypeDevTools, 1, ViolationActionWarning},
		{ViolationTypeDevTools, 3, ViolationActionSuspend},
		{" Recording_Detected ", 1, ViolationActionTerminate},
		{ViolationTypeStreamURL, 10, ViolationActionTerminate},
	}
	for _, tc := range cases {
		if got := p.Decide(tc.violation, tc.cumulative); got != tc.want {
			t.Fatalf("Decide(%q, %d) = %s, want %s", tc.violation, tc.cumulative, got, tc.want)
		}
	}
	if got := (ViolationPolicy{}).Decide(ViolationTypeDevTools, 100); got != ViolationActionWarning {
		t.Fatalf("zero threshold must never suspend, got %s", got)
	}
}

func TestStrongerAction(t *testing.T) {
	if StrongerAction("", ViolationActionWarning) != ViolationActionWarning {
		t.Fatal("warning should beat empty")
	}
	if StrongerAction(ViolationActionTerminate, ViolationActionSuspend) != ViolationActionTerminate {
		t.Fatal("terminate should be kept")
	}
	if StrongerAction(ViolationActionWarning, ViolationActionSuspend) != ViolationActionSuspend {
		t.Fatal("suspend should win over warning")
	}
}
