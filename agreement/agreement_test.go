package agreement

import (
	"errors"
	"testing"
)

func intp(v int) *int { return &v }

func TestEvaluate(t *testing.T) {
	g := NewGate("admin")

	tests := []struct {
		name    string
		rec     Record
		want    State
		blocked bool
		logout  bool
	}{
		{name: "never accepted", rec: Record{Role: "tryout", Required: true, RequiredVersion: 1}, want: StateMissing, blocked: true},
		{name: "older version", rec: Record{Role: "player", Required: true, RequiredVersion: 3, AcceptedVersion: intp(2)}, want: StateOutdated, blocked: true},
		{name: "current", rec: Record{Role: "player", Required: true, RequiredVersion: 3, AcceptedVersion: intp(3)}, want: StateCurrent},
		{name: "newer than required", rec: Record{Role: "player", Required: true, RequiredVersion: 3, AcceptedVersion: intp(4)}, want: StateCurrent},
		{name: "declined", rec: Record{Role: "coach", Required: true, RequiredVersion: 2, AcceptedVersion: intp(1), Declined: true}, want: StateDeclined, blocked: true, logout: true},
		{name: "not required", rec: Record{Role: "manager", Required: false, RequiredVersion: 1}, want: StateMissing},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := g.Evaluate(tc.rec)
			if st.State != tc.want {
				t.Fatalf("state: got %s want %s", st.State, tc.want)
			}
			v := g.Check(st)
			if v.Blocked != tc.blocked || v.ForceLogout != tc.logout {
				t.Fatalf("verdict: got %+v", v)
			}
			if st.Blocking() != tc.blocked {
				t.Fatalf("Blocking mismatch for %+v", st)
			}
		})
	}
}

func TestEvaluateCopiesAcceptedVersion(t *testing.T) {
	g := NewGate()
	accepted := 2
	st := g.Evaluate(Record{Required: true, RequiredVersion: 2, AcceptedVersion: &accepted})
	accepted = 7
	if *st.CurrentVersion != 2 {
		t.Fatalf("status must not alias the record, got %d", *st.CurrentVersion)
	}
}

func TestApplyDecisions(t *testing.T) {
	g := NewGate()
	st := g.Evaluate(Record{Required: true, RequiredVersion: 4, AcceptedVersion: intp(3)})

	accepted, err := g.Apply(st, DecisionAccepted)
	if err != nil {
		t.Fatalf("apply accepted: %v", err)
	}
	if accepted.State != StateCurrent || *accepted.CurrentVersion != 4 {
		t.Fatalf("unexpected accepted status %+v", accepted)
	}

	declined, err := g.Apply(st, DecisionDeclined)
	if err != nil {
		t.Fatalf("apply declined: %v", err)
	}
	if declined.State != StateDeclined || !g.Check(declined).ForceLogout {
		t.Fatalf("unexpected declined status %+v", declined)
	}

	if _, err := g.Apply(st, Decision("maybe")); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
}

func TestBypassLimitedToConfiguredRoles(t *testing.T) {
	g := NewGate(" Admin ")
	if err := g.Bypass("admin"); err != nil {
		t.Fatalf("admin bypass: %v", err)
	}
	if err := g.Bypass("player"); !errors.Is(err, ErrBypassNotPermitted) {
		t.Fatalf("expected ErrBypassNotPermitted, got %v", err)
	}
	var nilGate *Gate
	if nilGate.CanBypass("admin") {
		t.Fatal("nil gate must not allow bypass")
	}
}
