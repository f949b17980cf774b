package agreement

import (
	"errors"
	"strings"
)

// State is the acceptance state of the role's current agreement.
type State string

const (
	StateMissing  State = "missing"
	StateOutdated State = "outdated"
	StateCurrent  State = "current"
	StateDeclined State = "declined"
)

// Decision is the user's answer on the agreement review screen.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionDeclined Decision = "declined"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionAccepted || d == DecisionDeclined
}

// ErrBypassNotPermitted is returned by [Gate.Bypass] for roles that may not
// skip the gate.
var ErrBypassNotPermitted = errors.New("agreement bypass not permitted for role")

// ErrInvalidDecision is returned for decisions other than accepted/declined.
var ErrInvalidDecision = errors.New("invalid agreement decision")

// Record is what the agreement service knows about one user and role.
type Record struct {
	Role            string
	Required        bool
	RequiredVersion int
	// AcceptedVersion is nil when the user never accepted any version.
	AcceptedVersion *int
	// Declined is set when the user declined RequiredVersion.
	Declined bool
}

// Status is the evaluated agreement position.
type Status struct {
	Required        bool
	State           State
	CurrentVersion  *int
	RequiredVersion int
}

// Blocking reports whether the status keeps the user at the gate.
func (s Status) Blocking() bool {
	return s.Required && s.State != StateCurrent
}

// Verdict is the gate's answer for a status.
type Verdict struct {
	Blocked     bool
	ForceLogout bool
}

// Gate applies the agreement policy.
type Gate struct {
	bypassRoles map[string]struct{}
}

// NewGate returns a gate whose emergency bypass is limited to bypassRoles.
func NewGate(bypassRoles ...string) *Gate {
	g := &Gate{bypassRoles: make(map[string]struct{}, len(bypassRoles))}
	for _, r := range bypassRoles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			g.bypassRoles[r] = struct{}{}
		}
	}
	return g
}

// Evaluate computes the status for rec.
func (g *Gate) Evaluate(rec Record) Status {
	st := Status{
		Required:        rec.Required,
		RequiredVersion: rec.RequiredVersion,
	}
	if rec.AcceptedVersion != nil {
		v := *rec.AcceptedVersion
		st.CurrentVersion = &v
	}

	switch {
	case rec.Declined:
		st.State = StateDeclined
	case rec.AcceptedVersion == nil:
		st.State = StateMissing
	case *rec.AcceptedVersion < rec.RequiredVersion:
		st.State = StateOutdated
	default:
		st.State = StateCurrent
	}
	return st
}

// Check returns the verdict for st. A declined agreement also requests a
// forced logout.
func (g *Gate) Check(st Status) Verdict {
	if !st.Required {
		return Verdict{}
	}
	switch st.State {
	case StateCurrent:
		return Verdict{}
	case StateDeclined:
		return Verdict{Blocked: true, ForceLogout: true}
	default:
		return Verdict{Blocked: true}
	}
}

// Apply returns st after the user's decision on the required version.
// Accepting or declining is terminal for that version; leaving StateCurrent
// or StateDeclined again requires a version bump upstream.
func (g *Gate) Apply(st Status, d Decision) (Status, error) {
	switch d {
	case DecisionAccepted:
		v := st.RequiredVersion
		st.CurrentVersion = &v
		st.State = StateCurrent
	case DecisionDeclined:
		st.State = StateDeclined
	default:
		return st, ErrInvalidDecision
	}
	return st, nil
}

// CanBypass reports whether role may use the emergency bypass.
func (g *Gate) CanBypass(role string) bool {
	if g == nil {
		return false
	}
	_, ok := g.bypassRoles[strings.ToLower(strings.TrimSpace(role))]
	return ok
}

// Bypass authorizes an emergency pass through the gate for role. It never
// changes the status; callers must record that access was granted without a
// current agreement.
func (g *Gate) Bypass(role string) error {
	if !g.CanBypass(role) {
		return ErrBypassNotPermitted
	}
	return nil
}
