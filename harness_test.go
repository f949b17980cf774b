package authflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/fake"
	"github.com/MrEthical07/authflow/internal/clock"
	"github.com/MrEthical07/authflow/session"
)

const (
	anaID    = "u-ana"
	anaEmail = "ana@team.gg"
	anaPass  = "hunter2"

	adminID    = "u-root"
	adminEmail = "root@team.gg"
	adminPass  = "s3cret"
)

func testConfig() authflow.Config {
	cfg := authflow.DefaultConfig()
	cfg.Idle.Timeout = 10 * time.Minute
	cfg.Idle.WarningBefore = time.Minute
	cfg.Refresh.Lead = time.Minute
	cfg.Refresh.MaxRetries = 3
	cfg.Refresh.InitialBackoff = time.Millisecond
	cfg.Refresh.MaxBackoff = 2 * time.Millisecond
	cfg.Network.SignInTimeout = 500 * time.Millisecond
	cfg.Network.SignOutTimeout = 500 * time.Millisecond
	cfg.Network.SessionTimeout = 500 * time.Millisecond
	cfg.Network.ProfileTimeout = 500 * time.Millisecond
	cfg.Network.AgreementTimeout = 500 * time.Millisecond
	cfg.Network.RefreshTimeout = 500 * time.Millisecond
	cfg.Network.FetchRetryDelay = time.Millisecond
	cfg.Agreement.DeclineRecordTimeout = 100 * time.Millisecond
	return cfg
}

// world is the outside of the controller: provider, services, storage and
// time. Several controllers can be built over one world to simulate reloads.
type world struct {
	t          *testing.T
	clock      *clock.Fake
	idp        *fake.Identity
	profiles   *fake.Profiles
	agreements *fake.Agreements
	storage    *session.MemoryStorage
}

func newWorld(t *testing.T, idpOpts ...fake.IdentityOption) *world {
	t.Helper()
	clk := clock.NewFake(time.Now().Truncate(time.Millisecond))
	opts := append([]fake.IdentityOption{
		fake.WithAccount(anaID, anaEmail, anaPass),
		fake.WithAccount(adminID, adminEmail, adminPass),
		fake.WithNow(clk.Now),
	}, idpOpts...)

	w := &world{
		t:     t,
		clock: clk,
		idp:   fake.NewIdentity(opts...),
		profiles: fake.NewProfiles(
			authflow.Profile{UserID: anaID, Email: anaEmail, DisplayName: "Ana", Role: "player", TeamID: "t1", OnboardingComplete: true},
			authflow.Profile{UserID: adminID, Email: adminEmail, DisplayName: "Root", Role: "admin", TeamID: "t1", OnboardingComplete: true},
		),
		agreements: fake.NewAgreements(),
		storage:    session.NewMemoryStorage(),
	}
	w.agreements.SetDocument("player", 2, true)
	w.agreements.SetDocument("admin", 1, true)
	w.agreements.Accepted(anaID, "player", 2)
	return w
}

type harness struct {
	*world
	ctrl   *authflow.Controller
	states *recorder
	sink   *auditRecorder
}

func (w *world) build(cfg authflow.Config) *harness {
	w.t.Helper()
	return w.buildWith(cfg, w.idp, w.storage)
}

// buildWith builds a controller over a wrapped provider or storage. The
// wrappers should delegate to the world's fakes.
func (w *world) buildWith(cfg authflow.Config, idp authflow.IdentityProvider, storage session.Storage) *harness {
	w.t.Helper()
	sink := &auditRecorder{}
	ctrl, err := authflow.New().
		WithConfig(cfg).
		WithIdentityProvider(idp).
		WithProfileService(w.profiles).
		WithAgreementService(w.agreements).
		WithStorage(storage).
		WithClock(w.clock).
		WithAuditSink(sink).
		Build()
	if err != nil {
		w.t.Fatalf("build: %v", err)
	}
	h := &harness{world: w, ctrl: ctrl, states: &recorder{}, sink: sink}
	unsubscribe := ctrl.Subscribe(h.states.add)
	w.t.Cleanup(func() {
		unsubscribe()
		ctrl.Close()
	})
	return h
}

func newHarness(t *testing.T, cfg authflow.Config, idpOpts ...fake.IdentityOption) *harness {
	t.Helper()
	h := newWorld(t, idpOpts...).build(cfg)
	if err := h.ctrl.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return h
}

func (h *harness) signIn(email, password string) authflow.SignInResult {
	h.t.Helper()
	return h.ctrl.SignIn(context.Background(), email, password)
}

func (h *harness) mustReady(email, password string) {
	h.t.Helper()
	res := h.signIn(email, password)
	if !res.Success {
		h.t.Fatalf("sign in failed: %v", res.Err)
	}
	if st := h.ctrl.State().State; st != authflow.StateReady {
		h.t.Fatalf("expected ready, got %s", st)
	}
}

func (h *harness) expectState(want authflow.State) authflow.AuthState {
	h.t.Helper()
	st := h.ctrl.State()
	if st.State != want {
		h.t.Fatalf("state: got %s want %s (err=%v)", st.State, want, st.Err)
	}
	return st
}

func (h *harness) expectNoDurableResidue() {
	h.t.Helper()
	if keys := h.storage.Keys(); len(keys) != 0 {
		h.t.Fatalf("durable residue after sign-out: %v", keys)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recorder struct {
	mu     sync.Mutex
	states []authflow.AuthState
}

func (r *recorder) add(st authflow.AuthState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
}

func (r *recorder) all() []authflow.AuthState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]authflow.AuthState(nil), r.states...)
}

func (r *recorder) tags() []authflow.State {
	var out []authflow.State
	for _, st := range r.all() {
		out = append(out, st.State)
	}
	return out
}

func (r *recorder) sawSince(seq uint64, tag authflow.State) bool {
	for _, st := range r.all() {
		if st.Seq > seq && st.State == tag {
			return true
		}
	}
	return false
}

type auditRecorder struct {
	mu     sync.Mutex
	events []authflow.AuditEvent
}

func (a *auditRecorder) Emit(_ context.Context, e authflow.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *auditRecorder) find(eventType string) (authflow.AuditEvent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e.EventType == eventType {
			return e, true
		}
	}
	return authflow.AuditEvent{}, false
}
