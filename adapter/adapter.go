// Package adapter binds an authflow.Controller to the hosting application:
// it exposes the controller's actions and turns state transitions into
// navigation.
package adapter

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/agreement"
)

// Navigator changes the visible route of the hosting application.
type Navigator interface {
	CurrentPath() string
	Navigate(path string)
}

// Option configures an [Adapter].
type Option func(*Adapter)

// WithLogger sets the logger for navigation decisions.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Adapter is the surface the rest of the application uses instead of the
// controller. After [Adapter.Start] every state change that requires a
// different route is forwarded to the Navigator.
type Adapter struct {
	ctrl   *authflow.Controller
	nav    Navigator
	routes authflow.RoutesConfig
	logger *slog.Logger

	mu          sync.Mutex
	unsubscribe func()
	prev        authflow.State
}

// New creates an adapter for ctrl. nav may be nil when the host handles
// routing itself.
func New(ctrl *authflow.Controller, nav Navigator, opts ...Option) *Adapter {
	a := &Adapter{
		ctrl:   ctrl,
		nav:    nav,
		routes: ctrl.Config().Routes,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Start subscribes to the controller and initializes it. The first stable
// state is navigated to before Start returns.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.unsubscribe == nil {
		a.unsubscribe = a.ctrl.Subscribe(a.onState)
	}
	a.mu.Unlock()

	err := a.ctrl.Initialize(ctx)
	a.onState(a.ctrl.State())
	return err
}

// Stop detaches from the controller. The controller itself stays open.
func (a *Adapter) Stop() {
	a.mu.Lock()
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (a *Adapter) State() authflow.AuthState { return a.ctrl.State() }

func (a *Adapter) Subscribe(fn func(authflow.AuthState)) (unsubscribe func()) {
	return a.ctrl.Subscribe(fn)
}

func (a *Adapter) SignIn(ctx context.Context, email, password string) authflow.SignInResult {
	return a.ctrl.SignIn(ctx, email, password)
}

func (a *Adapter) SignUp(ctx context.Context, email, password string) authflow.SignInResult {
	return a.ctrl.SignUp(ctx, email, password)
}

func (a *Adapter) SignOut(ctx context.Context) error { return a.ctrl.SignOut(ctx) }

func (a *Adapter) ResetPassword(ctx context.Context, email string) error {
	return a.ctrl.ResetPassword(ctx, email)
}

func (a *Adapter) AcceptAgreement(ctx context.Context, d agreement.Decision) error {
	return a.ctrl.AcceptAgreement(ctx, d)
}

// Token returns the bearer credential, or "" when signed out.
func (a *Adapter) Token() string { return a.ctrl.Token() }

func (a *Adapter) RedirectPath() string { return a.ctrl.RedirectPath() }

// Activity forwards a user interaction to the inactivity watchdog.
func (a *Adapter) Activity() { a.ctrl.RecordActivity() }

// Visit reports that the user opened path. It counts as activity, and on
// the dashboard the path is remembered for the next reload.
func (a *Adapter) Visit(ctx context.Context, path string) {
	a.ctrl.RecordActivity()
	if a.ctrl.State().State != authflow.StateReady || a.isGateRoute(path) {
		return
	}
	if err := a.ctrl.RememberRoute(ctx, path); err != nil {
		a.logger.Debug("authflow adapter: remember route failed", "error", err, "path", path)
	}
}

func (a *Adapter) onState(st authflow.AuthState) {
	a.mu.Lock()
	prev := a.prev
	a.prev = st.State
	a.mu.Unlock()

	if a.nav == nil {
		return
	}
	target := authflow.RedirectPath(st, a.routes)
	if target == "" {
		return
	}
	if st.State == authflow.StateReady {
		if prev == authflow.StateReady {
			// Credential refreshes and warnings keep the user where they are.
			return
		}
		if route := a.rememberedRoute(); route != "" {
			target = route
		}
	}
	if a.nav.CurrentPath() == target {
		return
	}
	a.logger.Debug("authflow adapter: navigate", "state", string(st.State), "to", target)
	a.nav.Navigate(target)
}

func (a *Adapter) rememberedRoute() string {
	route, err := a.ctrl.RememberedRoute(context.Background())
	if err != nil {
		a.logger.Debug("authflow adapter: read remembered route failed", "error", err)
		return ""
	}
	if a.isGateRoute(route) {
		return ""
	}
	return route
}

func (a *Adapter) isGateRoute(path string) bool {
	switch path {
	case a.routes.Login, a.routes.Onboarding, a.routes.AgreementReview:
		return true
	}
	return false
}
