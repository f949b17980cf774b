package authflow

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/MrEthical07/authflow/agreement"
	"github.com/MrEthical07/authflow/internal/audit"
	"github.com/MrEthical07/authflow/internal/idle"
	"github.com/MrEthical07/authflow/internal/refresher"
	"github.com/MrEthical07/authflow/jwt"
	"github.com/MrEthical07/authflow/session"
)

type controllerDeps struct {
	provider   IdentityProvider
	profiles   ProfileService
	agreements AgreementService
	storage    session.Storage
	auditSink  AuditSink
	logger     *slog.Logger
	tracer     trace.Tracer
	clock      Clock
	inspector  *jwt.Manager
}

// Controller owns the authentication state of one browser context. It is
// the only writer of [AuthState]; every change is delivered to subscribers
// in order.
//
// All async work (profile loading, credential refresh, idle timeout) is
// tagged with the session generation current when it started. Results for an
// older generation are discarded.
type Controller struct {
	cfg        Config
	provider   IdentityProvider
	profiles   ProfileService
	agreements AgreementService
	store      *session.Store
	gate       *agreement.Gate
	watchdog   *idle.Watchdog
	refresher  *refresher.Refresher[*ProviderSession]
	audit      *audit.Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
	clock      Clock
	inspector  *jwt.Manager
	flight     singleflight.Group

	base   context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	mu        sync.Mutex
	state     AuthState
	gen       uint64
	seq       uint64
	closed    bool
	initDone  chan struct{}
	initErr   error
	stopWatch func()

	listeners []*listener
	pending   []AuthState
	notifying bool
}

type listener struct {
	fn     func(AuthState)
	active atomic.Bool
}

type sessionRef struct {
	id, userID, role string
}

func refOf(s *session.Session) sessionRef {
	if s == nil {
		return sessionRef{}
	}
	return sessionRef{id: s.ID, userID: s.UserID, role: s.Role}
}

func newController(cfg Config, d controllerDeps) *Controller {
	base, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:        cfg,
		provider:   d.provider,
		profiles:   d.profiles,
		agreements: d.agreements,
		store:      session.NewStore(d.storage, cfg.Session.KeyPrefix, session.WithClock(d.clock.Now)),
		gate:       agreement.NewGate(cfg.Agreement.BypassRoles...),
		metrics:    NewMetrics(cfg.Metrics),
		logger:     d.logger,
		tracer:     d.tracer,
		clock:      d.clock,
		inspector:  d.inspector,
		base:       base,
		cancel:     cancel,
		state:      AuthState{State: StateInitializing},
	}

	overflow := audit.OverflowWait
	if cfg.Audit.DropIfFull {
		overflow = audit.OverflowDrop
	}
	c.audit = audit.NewDispatcher(audit.Config{
		Enabled:  cfg.Audit.Enabled,
		Buffer:   cfg.Audit.BufferSize,
		Overflow: overflow,
		Now:      d.clock.Now,
	}, d.auditSink)

	c.watchdog = idle.New(cfg.Idle.watchdog(), d.clock, idle.Handlers{
		OnTimeout:  c.onIdleTimeout,
		OnWarning:  c.onIdleWarning,
		OnActivity: c.onActivity,
	})

	c.refresher = refresher.New(c.refreshConfig(), d.clock, c.refreshCredential, refresher.Handlers[*ProviderSession]{
		OnSuccess: c.onRefreshed,
		OnFailure: c.onRefreshFailed,
		OnRetry:   c.onRefreshRetry,
		Permanent: isPermanentRefreshError,
	})

	c.stopWatch = c.provider.Watch(c.onProviderEvent)
	return c
}

// State returns the current snapshot.
func (c *Controller) State() AuthState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for every future state. fn runs on the goroutine
// that caused the transition, one state at a time, and may call back into
// the controller. Use [Controller.State] for the current snapshot.
func (c *Controller) Subscribe(fn func(AuthState)) (unsubscribe func()) {
	l := &listener{fn: fn}
	l.active.Store(true)

	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Store(false)
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, x := range c.listeners {
				if x == l {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					break
				}
			}
		})
	}
}

// Token returns the bearer credential while authenticated and unexpired,
// otherwise "".
func (c *Controller) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.State.Authenticated() || !c.store.Authenticated() {
		return ""
	}
	return c.store.AccessToken()
}

// RedirectPath returns where the user must be sent for the current state,
// or "" when the current route may stay.
func (c *Controller) RedirectPath() string {
	return RedirectPath(c.State(), c.cfg.Routes)
}

// RememberRoute records route as the page to return to after a reload. It
// is a no-op unless Session.RememberRoute is enabled and a session is held.
func (c *Controller) RememberRoute(ctx context.Context, route string) error {
	if !c.cfg.Session.RememberRoute {
		return nil
	}
	c.mu.Lock()
	held := c.state.State.Authenticated()
	c.mu.Unlock()
	if !held {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Session.StorageTimeout)
	defer cancel()
	return c.store.RememberRoute(ctx, route)
}

// RememberedRoute returns the route stored by RememberRoute, or "".
func (c *Controller) RememberedRoute(ctx context.Context) (string, error) {
	if !c.cfg.Session.RememberRoute {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Session.StorageTimeout)
	defer cancel()
	return c.store.RememberedRoute(ctx)
}

// Config returns a copy of the active configuration.
func (c *Controller) Config() Config {
	return cloneConfig(c.cfg)
}

// Metrics returns the controller's metrics.
func (c *Controller) Metrics() *Metrics {
	return c.metrics
}

// MetricsSnapshot returns a copy of all metrics.
func (c *Controller) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// Close stops all timers and background work and detaches from the
// provider. Later actions return ErrControllerClosed; late async results
// are dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	stop := c.stopWatch
	c.stopWatch = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	c.watchdog.Stop()
	c.refresher.Close()
	c.cancel()
	c.bg.Wait()
	c.audit.Close()
}

// setStateLocked installs next and queues it for delivery. Watchdog
// activation follows the ready state.
func (c *Controller) setStateLocked(next AuthState) {
	prev := c.state.State
	c.seq++
	next.Generation = c.gen
	next.Seq = c.seq
	c.state = next
	c.pending = append(c.pending, next)

	if prev == StateReady && next.State != StateReady {
		c.watchdog.Stop()
	}
	if next.State == StateReady && prev != StateReady {
		c.watchdog.Start(c.gen)
	}
}

// flush writes the session store and then delivers queued states. It must
// be called without c.mu held. Only one goroutine drains at a time, so
// listeners observe transitions in order; states queued by re-entrant calls
// are delivered by the draining goroutine.
func (c *Controller) flush() {
	c.syncStore()

	c.mu.Lock()
	if c.notifying {
		c.mu.Unlock()
		return
	}
	c.notifying = true
	for len(c.pending) > 0 {
		st := c.pending[0]
		c.pending = c.pending[1:]
		ls := append([]*listener(nil), c.listeners...)
		c.mu.Unlock()

		for _, l := range ls {
			if l.active.Load() {
				c.deliver(l, st)
			}
		}

		c.mu.Lock()
	}
	c.pending = nil
	c.notifying = false
	c.mu.Unlock()
}

// syncStore mirrors the in-memory session to durable storage. Writes run
// outside c.mu so a slow backend never stalls State or other callers.
func (c *Controller) syncStore() {
	ctx, cancel := c.storageCtx()
	defer cancel()
	if err := c.store.Sync(ctx); err != nil {
		c.logger.Warn("authflow: persist session failed", "error", err)
	}
}

func (c *Controller) deliver(l *listener, st AuthState) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("authflow: state listener panicked", "panic", r, "state", string(st.State))
		}
	}()
	l.fn(st)
}

// hasSessionLocked reports whether there is a session to tear down.
func (c *Controller) hasSessionLocked() bool {
	if c.state.State.Authenticated() {
		return true
	}
	return c.state.State == StateError && c.state.Session != nil
}

func (c *Controller) storageCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.base, c.cfg.Session.StorageTimeout)
}

var defaultController atomic.Pointer[Controller]

// SetDefault installs c as the process-wide controller returned by
// [Default].
func SetDefault(c *Controller) {
	defaultController.Store(c)
}

// Default returns the controller installed with [SetDefault], or nil.
func Default() *Controller {
	return defaultController.Load()
}
