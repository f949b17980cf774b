package authflow

import (
	"context"
	"errors"

	"github.com/MrEthical07/authflow/session"
)

// Initialize discovers an existing session once per controller. Concurrent
// and repeated calls share the first discovery and return its result; ctx
// only bounds the wait.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	done := c.initDone
	if done == nil {
		done = make(chan struct{})
		c.initDone = done
		gen := c.gen
		c.goBackgroundLocked(func() {
			err := c.discover(c.base, gen)
			c.mu.Lock()
			c.initErr = err
			c.mu.Unlock()
			close(done)
		})
	}
	c.mu.Unlock()

	select {
	case <-done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry leaves the error state and runs discovery again.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if c.initDone == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if c.state.State != StateError {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.gen++
	gen := c.gen
	c.refresher.Cancel()
	c.setStateLocked(AuthState{State: StateInitializing, Session: c.state.Session})
	c.mu.Unlock()
	c.flush()

	return c.discover(ctx, gen)
}

// discover restores durable metadata, asks the provider for its current
// session and settles the state. gen is the generation discovery started
// in; if another event moved the generation on, discovery yields to it.
func (c *Controller) discover(ctx context.Context, gen uint64) (err error) {
	start := c.clock.Now()
	ctx, span := c.startSpan(ctx, "Initialize")
	defer func() {
		endSpan(span, err)
		c.metrics.Observe(MetricInitializeLatency, c.clock.Now().Sub(start))
	}()

	restored, restoreErr := c.restoreProvisional(ctx)

	ps, err := callWithTimeout(ctx, c.cfg.Network.SessionTimeout, c.provider.CurrentSession)
	if err != nil {
		c.mu.Lock()
		if !c.closed && gen == c.gen {
			c.setStateLocked(AuthState{State: StateError, Err: err, ErrorMessage: UserMessage(err)})
		}
		c.mu.Unlock()
		c.flush()
		return err
	}

	if ps == nil || ps.UserID == "" {
		c.settleSignedOut(gen, restoreErr)
		return nil
	}

	sameAsRestored := restored != nil && restored.UserID == ps.UserID
	if errors.Is(restoreErr, ErrSessionIdle) && sameAsRestored {
		if c.settleSignedOut(gen, ErrSessionIdle) {
			c.metrics.Inc(MetricForcedLogoutIdle)
			c.auditSession(ctx, AuditForcedLogout, gen, refOf(restored), ErrSessionIdle, map[string]string{"reason": string(ReasonIdle)})
			c.notifyProviderSignOut(ctx, ps.AccessToken)
		}
		return nil
	}

	if _, expires := c.credentialTimes(ps); !expires.IsZero() && !c.clock.Now().Before(expires) {
		c.settleSignedOut(gen, ErrSessionExpired)
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if gen != c.gen && !c.sameUserLocked(ps.UserID) {
		// A provider event or action started a newer session; it owns
		// the state from here.
		c.mu.Unlock()
		c.metrics.Inc(MetricStaleResultDiscarded)
		return nil
	}
	sgen, load := c.beginSessionLocked(ps)
	ref := refOf(c.state.Session)
	c.mu.Unlock()
	c.flush()

	if sameAsRestored {
		c.metrics.Inc(MetricSessionRestored)
		c.auditSession(ctx, AuditSessionRestored, sgen, ref, nil, nil)
	}

	if !load {
		return nil
	}
	select {
	case res := <-c.loadProfile(sgen, ps.UserID):
		if errors.Is(res.Err, ErrSuperseded) {
			return nil
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// restoreProvisional loads durable metadata. Expired, unreadable and idle
// records are removed and reported through the returned error.
func (c *Controller) restoreProvisional(ctx context.Context) (*session.Session, error) {
	sctx, cancel := context.WithTimeout(ctx, c.cfg.Session.StorageTimeout)
	defer cancel()

	restored, err := c.store.Load(sctx)
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		c.metrics.Inc(MetricSessionRestoreRejected)
		return nil, ErrSessionExpired
	case errors.Is(err, session.ErrRecordCorrupt):
		c.metrics.Inc(MetricSessionRestoreRejected)
		c.logger.Warn("authflow: discarded unreadable session record", "error", err)
		return nil, nil
	case err != nil:
		c.logger.Warn("authflow: durable session unavailable", "error", err)
		return nil, nil
	}

	if restored != nil && c.store.IsInactive(c.cfg.Idle.Timeout) {
		c.metrics.Inc(MetricSessionRestoreRejected)
		if err := c.store.ClearSession(sctx); err != nil {
			c.logger.Warn("authflow: clear idle session failed", "error", err)
		}
		return restored, ErrSessionIdle
	}
	return restored, nil
}

// settleSignedOut moves discovery of generation gen to unauthenticated,
// dropping any leftover session. It reports whether the state was applied.
func (c *Controller) settleSignedOut(gen uint64, cause error) bool {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		c.metrics.Inc(MetricStaleResultDiscarded)
		return false
	}
	c.refresher.Cancel()
	c.store.Drop()

	next := AuthState{State: StateUnauthenticated}
	if cause != nil {
		next.Err = cause
		next.ErrorMessage = UserMessage(cause)
	}
	c.setStateLocked(next)
	c.mu.Unlock()
	c.flush()
	return true
}
