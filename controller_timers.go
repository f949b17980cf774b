package authflow

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authflow/internal/refresher"
	"github.com/MrEthical07/authflow/session"
)

// RecordActivity forwards a user interaction (pointer, key, scroll) to the
// inactivity watchdog and clears a pending idle warning.
func (c *Controller) RecordActivity() {
	c.watchdog.Touch()

	c.mu.Lock()
	if c.closed || c.state.State != StateReady || !c.state.IdleWarning {
		c.mu.Unlock()
		return
	}
	next := c.state
	next.IdleWarning = false
	c.setStateLocked(next)
	c.mu.Unlock()
	c.flush()
}

// ForceLogout ends the session of generation gen. Signals for an older
// generation are ignored; the return value reports whether the session was
// ended.
func (c *Controller) ForceLogout(gen uint64, reason LogoutReason) bool {
	return c.forceLogout(gen, reason, nil)
}

func (c *Controller) forceLogout(gen uint64, reason LogoutReason, cause error) bool {
	c.mu.Lock()
	if c.closed || gen != c.gen || !c.hasSessionLocked() {
		c.mu.Unlock()
		c.metrics.Inc(MetricStaleResultDiscarded)
		return false
	}
	token, ref := c.endSessionLocked(reason, cause)
	newGen := c.gen
	c.goBackgroundLocked(func() { c.notifyProviderSignOut(c.base, token) })
	c.mu.Unlock()
	c.flush()

	switch reason {
	case ReasonIdle:
		c.metrics.Inc(MetricForcedLogoutIdle)
	case ReasonRefreshExhausted, ReasonExpired:
		c.metrics.Inc(MetricForcedLogoutRefresh)
	case ReasonAgreementDecline:
		c.metrics.Inc(MetricForcedLogoutDecline)
	}
	c.auditSession(c.base, AuditForcedLogout, newGen, ref, cause, map[string]string{"reason": string(reason)})
	return true
}

func (c *Controller) onIdleTimeout(gen uint64) {
	c.forceLogout(gen, ReasonIdle, ErrSessionIdle)
}

func (c *Controller) onIdleWarning(gen uint64, _ time.Duration) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.state.State != StateReady || c.state.IdleWarning {
		c.mu.Unlock()
		return
	}
	next := c.state
	next.IdleWarning = true
	c.setStateLocked(next)
	c.mu.Unlock()
	c.flush()
}

func (c *Controller) onActivity(at time.Time) {
	ctx, cancel := c.storageCtx()
	defer cancel()
	if err := c.store.UpdateLastActive(ctx, at); err != nil && !errors.Is(err, session.ErrNoSession) {
		c.logger.Debug("authflow: persist last activity failed", "error", err)
	}
}

func (c *Controller) refreshConfig() refresher.Config {
	if c.cfg.Refresh.Enabled {
		return c.cfg.refresher()
	}
	// Without renewal the job fires at expiry and ends the session.
	return refresher.Config{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Timeout:        c.cfg.Network.RefreshTimeout,
	}
}

func (c *Controller) refreshCredential(ctx context.Context) (ps *ProviderSession, err error) {
	if !c.cfg.Refresh.Enabled {
		return nil, ErrSessionExpired
	}
	ctx, span := c.startSpan(ctx, "RefreshSession")
	defer func() { endSpan(span, err) }()

	// The provider may ignore ctx; the attempt still ends at RefreshTimeout.
	ps, err = callWithTimeout(ctx, c.cfg.Network.RefreshTimeout, c.provider.RefreshSession)
	if err == nil && (ps == nil || ps.AccessToken == "") {
		err = ErrNoSession
	}
	if err != nil && !errors.Is(err, ErrTimeout) && errors.Is(err, context.DeadlineExceeded) {
		err = errors.Join(ErrTimeout, err)
	}
	return ps, err
}

func (c *Controller) onRefreshed(gen uint64, ps *ProviderSession) {
	c.mu.Lock()
	if c.closed || gen != c.gen || !c.hasSessionLocked() {
		c.mu.Unlock()
		c.metrics.Inc(MetricStaleResultDiscarded)
		return
	}
	if cur := c.state.Session; cur == nil || cur.UserID != ps.UserID {
		c.mu.Unlock()
		c.metrics.Inc(MetricStaleResultDiscarded)
		c.logger.Warn("authflow: refreshed credential belongs to another user; ignoring")
		return
	}
	c.updateCredentialLocked(ps)
	c.mu.Unlock()
	c.flush()
	c.metrics.Inc(MetricRefreshSuccess)
}

func (c *Controller) onRefreshRetry(gen uint64, err error, wait time.Duration) {
	c.metrics.Inc(MetricRefreshRetry)
	c.logger.Debug("authflow: credential refresh retry", "error", err, "generation", gen, "wait", wait)
}

func (c *Controller) onRefreshFailed(gen uint64, err error) {
	reason := ReasonRefreshExhausted
	if !c.cfg.Refresh.Enabled {
		reason = ReasonExpired
	} else {
		c.metrics.Inc(MetricRefreshFailure)
		c.logger.Warn("authflow: credential refresh failed", "error", err, "generation", gen)
		c.mu.Lock()
		ref := refOf(c.state.Session)
		c.mu.Unlock()
		c.auditSession(c.base, AuditRefreshFailed, gen, ref, err, nil)
	}
	c.forceLogout(gen, reason, err)
}
