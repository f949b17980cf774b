package authflow

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/MrEthical07/authflow/agreement"
	"github.com/MrEthical07/authflow/session"
)

// loadProfile fetches the profile and agreement status for the session of
// generation gen. Concurrent calls for the same session share one fetch.
func (c *Controller) loadProfile(gen uint64, userID string) <-chan singleflight.Result {
	key := userID + "#" + strconv.FormatUint(gen, 10)
	return c.flight.DoChan(key, func() (any, error) {
		return nil, c.runProfilePipeline(gen, userID)
	})
}

func (c *Controller) runProfilePipeline(gen uint64, userID string) (err error) {
	ctx, span := c.startSpan(c.base, "LoadProfile", attribute.String("user_id", userID))
	defer func() { endSpan(span, err) }()

	profile, err := retryOnce(ctx, c.cfg.Network.FetchRetryDelay, isNotFound, func(ctx context.Context) (*Profile, error) {
		return callWithTimeout(ctx, c.cfg.Network.ProfileTimeout, func(ctx context.Context) (*Profile, error) {
			return c.profiles.FetchProfile(ctx, userID)
		})
	})
	if err == nil && profile == nil {
		err = ErrProfileNotFound
	}
	if err != nil {
		c.metrics.Inc(MetricProfileFetchFailure)
		c.failPipeline(gen, err)
		return err
	}

	if profile.NeedsOnboarding() {
		return c.applyProfile(gen, profile, nil)
	}

	rec, err := retryOnce(ctx, c.cfg.Network.FetchRetryDelay, isNotFound, func(ctx context.Context) (agreement.Record, error) {
		return callWithTimeout(ctx, c.cfg.Network.AgreementTimeout, func(ctx context.Context) (agreement.Record, error) {
			return c.agreements.FetchAgreementStatus(ctx, profile.Role, userID)
		})
	})
	if err != nil {
		c.metrics.Inc(MetricAgreementFetchFailure)
		c.failPipeline(gen, err)
		return err
	}
	status := c.gate.Evaluate(rec)
	return c.applyProfile(gen, profile, &status)
}

// applyProfile settles the awaiting_profile state of generation gen. A nil
// status keeps the session in awaiting_profile for onboarding.
func (c *Controller) applyProfile(gen uint64, p *Profile, status *agreement.Status) error {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.state.State != StateAwaitingProfile {
		c.mu.Unlock()
		c.metrics.Inc(MetricStaleResultDiscarded)
		return ErrSuperseded
	}

	profile := *p
	accepted := status != nil && status.State == agreement.StateCurrent
	err := c.store.Patch(session.Patch{
		Email:             nonEmpty(profile.Email),
		Role:              &profile.Role,
		DisplayName:       &profile.DisplayName,
		AgreementAccepted: &accepted,
	})
	if err != nil {
		c.logger.Warn("authflow: apply profile projection failed", "error", err)
	}

	next := AuthState{
		State:   StateAwaitingProfile,
		Session: c.store.Session(),
		Profile: &profile,
	}
	if status == nil {
		c.setStateLocked(next)
		c.mu.Unlock()
		c.flush()
		return nil
	}

	st := *status
	next.Agreement = &st
	verdict := c.gate.Check(st)
	switch {
	case verdict.ForceLogout:
		token, ref := c.endSessionLocked(ReasonAgreementDecline, nil)
		c.goBackgroundLocked(func() { c.notifyProviderSignOut(c.base, token) })
		newGen := c.gen
		c.mu.Unlock()
		c.flush()
		c.metrics.Inc(MetricForcedLogoutDecline)
		c.auditSession(c.base, AuditForcedLogout, newGen, ref, nil, map[string]string{"reason": string(ReasonAgreementDecline)})
		return nil
	case verdict.Blocked:
		next.State = StateAwaitingAgreement
	default:
		next.State = StateReady
	}
	c.setStateLocked(next)
	c.mu.Unlock()
	c.flush()
	return nil
}

func (c *Controller) failPipeline(gen uint64, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.state.State != StateAwaitingProfile {
		c.mu.Unlock()
		c.metrics.Inc(MetricStaleResultDiscarded)
		return
	}
	c.setStateLocked(AuthState{
		State:        StateError,
		Session:      c.state.Session,
		Err:          err,
		ErrorMessage: UserMessage(err),
	})
	c.mu.Unlock()
	c.flush()
	c.logger.Warn("authflow: profile pipeline failed", "error", err, "generation", gen)
}

// ReloadProfile fetches the profile and agreement status again for the
// current session, for example after onboarding completes or a role change.
func (c *Controller) ReloadProfile(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	sess := c.state.Session
	if sess == nil || !c.hasSessionLocked() || c.store.AccessToken() == "" {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	if !(c.state.State == StateAwaitingProfile && c.state.Profile == nil) {
		c.setStateLocked(AuthState{State: StateAwaitingProfile, Session: sess})
	}
	gen := c.gen
	c.mu.Unlock()
	c.flush()

	select {
	case res := <-c.loadProfile(gen, sess.UserID):
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
