package authflow

import (
	"context"
	"strconv"

	"github.com/MrEthical07/authflow/agreement"
	"github.com/MrEthical07/authflow/session"
)

// AcceptAgreement applies the user's decision on the agreement review
// screen.
//
// Accepting records the decision and, once stored, moves to ready. If
// recording fails the state stays awaiting_agreement and the error is
// returned so the user can try again.
//
// Declining signs the user out immediately and unconditionally. The decline
// is recorded in the background; its outcome is only logged and audited.
func (c *Controller) AcceptAgreement(ctx context.Context, d agreement.Decision) error {
	if !d.Valid() {
		return agreement.ErrInvalidDecision
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if c.state.State != StateAwaitingAgreement || c.state.Agreement == nil || c.state.Profile == nil {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	gen := c.gen
	status := *c.state.Agreement
	userID := c.state.Session.UserID
	role := c.state.Profile.Role

	if d == agreement.DecisionDeclined {
		token, ref := c.endSessionLocked(ReasonAgreementDecline, nil)
		newGen := c.gen
		c.goBackgroundLocked(func() { c.recordDecline(gen, ref, status) })
		c.goBackgroundLocked(func() { c.notifyProviderSignOut(c.base, token) })
		c.mu.Unlock()
		c.flush()

		c.metrics.Inc(MetricAgreementDeclined)
		c.metrics.Inc(MetricForcedLogoutDecline)
		c.auditSession(ctx, AuditForcedLogout, newGen, ref, nil, map[string]string{"reason": string(ReasonAgreementDecline)})
		return nil
	}
	c.mu.Unlock()

	actx, span := c.startSpan(ctx, "RecordAcceptance")
	_, err := callWithTimeout(actx, c.cfg.Network.AgreementTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.agreements.RecordAcceptance(ctx, userID, role, status.RequiredVersion, agreement.DecisionAccepted)
	})
	endSpan(span, err)
	if err != nil {
		c.metrics.Inc(MetricAgreementRecordFailure)
		c.logger.Warn("authflow: recording agreement acceptance failed", "error", err, "user_id", userID)
		c.auditSession(ctx, AuditAgreementAccepted, gen, sessionRef{userID: userID, role: role}, err, nil)
		return err
	}

	c.mu.Lock()
	if c.closed || gen != c.gen || c.state.State != StateAwaitingAgreement {
		c.mu.Unlock()
		c.metrics.Inc(MetricStaleResultDiscarded)
		return ErrSuperseded
	}
	next, _ := c.gate.Apply(status, agreement.DecisionAccepted)
	accepted := true
	if err := c.store.Patch(session.Patch{AgreementAccepted: &accepted}); err != nil {
		c.logger.Warn("authflow: record agreement acceptance on session failed", "error", err)
	}
	ref := refOf(c.state.Session)
	c.setStateLocked(AuthState{
		State:     StateReady,
		Session:   c.store.Session(),
		Profile:   c.state.Profile,
		Agreement: &next,
	})
	c.mu.Unlock()
	c.flush()

	c.metrics.Inc(MetricAgreementAccepted)
	c.auditSession(ctx, AuditAgreementAccepted, gen, ref, nil, map[string]string{
		"version": strconv.Itoa(status.RequiredVersion),
	})
	return nil
}

func (c *Controller) recordDecline(gen uint64, ref sessionRef, status agreement.Status) {
	ctx, span := c.startSpan(c.base, "RecordDecline")
	_, err := callWithTimeout(ctx, c.cfg.Agreement.DeclineRecordTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.agreements.RecordAcceptance(ctx, ref.userID, ref.role, status.RequiredVersion, agreement.DecisionDeclined)
	})
	endSpan(span, err)
	if err != nil {
		c.metrics.Inc(MetricAgreementRecordFailure)
		c.logger.Warn("authflow: recording agreement decline failed", "error", err, "user_id", ref.userID)
	}
	c.auditSession(c.base, AuditAgreementDeclined, gen, ref, err, map[string]string{
		"version": strconv.Itoa(status.RequiredVersion),
	})
}

// EmergencyBypass lets an administrator past the agreement gate without a
// current agreement. The status is left as is, the state is marked
// AgreementBypassed, and the bypass is logged and audited. Other roles get
// ErrBypassNotPermitted.
func (c *Controller) EmergencyBypass(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if c.state.State != StateAwaitingAgreement || c.state.Profile == nil {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	gen := c.gen
	ref := refOf(c.state.Session)
	role := c.state.Profile.Role

	if err := c.gate.Bypass(role); err != nil {
		c.mu.Unlock()
		c.logger.Warn("authflow: agreement bypass refused", "user_id", ref.userID, "role", role)
		c.auditSession(ctx, AuditAgreementBypass, gen, ref, err, nil)
		return err
	}

	next := c.state
	next.State = StateReady
	next.AgreementBypassed = true
	next.Err = nil
	next.ErrorMessage = ""
	c.setStateLocked(next)
	var required int
	if next.Agreement != nil {
		required = next.Agreement.RequiredVersion
	}
	c.mu.Unlock()
	c.flush()

	c.logger.Warn("authflow: agreement gate bypassed", "user_id", ref.userID, "role", role, "required_version", required)
	c.metrics.Inc(MetricAgreementBypass)
	c.auditSession(ctx, AuditAgreementBypass, gen, ref, nil, map[string]string{
		"required_version": strconv.Itoa(required),
	})
	return nil
}
