package authflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authflow/session"
)

// SignIn authenticates with email and password. It is allowed from
// unauthenticated and error; it returns once the new session has settled
// (profile and agreement evaluated) or failed. Failures are reported in the
// result, and the state returns to unauthenticated.
func (c *Controller) SignIn(ctx context.Context, email, password string) SignInResult {
	return c.authenticate(ctx, AuditSignIn, func(ctx context.Context) (*ProviderSession, error) {
		return c.provider.SignInWithPassword(ctx, email, password)
	})
}

// SignUp registers a new account. When the provider returns a session the
// user is signed in as with [Controller.SignIn]; otherwise confirmation is
// pending and the state returns to unauthenticated with Success set.
func (c *Controller) SignUp(ctx context.Context, email, password string) SignInResult {
	return c.authenticate(ctx, AuditSignUp, func(ctx context.Context) (*ProviderSession, error) {
		return c.provider.SignUp(ctx, email, password)
	})
}

func (c *Controller) authenticate(ctx context.Context, kind string, call func(context.Context) (*ProviderSession, error)) SignInResult {
	start := c.clock.Now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return failedResult(ErrControllerClosed)
	}
	switch c.state.State {
	case StateUnauthenticated, StateError:
	case StateInitializing:
		c.mu.Unlock()
		return failedResult(ErrNotInitialized)
	default:
		c.mu.Unlock()
		return failedResult(ErrInvalidTransition)
	}
	c.gen++
	attempt := c.gen
	c.refresher.Cancel()
	c.setStateLocked(AuthState{State: StateAuthenticating})
	c.mu.Unlock()
	c.flush()

	sctx, span := c.startSpan(ctx, kind)
	ps, err := callWithTimeout(sctx, c.cfg.Network.SignInTimeout, call)
	if err == nil && ps == nil && kind == AuditSignIn {
		err = fmt.Errorf("%w: provider returned no session", ErrProviderUnavailable)
	}
	endSpan(span, err)

	if err != nil || ps == nil {
		c.mu.Lock()
		if !c.closed && c.gen == attempt && c.state.State == StateAuthenticating {
			next := AuthState{State: StateUnauthenticated}
			if err != nil {
				next.Err = err
				next.ErrorMessage = UserMessage(err)
			}
			c.setStateLocked(next)
		}
		c.mu.Unlock()
		c.flush()

		if err != nil {
			c.metrics.Inc(MetricSignInFailure)
			c.auditSession(ctx, kind, attempt, sessionRef{}, err, nil)
			return failedResult(err)
		}
		c.metrics.Inc(MetricSignUp)
		c.auditSession(ctx, kind, attempt, sessionRef{}, nil, map[string]string{"confirmation": "pending"})
		return SignInResult{Success: true}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return failedResult(ErrControllerClosed)
	}
	var (
		gen  uint64
		load bool
	)
	switch {
	case c.gen == attempt && c.state.State == StateAuthenticating:
		gen, load = c.beginSessionLocked(ps)
	case c.sameUserLocked(ps.UserID):
		// A signed_in event for this user won the race; join its session.
		gen, load = c.beginSessionLocked(ps)
	default:
		c.mu.Unlock()
		c.metrics.Inc(MetricStaleResultDiscarded)
		return failedResult(ErrSuperseded)
	}
	ref := refOf(c.state.Session)
	c.mu.Unlock()
	c.flush()

	if kind == AuditSignUp {
		c.metrics.Inc(MetricSignUp)
	} else {
		c.metrics.Inc(MetricSignInSuccess)
	}
	c.auditSession(ctx, kind, gen, ref, nil, nil)

	if load {
		select {
		case res := <-c.loadProfile(gen, ps.UserID):
			err = res.Err
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	c.metrics.Observe(MetricSignInLatency, c.clock.Now().Sub(start))
	if err != nil {
		return failedResult(err)
	}
	return SignInResult{Success: true}
}

// ResetPassword asks the provider to send a reset email. State is unchanged.
func (c *Controller) ResetPassword(ctx context.Context, email string) error {
	if c.isClosed() {
		return ErrControllerClosed
	}
	sctx, span := c.startSpan(ctx, "ResetPassword")
	_, err := callWithTimeout(sctx, c.cfg.Network.SignInTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.provider.ResetPasswordForEmail(ctx, email)
	})
	endSpan(span, err)

	c.metrics.Inc(MetricPasswordResetRequest)
	c.auditSession(ctx, AuditPasswordReset, 0, sessionRef{}, err, nil)
	return err
}

// SignOut ends the session locally, then tells the provider. Provider
// failures are logged and never undo the local sign-out.
func (c *Controller) SignOut(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if !c.hasSessionLocked() {
		if c.state.State == StateAuthenticating {
			// Abandon the pending attempt; its result will be discarded.
			c.gen++
			c.setStateLocked(AuthState{State: StateUnauthenticated})
		}
		c.mu.Unlock()
		c.flush()
		return nil
	}
	token, ref := c.endSessionLocked(ReasonUser, nil)
	gen := c.gen
	c.mu.Unlock()
	c.flush()

	c.metrics.Inc(MetricSignOut)
	c.auditSession(ctx, AuditSignOut, gen, ref, nil, map[string]string{"reason": string(ReasonUser)})
	c.notifyProviderSignOut(ctx, token)
	return nil
}

func (c *Controller) onProviderEvent(ev ProviderEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	switch ev.Type {
	case EventSignedIn, EventTokenRefreshed:
		if ev.Session == nil || ev.Session.UserID == "" {
			c.mu.Unlock()
			return
		}
		gen, load := c.beginSessionLocked(ev.Session)
		c.mu.Unlock()
		c.flush()
		if load {
			c.loadProfile(gen, ev.Session.UserID)
		}

	case EventSignedOut:
		if !c.hasSessionLocked() {
			c.mu.Unlock()
			return
		}
		_, ref := c.endSessionLocked(ReasonProvider, nil)
		gen := c.gen
		c.mu.Unlock()
		c.flush()

		c.metrics.Inc(MetricProviderSignedOut)
		c.auditSession(c.base, AuditSignOut, gen, ref, nil, map[string]string{"reason": string(ReasonProvider)})

	default:
		c.mu.Unlock()
		c.logger.Debug("authflow: ignoring provider event", "type", string(ev.Type))
	}
}

func (c *Controller) sameUserLocked(userID string) bool {
	return c.state.State.Authenticated() && c.state.Session != nil && c.state.Session.UserID == userID
}

// beginSessionLocked installs ps as the current session. For the user that
// is already signed in only the credential is replaced. It returns the
// session generation and whether the profile pipeline still has to run.
func (c *Controller) beginSessionLocked(ps *ProviderSession) (uint64, bool) {
	if c.sameUserLocked(ps.UserID) {
		c.updateCredentialLocked(ps)
		return c.gen, c.state.State == StateAwaitingProfile && c.state.Profile == nil
	}

	c.gen++
	issued, expires := c.credentialTimes(ps)
	sess := session.Session{
		ID:           uuid.NewString(),
		UserID:       ps.UserID,
		Email:        ps.Email,
		IssuedAt:     issued,
		ExpiresAt:    expires,
		LastActiveAt: c.clock.Now(),
	}
	if prev := c.store.Session(); prev != nil && prev.UserID == ps.UserID && prev.Provisional {
		sess.Role = prev.Role
		if !prev.LastActiveAt.IsZero() {
			sess.LastActiveAt = prev.LastActiveAt
		}
	}

	if err := c.store.Put(sess); err != nil {
		c.logger.Warn("authflow: hold session failed", "error", err)
	}
	_ = c.store.SetAccessToken(ps.AccessToken)
	c.refresher.Schedule(c.gen, expires)

	c.setStateLocked(AuthState{State: StateAwaitingProfile, Session: c.store.Session()})
	return c.gen, true
}

func (c *Controller) updateCredentialLocked(ps *ProviderSession) {
	issued, expires := c.credentialTimes(ps)
	_ = c.store.SetAccessToken(ps.AccessToken)

	if err := c.store.Patch(session.Patch{IssuedAt: &issued, ExpiresAt: &expires}); err != nil {
		c.logger.Warn("authflow: update refreshed session failed", "error", err)
	}
	c.refresher.Schedule(c.gen, expires)

	next := c.state
	next.Session = c.store.Session()
	c.setStateLocked(next)
}

// endSessionLocked clears the session unconditionally and moves to
// unauthenticated. It returns the dropped credential for a best-effort
// provider sign-out.
func (c *Controller) endSessionLocked(reason LogoutReason, cause error) (string, sessionRef) {
	token := c.store.AccessToken()
	ref := refOf(c.state.Session)

	c.gen++
	c.refresher.Cancel()
	c.watchdog.Stop()

	c.store.Drop()

	c.setStateLocked(AuthState{
		State:        StateUnauthenticated,
		Err:          cause,
		ErrorMessage: reason.message(),
	})
	return token, ref
}

func (c *Controller) notifyProviderSignOut(ctx context.Context, token string) {
	if token == "" {
		return
	}
	sctx, span := c.startSpan(ctx, "ProviderSignOut")
	_, err := callWithTimeout(sctx, c.cfg.Network.SignOutTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.provider.SignOut(ctx, token)
	})
	endSpan(span, err)
	if err != nil {
		c.metrics.Inc(MetricSignOutProviderFailure)
		c.logger.Warn("authflow: provider sign-out failed", "error", err)
	}
}

// credentialTimes returns the credential window, reading iat/exp from the
// token when the provider did not report them.
func (c *Controller) credentialTimes(ps *ProviderSession) (issued, expires time.Time) {
	issued, expires = ps.IssuedAt, ps.ExpiresAt
	if !expires.IsZero() && !issued.IsZero() {
		return issued, expires
	}
	claims, err := c.inspector.Inspect(ps.AccessToken)
	if err != nil {
		c.logger.Debug("authflow: credential is not an inspectable JWT", "error", err)
		return issued, expires
	}
	if issued.IsZero() {
		issued = claims.IssuedAtTime()
	}
	if expires.IsZero() {
		expires = claims.ExpiresAtTime()
	}
	return issued, expires
}

// goBackgroundLocked runs fn on a goroutine that Close waits for. It is a
// no-op after Close.
func (c *Controller) goBackgroundLocked(fn func()) {
	if c.closed {
		return
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		fn()
	}()
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
