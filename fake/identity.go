package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/jwt"
)

// IdentityOption configures an [Identity].
type IdentityOption func(*Identity)

// WithAccount registers an email/password account.
func WithAccount(userID, email, password string) IdentityOption {
	return func(p *Identity) {
		p.accounts[strings.ToLower(email)] = account{userID: userID, email: email, password: password}
	}
}

// WithTokenManager mints JWT credentials with m instead of opaque tokens.
func WithTokenManager(m *jwt.Manager) IdentityOption {
	return func(p *Identity) { p.tokens = m }
}

// WithTTL sets the credential lifetime.
func WithTTL(ttl time.Duration) IdentityOption {
	return func(p *Identity) { p.ttl = ttl }
}

// WithNow sets the time source used for issued sessions.
func WithNow(now func() time.Time) IdentityOption {
	return func(p *Identity) { p.now = now }
}

// WithEvents makes the provider emit signed_in, signed_out and
// token_refreshed events for its own operations, before they return.
func WithEvents() IdentityOption {
	return func(p *Identity) { p.events = true }
}

// WithoutReportedExpiry leaves IssuedAt/ExpiresAt unset on returned
// sessions so consumers must read them from the credential.
func WithoutReportedExpiry() IdentityOption {
	return func(p *Identity) { p.hideExpiry = true }
}

// WithEmailConfirmation makes SignUp return no session.
func WithEmailConfirmation() IdentityOption {
	return func(p *Identity) { p.confirmEmail = true }
}

type account struct {
	userID, email, password string
}

// Identity is an in-memory [authflow.IdentityProvider] holding one
// browser-context session.
type Identity struct {
	Hooks

	mu           sync.Mutex
	accounts     map[string]account
	current      *authflow.ProviderSession
	watchers     map[int]func(authflow.ProviderEvent)
	nextWatch    int
	tokens       *jwt.Manager
	ttl          time.Duration
	now          func() time.Time
	events       bool
	hideExpiry   bool
	confirmEmail bool
	resets       []string
}

// NewIdentity creates an identity provider with no current session.
func NewIdentity(opts ...IdentityOption) *Identity {
	p := &Identity{
		accounts: map[string]account{},
		watchers: map[int]func(authflow.ProviderEvent){},
		ttl:      time.Hour,
		now:      time.Now,
	}
	p.Hooks.init()
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Identity) SignInWithPassword(ctx context.Context, email, password string) (*authflow.ProviderSession, error) {
	if err := p.enter(ctx, OpSignIn); err != nil {
		return nil, err
	}
	p.mu.Lock()
	acc, ok := p.accounts[strings.ToLower(email)]
	if !ok || acc.password != password {
		p.mu.Unlock()
		return nil, authflow.ErrInvalidCredentials
	}
	ps, err := p.issueLocked(acc)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p.emitOwn(authflow.EventSignedIn, ps)
	return ps, nil
}

func (p *Identity) SignUp(ctx context.Context, email, password string) (*authflow.ProviderSession, error) {
	if err := p.enter(ctx, OpSignUp); err != nil {
		return nil, err
	}
	p.mu.Lock()
	key := strings.ToLower(email)
	if _, exists := p.accounts[key]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("account %s already exists", email)
	}
	acc := account{userID: uuid.NewString(), email: email, password: password}
	p.accounts[key] = acc
	if p.confirmEmail {
		p.mu.Unlock()
		return nil, nil
	}
	ps, err := p.issueLocked(acc)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p.emitOwn(authflow.EventSignedIn, ps)
	return ps, nil
}

func (p *Identity) SignOut(ctx context.Context, accessToken string) error {
	if err := p.enter(ctx, OpSignOut); err != nil {
		return err
	}
	p.mu.Lock()
	if p.current == nil || p.current.AccessToken != accessToken {
		p.mu.Unlock()
		return nil
	}
	p.current = nil
	p.mu.Unlock()
	p.emitOwn(authflow.EventSignedOut, nil)
	return nil
}

func (p *Identity) ResetPasswordForEmail(ctx context.Context, email string) error {
	if err := p.enter(ctx, OpResetPassword); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, email)
	return nil
}

func (p *Identity) CurrentSession(ctx context.Context) (*authflow.ProviderSession, error) {
	if err := p.enter(ctx, OpCurrentSession); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.copyCurrentLocked(), nil
}

func (p *Identity) RefreshSession(ctx context.Context) (*authflow.ProviderSession, error) {
	if err := p.enter(ctx, OpRefreshSession); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return nil, authflow.ErrNoSession
	}
	acc := account{userID: p.current.UserID, email: p.current.Email}
	ps, err := p.issueLocked(acc)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p.emitOwn(authflow.EventTokenRefreshed, ps)
	return ps, nil
}

func (p *Identity) Watch(fn func(authflow.ProviderEvent)) (stop func()) {
	p.mu.Lock()
	id := p.nextWatch
	p.nextWatch++
	p.watchers[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.watchers, id)
		p.mu.Unlock()
	}
}

// Watchers returns the number of active watchers.
func (p *Identity) Watchers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watchers)
}

// Current returns the provider-side session, or nil.
func (p *Identity) Current() *authflow.ProviderSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.copyCurrentLocked()
}

// PasswordResets returns the emails reset was requested for.
func (p *Identity) PasswordResets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.resets...)
}

// SignInElsewhere simulates a sign-in completed outside the controller (for
// example in another tab): it installs a session for email and emits
// signed_in.
func (p *Identity) SignInElsewhere(email string) (*authflow.ProviderSession, error) {
	p.mu.Lock()
	acc, ok := p.accounts[strings.ToLower(email)]
	if !ok {
		p.mu.Unlock()
		return nil, authflow.ErrInvalidCredentials
	}
	ps, err := p.issueLocked(acc)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p.Emit(authflow.ProviderEvent{Type: authflow.EventSignedIn, Session: ps})
	return ps, nil
}

// RevokeSession drops the provider-side session and emits signed_out, as a
// server-side revocation would.
func (p *Identity) RevokeSession() {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
	p.Emit(authflow.ProviderEvent{Type: authflow.EventSignedOut})
}

// Emit delivers ev to every watcher synchronously.
func (p *Identity) Emit(ev authflow.ProviderEvent) {
	p.mu.Lock()
	fns := make([]func(authflow.ProviderEvent), 0, len(p.watchers))
	for _, fn := range p.watchers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (p *Identity) emitOwn(t authflow.ProviderEventType, ps *authflow.ProviderSession) {
	if !p.events {
		return
	}
	var evSession *authflow.ProviderSession
	if ps != nil {
		cp := *ps
		evSession = &cp
	}
	p.Emit(authflow.ProviderEvent{Type: t, Session: evSession})
}

func (p *Identity) issueLocked(acc account) (*authflow.ProviderSession, error) {
	now := p.now()
	ps := &authflow.ProviderSession{
		UserID:    acc.userID,
		Email:     acc.email,
		IssuedAt:  now,
		ExpiresAt: now.Add(p.ttl),
	}
	if p.tokens != nil {
		tok, err := p.tokens.Issue(acc.userID, acc.email, "", uuid.NewString(), p.ttl)
		if err != nil {
			return nil, err
		}
		ps.AccessToken = tok
	} else {
		ps.AccessToken = "fake-" + uuid.NewString()
	}
	p.current = ps

	out := *ps
	if p.hideExpiry {
		out.IssuedAt = time.Time{}
		out.ExpiresAt = time.Time{}
	}
	return &out, nil
}

func (p *Identity) copyCurrentLocked() *authflow.ProviderSession {
	if p.current == nil {
		return nil
	}
	out := *p.current
	if p.hideExpiry {
		out.IssuedAt = time.Time{}
		out.ExpiresAt = time.Time{}
	}
	return &out
}

var _ authflow.IdentityProvider = (*Identity)(nil)
