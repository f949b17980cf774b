package authflow

import (
	"time"

	"github.com/MrEthical07/authflow/agreement"
	"github.com/MrEthical07/authflow/session"
)

// State is the tag of an [AuthState].
type State string

const (
	StateInitializing      State = "initializing"
	StateUnauthenticated   State = "unauthenticated"
	StateAuthenticating    State = "authenticating"
	StateAwaitingProfile   State = "awaiting_profile"
	StateAwaitingAgreement State = "awaiting_agreement"
	StateReady             State = "ready"
	StateError             State = "error"
)

// Authenticated reports whether s implies a held credential.
func (s State) Authenticated() bool {
	switch s {
	case StateAwaitingProfile, StateAwaitingAgreement, StateReady:
		return true
	}
	return false
}

// Settled reports whether s waits on the user rather than on a pending
// network call.
func (s State) Settled() bool {
	switch s {
	case StateInitializing, StateAuthenticating:
		return false
	}
	return true
}

// AuthState is an immutable snapshot of the controller. Listeners receive
// every snapshot in transition order.
type AuthState struct {
	State     State
	Session   *session.Session
	Profile   *Profile
	Agreement *agreement.Status

	// ErrorMessage is set in StateError and after a forced logout.
	ErrorMessage string
	Err          error

	// AgreementBypassed is set when an administrator skipped the gate.
	AgreementBypassed bool
	// IdleWarning is set while the inactivity warning is pending.
	IdleWarning bool

	Generation uint64
	Seq        uint64
}

// Profile is the dashboard's view of a team member.
type Profile struct {
	UserID             string
	Email              string
	DisplayName        string
	Role               string
	TeamID             string
	OnboardingComplete bool
}

// NeedsOnboarding reports whether the member must finish onboarding before
// any role-specific gate applies.
func (p *Profile) NeedsOnboarding() bool {
	return p != nil && (p.Role == "" || !p.OnboardingComplete)
}

// ProviderSession is a session as reported by the identity provider.
type ProviderSession struct {
	UserID      string
	Email       string
	AccessToken string
	IssuedAt    time.Time
	// ExpiresAt is zero when the provider does not report an expiry.
	ExpiresAt time.Time
}

// ProviderEventType enumerates identity provider notifications.
type ProviderEventType string

const (
	EventSignedIn       ProviderEventType = "signed_in"
	EventSignedOut      ProviderEventType = "signed_out"
	EventTokenRefreshed ProviderEventType = "token_refreshed"
)

// ProviderEvent is delivered by [IdentityProvider.Watch]. Session is nil for
// EventSignedOut.
type ProviderEvent struct {
	Type    ProviderEventType
	Session *ProviderSession
}

// SignInResult is returned by sign-in style actions. Failures are reported
// here, never by panicking or leaving the state pending.
type SignInResult struct {
	Success bool
	Err     error
	// Message is the user-facing text for Err.
	Message string
}

func failedResult(err error) SignInResult {
	return SignInResult{Err: err, Message: UserMessage(err)}
}

// LogoutReason names the cause of a session teardown.
type LogoutReason string

const (
	ReasonUser             LogoutReason = "user"
	ReasonIdle             LogoutReason = "idle_timeout"
	ReasonRefreshExhausted LogoutReason = "refresh_exhausted"
	ReasonAgreementDecline LogoutReason = "agreement_declined"
	ReasonProvider         LogoutReason = "provider_signed_out"
	ReasonExpired          LogoutReason = "session_expired"
)

func (r LogoutReason) message() string {
	switch r {
	case ReasonIdle:
		return UserMessage(ErrSessionIdle)
	case ReasonRefreshExhausted, ReasonExpired:
		return UserMessage(ErrSessionExpired)
	case ReasonAgreementDecline:
		return "You were signed out because the agreement was declined."
	}
	return ""
}
