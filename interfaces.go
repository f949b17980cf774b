package authflow

import (
	"context"

	"github.com/MrEthical07/authflow/agreement"
)

// IdentityProvider is the external authentication service. Implementations
// must honour ctx cancellation.
type IdentityProvider interface {
	// SignInWithPassword returns ErrInvalidCredentials for a wrong pair.
	SignInWithPassword(ctx context.Context, email, password string) (*ProviderSession, error)
	// SignUp registers an account. A nil session means email confirmation
	// is pending.
	SignUp(ctx context.Context, email, password string) (*ProviderSession, error)
	SignOut(ctx context.Context, accessToken string) error
	ResetPasswordForEmail(ctx context.Context, email string) error
	// CurrentSession returns nil, nil when no session exists.
	CurrentSession(ctx context.Context) (*ProviderSession, error)
	RefreshSession(ctx context.Context) (*ProviderSession, error)
	// Watch delivers provider events until stop is called. Events may arrive
	// on any goroutine.
	Watch(fn func(ProviderEvent)) (stop func())
}

// ProfileService loads team member profiles.
type ProfileService interface {
	// FetchProfile returns ErrProfileNotFound for unknown users.
	FetchProfile(ctx context.Context, userID string) (*Profile, error)
}

// AgreementService stores per-role agreement decisions.
type AgreementService interface {
	// FetchAgreementStatus reports Required=false for roles without an
	// agreement obligation. ErrAgreementNotFound is terminal for the session.
	FetchAgreementStatus(ctx context.Context, role, userID string) (agreement.Record, error)
	RecordAcceptance(ctx context.Context, userID, role string, version int, decision agreement.Decision) error
}
