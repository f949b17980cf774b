package authflow

import (
	"context"
	"errors"

	"github.com/MrEthical07/authflow/agreement"
	"github.com/MrEthical07/authflow/session"
)

var (
	// ErrInvalidCredentials is returned by identity providers for a wrong
	// email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrProviderUnavailable wraps transport failures of external services.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrTimeout marks a network call that exceeded its configured timeout.
	ErrTimeout = errors.New("operation timed out")
	// ErrProfileNotFound is returned by profile services for unknown users.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrAgreementNotFound is returned by agreement services when no
	// document exists for a role.
	ErrAgreementNotFound = errors.New("agreement not found")
	// ErrSessionExpired is reported when a restored session's credential
	// window has closed.
	ErrSessionExpired = session.ErrSessionExpired
	// ErrSessionIdle is reported when a restored session exceeded the
	// inactivity window.
	ErrSessionIdle = errors.New("session idle too long")
	ErrNoSession   = session.ErrNoSession
	// ErrInvalidTransition is returned for actions not allowed in the
	// current state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrBypassNotPermitted is returned by EmergencyBypass for non-admin roles.
	ErrBypassNotPermitted = agreement.ErrBypassNotPermitted
	// ErrSuperseded is returned when a newer session event replaced the
	// operation's session before it finished.
	ErrSuperseded       = errors.New("superseded by a newer session")
	ErrControllerClosed = errors.New("controller closed")
	ErrNotInitialized   = errors.New("controller not initialized")
)

// UserMessage maps err to the message shown on screen.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "The server took too long to respond. Please try again."
	case errors.Is(err, ErrProviderUnavailable):
		return "We could not reach the sign-in service. Check your connection and try again."
	case errors.Is(err, ErrProfileNotFound):
		return "Your profile could not be found. Contact your team manager."
	case errors.Is(err, ErrAgreementNotFound):
		return "The agreement for your role could not be loaded."
	case errors.Is(err, ErrSessionExpired):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, ErrSessionIdle):
		return "You were signed out after a period of inactivity."
	case errors.Is(err, ErrBypassNotPermitted):
		return "Only administrators can bypass the agreement."
	case errors.Is(err, ErrInvalidTransition):
		return "That action is not available right now."
	case errors.Is(err, ErrControllerClosed):
		return "The session manager has shut down."
	default:
		return "Something went wrong. Please try again."
	}
}
