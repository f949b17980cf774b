// Package middleware exposes HTTP middleware for a dashboard served next to
// an authflow.Controller.
//
// # Guards
//
//   - [Guard] admits requests while the controller is in one of the allowed
//     states and redirects the rest to the controller's redirect path.
//   - [RequireReady] admits only the ready state (dashboard pages).
//   - [RequireSignedIn] admits every signed-in state (onboarding and
//     agreement review pages).
//
// Admitted requests carry the observed [authflow.AuthState] in their
// context; read it with [StateFromContext].
//
// # Outgoing calls
//
// [BearerTransport] attaches the controller's credential to API requests,
// and [TrackActivity] reports each request to the inactivity watchdog.
//
// # What this package must NOT do
//
//   - Change controller state (guards only read it).
//   - Parse or store credentials.
//   - Decide routes itself; redirects come from authflow.RedirectPath.
package middleware
