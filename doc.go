// Package authflow manages the authentication and session lifecycle of the
// team dashboard: whether the user is signed in, with which profile, and
// whether they may pass the role agreement gate right now.
//
// A [Controller] is built once per process with [Builder]. It consumes an
// [IdentityProvider], a [ProfileService] and an [AgreementService], keeps the
// session in a [session.Store], and publishes an [AuthState] to subscribers
// after every transition:
//
//	initializing -> unauthenticated | awaiting_profile | error
//	unauthenticated -> authenticating -> awaiting_profile
//	awaiting_profile -> awaiting_agreement | ready | error
//	awaiting_agreement -> ready (accept, admin bypass) | unauthenticated (decline)
//	ready -> unauthenticated (sign-out, idle timeout, refresh exhausted)
//	error -> initializing (Retry)
//
// # Concurrency
//
// Controller methods are safe for concurrent use. Provider events, user
// actions and timer signals may interleave freely: every asynchronous result
// carries the session generation it was started for and is discarded if the
// generation has moved on. Subscribers see each state exactly once, in
// transition order, and may call back into the controller.
//
// # What this package must NOT do
//
//   - Persist the bearer credential. Durable storage only ever holds the
//     session metadata record.
//   - Let a network failure block a sign-out or forced logout.
//   - Import the adapter or fake packages.
package authflow
