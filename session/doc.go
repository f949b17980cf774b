// Package session holds the signed-in browser context: the bearer credential in
// process memory and a reduced, credential-free metadata record in durable
// storage.
//
// # Storage split
//
// The credential is never written to a [Storage]. After a restart the [Store]
// can rebuild a provisional [Session] from the durable [Record] so callers know
// a session probably existed, but [Store.AccessToken] stays empty until a fresh
// credential is obtained from the identity provider.
//
// # Architecture boundaries
//
// This package owns [Store], [Storage] backends (memory and Redis) and the
// binary [Record] encoding. It does NOT decide authentication state, talk to
// the identity provider, or evaluate agreements.
//
// # What this package must NOT do
//
//   - Import authflow, agreement, or jwt (no upward imports).
//   - Persist the access credential in any form.
//   - Leave durable keys behind after [Store.ClearSession].
package session
