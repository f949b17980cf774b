// Package jwt reads identity-provider credentials to recover subject and
// validity window, and mints credentials for fakes and the simulator.
//
// A browser-side session manager usually cannot verify the provider's
// signature, so [Manager.Inspect] parses unverified unless verification keys
// are configured.
package jwt
