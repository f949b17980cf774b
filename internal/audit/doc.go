// Package audit delivers session lifecycle events (sign-in, sign-out, forced
// logout, agreement decisions, credential refresh failures) to a sink without
// blocking the caller.
//
// The package does not decide which events exist; the controller does.
package audit
