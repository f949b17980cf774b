package internaldefs

import (
	"github.com/MrEthical07/authflow"
)

// CounterDef names one controller counter.
type CounterDef struct {
	ID   authflow.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram.
type HistogramDef struct {
	ID   authflow.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authflow.MetricSignInSuccess, Name: "authflow_sign_in_success_total", Help: "Password sign-ins accepted by the identity provider."},
	{ID: authflow.MetricSignInFailure, Name: "authflow_sign_in_failure_total", Help: "Sign-in attempts that failed or timed out."},
	{ID: authflow.MetricSignUp, Name: "authflow_sign_up_total", Help: "Completed sign-up requests."},
	{ID: authflow.MetricPasswordResetRequest, Name: "authflow_password_reset_request_total", Help: "Password reset emails requested."},
	{ID: authflow.MetricSignOut, Name: "authflow_sign_out_total", Help: "User-initiated sign-outs."},
	{ID: authflow.MetricSignOutProviderFailure, Name: "authflow_sign_out_provider_failure_total", Help: "Provider sign-out calls that failed after local teardown."},
	{ID: authflow.MetricForcedLogoutIdle, Name: "authflow_forced_logout_idle_total", Help: "Sessions ended by the inactivity watchdog."},
	{ID: authflow.MetricForcedLogoutRefresh, Name: "authflow_forced_logout_refresh_total", Help: "Sessions ended because the credential could not be renewed."},
	{ID: authflow.MetricForcedLogoutDecline, Name: "authflow_forced_logout_decline_total", Help: "Sessions ended by an agreement decline."},
	{ID: authflow.MetricProviderSignedOut, Name: "authflow_provider_signed_out_total", Help: "Sessions ended by a provider signed_out event."},
	{ID: authflow.MetricRefreshSuccess, Name: "authflow_refresh_success_total", Help: "Successful credential refreshes."},
	{ID: authflow.MetricRefreshRetry, Name: "authflow_refresh_retry_total", Help: "Credential refresh attempts retried after a transient failure."},
	{ID: authflow.MetricRefreshFailure, Name: "authflow_refresh_failure_total", Help: "Credential refreshes that exhausted their retries."},
	{ID: authflow.MetricProfileFetchFailure, Name: "authflow_profile_fetch_failure_total", Help: "Profile fetches that failed after the retry."},
	{ID: authflow.MetricAgreementFetchFailure, Name: "authflow_agreement_fetch_failure_total", Help: "Agreement status fetches that failed after the retry."},
	{ID: authflow.MetricAgreementAccepted, Name: "authflow_agreement_accepted_total", Help: "Agreement acceptances recorded."},
	{ID: authflow.MetricAgreementDeclined, Name: "authflow_agreement_declined_total", Help: "Agreement declines."},
	{ID: authflow.MetricAgreementRecordFailure, Name: "authflow_agreement_record_failure_total", Help: "Agreement decisions the service failed to record."},
	{ID: authflow.MetricAgreementBypass, Name: "authflow_agreement_bypass_total", Help: "Emergency administrator bypasses of the agreement gate."},
	{ID: authflow.MetricStaleResultDiscarded, Name: "authflow_stale_result_discarded_total", Help: "Async results dropped because a newer session replaced theirs."},
	{ID: authflow.MetricSessionRestored, Name: "authflow_session_restored_total", Help: "Sessions restored after a restart."},
	{ID: authflow.MetricSessionRestoreRejected, Name: "authflow_session_restore_rejected_total", Help: "Stored sessions rejected as expired, idle or unreadable."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: authflow.MetricInitializeLatency, Name: "authflow_initialize_latency_seconds", Help: "Startup session discovery latency."},
	{ID: authflow.MetricSignInLatency, Name: "authflow_sign_in_latency_seconds", Help: "Sign-in latency until the session settled."},
}

// HistogramBounds are the upper bounds of the histogram buckets, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix names each bucket in instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "authflow_audit_dropped_total"

// AuditDroppedHelp describes [AuditDroppedName].
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// NormalizeBuckets copies raw into a fixed bucket array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative counts both
// exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
