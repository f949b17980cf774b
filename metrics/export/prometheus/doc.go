// Package prometheus renders authflow controller metrics in Prometheus
// text exposition format.
//
// [NewPrometheusExporter] reads [authflow.Controller.MetricsSnapshot] on
// every scrape. Counters are named authflow_*_total; the two latency
// histograms are authflow_initialize_latency_seconds and
// authflow_sign_in_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global registry; callers mount the Handler.
//   - Mutate controller state.
package prometheus
