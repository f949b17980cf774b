package authflow

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one controller counter or latency histogram.
type MetricID uint16

const (
	// MetricSignInSuccess counts password sign-ins accepted by the provider.
	MetricSignInSuccess MetricID = iota
	// MetricSignInFailure counts sign-ins rejected or failed.
	MetricSignInFailure
	MetricSignUp
	MetricPasswordResetRequest
	// MetricSignOut counts user-initiated sign-outs.
	MetricSignOut
	MetricSignOutProviderFailure
	// MetricForcedLogoutIdle counts sessions ended by the inactivity watchdog.
	MetricForcedLogoutIdle
	// MetricForcedLogoutRefresh counts sessions ended after credential
	// refresh exhausted its retries.
	MetricForcedLogoutRefresh
	// MetricForcedLogoutDecline counts sessions ended by an agreement decline.
	MetricForcedLogoutDecline
	MetricProviderSignedOut
	MetricRefreshSuccess
	MetricRefreshRetry
	MetricRefreshFailure
	MetricProfileFetchFailure
	MetricAgreementFetchFailure
	MetricAgreementAccepted
	MetricAgreementDeclined
	MetricAgreementRecordFailure
	// MetricAgreementBypass counts emergency admin bypasses of the gate.
	MetricAgreementBypass
	// MetricStaleResultDiscarded counts async results dropped because the
	// session generation moved on.
	MetricStaleResultDiscarded
	MetricSessionRestored
	MetricSessionRestoreRejected
	// MetricInitializeLatency is the startup discovery latency histogram.
	MetricInitializeLatency
	// MetricSignInLatency is the sign-in to settled-state latency histogram.
	MetricSignInLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a metrics set from cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc increments counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram for id. Only histogram IDs are
// accepted.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || !IsHistogram(id) {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// IsHistogram reports whether id names a latency histogram.
func IsHistogram(id MetricID) bool {
	return id == MetricInitializeLatency || id == MetricSignInLatency
}

// Snapshot copies all counters and, when enabled, histograms.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 2),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if IsHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range []MetricID{MetricInitializeLatency, MetricSignInLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
