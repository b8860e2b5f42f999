package identity

import (
	"sync/atomic"
	"time"
)

// MetricID identifies an engine counter or histogram.
type MetricID uint16

const (
	MetricRegisterSuccess MetricID = iota
	MetricRegisterFailure
	// MetricRegisterCompensated counts accounts removed after a failed
	// verification mail.
	MetricRegisterCompensated
	MetricEmailVerificationSuccess
	MetricEmailVerificationFailure
	MetricVerificationResent
	MetricLoginChallengeIssued
	MetricLoginFailure
	MetricAccountLocked
	MetricAccountUnlocked
	MetricLogin2FASuccess
	MetricLogin2FAFailure
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricLogout
	MetricPasswordResetRequest
	MetricPasswordResetSuccess
	MetricPasswordResetFailure
	MetricRateLimitHit
	MetricMailFailure
	// MetricLoginLatency is the only histogram: end-to-end Login duration,
	// dominated by password hashing.
	MetricLoginLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of the login latency
// buckets. A final bucket collects everything slower.
var latencyBounds = [...]time.Duration{
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
}

const histBucketCount = len(latencyBounds) + 1

// counter sits alone on a cache line so hot counters do not contend.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

// Metrics is a fixed set of lock-free counters plus the login latency
// histogram. A nil or disabled Metrics ignores every update.
type Metrics struct {
	enabled bool
	latency bool
	counts  [metricIDCount]counter
	login   [histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter. Histogram
// buckets are per-bucket counts, not cumulative.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.latency
}

func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= MetricLoginLatency {
		return
	}
	m.counts[id].Add(1)
}

// Observe records d for MetricLoginLatency; other IDs are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricLoginLatency {
		return
	}
	m.login[bucketIndex(d)].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricLoginLatency {
		return 0
	}
	return m.counts[id].Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}

	for id := MetricID(0); id < MetricLoginLatency; id++ {
		s.Counters[id] = m.counts[id].Load()
	}
	if m.latency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.login[i].Load()
		}
		s.Histograms[MetricLoginLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
