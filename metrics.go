package venueauth

import (
	"context"
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricAccountLocked
	MetricMFARequired
	MetricMFASuccess
	MetricMFAFailure
	MetricOTPSent
	MetricOTPDeliveryFailure
	MetricGoogleLogin
	MetricGoogleAccountCreated
	MetricLinkingRequired
	MetricAccountLinked
	MetricAccountUnlinked
	MetricRegistrationSuccess
	MetricRegistrationConflict
	MetricEmailVerificationSent
	MetricEmailVerificationSuccess
	MetricEmailVerificationFailure
	MetricPasswordResetRequest
	MetricPasswordResetSuccess
	MetricPasswordResetFailure
	MetricPhoneVerificationSuccess
	MetricTokenIssued
	MetricTokenRevoked
	MetricTokenVerifyFailure
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricLogout
	MetricLogoutAll
	MetricTokensCleaned
	MetricRateLimitHit
	MetricBookkeepingFailure
	MetricAuditDropped

	// Histograms follow; everything before firstHistogram is a counter.
	MetricValidateLatency
	MetricDeliveryLatency
	metricIDCount
)

const firstHistogram = MetricValidateLatency

// MetricIDCount is the number of defined metric ids.
const MetricIDCount = int(metricIDCount)

// HistogramBucketCount is the number of latency buckets, overflow included.
const HistogramBucketCount = 8

const cacheLineSize = 64

// bucketBounds are the inclusive upper limits of every bucket but the last.
var bucketBounds = [HistogramBucketCount - 1]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

type latencyHistogram struct {
	buckets  [HistogramBucketCount]uint64
	sumNanos uint64
}

// Metrics is a fixed set of lock-free counters plus latency histograms.
// A nil or disabled Metrics ignores writes.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [firstHistogram]paddedCounter
	histograms    [metricIDCount - firstHistogram]latencyHistogram
}

// MetricsSnapshot is a point-in-time copy of all metrics. Histograms hold
// per-bucket (not cumulative) counts; HistogramSums holds their totals.
type MetricsSnapshot struct {
	Counters      map[MetricID]uint64
	Histograms    map[MetricID][]uint64
	HistogramSums map[MetricID]time.Duration
}

// IsHistogram reports whether id names a latency histogram.
func (id MetricID) IsHistogram() bool {
	return id >= firstHistogram && id < metricIDCount
}

// NewMetrics builds a Metrics from cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to the counter id. Histogram ids are ignored.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= firstHistogram || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in histogram id.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || !id.IsHistogram() {
		return
	}
	if d < 0 {
		d = 0
	}
	h := &m.histograms[id-firstHistogram]
	atomic.AddUint64(&h.buckets[bucketIndex(d)], 1)
	atomic.AddUint64(&h.sumNanos, uint64(d))
}

// Value reads a counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= firstHistogram {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every metric. Disabled metrics yield empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:      map[MetricID]uint64{},
		Histograms:    map[MetricID][]uint64{},
		HistogramSums: map[MetricID]time.Duration{},
	}
	if m == nil || !m.enabled {
		return s
	}

	for id := MetricID(0); id < firstHistogram; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if !m.enableLatency {
		return s
	}
	for id := firstHistogram; id < metricIDCount; id++ {
		h := &m.histograms[id-firstHistogram]
		buckets := make([]uint64, HistogramBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&h.buckets[i])
		}
		s.Histograms[id] = buckets
		s.HistogramSums[id] = time.Duration(atomic.LoadUint64(&h.sumNanos))
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range bucketBounds {
		if d <= bound {
			return i
		}
	}
	return HistogramBucketCount - 1
}

// timedSender records how long each notification delivery takes.
type timedSender struct {
	next    NotificationSender
	metrics *Metrics
	clock   Clock
}

func (s timedSender) SendEmail(ctx context.Context, msg EmailMessage) error {
	start := s.clock.Now()
	err := s.next.SendEmail(ctx, msg)
	s.metrics.Observe(MetricDeliveryLatency, s.clock.Now().Sub(start))
	return err
}

func (s timedSender) SendSMS(ctx context.Context, to, body string) error {
	start := s.clock.Now()
	err := s.next.SendSMS(ctx, to, body)
	s.metrics.Observe(MetricDeliveryLatency, s.clock.Now().Sub(start))
	return err
}
