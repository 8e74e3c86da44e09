package aio

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks engine- and read-stream-level operational statistics.
type Metrics struct {
	// Handle lifecycle
	HandlesAcquired  atomic.Uint64 // Acquire/AcquireNB successes
	HandlesReleased  atomic.Uint64 // Release calls
	HandlesReclaimed atomic.Uint64 // resource-owner teardown reclaims

	// Submission/completion
	Submissions atomic.Uint64 // handles submitted to a method backend
	Completions atomic.Uint64 // handles reaped off a method backend

	// I/O operation counters
	ReadOps  atomic.Uint64
	WriteOps atomic.Uint64
	SyncOps  atomic.Uint64

	// Byte counters
	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	// Error counters
	ReadErrors     atomic.Uint64
	WriteErrors    atomic.Uint64
	ShortTransfers atomic.Uint64

	// Read-stream distance controller
	DistanceIncreases atomic.Uint64 // distance doubled
	DistanceDecreases atomic.Uint64 // distance decayed after a cache-resident head range
	RegimeATransitions atomic.Uint64
	RegimeBTransitions atomic.Uint64
	RegimeCTransitions atomic.Uint64

	// Performance tracking
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts); bucket[i] holds
	// the count of operations with latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordAcquire records a handle being handed out to a backend.
func (m *Metrics) RecordAcquire() {
	m.HandlesAcquired.Add(1)
}

// RecordRelease records a handle being released back to idle.
func (m *Metrics) RecordRelease() {
	m.HandlesReleased.Add(1)
}

// RecordReclaim records a resource owner reclaiming a stranded handle.
func (m *Metrics) RecordReclaim() {
	m.HandlesReclaimed.Add(1)
}

// RecordSubmit records a staged batch being flushed to the method backend.
func (m *Metrics) RecordSubmit(n uint64) {
	m.Submissions.Add(n)
}

// RecordComplete records a handle being reaped.
func (m *Metrics) RecordComplete() {
	m.Completions.Add(1)
}

// RecordRead records a completed read operation.
func (m *Metrics) RecordRead(bytes uint64, latencyNs uint64, kind Kind) {
	m.ReadOps.Add(1)
	switch kind {
	case KindOK:
		m.ReadBytes.Add(bytes)
	case KindShortTransfer:
		m.ReadBytes.Add(bytes)
		m.ShortTransfers.Add(1)
	default:
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordWrite records a completed write operation.
func (m *Metrics) RecordWrite(bytes uint64, latencyNs uint64, kind Kind) {
	m.WriteOps.Add(1)
	switch kind {
	case KindOK:
		m.WriteBytes.Add(bytes)
	case KindShortTransfer:
		m.WriteBytes.Add(bytes)
		m.ShortTransfers.Add(1)
	default:
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordSync records a completed fsync/flush-range operation.
func (m *Metrics) RecordSync(latencyNs uint64) {
	m.SyncOps.Add(1)
	m.recordLatency(latencyNs)
}

// RecordDistanceChange records the read stream's distance controller
// doubling (grow=true) or decaying (grow=false) its look-ahead distance.
func (m *Metrics) RecordDistanceChange(grow bool) {
	if grow {
		m.DistanceIncreases.Add(1)
	} else {
		m.DistanceDecreases.Add(1)
	}
}

// RecordRegime records the read stream settling into a distance regime.
func (m *Metrics) RecordRegime(r Regime) {
	switch r {
	case RegimeA:
		m.RegimeATransitions.Add(1)
	case RegimeB:
		m.RegimeBTransitions.Add(1)
	case RegimeC:
		m.RegimeCTransitions.Add(1)
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the engine as stopped, freezing uptime-derived rates.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	HandlesAcquired  uint64
	HandlesReleased  uint64
	HandlesReclaimed uint64

	Submissions uint64
	Completions uint64

	ReadOps  uint64
	WriteOps uint64
	SyncOps  uint64

	ReadBytes  uint64
	WriteBytes uint64

	ReadErrors     uint64
	WriteErrors    uint64
	ShortTransfers uint64

	DistanceIncreases  uint64
	DistanceDecreases  uint64
	RegimeATransitions uint64
	RegimeBTransitions uint64
	RegimeCTransitions uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ReadIOPS       float64
	WriteIOPS      float64
	ReadBandwidth  float64
	WriteBandwidth float64
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		HandlesAcquired:    m.HandlesAcquired.Load(),
		HandlesReleased:    m.HandlesReleased.Load(),
		HandlesReclaimed:   m.HandlesReclaimed.Load(),
		Submissions:        m.Submissions.Load(),
		Completions:        m.Completions.Load(),
		ReadOps:            m.ReadOps.Load(),
		WriteOps:           m.WriteOps.Load(),
		SyncOps:            m.SyncOps.Load(),
		ReadBytes:          m.ReadBytes.Load(),
		WriteBytes:         m.WriteBytes.Load(),
		ReadErrors:         m.ReadErrors.Load(),
		WriteErrors:        m.WriteErrors.Load(),
		ShortTransfers:     m.ShortTransfers.Load(),
		DistanceIncreases:  m.DistanceIncreases.Load(),
		DistanceDecreases:  m.DistanceDecreases.Load(),
		RegimeATransitions: m.RegimeATransitions.Load(),
		RegimeBTransitions: m.RegimeBTransitions.Load(),
		RegimeCTransitions: m.RegimeCTransitions.Load(),
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps + snap.SyncOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ReadIOPS = float64(snap.ReadOps) / uptimeSeconds
		snap.WriteIOPS = float64(snap.WriteOps) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.WriteBytes) / uptimeSeconds
	}

	totalErrors := snap.ReadErrors + snap.WriteErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters, used between test cases.
func (m *Metrics) Reset() {
	m.HandlesAcquired.Store(0)
	m.HandlesReleased.Store(0)
	m.HandlesReclaimed.Store(0)
	m.Submissions.Store(0)
	m.Completions.Store(0)
	m.ReadOps.Store(0)
	m.WriteOps.Store(0)
	m.SyncOps.Store(0)
	m.ReadBytes.Store(0)
	m.WriteBytes.Store(0)
	m.ReadErrors.Store(0)
	m.WriteErrors.Store(0)
	m.ShortTransfers.Store(0)
	m.DistanceIncreases.Store(0)
	m.DistanceDecreases.Store(0)
	m.RegimeATransitions.Store(0)
	m.RegimeBTransitions.Store(0)
	m.RegimeCTransitions.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// PrometheusCollector adapts Metrics to prometheus.Collector, so a
// long-running process embedding the engine can register it once with
// a prometheus.Registry and get live counters without polling Snapshot
// itself.
type PrometheusCollector struct {
	m *Metrics

	handlesAcquired  *prometheus.Desc
	handlesReleased  *prometheus.Desc
	handlesReclaimed *prometheus.Desc
	submissions      *prometheus.Desc
	completions      *prometheus.Desc
	readBytes        *prometheus.Desc
	writeBytes       *prometheus.Desc
	readErrors       *prometheus.Desc
	writeErrors      *prometheus.Desc
	shortTransfers   *prometheus.Desc
	distanceIncrease *prometheus.Desc
	distanceDecrease *prometheus.Desc
	avgLatencyNs     *prometheus.Desc
}

// NewPrometheusCollector wraps m for registration with a prometheus.Registry.
func NewPrometheusCollector(m *Metrics) *PrometheusCollector {
	return &PrometheusCollector{
		m:                m,
		handlesAcquired:  prometheus.NewDesc("aio_handles_acquired_total", "Handles handed out to a backend.", nil, nil),
		handlesReleased:  prometheus.NewDesc("aio_handles_released_total", "Handles released back to idle.", nil, nil),
		handlesReclaimed: prometheus.NewDesc("aio_handles_reclaimed_total", "Handles reclaimed by resource-owner teardown.", nil, nil),
		submissions:      prometheus.NewDesc("aio_submissions_total", "Handles submitted to the method backend.", nil, nil),
		completions:      prometheus.NewDesc("aio_completions_total", "Handles reaped off the method backend.", nil, nil),
		readBytes:        prometheus.NewDesc("aio_read_bytes_total", "Bytes read.", nil, nil),
		writeBytes:       prometheus.NewDesc("aio_write_bytes_total", "Bytes written.", nil, nil),
		readErrors:       prometheus.NewDesc("aio_read_errors_total", "Failed read operations.", nil, nil),
		writeErrors:      prometheus.NewDesc("aio_write_errors_total", "Failed write operations.", nil, nil),
		shortTransfers:   prometheus.NewDesc("aio_short_transfers_total", "Read or write operations that transferred fewer bytes than requested.", nil, nil),
		distanceIncrease: prometheus.NewDesc("aio_distance_increase_total", "Read-stream look-ahead distance doublings.", nil, nil),
		distanceDecrease: prometheus.NewDesc("aio_distance_decrease_total", "Read-stream look-ahead distance decays.", nil, nil),
		avgLatencyNs:     prometheus.NewDesc("aio_avg_latency_nanoseconds", "Average operation latency.", nil, nil),
	}
}

func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.handlesAcquired
	ch <- c.handlesReleased
	ch <- c.handlesReclaimed
	ch <- c.submissions
	ch <- c.completions
	ch <- c.readBytes
	ch <- c.writeBytes
	ch <- c.readErrors
	ch <- c.writeErrors
	ch <- c.shortTransfers
	ch <- c.distanceIncrease
	ch <- c.distanceDecrease
	ch <- c.avgLatencyNs
}

func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.m.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.handlesAcquired, prometheus.CounterValue, float64(snap.HandlesAcquired))
	ch <- prometheus.MustNewConstMetric(c.handlesReleased, prometheus.CounterValue, float64(snap.HandlesReleased))
	ch <- prometheus.MustNewConstMetric(c.handlesReclaimed, prometheus.CounterValue, float64(snap.HandlesReclaimed))
	ch <- prometheus.MustNewConstMetric(c.submissions, prometheus.CounterValue, float64(snap.Submissions))
	ch <- prometheus.MustNewConstMetric(c.completions, prometheus.CounterValue, float64(snap.Completions))
	ch <- prometheus.MustNewConstMetric(c.readBytes, prometheus.CounterValue, float64(snap.ReadBytes))
	ch <- prometheus.MustNewConstMetric(c.writeBytes, prometheus.CounterValue, float64(snap.WriteBytes))
	ch <- prometheus.MustNewConstMetric(c.readErrors, prometheus.CounterValue, float64(snap.ReadErrors))
	ch <- prometheus.MustNewConstMetric(c.writeErrors, prometheus.CounterValue, float64(snap.WriteErrors))
	ch <- prometheus.MustNewConstMetric(c.shortTransfers, prometheus.CounterValue, float64(snap.ShortTransfers))
	ch <- prometheus.MustNewConstMetric(c.distanceIncrease, prometheus.CounterValue, float64(snap.DistanceIncreases))
	ch <- prometheus.MustNewConstMetric(c.distanceDecrease, prometheus.CounterValue, float64(snap.DistanceDecreases))
	ch <- prometheus.MustNewConstMetric(c.avgLatencyNs, prometheus.GaugeValue, float64(snap.AvgLatencyNs))
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)
