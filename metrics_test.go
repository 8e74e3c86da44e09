package aio

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsInitialState(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()
	assert.Zero(t, snap.TotalOps)
}

func TestMetricsRecordReadWrite(t *testing.T) {
	m := NewMetrics()

	m.RecordRead(1024, 1_000_000, KindOK)
	m.RecordWrite(2048, 2_000_000, KindOK)
	m.RecordRead(512, 500_000, KindIOError)
	m.RecordRead(256, 100_000, KindShortTransfer)

	snap := m.Snapshot()

	assert.EqualValues(t, 3, snap.ReadOps)
	assert.EqualValues(t, 1, snap.WriteOps)
	assert.EqualValues(t, 1024+256, snap.ReadBytes)
	assert.EqualValues(t, 2048, snap.WriteBytes)
	assert.EqualValues(t, 1, snap.ReadErrors)
	assert.EqualValues(t, 0, snap.WriteErrors)
	assert.EqualValues(t, 1, snap.ShortTransfers)
}

func TestMetricsHandleLifecycle(t *testing.T) {
	m := NewMetrics()

	m.RecordAcquire()
	m.RecordAcquire()
	m.RecordRelease()
	m.RecordReclaim()
	m.RecordSubmit(3)
	m.RecordComplete()

	snap := m.Snapshot()
	assert.EqualValues(t, 2, snap.HandlesAcquired)
	assert.EqualValues(t, 1, snap.HandlesReleased)
	assert.EqualValues(t, 1, snap.HandlesReclaimed)
	assert.EqualValues(t, 3, snap.Submissions)
	assert.EqualValues(t, 1, snap.Completions)
}

func TestMetricsDistanceAndRegime(t *testing.T) {
	m := NewMetrics()

	m.RecordDistanceChange(true)
	m.RecordDistanceChange(true)
	m.RecordDistanceChange(false)
	m.RecordRegime(RegimeA)
	m.RecordRegime(RegimeC)
	m.RecordRegime(RegimeC)

	snap := m.Snapshot()
	assert.EqualValues(t, 2, snap.DistanceIncreases)
	assert.EqualValues(t, 1, snap.DistanceDecreases)
	assert.EqualValues(t, 1, snap.RegimeATransitions)
	assert.EqualValues(t, 2, snap.RegimeCTransitions)
}

func TestMetricsLatencyAverage(t *testing.T) {
	m := NewMetrics()

	m.RecordRead(1024, 1_000_000, KindOK)
	m.RecordWrite(1024, 2_000_000, KindOK)

	snap := m.Snapshot()
	require.EqualValues(t, 1_500_000, snap.AvgLatencyNs)
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()
	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	assert.GreaterOrEqual(t, snap.UptimeNs, uint64(10*time.Millisecond))

	m.Stop()
	time.Sleep(5 * time.Millisecond)
	snap2 := m.Snapshot()
	assert.LessOrEqual(t, snap2.UptimeNs, snap.UptimeNs+uint64(2*time.Millisecond))
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordRead(1024, 1_000_000, KindOK)
	m.RecordWrite(2048, 2_000_000, KindOK)

	require.NotZero(t, m.Snapshot().TotalOps)

	m.Reset()
	snap := m.Snapshot()
	assert.Zero(t, snap.TotalOps)
	assert.Zero(t, snap.TotalBytes)
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordRead(1024, 1_000_000, KindOK)
	m.RecordWrite(2048, 2_000_000, KindOK)

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()
	assert.InDelta(t, 1.0, snap.ReadIOPS, 0.1)
	assert.InDelta(t, 1.0, snap.WriteIOPS, 0.1)
	assert.InDelta(t, 1024, snap.ReadBandwidth, 50)
	assert.InDelta(t, 2048, snap.WriteBandwidth, 50)
}

func TestMetricsHistogramPercentiles(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordRead(1024, 500_000, KindOK)
	}
	for i := 0; i < 49; i++ {
		m.RecordWrite(1024, 5_000_000, KindOK)
	}
	m.RecordWrite(1024, 50_000_000, KindOK)

	snap := m.Snapshot()
	require.EqualValues(t, 100, snap.TotalOps)
	assert.InDelta(t, 500_000, snap.LatencyP50Ns, 500_000)
	assert.GreaterOrEqual(t, snap.LatencyP99Ns, uint64(5_000_000))
}

func TestPrometheusCollector(t *testing.T) {
	m := NewMetrics()
	m.RecordRead(1024, 1_000_000, KindOK)

	c := NewPrometheusCollector(m)
	require.Implements(t, (*prometheus.Collector)(nil), c)

	descCh := make(chan *prometheus.Desc, 32)
	c.Describe(descCh)
	close(descCh)
	descCount := 0
	for range descCh {
		descCount++
	}
	assert.Equal(t, 13, descCount)

	metricCh := make(chan prometheus.Metric, 32)
	c.Collect(metricCh)
	close(metricCh)
	metricCount := 0
	for range metricCh {
		metricCount++
	}
	assert.Equal(t, 13, metricCount)
}
