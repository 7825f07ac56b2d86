package providermetrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecord_AggregatesPerModelPerWindow(t *testing.T) {
	now := time.Now()
	c := NewCollector(WithNow(func() time.Time { return now }))
	c.Record(Sample{ModelID: "m1", ProviderID: "p1", LatencyMs: 100, CostUSD: 0.01, Success: true, Timestamp: now})
	c.Record(Sample{ModelID: "m1", ProviderID: "p1", LatencyMs: 200, CostUSD: 0.02, Success: false, Timestamp: now})

	summary := c.Summary()
	aggs := summary["1h"]
	assert.Len(t, aggs, 1)
	assert.Equal(t, 2, aggs[0].RequestCount)
	assert.Equal(t, 1, aggs[0].ErrorCount)
	assert.InDelta(t, 0.5, aggs[0].ErrorRate, 1e-9)
	assert.InDelta(t, 150, aggs[0].AvgLatencyMs, 1e-9)
}

func TestSummary_ExcludesSamplesOutsideWindow(t *testing.T) {
	now := time.Now()
	c := NewCollector(WithNow(func() time.Time { return now }))
	c.Record(Sample{ModelID: "m1", LatencyMs: 50, Success: true, Timestamp: now.Add(-2 * time.Minute)})

	summary := c.Summary()
	assert.Empty(t, summary["1m"])
	assert.Len(t, summary["5m"], 1)
}

func TestRingBuffer_EvictsOldestPastCapacity(t *testing.T) {
	now := time.Now()
	c := NewCollector(WithCapacity(3), WithNow(func() time.Time { return now }))
	for i := 0; i < 5; i++ {
		c.Record(Sample{ModelID: "m1", LatencyMs: float64(i), Success: true, Timestamp: now})
	}
	assert.Equal(t, 3, c.SampleCount())
}

func TestPercentiles_ComputedFromSortedLatencies(t *testing.T) {
	now := time.Now()
	c := NewCollector(WithNow(func() time.Time { return now }))
	for i := 1; i <= 100; i++ {
		c.Record(Sample{ModelID: "m1", LatencyMs: float64(i), Success: true, Timestamp: now})
	}
	aggs := c.Summary()["1h"]
	assert.Len(t, aggs, 1)
	assert.InDelta(t, 51, aggs[0].P50LatencyMs, 1)
	assert.InDelta(t, 96, aggs[0].P95LatencyMs, 1)
	assert.InDelta(t, 100, aggs[0].P99LatencyMs, 1)
}

func TestWinRates_ShareOfSuccessfulRequests(t *testing.T) {
	now := time.Now()
	c := NewCollector(WithNow(func() time.Time { return now }))
	for i := 0; i < 8; i++ {
		c.Record(Sample{ModelID: "good", Success: true, Timestamp: now})
	}
	for i := 0; i < 2; i++ {
		c.Record(Sample{ModelID: "bad", Success: false, Timestamp: now})
	}
	rates := c.WinRates("1h")
	assert.InDelta(t, 0.8, rates["good"], 1e-9)
	assert.InDelta(t, 0.0, rates["bad"], 1e-9)
}

func TestCostPerformanceCurve_ReturnsOnePointPerModel(t *testing.T) {
	now := time.Now()
	c := NewCollector(WithNow(func() time.Time { return now }))
	c.Record(Sample{ModelID: "m1", CostUSD: 0.01, LatencyMs: 100, Success: true, Timestamp: now})
	c.Record(Sample{ModelID: "m2", CostUSD: 0.05, LatencyMs: 300, Success: true, Timestamp: now})

	curve := c.CostPerformanceCurve("1h")
	assert.Len(t, curve, 2)
}

func TestDetectAnomalies_FlagsCostSpike(t *testing.T) {
	now := time.Now()
	clock := now
	c := NewCollector(WithNow(func() time.Time { return clock }))

	// Baseline: 20 cheap, fast, successful requests in the 24h window.
	for i := 0; i < 20; i++ {
		c.Record(Sample{ModelID: "m1", CostUSD: 0.01, LatencyMs: 100, Success: true, Timestamp: now.Add(-10 * time.Minute)})
	}
	// Recent: cost spikes > 2x baseline within the 1m window.
	c.Record(Sample{ModelID: "m1", CostUSD: 0.05, LatencyMs: 100, Success: true, Timestamp: now})

	anomalies := c.DetectAnomalies("1m", "24h")
	found := false
	for _, a := range anomalies {
		if a.ModelID == "m1" && a.Reason == "cost exceeds 2x baseline" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDetectAnomalies_SuppressedBelowMinBaselineSamples(t *testing.T) {
	now := time.Now()
	c := NewCollector(WithNow(func() time.Time { return now }))
	for i := 0; i < 3; i++ {
		c.Record(Sample{ModelID: "m1", CostUSD: 0.01, Success: true, Timestamp: now.Add(-10 * time.Minute)})
	}
	c.Record(Sample{ModelID: "m1", CostUSD: 1.0, Success: true, Timestamp: now})

	anomalies := c.DetectAnomalies("1m", "24h")
	assert.Empty(t, anomalies)
}
