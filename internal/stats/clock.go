// Package stats aggregates per-core clock samples taken while a core is
// under load and formats values for reports.
package stats

import (
	"math"

	"github.com/influxdata/tdigest"
)

// ClockSummary is a point-in-time view of a core's clock samples, in MHz.
//
// AvgMHz is the recency-weighted blend avg = (avg + sample) / 2 that the
// tool has always reported; MeanMHz is the arithmetic mean of every sample.
type ClockSummary struct {
	MaxMHz  uint64  `json:"max_mhz"`
	MinMHz  uint64  `json:"min_mhz"`
	AvgMHz  uint64  `json:"avg_mhz"`
	MeanMHz float64 `json:"mean_mhz"`
	P50MHz  float64 `json:"p50_mhz"`
	P05MHz  float64 `json:"p05_mhz"`
	Samples int64   `json:"samples"`
}

// HasSamples reports whether any sample was recorded.
func (s ClockSummary) HasSamples() bool {
	return s.Samples > 0
}

// ClockStats accumulates clock samples. It is not safe for concurrent use;
// the status table serializes access.
type ClockStats struct {
	max   uint64
	min   uint64
	blend uint64
	sum   float64
	count int64

	// ~100 centroids keeps percentile error well under 1 MHz at boost clocks
	digest *tdigest.TDigest
}

// NewClockStats returns empty stats with min at its sentinel.
func NewClockStats() *ClockStats {
	return &ClockStats{
		min:    math.MaxUint64,
		digest: tdigest.NewWithCompression(100),
	}
}

// Add records one sample.
func (c *ClockStats) Add(mhz float64) {
	if mhz < 0 || math.IsNaN(mhz) || math.IsInf(mhz, 0) {
		return
	}
	sample := uint64(math.Round(mhz))

	if sample > c.max {
		c.max = sample
	}
	if sample < c.min {
		c.min = sample
	}
	c.blend = (c.blend + sample) / 2
	c.sum += mhz
	c.count++
	c.digest.Add(mhz, 1)
}

// Summary returns the current aggregates.
func (c *ClockStats) Summary() ClockSummary {
	s := ClockSummary{
		MaxMHz:  c.max,
		MinMHz:  c.min,
		AvgMHz:  c.blend,
		Samples: c.count,
	}
	if c.count > 0 {
		s.MeanMHz = c.sum / float64(c.count)
		s.P50MHz = c.digest.Quantile(0.50)
		s.P05MHz = c.digest.Quantile(0.05)
	}
	return s
}
