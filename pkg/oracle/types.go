// Package oracle aggregates price observations from multiple independent
// sources into a single per-series price, degrading through an ordered
// fallback chain instead of failing. Consumers must check the Stale flag;
// the aggregator always returns a number.
package oracle

import (
	"math"
	"time"
)

// DefaultStaleThreshold is the freshness window applied when none is
// configured.
const DefaultStaleThreshold = 5 * time.Minute

// PriceData is one aggregated price observation. It is replaced wholesale on
// every aggregation cycle and never merged with prior values.
type PriceData struct {
	// Price in real units (not base units).
	Price float64
	// Confidence is the one-sigma confidence interval around Price.
	Confidence float64
	// Expo is the decimal scale the source published at.
	Expo int
	// PublishTime is when the source observed the price.
	PublishTime time.Time
	// Source names the tier that produced this observation.
	Source string
	// Stale marks observations older than the freshness window. Set by the
	// aggregator regardless of which tier produced the price.
	Stale bool
}

// Inverted converts an A/B observation into B/A. Confidence propagates via
// first-order error propagation (conf' = conf / price²) and the exponent
// negates. A zero price inverts to a zero, unusable observation.
func (p PriceData) Inverted() PriceData {
	out := p
	if p.Price == 0 || math.IsInf(p.Price, 0) || math.IsNaN(p.Price) {
		out.Price = 0
		out.Confidence = 0
		return out
	}
	out.Price = 1 / p.Price
	out.Confidence = p.Confidence / (p.Price * p.Price)
	out.Expo = -p.Expo
	return out
}

// olderThan reports whether the observation predates now by more than
// threshold.
func (p PriceData) olderThan(now time.Time, threshold time.Duration) bool {
	return now.Sub(p.PublishTime) > threshold
}
