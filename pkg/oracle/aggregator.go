package oracle

import (
	"context"
	"log"
	"time"
)

// Aggregator resolves each price series through an ordered fallback chain.
// Fetch never fails: when every tier errors the chain's static tail still
// yields a stale constant, so dependent risk calculations always have a
// number to work with.
type Aggregator struct {
	chains         map[string][]Source
	staleThreshold time.Duration
	clock          func() time.Time
	logger         *log.Logger
}

// AggregatorOption customises an Aggregator.
type AggregatorOption func(*Aggregator)

// WithClock overrides the time source (primarily for staleness tests).
func WithClock(clock func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithLogger attaches a custom logger (defaults to log.Default()).
func WithLogger(logger *log.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithStaleThreshold overrides the freshness window.
func WithStaleThreshold(threshold time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if threshold > 0 {
			a.staleThreshold = threshold
		}
	}
}

// NewAggregator constructs an aggregator over per-series source chains.
// Each chain is tried in order with early exit on first success.
func NewAggregator(chains map[string][]Source, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		chains:         chains,
		staleThreshold: DefaultStaleThreshold,
		clock:          time.Now,
		logger:         log.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Series lists the configured series names.
func (a *Aggregator) Series() []string {
	out := make([]string, 0, len(a.chains))
	for name := range a.chains {
		out = append(out, name)
	}
	return out
}

// Fetch resolves one series. A tier that fails is logged and skipped; the
// first tier that succeeds wins outright and later tiers are not consulted.
func (a *Aggregator) Fetch(ctx context.Context, series string) PriceData {
	now := a.clock()
	for _, source := range a.chains[series] {
		data, err := source.Fetch(ctx)
		if err != nil {
			a.logger.Printf("oracle: series %s source %s failed: %v", series, source.Name(), err)
			continue
		}
		// Staleness is independent of which tier produced the price. The
		// static tail pre-marks itself stale.
		if !data.Stale {
			data.Stale = data.olderThan(now, a.staleThreshold)
		}
		return *data
	}
	a.logger.Printf("oracle: series %s exhausted all sources", series)
	return PriceData{Source: "none", Stale: true, PublishTime: now}
}
