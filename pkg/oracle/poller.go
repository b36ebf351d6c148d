package oracle

import (
	"context"
	"sync"
	"time"
)

// DefaultPollInterval drives the periodic refresh when none is configured.
const DefaultPollInterval = 30 * time.Second

// Poller refreshes every configured series on a fixed interval and keeps the
// latest observation per series. The first cycle runs eagerly on Start so
// consumers never wait a full interval for an initial price.
type Poller struct {
	aggregator *Aggregator
	interval   time.Duration

	mu     sync.RWMutex
	latest map[string]PriceData

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewPoller constructs a poller over the aggregator's series.
func NewPoller(aggregator *Aggregator, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		aggregator: aggregator,
		interval:   interval,
		latest:     make(map[string]PriceData),
		stopped:    make(chan struct{}),
	}
}

// Start begins polling. It performs one eager refresh synchronously, then
// refreshes in the background until the context is cancelled or Stop is
// called.
func (p *Poller) Start(ctx context.Context) {
	p.refreshAll(ctx)
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopped:
				return
			case <-ticker.C:
				p.refreshAll(ctx)
			}
		}
	}()
}

// Stop halts background polling. Safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopped) })
}

// Latest returns the most recent observation for a series.
func (p *Poller) Latest(series string) (PriceData, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, ok := p.latest[series]
	return data, ok
}

func (p *Poller) refreshAll(ctx context.Context) {
	for _, series := range p.aggregator.Series() {
		data := p.aggregator.Fetch(ctx, series)
		p.mu.Lock()
		p.latest[series] = data
		p.mu.Unlock()
	}
}
