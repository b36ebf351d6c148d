package oracle

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configReader(yaml string) io.Reader { return strings.NewReader(yaml) }

func TestPoller(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &countingSource{name: "feed", data: &PriceData{Price: 2.0, PublishTime: now, Source: "feed"}}
	agg := NewAggregator(map[string][]Source{
		SeriesCollateralUSD: {source},
	}, WithClock(func() time.Time { return now }), WithLogger(quietLogger()))

	poller := NewPoller(agg, time.Hour)
	defer poller.Stop()

	_, ok := poller.Latest(SeriesCollateralUSD)
	assert.False(t, ok, "no observation before Start")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)

	// Start runs the first cycle synchronously.
	data, ok := poller.Latest(SeriesCollateralUSD)
	require.True(t, ok)
	assert.Equal(t, 2.0, data.Price)
	assert.Equal(t, 1, source.calls)
}

func TestLoadConfigFromReader(t *testing.T) {
	t.Run("full_chain", func(t *testing.T) {
		cfg, err := LoadConfigFromReader(configReader(`
feed_url: https://feeds.example.com
fx_url: https://fx.example.com/latest
poll_interval: 30s
stale_after: 5m
series:
  collateral-usd:
    sources:
      - type: contract
      - type: feed
        feed_id: "0xcoll"
      - type: static
        price: 3.5
  peg-usd:
    sources:
      - type: feed
        feed_id: "0xpeg"
        invert: true
      - type: fx
        currency: USD
      - type: static
        price: 1.0
`))
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, cfg.PollInterval)
		assert.Equal(t, 5*time.Minute, cfg.StaleAfter)
		assert.Len(t, cfg.Series[SeriesPegUSD].Sources, 3)
		assert.True(t, cfg.Series[SeriesPegUSD].Sources[0].Invert)
	})

	t.Run("rejects_feed_without_id", func(t *testing.T) {
		_, err := LoadConfigFromReader(configReader(`
feed_url: https://feeds.example.com
series:
  peg-usd:
    sources:
      - type: feed
`))
		assert.ErrorContains(t, err, "feed requires feed_id")
	})

	t.Run("rejects_empty_series", func(t *testing.T) {
		_, err := LoadConfigFromReader(configReader(`series: {}`))
		assert.ErrorContains(t, err, "series cannot be empty")
	})
}
