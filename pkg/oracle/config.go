package oracle

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stablevault/pkg/ledger"
)

// Canonical series names used by the accounting layer.
const (
	SeriesCollateralUSD = "collateral-usd"
	SeriesPegUSD        = "peg-usd"
)

// SourceSpec configures one tier of a series chain.
type SourceSpec struct {
	Type     string  `yaml:"type"` // contract | feed | fx | static
	FeedID   string  `yaml:"feed_id"`
	Invert   bool    `yaml:"invert"`
	Currency string  `yaml:"currency"`
	Price    float64 `yaml:"price"`
}

// SeriesSpec configures the ordered fallback chain of one price series.
type SeriesSpec struct {
	Sources []SourceSpec `yaml:"sources"`
}

// Config describes the aggregator's sources and timing.
type Config struct {
	FeedURL string                `yaml:"feed_url"`
	FxURL   string                `yaml:"fx_url"`
	Series  map[string]SeriesSpec `yaml:"series"`

	PollIntervalRaw string        `yaml:"poll_interval"`
	PollInterval    time.Duration `yaml:"-"`
	StaleAfterRaw   string        `yaml:"stale_after"`
	StaleAfter      time.Duration `yaml:"-"`
}

// LoadConfig reads oracle configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open oracle config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read oracle config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal oracle config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	c.FeedURL = strings.TrimSpace(os.ExpandEnv(c.FeedURL))
	c.FxURL = strings.TrimSpace(os.ExpandEnv(c.FxURL))
	if c.PollIntervalRaw != "" {
		d, err := time.ParseDuration(c.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("oracle config: invalid poll_interval %q: %w", c.PollIntervalRaw, err)
		}
		c.PollInterval = d
	}
	if c.StaleAfterRaw != "" {
		d, err := time.ParseDuration(c.StaleAfterRaw)
		if err != nil {
			return fmt.Errorf("oracle config: invalid stale_after %q: %w", c.StaleAfterRaw, err)
		}
		c.StaleAfter = d
	}
	return nil
}

// Validate checks chain shapes: every series needs at least one source and
// every source type its required fields.
func (c *Config) Validate() error {
	if len(c.Series) == 0 {
		return fmt.Errorf("oracle config: series cannot be empty")
	}
	for name, spec := range c.Series {
		if len(spec.Sources) == 0 {
			return fmt.Errorf("oracle config: series %s has no sources", name)
		}
		for i, src := range spec.Sources {
			switch strings.ToLower(strings.TrimSpace(src.Type)) {
			case "contract":
			case "feed":
				if src.FeedID == "" {
					return fmt.Errorf("oracle config: series %s source %d: feed requires feed_id", name, i)
				}
				if c.FeedURL == "" {
					return fmt.Errorf("oracle config: feed_url required by series %s", name)
				}
			case "fx":
				if src.Currency == "" {
					return fmt.Errorf("oracle config: series %s source %d: fx requires currency", name, i)
				}
				if c.FxURL == "" {
					return fmt.Errorf("oracle config: fx_url required by series %s", name)
				}
			case "static":
				if src.Price <= 0 {
					return fmt.Errorf("oracle config: series %s source %d: static requires positive price", name, i)
				}
			default:
				return fmt.Errorf("oracle config: series %s source %d: unsupported type %q", name, i, src.Type)
			}
		}
	}
	return nil
}

// BuildDeps carries the capabilities chain construction needs.
type BuildDeps struct {
	Reader             ledger.Reader
	CollateralConfigID string
	HTTPClient         *http.Client
	Clock              func() time.Time
	Logger             *log.Logger
}

// Build assembles the aggregator from configuration.
func (c *Config) Build(deps BuildDeps) (*Aggregator, error) {
	var feedClient *FeedClient
	var fxClient *FxClient
	var err error
	if c.FeedURL != "" {
		opts := []FeedOption{}
		if deps.HTTPClient != nil {
			opts = append(opts, WithFeedHTTPClient(deps.HTTPClient))
		}
		if feedClient, err = NewFeedClient(c.FeedURL, opts...); err != nil {
			return nil, err
		}
	}
	if c.FxURL != "" {
		opts := []FxOption{}
		if deps.HTTPClient != nil {
			opts = append(opts, WithFxHTTPClient(deps.HTTPClient))
		}
		if fxClient, err = NewFxClient(c.FxURL, opts...); err != nil {
			return nil, err
		}
	}

	chains := make(map[string][]Source, len(c.Series))
	for name, spec := range c.Series {
		chain := make([]Source, 0, len(spec.Sources))
		for _, src := range spec.Sources {
			switch strings.ToLower(strings.TrimSpace(src.Type)) {
			case "contract":
				if deps.Reader == nil || deps.CollateralConfigID == "" {
					return nil, fmt.Errorf("oracle config: series %s: contract source needs a ledger reader and collateral config id", name)
				}
				chain = append(chain, NewContractSource(deps.Reader, deps.CollateralConfigID, deps.Clock))
			case "feed":
				chain = append(chain, NewFeedSource(feedClient, src.FeedID, src.Invert))
			case "fx":
				chain = append(chain, NewFxSource(fxClient, src.Currency, deps.Clock))
			case "static":
				chain = append(chain, NewStaticSource(src.Price))
			}
		}
		chains[name] = chain
	}

	opts := []AggregatorOption{}
	if deps.Clock != nil {
		opts = append(opts, WithClock(deps.Clock))
	}
	if deps.Logger != nil {
		opts = append(opts, WithLogger(deps.Logger))
	}
	if c.StaleAfter > 0 {
		opts = append(opts, WithStaleThreshold(c.StaleAfter))
	}
	return NewAggregator(chains, opts...), nil
}
