package oracle

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"stablevault/pkg/ledger"
)

// Source is one tier of a price-series fallback chain.
type Source interface {
	// Name identifies the source in logs and PriceData.Source.
	Name() string
	// Fetch returns an observation or an error; errors make the aggregator
	// fall through to the next tier.
	Fetch(ctx context.Context) (*PriceData, error)
}

// ContractSource reads the protocol-governed reference price embedded in the
// collateral configuration object. When present it is authoritative and no
// fallback is consulted.
type ContractSource struct {
	reader   ledger.Reader
	objectID string
	clock    func() time.Time
}

// NewContractSource constructs the primary, ledger-backed source.
func NewContractSource(reader ledger.Reader, collateralConfigID string, clock func() time.Time) *ContractSource {
	if clock == nil {
		clock = time.Now
	}
	return &ContractSource{reader: reader, objectID: collateralConfigID, clock: clock}
}

func (s *ContractSource) Name() string { return "contract" }

// Fetch reads the reference price fields from the collateral config object.
func (s *ContractSource) Fetch(ctx context.Context) (*PriceData, error) {
	obj, err := s.reader.GetObject(ctx, s.objectID)
	if err != nil {
		return nil, fmt.Errorf("oracle: read collateral config: %w", err)
	}
	mantissa, err := fieldUint(obj.Fields, "reference_price")
	if err != nil {
		return nil, err
	}
	if mantissa == 0 {
		return nil, fmt.Errorf("oracle: collateral config has no reference price")
	}
	expo, err := fieldInt(obj.Fields, "reference_price_expo")
	if err != nil {
		return nil, err
	}
	updatedMs, err := fieldUint(obj.Fields, "price_updated_at_ms")
	if err != nil {
		return nil, err
	}
	return &PriceData{
		Price:       float64(mantissa) * math.Pow10(expo),
		Confidence:  0,
		Expo:        expo,
		PublishTime: time.UnixMilli(int64(updatedMs)),
		Source:      s.Name(),
	}, nil
}

// FeedSource queries an external price-feed service by feed identifier.
type FeedSource struct {
	client *FeedClient
	feedID string
	invert bool
}

// NewFeedSource constructs the secondary, feed-service-backed source. When
// invert is set the published rate is flipped before use.
func NewFeedSource(client *FeedClient, feedID string, invert bool) *FeedSource {
	return &FeedSource{client: client, feedID: feedID, invert: invert}
}

func (s *FeedSource) Name() string { return "feed" }

func (s *FeedSource) Fetch(ctx context.Context) (*PriceData, error) {
	data, err := s.client.FetchFeed(ctx, s.feedID)
	if err != nil {
		return nil, err
	}
	data.Source = s.Name()
	if s.invert {
		inverted := data.Inverted()
		if inverted.Price == 0 {
			return nil, fmt.Errorf("oracle: feed %s published zero price, cannot invert", s.feedID)
		}
		return &inverted, nil
	}
	return data, nil
}

// FxSource queries a generic currency-exchange-rate API and takes the
// relevant rate directly, with no exponent conversion. Used as the tertiary
// tier for the peg series only.
type FxSource struct {
	client   *FxClient
	currency string
	clock    func() time.Time
}

// NewFxSource constructs the exchange-rate-API source.
func NewFxSource(client *FxClient, currency string, clock func() time.Time) *FxSource {
	if clock == nil {
		clock = time.Now
	}
	return &FxSource{client: client, currency: currency, clock: clock}
}

func (s *FxSource) Name() string { return "fx" }

func (s *FxSource) Fetch(ctx context.Context) (*PriceData, error) {
	rate, err := s.client.FetchRate(ctx, s.currency)
	if err != nil {
		return nil, err
	}
	return &PriceData{
		Price:       rate,
		Confidence:  0,
		Expo:        0,
		PublishTime: s.clock(),
		Source:      s.Name(),
	}, nil
}

// StaticSource is the final fallback: a configured constant, always marked
// stale, used only so dependent calculations never operate on an absent
// value.
type StaticSource struct {
	price float64
}

// NewStaticSource constructs the constant fallback source.
func NewStaticSource(price float64) *StaticSource {
	return &StaticSource{price: price}
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Fetch(ctx context.Context) (*PriceData, error) {
	return &PriceData{
		Price:  s.price,
		Expo:   0,
		Source: s.Name(),
		Stale:  true,
	}, nil
}

func fieldUint(fields map[string]any, key string) (uint64, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("oracle: field %s missing", key)
	}
	switch v := raw.(type) {
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("oracle: field %s: %w", key, err)
		}
		return parsed, nil
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("oracle: field %s negative", key)
		}
		return uint64(v), nil
	default:
		return 0, fmt.Errorf("oracle: field %s has unexpected type %T", key, raw)
	}
}

func fieldInt(fields map[string]any, key string) (int, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("oracle: field %s missing", key)
	}
	switch v := raw.(type) {
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("oracle: field %s: %w", key, err)
		}
		return parsed, nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("oracle: field %s has unexpected type %T", key, raw)
	}
}
