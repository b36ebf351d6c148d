package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"
)

const feedHTTPTimeout = 10 * time.Second

// FeedClient fetches price observations from an external feed service that
// publishes (mantissa, exponent) pairs per feed identifier.
type FeedClient struct {
	baseURL    string
	httpClient *http.Client
}

// FeedOption configures a FeedClient.
type FeedOption func(*FeedClient)

// WithFeedHTTPClient injects a custom http.Client.
func WithFeedHTTPClient(hc *http.Client) FeedOption {
	return func(c *FeedClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewFeedClient constructs a feed-service client.
func NewFeedClient(baseURL string, opts ...FeedOption) (*FeedClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("oracle: feed base URL is required")
	}
	client := &FeedClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: feedHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// feedResponse mirrors the feed service wire format.
type feedResponse struct {
	Price struct {
		Price       string `json:"price"`
		Conf        string `json:"conf"`
		Expo        int    `json:"expo"`
		PublishTime int64  `json:"publish_time"`
	} `json:"price"`
}

// FetchFeed retrieves one feed and converts its mantissa/exponent encoding
// to a real price: mantissa * 10^expo. Confidence converts the same way.
func (c *FeedClient) FetchFeed(ctx context.Context, feedID string) (*PriceData, error) {
	if feedID == "" {
		return nil, fmt.Errorf("oracle: feed id is required")
	}
	url := fmt.Sprintf("%s/v2/price/%s", c.baseURL, feedID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: build feed request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("oracle: fetch feed %s: %w", feedID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("oracle: read feed response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("oracle: feed http status %d: %s", resp.StatusCode, string(body))
	}

	var decoded feedResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("oracle: decode feed response: %w", err)
	}
	mantissa, err := strconv.ParseFloat(decoded.Price.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("oracle: invalid feed mantissa %q: %w", decoded.Price.Price, err)
	}
	conf := 0.0
	if decoded.Price.Conf != "" {
		conf, err = strconv.ParseFloat(decoded.Price.Conf, 64)
		if err != nil {
			return nil, fmt.Errorf("oracle: invalid feed confidence %q: %w", decoded.Price.Conf, err)
		}
	}
	scale := math.Pow10(decoded.Price.Expo)
	return &PriceData{
		Price:       mantissa * scale,
		Confidence:  conf * scale,
		Expo:        decoded.Price.Expo,
		PublishTime: time.Unix(decoded.Price.PublishTime, 0),
	}, nil
}
