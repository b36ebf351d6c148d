package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const fxHTTPTimeout = 10 * time.Second

// FxClient fetches a currency rate table from a generic exchange-rate API.
type FxClient struct {
	url        string
	httpClient *http.Client
}

// FxOption configures an FxClient.
type FxOption func(*FxClient)

// WithFxHTTPClient injects a custom http.Client.
func WithFxHTTPClient(hc *http.Client) FxOption {
	return func(c *FxClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewFxClient constructs an exchange-rate API client.
func NewFxClient(url string, opts ...FxOption) (*FxClient, error) {
	if url == "" {
		return nil, fmt.Errorf("oracle: fx URL is required")
	}
	client := &FxClient{
		url:        url,
		httpClient: &http.Client{Timeout: fxHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type fxResponse struct {
	Rates map[string]float64 `json:"rates"`
}

// FetchRate returns the rate for one currency code, taken directly from the
// table with no exponent conversion.
func (c *FxClient) FetchRate(ctx context.Context, currency string) (float64, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		return 0, fmt.Errorf("oracle: currency code is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, fmt.Errorf("oracle: build fx request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("oracle: fetch rates: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("oracle: read fx response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("oracle: fx http status %d: %s", resp.StatusCode, string(body))
	}

	var decoded fxResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return 0, fmt.Errorf("oracle: decode fx response: %w", err)
	}
	rate, ok := decoded.Rates[code]
	if !ok {
		return 0, fmt.Errorf("oracle: rate table has no entry for %s", code)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("oracle: non-positive rate %v for %s", rate, code)
	}
	return rate, nil
}
