// Package jsonrpc implements the ledger read and write capabilities over a
// JSON-RPC 2.0 HTTP endpoint.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"stablevault/pkg/ledger"
)

const (
	defaultHTTPTimeout      = 10 * time.Second
	defaultMaxRetries       = 3
	defaultRetryBackoffBase = 150 * time.Millisecond
)

// Client talks JSON-RPC to a ledger full node. It satisfies both
// ledger.Reader and ledger.Writer.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	logger     *log.Logger
	limiter    *rate.Limiter
	nextID     atomic.Int64
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxRetries adjusts how many times read requests are retried.
func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
	}
}

// WithLogger injects a custom logger (defaults to log.Default()).
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// NewClient constructs a JSON-RPC ledger client.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("jsonrpc: base URL is required")
	}
	client := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries: defaultMaxRetries,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if client.logger == nil {
		client.logger = log.Default()
	}
	return client, nil
}

func init() {
	ledger.RegisterClient("jsonrpc", func(cfg *ledger.Config) (ledger.Reader, error) {
		opts := []Option{}
		if cfg.Timeout > 0 {
			opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		if cfg.RateLimit > 0 {
			opts = append(opts, WithRateLimit(cfg.RateLimit))
		}
		return NewClient(cfg.RPCURL, opts...)
	})
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// call posts one JSON-RPC request with retry and exponential backoff.
// RPC-level errors are terminal; transport and 5xx errors are retried.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("jsonrpc: encode request: %w", err)
	}

	var lastErr error
	backoff := defaultRetryBackoffBase
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("jsonrpc: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				lastErr = fmt.Errorf("jsonrpc: read response: %w", readErr)
			} else if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				lastErr = fmt.Errorf("jsonrpc: http status %d: %s", resp.StatusCode, string(body))
			} else {
				var rpcResp rpcResponse
				if err := json.Unmarshal(body, &rpcResp); err != nil {
					return fmt.Errorf("jsonrpc: decode response: %w", err)
				}
				if rpcResp.Error != nil {
					return fmt.Errorf("jsonrpc: %s failed: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
				}
				if result != nil {
					if err := json.Unmarshal(rpcResp.Result, result); err != nil {
						return fmt.Errorf("jsonrpc: decode %s result: %w", method, err)
					}
				}
				return nil
			}
		}

		if attempt < c.maxRetries {
			c.logger.Printf("jsonrpc: %s attempt %d failed: %v", method, attempt+1, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("jsonrpc: %s failed", method)
}

// GetObject fetches a single object by id.
func (c *Client) GetObject(ctx context.Context, id string) (*ledger.Object, error) {
	if id == "" {
		return nil, fmt.Errorf("jsonrpc: object id is required")
	}
	var out objectDTO
	if err := c.call(ctx, "state_getObject", []any{id}, &out); err != nil {
		return nil, err
	}
	obj := out.toObject()
	return &obj, nil
}

// GetOwnedObjects lists objects owned by an address filtered by type tag.
func (c *Client) GetOwnedObjects(ctx context.Context, owner, structType string) ([]ledger.Object, error) {
	if owner == "" {
		return nil, fmt.Errorf("jsonrpc: owner is required")
	}
	var out []objectDTO
	if err := c.call(ctx, "state_getOwnedObjects", []any{owner, structType}, &out); err != nil {
		return nil, err
	}
	objects := make([]ledger.Object, 0, len(out))
	for _, dto := range out {
		objects = append(objects, dto.toObject())
	}
	return objects, nil
}

// GetCoins lists fungible holdings of one asset type.
func (c *Client) GetCoins(ctx context.Context, owner, coinType string) ([]ledger.Coin, error) {
	if owner == "" {
		return nil, fmt.Errorf("jsonrpc: owner is required")
	}
	var out []coinDTO
	if err := c.call(ctx, "state_getCoins", []any{owner, coinType}, &out); err != nil {
		return nil, err
	}
	coins := make([]ledger.Coin, 0, len(out))
	for _, dto := range out {
		coin, err := dto.toCoin()
		if err != nil {
			return nil, err
		}
		coins = append(coins, coin)
	}
	return coins, nil
}

// Submit executes a signed call. Submission is never retried: a transport
// failure after the node accepted the call could otherwise double-apply it.
func (c *Client) Submit(ctx context.Context, signed *ledger.SignedCall) (*ledger.TxResult, error) {
	if signed == nil || signed.Call == nil {
		return nil, fmt.Errorf("jsonrpc: signed call is required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "tx_submitCall",
		Params:  []any{signed},
	})
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: encode submit request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("jsonrpc: read submit response: %w", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("jsonrpc: submit http status %d: %s", resp.StatusCode, string(body))
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("jsonrpc: decode submit response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("jsonrpc: submit failed: %s (code %d)", rpcResp.Error.Message, rpcResp.Error.Code)
	}
	var result ledger.TxResult
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return nil, fmt.Errorf("jsonrpc: decode submit result: %w", err)
	}
	return &result, nil
}
