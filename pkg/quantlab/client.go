// Package quantlab is the Go SDK for the quantlab-server HTTP API. It holds
// the wire types shared by the server and its clients.
package quantlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides a Go SDK for interacting with the quantlab-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new quantlab API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int
	Body       ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Kind != "" {
		return fmt.Sprintf("quantlab: %d %s: %s", e.StatusCode, e.Body.Kind, e.Body.Error)
	}
	return fmt.Sprintf("quantlab: %d: %s", e.StatusCode, e.Body.Error)
}

// Optimize requests the maximum-Sharpe allocation for a basket of tickers.
func (c *Client) Optimize(ctx context.Context, req OptimizeRequest) (*OptimizeResponse, error) {
	var out OptimizeResponse
	if err := c.do(ctx, http.MethodPost, "/api/optimize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Backtest runs a strategy over one ticker's history.
func (c *Client) Backtest(ctx context.Context, req BacktestRequest) (*BacktestResponse, error) {
	var out BacktestResponse
	if err := c.do(ctx, http.MethodPost, "/api/backtest", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListStrategies returns the built-in and custom strategies.
func (c *Client) ListStrategies(ctx context.Context) ([]Strategy, error) {
	var out StrategyList
	if err := c.do(ctx, http.MethodGet, "/api/strategies", nil, &out); err != nil {
		return nil, err
	}
	return out.Strategies, nil
}

// GetStrategy returns one strategy by ID.
func (c *Client) GetStrategy(ctx context.Context, id string) (*Strategy, error) {
	var out Strategy
	if err := c.do(ctx, http.MethodGet, "/api/strategies/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateStrategy saves a new custom strategy.
func (c *Client) CreateStrategy(ctx context.Context, req CreateStrategyRequest) (*Strategy, error) {
	var out Strategy
	if err := c.do(ctx, http.MethodPost, "/api/strategies", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteStrategy removes a custom strategy.
func (c *Client) DeleteStrategy(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/strategies/"+url.PathEscape(id), nil, nil)
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if json.Unmarshal(data, &apiErr.Body) != nil || apiErr.Body.Error == "" {
			apiErr.Body.Error = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}
