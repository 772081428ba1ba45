// Package client is a typed HTTP client for the capdiff server.
//
// It satisfies backfill.Querier, so a remote dashboard can run the same
// history coordinator the server uses locally:
//
//	c := client.New(client.Config{Endpoint: "http://localhost:8080"})
//	coord, _ := backfill.New(backfill.Config{Querier: c})
//	coord.Rehydrate(ctx, 24)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/capdiff/pkg/sample"
)

// DefaultEndpoint is used when Config.Endpoint is empty
const DefaultEndpoint = "http://localhost:8080"

// Config holds client configuration
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
}

// Client talks to the /v1 API
type Client struct {
	endpoint string
	client   *http.Client
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// New creates a new client
func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   hc,
	}
}

type dataResponse struct {
	Data []sample.Sample `json:"data"`
}

// Recent returns samples newer than now minus hours.
func (c *Client) Recent(ctx context.Context, hours int) ([]sample.Sample, error) {
	q := url.Values{"hours": {strconv.Itoa(hours)}}
	var out dataResponse
	if err := c.do(ctx, http.MethodGet, "/v1/data", q, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Range returns samples with start <= timestamp < end.
func (c *Client) Range(ctx context.Context, start, end time.Time) ([]sample.Sample, error) {
	q := url.Values{
		"start": {start.UTC().Format(time.RFC3339Nano)},
		"end":   {end.UTC().Format(time.RFC3339Nano)},
	}
	var out dataResponse
	if err := c.do(ctx, http.MethodGet, "/v1/data/range", q, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// BackfillPage is one older window returned by the server
type BackfillPage struct {
	Data        []sample.Sample `json:"data"`
	WindowStart string          `json:"window_start"`
	WindowEnd   string          `json:"window_end"`
}

// Backfill asks the server for the window ending just before the given instant.
func (c *Client) Backfill(ctx context.Context, before time.Time) (*BackfillPage, error) {
	q := url.Values{"before": {before.UTC().Format(time.RFC3339Nano)}}
	var out BackfillPage
	if err := c.do(ctx, http.MethodGet, "/v1/backfill", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Latest returns the most recent sample held by the ingestion loop.
func (c *Client) Latest(ctx context.Context) (sample.Sample, error) {
	var out struct {
		Latest sample.Sample `json:"latest"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/market-data", nil, &out); err != nil {
		return sample.Sample{}, err
	}
	return out.Latest, nil
}

// Refresh forces one ingestion cycle and returns its sample.
func (c *Client) Refresh(ctx context.Context) (sample.Sample, error) {
	var out struct {
		Data sample.Sample `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/market-data", nil, &out); err != nil {
		return sample.Sample{}, err
	}
	return out.Data, nil
}

// Reset empties the server's log.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/data", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, out interface{}) error {
	u := c.endpoint + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte("{}"))
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&failure)
		return &StatusError{StatusCode: resp.StatusCode, Message: failure.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
