// Package fulfillment hands paid orders to an optional external fulfillment
// endpoint. With no endpoint configured every call is a no-op.
package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client posts orders as JSON
type Client struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewClient creates a Client for url. An empty url disables fulfillment.
func NewClient(url, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{url: url, token: token, httpClient: httpClient}
}

// Enabled reports whether an endpoint is configured
func (c *Client) Enabled() bool { return c != nil && c.url != "" }

// Submit posts order as JSON. idempotencyKey lets the endpoint drop
// duplicate deliveries of the same event.
func (c *Client) Submit(ctx context.Context, idempotencyKey string, order interface{}) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to submit order: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("fulfillment endpoint returned %d", resp.StatusCode)
	}
	return nil
}
