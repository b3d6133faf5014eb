// Package notify forwards order summaries to a push-notification endpoint
// (ntfy-style: plain-text body, Title header, optional bearer token).
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tourmaline.app/pkg/logger"
	"tourmaline.app/pkg/templates"
)

// ErrNotConfigured is returned when no endpoint URL is set
var ErrNotConfigured = errors.New("notify: endpoint not configured")

// Config holds push endpoint configuration
type Config struct {
	URL     string
	Token   string
	Title   string
	DevMode bool // log instead of sending
	Timeout time.Duration
}

// Summary is the order data rendered into a notification
type Summary struct {
	Reference string
	Customer  string
	Email     string
	Amount    int64
	Currency  string
	Items     []string
}

// Client posts notifications
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a push client. A nil httpClient gets a traced client
// using config.Timeout (10 seconds by default).
func NewClient(config Config, httpClient *http.Client) *Client {
	if config.Title == "" {
		config.Title = "New Tourmaline order"
	}
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{config: config, httpClient: httpClient}
}

// Render formats s with the order-paid template
func (c *Client) Render(s Summary) (title, body string, err error) {
	return templates.RenderTemplate("order-paid", templates.TemplateData{
		"Title":     c.config.Title,
		"Reference": s.Reference,
		"Customer":  s.Customer,
		"Email":     s.Email,
		"Amount":    s.Amount,
		"Currency":  s.Currency,
		"Items":     s.Items,
	})
}

// NotifyOrder renders s and sends it
func (c *Client) NotifyOrder(ctx context.Context, s Summary) error {
	title, body, err := c.Render(s)
	if err != nil {
		return fmt.Errorf("render order summary: %w", err)
	}
	return c.Send(ctx, title, body)
}

// Send posts body as text/plain with a Title header
func (c *Client) Send(ctx context.Context, title, body string) error {
	if c.config.DevMode {
		logger.Info(ctx, "[DEV MODE] push notification", logger.Fields{"title": title, "body": body})
		return nil
	}
	if c.config.URL == "" {
		return ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", title)
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
