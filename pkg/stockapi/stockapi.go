// Package stockapi proxies product stock lookups to the external stock API
// behind a circuit breaker. Identical concurrent lookups share one upstream call.
package stockapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"tourmaline.app/pkg/metrics"
)

var (
	ErrMissingProduct = errors.New("stock: product id is required")
	ErrNotFound       = errors.New("stock: product not found")
	ErrUpstream       = errors.New("stock: upstream request failed")
	ErrUnavailable    = errors.New("stock: service temporarily unavailable")
)

// Result is the upstream answer
type Result struct {
	Stock   int             `json:"stock"`
	Product json.RawMessage `json:"product,omitempty"`
}

// Config configures the stock client
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// FailureThreshold consecutive failures open the breaker
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing
	OpenTimeout time.Duration
}

// Client looks up stock levels
type Client struct {
	config     Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*Result]
	group      singleflight.Group
}

// NewClient creates a stock client. A nil httpClient gets a traced client
// using config.Timeout.
func NewClient(config Config, httpClient *http.Client) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	threshold := config.FailureThreshold
	return &Client{
		config:     config,
		httpClient: httpClient,
		breaker: gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
			Name:        "stock-api",
			MaxRequests: 1,
			Timeout:     config.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			// a missing product is an answer, not an outage
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNotFound)
			},
		}),
	}
}

// BreakerState reports the breaker state, e.g. "closed" or "open"
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// Lookup returns the stock of productID
func (c *Client) Lookup(ctx context.Context, productID string) (*Result, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, ErrMissingProduct
	}

	// the shared call is not tied to whichever caller started it
	ch := c.group.DoChan(productID, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.Timeout)
		defer cancel()
		return c.breaker.Execute(func() (*Result, error) {
			return c.fetch(fctx, productID)
		})
	})
	var v interface{}
	var err error
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	switch {
	case err == nil:
		metrics.StockLookupsTotal.WithLabelValues("ok").Inc()
		return v.(*Result), nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.StockLookupsTotal.WithLabelValues("breaker_open").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	case errors.Is(err, ErrNotFound):
		metrics.StockLookupsTotal.WithLabelValues("not_found").Inc()
		return nil, err
	default:
		metrics.StockLookupsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
}

func (c *Client) fetch(ctx context.Context, productID string) (*Result, error) {
	if c.config.BaseURL == "" {
		return nil, fmt.Errorf("%w: stock API URL not configured", ErrUpstream)
	}
	start := time.Now()
	defer func() { metrics.StockLookupLatencySeconds.Observe(time.Since(start).Seconds()) }()

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/" + url.PathEscape(productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var out Result
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}
	return &out, nil
}
