package storefront

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tourmaline.app/pkg/cart"
	"tourmaline.app/pkg/pricing"
	"tourmaline.app/pkg/stripepay"
)

// maxResponseBytes bounds edge function responses
const maxResponseBytes = 1 << 20

// APIError is a non-2xx answer from the edge function
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("edge function: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("edge function: %d: %s", e.Status, e.Message)
}

// PaymentIntentRequest is the body of POST /create-payment-intent
type PaymentIntentRequest struct {
	Amount         int64               `json:"amount"`
	Currency       string              `json:"currency"`
	Items          []cart.Item         `json:"items"`
	Shipping       *stripepay.Shipping `json:"shipping,omitempty"`
	Email          string              `json:"email,omitempty"`
	IdempotencyKey string              `json:"-"`
}

// PaymentIntentResponse carries the client secret for confirmation
type PaymentIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// CheckoutSessionResponse identifies a hosted checkout session
type CheckoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url,omitempty"`
}

// QuoteRequest is the body of POST /quote
type QuoteRequest struct {
	Items     []pricing.Line    `json:"items"`
	Selection pricing.Selection `json:"selection"`
}

// StockResponse is the answer of GET /stock
type StockResponse struct {
	Stock   int             `json:"stock"`
	Product json.RawMessage `json:"product,omitempty"`
}

// Client talks to the checkout edge function
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for baseURL. A nil httpClient gets a traced
// client with a 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// CreatePaymentIntent asks the edge function for a client secret bound to req.Amount
func (c *Client) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntentResponse, error) {
	headers := http.Header{}
	if req.IdempotencyKey != "" {
		headers.Set("Idempotency-Key", req.IdempotencyKey)
	}
	var out PaymentIntentResponse
	if err := c.do(ctx, http.MethodPost, "/create-payment-intent", headers, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCheckoutSession starts a hosted checkout for items
func (c *Client) CreateCheckoutSession(ctx context.Context, items []cart.Item) (*CheckoutSessionResponse, error) {
	body := struct {
		Items []cart.Item `json:"items"`
	}{Items: items}
	var out CheckoutSessionResponse
	if err := c.do(ctx, http.MethodPost, "/create-checkout-session", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Quote prices items server-side with the store's policy
func (c *Client) Quote(ctx context.Context, items []pricing.Line, sel pricing.Selection) (*pricing.Totals, error) {
	var out pricing.Totals
	if err := c.do(ctx, http.MethodPost, "/quote", nil, QuoteRequest{Items: items, Selection: sel}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stock looks up the stock level of productID
func (c *Client) Stock(ctx context.Context, productID string) (*StockResponse, error) {
	var out StockResponse
	path := "/stock?productId=" + url.QueryEscape(productID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, headers http.Header, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			apiErr.Message = eb.Error
			apiErr.Code = eb.Code
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
