// Package stripepay wraps the Stripe API for the storefront: payment intents,
// hosted checkout sessions, webhook verification and client-side confirmation.
package stripepay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// metadataValueLimit is Stripe's per-value metadata size limit
const metadataValueLimit = 500

// ProviderError carries the message Stripe reported for a failed call
type ProviderError struct {
	Message string
	Code    string
	Status  int
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (%s)", e.Message, e.Code)
	}
	return "stripe: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

// wrapErr converts a stripe-go error into a *ProviderError, keeping the
// provider's human-readable message.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		msg := se.Msg
		if msg == "" {
			msg = string(se.Type)
		}
		return &ProviderError{Message: msg, Code: string(se.Code), Status: se.HTTPStatusCode, Err: err}
	}
	return &ProviderError{Message: err.Error(), Err: err}
}

// Message extracts the user-facing provider message from err
func Message(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Options tune the Stripe client
type Options struct {
	// BaseURL overrides https://api.stripe.com
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func newAPI(key string, opts Options) *client.API {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if opts.BaseURL != "" {
		cfg.URL = stripe.String(strings.TrimRight(opts.BaseURL, "/"))
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	return client.New(key, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
}

// LineSummary is "<name> x<qty>" material for metadata and notifications
type LineSummary struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

func (l LineSummary) String() string {
	return fmt.Sprintf("%s x%d", l.Name, l.Quantity)
}

// Address is a postal address
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Shipping is the ship-to block of a payment intent
type Shipping struct {
	Name    string  `json:"name,omitempty"`
	Phone   string  `json:"phone,omitempty"`
	Address Address `json:"address"`
}

// IntentRequest describes a payment intent to create
type IntentRequest struct {
	Amount         int64
	Currency       string
	Description    string
	Items          []LineSummary
	Shipping       Shipping
	Email          string
	IdempotencyKey string
}

// Intent is the created payment intent
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// SessionItem is one hosted checkout line
type SessionItem struct {
	ProductID  string
	Name       string
	Image      string
	UnitAmount int64
	Quantity   int64
}

// SessionRequest describes a hosted checkout session to create
type SessionRequest struct {
	Currency       string
	Items          []SessionItem
	SuccessURL     string
	CancelURL      string
	ItemsMetadata  string
	IdempotencyKey string
}

// Session is the created hosted checkout session
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// Provider creates intents and sessions with the secret key
type Provider struct {
	api *client.API
}

// NewProvider creates a Provider for secretKey
func NewProvider(secretKey string, opts Options) *Provider {
	return &Provider{api: newAPI(secretKey, opts)}
}

// ItemsMetadata encodes line summaries as a JSON array of "<name> x<qty>"
// strings, trimmed to fit Stripe's metadata limit.
func ItemsMetadata(items []LineSummary) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, it.String())
	}
	for len(lines) > 0 {
		data, _ := json.Marshal(lines)
		if len(data) <= metadataValueLimit {
			return string(data)
		}
		lines = lines[:len(lines)-1]
	}
	return "[]"
}

// Truncate cuts s to Stripe's metadata value limit
func Truncate(s string) string {
	if len(s) <= metadataValueLimit {
		return s
	}
	return s[:metadataValueLimit]
}

// CreatePaymentIntent creates a PaymentIntent with automatic payment methods
func (p *Provider) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Shipping: &stripe.ShippingDetailsParams{
			Name: stripe.String(req.Shipping.Name),
			Address: &stripe.AddressParams{
				Line1:      stripe.String(req.Shipping.Address.Line1),
				City:       stripe.String(req.Shipping.Address.City),
				PostalCode: stripe.String(req.Shipping.Address.PostalCode),
				Country:    stripe.String(req.Shipping.Address.Country),
			},
		},
	}
	if req.Shipping.Address.Line2 != "" {
		params.Shipping.Address.Line2 = stripe.String(req.Shipping.Address.Line2)
	}
	if req.Shipping.Address.State != "" {
		params.Shipping.Address.State = stripe.String(req.Shipping.Address.State)
	}
	if req.Shipping.Phone != "" {
		params.Shipping.Phone = stripe.String(req.Shipping.Phone)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	params.AddMetadata("items", ItemsMetadata(req.Items))
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Amount: pi.Amount, Currency: string(pi.Currency)}, nil
}

// CreateCheckoutSession creates a card-only hosted checkout session in payment mode
func (p *Provider) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	currency := strings.ToLower(req.Currency)
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, it := range req.Items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(it.Name),
		}
		if it.Image != "" {
			product.Images = stripe.StringSlice([]string{it.Image})
		}
		if it.ProductID != "" {
			product.Metadata = map[string]string{"variantId": it.ProductID}
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(it.UnitAmount),
			},
			Quantity: stripe.Int64(it.Quantity),
		})
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:          lineItems,
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
	}
	if req.ItemsMetadata != "" {
		params.AddMetadata("items", Truncate(req.ItemsMetadata))
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &Session{ID: s.ID, URL: s.URL}, nil
}
