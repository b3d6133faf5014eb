package checkout

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"

	"tourmaline.app/pkg/config"
	"tourmaline.app/pkg/errs"
	"tourmaline.app/pkg/httpx"
	"tourmaline.app/pkg/logger"
	"tourmaline.app/pkg/metrics"
	"tourmaline.app/pkg/middleware"
	"tourmaline.app/pkg/money"
	"tourmaline.app/pkg/pricing"
	"tourmaline.app/pkg/ratelimit"
	"tourmaline.app/pkg/stockapi"
	"tourmaline.app/pkg/stripepay"
)

// maxRequestBytes bounds JSON request bodies
const maxRequestBytes = 64 << 10

// PaymentProvider creates intents and hosted sessions
type PaymentProvider interface {
	CreatePaymentIntent(ctx context.Context, req stripepay.IntentRequest) (*stripepay.Intent, error)
	CreateCheckoutSession(ctx context.Context, req stripepay.SessionRequest) (*stripepay.Session, error)
}

// WebhookVerifier authenticates webhook deliveries
type WebhookVerifier interface {
	Verify(payload []byte, header string) (stripe.Event, error)
}

// OrderPublisher publishes paid orders. The order-paid topic implements it.
type OrderPublisher interface {
	Publish(ctx context.Context, evt *OrderPaidEvent) (string, error)
}

// StockLookup looks up stock levels
type StockLookup interface {
	Lookup(ctx context.Context, productID string) (*stockapi.Result, error)
}

// API holds the edge function's HTTP handlers and their collaborators
type API struct {
	settings  func() *config.Settings
	payments  PaymentProvider
	verifier  WebhookVerifier
	publisher OrderPublisher
	stock     StockLookup
	limiter   *ratelimit.RateLimiter
	static    http.Handler
	now       func() time.Time

	paymentIntent   http.Handler
	checkoutSession http.Handler
	webhook         http.Handler
	stockLookup     http.Handler
	quote           http.Handler
	fallback        http.Handler
}

// Deps are the collaborators of an API
type Deps struct {
	Settings  func() *config.Settings
	Payments  PaymentProvider
	Verifier  WebhookVerifier
	Publisher OrderPublisher
	Stock     StockLookup
	Limiter   *ratelimit.RateLimiter
	Static    http.Handler
}

// NewAPI wires the handlers with the shared middleware chain
func NewAPI(d Deps) *API {
	a := &API{
		settings:  d.Settings,
		payments:  d.Payments,
		verifier:  d.Verifier,
		publisher: d.Publisher,
		stock:     d.Stock,
		limiter:   d.Limiter,
		static:    d.Static,
		now:       time.Now,
	}
	if a.settings == nil {
		a.settings = config.GetSettings
	}
	if a.limiter == nil {
		a.limiter = newLimiter(a.settings())
	}
	if a.static == nil {
		a.static = http.NotFoundHandler()
	}

	api := func(route string, h http.HandlerFunc) http.Handler {
		return middleware.Chain(h,
			middleware.RequestID(),
			middleware.Recovery(),
			middleware.Logging(route),
			middleware.SecurityHeaders(middleware.DefaultSecurityConfig),
			middleware.CORS(a.corsConfig),
		)
	}
	a.paymentIntent = api("/create-payment-intent", a.createPaymentIntent)
	a.checkoutSession = api("/create-checkout-session", a.createCheckoutSession)
	a.webhook = api("/stripe/webhook", a.handleWebhook)
	a.stockLookup = api("/stock", a.lookupStock)
	a.quote = api("/quote", a.computeQuote)
	a.fallback = middleware.Chain(a.static,
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logging("/!fallback"),
		middleware.SecurityHeaders(middleware.StaticSecurityConfig),
	)
	return a
}

func (a *API) corsConfig() middleware.CORSConfig {
	s := a.settings()
	cfg := middleware.DefaultCORSConfig
	if len(s.CORSAllowedOrigins) > 0 {
		cfg.AllowedOrigins = s.CORSAllowedOrigins
	}
	if len(s.CORSAllowedMethods) > 0 {
		cfg.AllowedMethods = s.CORSAllowedMethods
	}
	if len(s.CORSAllowedHeaders) > 0 {
		cfg.AllowedHeaders = s.CORSAllowedHeaders
	}
	if s.CORSMaxAge > 0 {
		cfg.MaxAge = s.CORSMaxAge
	}
	return cfg
}

// Handler returns a mux with every route, for local serving and tests
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/create-payment-intent", a.paymentIntent)
	mux.Handle("/create-checkout-session", a.checkoutSession)
	mux.Handle("/stripe/webhook", a.webhook)
	mux.Handle("/stock", a.stockLookup)
	mux.Handle("/quote", a.quote)
	mux.Handle("/", a.fallback)
	return mux
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method+", OPTIONS")
	httpx.WriteError(w, errs.E(r.Context(), errs.MethodNotAllowed, "Method not allowed"))
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := httpx.DecodeJSON(r, maxRequestBytes, v); err != nil {
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			httpx.WriteError(w, errs.E(r.Context(), errs.PayloadTooLarge, "Request body too large"))
			return false
		}
		httpx.WriteError(w, errs.E(r.Context(), errs.InvalidArgument, "Invalid request body"))
		return false
	}
	return true
}

// ===== Payment intent =====

// LineItem is a cart line as posted by the storefront
type LineItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Image    string          `json:"image,omitempty"`
}

// ShippingInput is the optional ship-to block
type ShippingInput struct {
	Name    string            `json:"name"`
	Phone   string            `json:"phone"`
	Address stripepay.Address `json:"address"`
}

// PaymentIntentRequest is the body of POST /create-payment-intent
type PaymentIntentRequest struct {
	Amount   int64          `json:"amount"`
	Currency string         `json:"currency"`
	Items    []LineItem     `json:"items"`
	Shipping *ShippingInput `json:"shipping,omitempty"`
	Email    string         `json:"email,omitempty"`
}

// PaymentIntentResponse carries the client secret
type PaymentIntentResponse struct {
	ClientSecret       string `json:"clientSecret"`
	LegacyClientSecret string `json:"client_secret"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
}

func summaries(items []LineItem) []stripepay.LineSummary {
	out := make([]stripepay.LineSummary, 0, len(items))
	for _, it := range items {
		out = append(out, stripepay.LineSummary{Name: it.Name, Quantity: it.Quantity})
	}
	return out
}

func (a *API) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if !ratelimit.Check(a.limiter, "create_payment_intent", ratelimit.IPBasedKeyFunc("create_payment_intent"), w, r) {
		metrics.PaymentIntentsTotal.WithLabelValues("rate_limited").Inc()
		return
	}

	var req PaymentIntentRequest
	if !decodeBody(w, r, &req) {
		metrics.PaymentIntentsTotal.WithLabelValues("invalid").Inc()
		return
	}
	if req.Amount <= 0 || req.Items == nil {
		metrics.PaymentIntentsTotal.WithLabelValues("invalid").Inc()
		httpx.WriteError(w, errs.E(ctx, errs.PayInvalidRequest, "Missing payment data"))
		return
	}

	s := a.settings()
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.PaymentsCurrency
	}

	ship := stripepay.Shipping{Name: "Customer", Address: stripepay.Address{Country: s.ShippingCountry}}
	if req.Shipping != nil {
		if n := strings.TrimSpace(req.Shipping.Name); n != "" {
			ship.Name = n
		}
		ship.Phone = strings.TrimSpace(req.Shipping.Phone)
		addr := req.Shipping.Address
		addr.Country = strings.ToUpper(strings.TrimSpace(addr.Country))
		if addr.Country == "" {
			addr.Country = s.ShippingCountry
		}
		ship.Address = addr
	}

	intent, err := a.payments.CreatePaymentIntent(ctx, stripepay.IntentRequest{
		Amount:         req.Amount,
		Currency:       currency,
		Description:    s.PaymentsDescription,
		Items:          summaries(req.Items),
		Shipping:       ship,
		Email:          strings.TrimSpace(req.Email),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		metrics.PaymentIntentsTotal.WithLabelValues("provider_error").Inc()
		logger.Warn(ctx, "payment intent creation failed", logger.Fields{
			"amount":   req.Amount,
			"currency": currency,
			"error":    err.Error(),
		})
		httpx.WriteError(w, errs.E(ctx, errs.PayProviderError, stripepay.Message(err)))
		return
	}

	metrics.PaymentIntentsTotal.WithLabelValues("created").Inc()
	logger.Info(ctx, "payment intent created", logger.Fields{"intent_id": intent.ID, "amount": intent.Amount})
	httpx.WriteJSON(w, http.StatusOK, PaymentIntentResponse{
		ClientSecret:       intent.ClientSecret,
		LegacyClientSecret: intent.ClientSecret,
		Amount:             intent.Amount,
		Currency:           intent.Currency,
	})
}

// ===== Hosted checkout session =====

// CheckoutSessionRequest is the body of POST /create-checkout-session
type CheckoutSessionRequest struct {
	Items []LineItem `json:"items"`
}

// CheckoutSessionResponse identifies the hosted session
type CheckoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url,omitempty"`
}

func (a *API) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req CheckoutSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		metrics.CheckoutSessionsTotal.WithLabelValues("invalid").Inc()
		httpx.WriteError(w, errs.E(ctx, errs.CartEmpty, "No items in cart"))
		return
	}

	s := a.settings()
	origin := strings.TrimRight(s.SiteBaseURL, "/")
	if origin == "" {
		origin = httpx.RequestOrigin(r)
	}

	items := make([]stripepay.SessionItem, 0, len(req.Items))
	for _, it := range req.Items {
		qty := int64(it.Quantity)
		if qty < 1 {
			qty = 1
		}
		items = append(items, stripepay.SessionItem{
			ProductID:  it.ID,
			Name:       it.Name,
			Image:      it.Image,
			UnitAmount: money.ToMinor(it.Price),
			Quantity:   qty,
		})
	}

	session, err := a.payments.CreateCheckoutSession(ctx, stripepay.SessionRequest{
		Currency:       s.PaymentsCurrency,
		Items:          items,
		SuccessURL:     origin + "/?success=true",
		CancelURL:      origin + "/?canceled=true",
		ItemsMetadata:  stripepay.ItemsMetadata(summaries(req.Items)),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues("provider_error").Inc()
		logger.Warn(ctx, "checkout session creation failed", logger.Fields{"error": err.Error()})
		httpx.WriteError(w, errs.E(ctx, errs.PaySessionFailed, "Failed to create session: "+stripepay.Message(err)))
		return
	}

	metrics.CheckoutSessionsTotal.WithLabelValues("created").Inc()
	httpx.WriteJSON(w, http.StatusOK, CheckoutSessionResponse{SessionID: session.ID, URL: session.URL})
}

// ===== Webhook =====

func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	payload, err := httpx.ReadBody(r, a.settings().WebhookMaxBodyBytes)
	if err != nil {
		metrics.WebhookOutcomesTotal.WithLabelValues("invalid_payload").Inc()
		httpx.WriteError(w, errs.E(ctx, errs.PayWebhookInvalidPayload, "Invalid webhook payload"))
		return
	}

	event, err := a.verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		metrics.WebhookOutcomesTotal.WithLabelValues("invalid_signature").Inc()
		logger.Warn(ctx, "webhook signature rejected", logger.Fields{"error": err.Error()})
		httpx.WriteError(w, errs.E(ctx, errs.PayWebhookInvalidSignature, "Invalid signature"))
		return
	}

	order, ok, err := stripepay.PaidOrderFromEvent(event)
	if err != nil {
		metrics.WebhookOutcomesTotal.WithLabelValues("invalid_payload").Inc()
		logger.Warn(ctx, "webhook event undecodable", logger.Fields{"event_id": event.ID, "type": string(event.Type), "error": err.Error()})
		httpx.WriteError(w, errs.E(ctx, errs.PayWebhookInvalidPayload, "Invalid webhook payload"))
		return
	}
	if !ok {
		metrics.WebhookOutcomesTotal.WithLabelValues("ignored").Inc()
		httpx.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	evt := NewOrderPaidEvent(order, a.now())
	if _, err := a.publisher.Publish(ctx, evt); err != nil {
		// acknowledged anyway; notification is best effort
		metrics.WebhookOutcomesTotal.WithLabelValues("publish_failed").Inc()
		logger.LogError(ctx, err, "failed to publish order-paid event", logger.Fields{"event_id": evt.EventID})
	} else {
		metrics.WebhookOutcomesTotal.WithLabelValues("paid").Inc()
		logger.Info(ctx, "order paid", logger.Fields{"event_id": evt.EventID, "reference": evt.Reference, "amount": evt.Amount})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// ===== Stock =====

func (a *API) lookupStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	productID := strings.TrimSpace(r.URL.Query().Get("productId"))
	if productID == "" {
		httpx.WriteError(w, errs.E(ctx, errs.StkMissingProduct, "Missing productId"))
		return
	}

	res, err := a.stock.Lookup(ctx, productID)
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, res)
	case errors.Is(err, stockapi.ErrMissingProduct):
		httpx.WriteError(w, errs.E(ctx, errs.StkMissingProduct, "Missing productId"))
	case errors.Is(err, stockapi.ErrNotFound):
		httpx.WriteError(w, errs.E(ctx, errs.NotFound, "Product not found"))
	case errors.Is(err, stockapi.ErrUnavailable):
		httpx.WriteError(w, errs.E(ctx, errs.StkUnavailable, "Stock service temporarily unavailable"))
	default:
		logger.Warn(ctx, "stock lookup failed", logger.Fields{"product_id": productID, "error": err.Error()})
		httpx.WriteError(w, errs.E(ctx, errs.StkUpstreamFailed, "Failed to fetch stock"))
	}
}

// ===== Quote =====

// QuoteRequest is the body of POST /quote
type QuoteRequest struct {
	Items     []pricing.Line    `json:"items"`
	Selection pricing.Selection `json:"selection"`
}

func (a *API) computeQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req QuoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	method, err := pricing.ParseMethod(string(req.Selection.Method))
	if err != nil {
		httpx.WriteError(w, errs.E(ctx, errs.ValidationFailed, err.Error()))
		return
	}
	req.Selection.Method = method
	totals := pricing.ComputeTotals(req.Items, req.Selection, pricing.PolicyFromSettings(a.settings()))
	httpx.WriteJSON(w, http.StatusOK, totals)
}
