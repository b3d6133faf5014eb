// Package checkout is the storefront's edge function: payment intents,
// hosted checkout sessions, Stripe webhooks, stock lookups and quotes, with
// every unmatched route falling through to the static site.
package checkout

import (
	"context"
	"net/http"

	"encore.dev/pubsub"

	"tourmaline.app/pkg/config"
	"tourmaline.app/pkg/fulfillment"
	"tourmaline.app/pkg/logger"
	"tourmaline.app/pkg/notify"
	"tourmaline.app/pkg/staticsite"
	"tourmaline.app/pkg/stockapi"
	"tourmaline.app/pkg/stripepay"
)

var secrets struct {
	StripeSecretKey      string
	StripeWebhookSecret  string
	StripePublishableKey string
	NotifyToken          string
	StockAPIKey          string
	FulfillmentToken     string
	GCSCredentialsJSON   string
}

// settings initialises the global config manager on first use, so package
// level values below never see pre-environment defaults. The environment is
// read once; changes take effect on the next deploy.
func settings() *config.Settings {
	return config.Initialize(config.EnvSource{}).GetSettings()
}

// OrderPaid carries every successful payment to the notifier
var OrderPaid = pubsub.NewTopic[*OrderPaidEvent]("order-paid", pubsub.TopicConfig{
	DeliveryGuarantee: pubsub.AtLeastOnce,
})

var limiter = newLimiter(settings())

//encore:service
type Service struct {
	api *API
}

func initService() (*Service, error) {
	ctx := context.Background()
	cfg := settings()

	var static staticsite.Backend = staticsite.Embedded()
	if cfg.StaticBucket != "" {
		b, err := staticsite.NewGCSBackend(ctx, staticsite.GCSConfig{
			Bucket:          cfg.StaticBucket,
			ProjectID:       cfg.StaticProject,
			CredentialsJSON: secrets.GCSCredentialsJSON,
		})
		if err != nil {
			return nil, err
		}
		static = b
	}

	api := NewAPI(Deps{
		Settings:  settings,
		Payments:  stripepay.NewProvider(secrets.StripeSecretKey, stripepay.Options{}),
		Verifier:  stripepay.NewVerifier(secrets.StripeWebhookSecret, 0),
		Publisher: topicPublisher{},
		Stock: stockapi.NewClient(stockapi.Config{
			BaseURL: cfg.StockAPIURL,
			APIKey:  secrets.StockAPIKey,
			Timeout: cfg.StockTimeout,
		}, nil),
		Limiter: limiter,
		Static:  staticsite.NewHandler(static, staticsite.Options{PublishableKey: secrets.StripePublishableKey}),
	})
	logger.Info(ctx, "checkout service initialised", logger.Fields{
		"static_bucket": cfg.StaticBucket,
		"stock_api":     cfg.StockAPIURL != "",
	})
	return &Service{api: api}, nil
}

// topicPublisher publishes to OrderPaid
type topicPublisher struct{}

func (topicPublisher) Publish(ctx context.Context, evt *OrderPaidEvent) (string, error) {
	return OrderPaid.Publish(ctx, evt)
}

var forwarder = NewForwarder(settings,
	notify.NewClient(notify.Config{
		URL:   settings().NotifyURL,
		Token: secrets.NotifyToken,
		Title: settings().NotifyTitle,
	}, nil),
	fulfillment.NewClient(settings().FulfillmentURL, secrets.FulfillmentToken, nil),
)

var _ = pubsub.NewSubscription(OrderPaid, "order-notifier", pubsub.SubscriptionConfig[*OrderPaidEvent]{
	Handler: func(ctx context.Context, evt *OrderPaidEvent) error {
		return forwarder.Handle(ctx, evt)
	},
})

//encore:api public raw method=POST,OPTIONS path=/create-payment-intent
func (s *Service) CreatePaymentIntent(w http.ResponseWriter, req *http.Request) {
	s.api.paymentIntent.ServeHTTP(w, req)
}

//encore:api public raw method=POST,OPTIONS path=/create-checkout-session
func (s *Service) CreateCheckoutSession(w http.ResponseWriter, req *http.Request) {
	s.api.checkoutSession.ServeHTTP(w, req)
}

//encore:api public raw method=POST path=/stripe/webhook
func (s *Service) StripeWebhook(w http.ResponseWriter, req *http.Request) {
	s.api.webhook.ServeHTTP(w, req)
}

//encore:api public raw method=GET,OPTIONS path=/stock
func (s *Service) Stock(w http.ResponseWriter, req *http.Request) {
	s.api.stockLookup.ServeHTTP(w, req)
}

//encore:api public raw method=POST,OPTIONS path=/quote
func (s *Service) Quote(w http.ResponseWriter, req *http.Request) {
	s.api.quote.ServeHTTP(w, req)
}

//encore:api public raw path=/!fallback
func (s *Service) Static(w http.ResponseWriter, req *http.Request) {
	s.api.fallback.ServeHTTP(w, req)
}

// CleanupResponse reports a rate-limit cleanup run
type CleanupResponse struct {
	Remaining int `json:"remaining"`
}

// CleanupRateLimits drops expired rate-limit records. Called by the jobs cron.
//
//encore:api private
func CleanupRateLimits(ctx context.Context) (*CleanupResponse, error) {
	return &CleanupResponse{Remaining: limiter.CleanupExpiredRecords(ctx)}, nil
}
