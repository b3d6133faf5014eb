package checkout

import (
	"context"
	"time"

	"tourmaline.app/pkg/config"
	"tourmaline.app/pkg/logger"
	"tourmaline.app/pkg/metrics"
	"tourmaline.app/pkg/notify"
	"tourmaline.app/pkg/stripepay"
)

// OrderPaidEvent is published for every successful payment
type OrderPaidEvent struct {
	EventID    string   `json:"event_id"`
	EventType  string   `json:"event_type"`
	Reference  string   `json:"reference"`
	Customer   string   `json:"customer"`
	Email      string   `json:"email,omitempty"`
	Amount     int64    `json:"amount"`
	Currency   string   `json:"currency"`
	Items      []string `json:"items"`
	PaidAt     string   `json:"paid_at"`
	ReceivedAt string   `json:"received_at"`
}

// NewOrderPaidEvent builds the event for order received at now
func NewOrderPaidEvent(order stripepay.PaidOrder, now time.Time) *OrderPaidEvent {
	customer := order.Customer
	if customer == "" {
		customer = "Customer"
	}
	items := order.Items
	if items == nil {
		items = []string{}
	}
	return &OrderPaidEvent{
		EventID:    order.EventID,
		EventType:  order.EventType,
		Reference:  order.Reference,
		Customer:   customer,
		Email:      order.Email,
		Amount:     order.Amount,
		Currency:   order.Currency,
		Items:      items,
		PaidAt:     order.CreatedAt.UTC().Format(time.RFC3339),
		ReceivedAt: now.UTC().Format(time.RFC3339),
	}
}

// Notifier sends order summaries. *notify.Client implements it.
type Notifier interface {
	NotifyOrder(ctx context.Context, s notify.Summary) error
}

// Fulfiller hands orders to fulfillment. *fulfillment.Client implements it.
type Fulfiller interface {
	Enabled() bool
	Submit(ctx context.Context, idempotencyKey string, order interface{}) error
}

// Forwarder delivers order-paid events to the push endpoint and, when
// configured, the fulfillment endpoint.
type Forwarder struct {
	settings  func() *config.Settings
	notifier  Notifier
	fulfiller Fulfiller
}

// NewForwarder creates a Forwarder. fulfiller may be nil.
func NewForwarder(settings func() *config.Settings, notifier Notifier, fulfiller Fulfiller) *Forwarder {
	if settings == nil {
		settings = config.GetSettings
	}
	return &Forwarder{settings: settings, notifier: notifier, fulfiller: fulfiller}
}

// Handle forwards evt. Failures are logged and counted but never returned,
// so a broken endpoint does not cause redelivery.
func (f *Forwarder) Handle(ctx context.Context, evt *OrderPaidEvent) error {
	fields := logger.Fields{"event_id": evt.EventID, "reference": evt.Reference}

	if f.settings().NotifyEnabled && f.notifier != nil {
		err := f.notifier.NotifyOrder(ctx, notify.Summary{
			Reference: evt.Reference,
			Customer:  evt.Customer,
			Email:     evt.Email,
			Amount:    evt.Amount,
			Currency:  evt.Currency,
			Items:     evt.Items,
		})
		if err != nil {
			metrics.NotificationsTotal.WithLabelValues("push", "failed").Inc()
			logger.LogError(ctx, err, "order notification failed", fields)
		} else {
			metrics.NotificationsTotal.WithLabelValues("push", "sent").Inc()
		}
	} else {
		metrics.NotificationsTotal.WithLabelValues("push", "disabled").Inc()
	}

	if f.fulfiller != nil && f.fulfiller.Enabled() {
		if err := f.fulfiller.Submit(ctx, evt.EventID, evt); err != nil {
			metrics.NotificationsTotal.WithLabelValues("fulfillment", "failed").Inc()
			logger.LogError(ctx, err, "fulfillment submission failed", fields)
		} else {
			metrics.NotificationsTotal.WithLabelValues("fulfillment", "sent").Inc()
		}
	}
	return nil
}
