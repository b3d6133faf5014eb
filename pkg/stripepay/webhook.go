package stripepay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrInvalidSignature is returned when a webhook payload fails verification
var ErrInvalidSignature = errors.New("stripe webhook: invalid signature")

// Verifier checks Stripe-Signature headers against the endpoint secret
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier creates a Verifier. A zero tolerance uses Stripe's default of five minutes.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}
}

// Verify authenticates payload and decodes the event. Any verification
// failure is reported as ErrInvalidSignature.
func (v *Verifier) Verify(payload []byte, header string) (stripe.Event, error) {
	if v.secret == "" || header == "" {
		return stripe.Event{}, ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// PaidOrder is the provider-neutral view of a completed payment
type PaidOrder struct {
	EventID   string
	EventType string
	Reference string
	Customer  string
	Email     string
	Amount    int64
	Currency  string
	Items     []string
	CreatedAt time.Time
}

// Paid event types
const (
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventCheckoutSessionCompleted = "checkout.session.completed"
)

// PaidOrderFromEvent extracts a PaidOrder from payment_intent.succeeded and
// checkout.session.completed events. ok is false for every other event type.
func PaidOrderFromEvent(event stripe.Event) (order PaidOrder, ok bool, err error) {
	if event.Data == nil {
		return PaidOrder{}, false, nil
	}
	order = PaidOrder{
		EventID:   event.ID,
		EventType: string(event.Type),
		CreatedAt: time.Unix(event.Created, 0).UTC(),
	}

	switch string(event.Type) {
	case EventPaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return PaidOrder{}, false, fmt.Errorf("decode payment intent: %w", err)
		}
		order.Reference = pi.ID
		order.Amount = pi.AmountReceived
		if order.Amount == 0 {
			order.Amount = pi.Amount
		}
		order.Currency = string(pi.Currency)
		order.Email = pi.ReceiptEmail
		if pi.Shipping != nil {
			order.Customer = pi.Shipping.Name
		}
		order.Items = ParseItemsMetadata(pi.Metadata["items"])
		return order, true, nil

	case EventCheckoutSessionCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return PaidOrder{}, false, fmt.Errorf("decode checkout session: %w", err)
		}
		order.Reference = s.ID
		order.Amount = s.AmountTotal
		order.Currency = string(s.Currency)
		if s.CustomerDetails != nil {
			order.Customer = s.CustomerDetails.Name
			order.Email = s.CustomerDetails.Email
		}
		order.Items = ParseItemsMetadata(s.Metadata["items"])
		return order, true, nil
	}
	return PaidOrder{}, false, nil
}

// ParseItemsMetadata reads the "items" metadata written at creation time:
// either a JSON array of "<name> x<qty>" strings, a JSON array of cart
// items, or a plain comma separated list.
func ParseItemsMetadata(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var lines []string
	if err := json.Unmarshal([]byte(raw), &lines); err == nil {
		return lines
	}

	var items []LineSummary
	if err := json.Unmarshal([]byte(raw), &items); err == nil {
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, it.String())
		}
		return out
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
