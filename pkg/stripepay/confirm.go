package stripepay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// ErrMalformedSecret is returned for client secrets without an intent id
var ErrMalformedSecret = errors.New("stripe: malformed client secret")

// Confirmation is the outcome of confirming an intent
type Confirmation struct {
	IntentID string
	Status   string
}

// Confirmer confirms payment intents with the publishable key, the way a
// browser does after mounting the payment element.
type Confirmer struct {
	api           *client.API
	paymentMethod string
	returnURL     string
}

// ConfirmerOptions configure a Confirmer
type ConfirmerOptions struct {
	Options
	// PaymentMethod is the payment method id or test token to charge,
	// e.g. "pm_card_visa" in test mode.
	PaymentMethod string
	ReturnURL     string
}

// NewConfirmer creates a Confirmer for publishableKey
func NewConfirmer(publishableKey string, opts ConfirmerOptions) *Confirmer {
	pm := opts.PaymentMethod
	if pm == "" {
		pm = "pm_card_visa"
	}
	return &Confirmer{
		api:           newAPI(publishableKey, opts.Options),
		paymentMethod: pm,
		returnURL:     opts.ReturnURL,
	}
}

// IntentIDFromSecret returns the "pi_..." prefix of a client secret
func IntentIDFromSecret(secret string) (string, error) {
	idx := strings.Index(secret, "_secret_")
	if idx <= 0 || !strings.HasPrefix(secret, "pi_") {
		return "", ErrMalformedSecret
	}
	return secret[:idx], nil
}

// Confirm confirms the intent behind clientSecret. Statuses other than
// succeeded or processing are reported as errors carrying the provider message.
func (c *Confirmer) Confirm(ctx context.Context, clientSecret string) (*Confirmation, error) {
	id, err := IntentIDFromSecret(clientSecret)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(c.paymentMethod),
	}
	if c.returnURL != "" {
		params.ReturnURL = stripe.String(c.returnURL)
	}
	params.AddExtra("client_secret", clientSecret)
	params.Context = ctx

	pi, err := c.api.PaymentIntents.Confirm(id, params)
	if err != nil {
		return nil, wrapErr(err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
		return &Confirmation{IntentID: pi.ID, Status: string(pi.Status)}, nil
	case stripe.PaymentIntentStatusRequiresAction:
		return nil, &ProviderError{Message: "Additional authentication is required to complete this payment."}
	default:
		msg := fmt.Sprintf("Payment was not completed (status %s).", pi.Status)
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			msg = pi.LastPaymentError.Msg
		}
		return nil, &ProviderError{Message: msg}
	}
}
