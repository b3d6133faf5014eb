// Package storefront drives the checkout page: it owns the cart value, keeps
// the payment session in step with the displayed total and renders an
// idempotent view model for whatever front end sits on top.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tourmaline.app/pkg/cart"
	"tourmaline.app/pkg/logger"
	"tourmaline.app/pkg/money"
	"tourmaline.app/pkg/pricing"
	"tourmaline.app/pkg/stripepay"
)

// User-visible messages
const (
	EmptyCartMessage = "Your cart is empty. Shop now!"
	ConfirmedMessage = "Payment successful! Order confirmed, check your email."
	ProcessingLabel  = "Processing..."
	genericFailure   = "Network error, please try again."
)

var (
	// ErrNotReady is returned by Submit while a payment is in flight or after it succeeded
	ErrNotReady = errors.New("storefront: checkout not ready")
	// ErrEmptyCart is returned by Submit with nothing to pay for
	ErrEmptyCart = errors.New("storefront: cart is empty")
)

// State of the submit control
type State int

const (
	Disabled State = iota
	Enabled
	Submitting
	Succeeded
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabled:
		return "enabled"
	case Submitting:
		return "submitting"
	case Succeeded:
		return "succeeded"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is a client secret and the amount it was issued for
type Session struct {
	ClientSecret string
	Amount       int64
	Currency     string

	// contact is the shipping and email the intent was created with
	contact string
}

// IntentCreator issues client secrets. *Client implements it.
type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntentResponse, error)
}

// Confirmer confirms a payment with the provider. *stripepay.Confirmer implements it.
type Confirmer interface {
	Confirm(ctx context.Context, clientSecret string) (*stripepay.Confirmation, error)
}

// Form is the contact and shipping form
type Form struct {
	Name       string `json:"name" toml:"name"`
	Email      string `json:"email" toml:"email"`
	Phone      string `json:"phone,omitempty" toml:"phone"`
	Line1      string `json:"line1" toml:"line1"`
	Line2      string `json:"line2,omitempty" toml:"line2"`
	City       string `json:"city" toml:"city"`
	State      string `json:"state,omitempty" toml:"state"`
	PostalCode string `json:"postal_code" toml:"postal_code"`
	Country    string `json:"country" toml:"country"`
}

// ValidationError lists the required form fields left blank
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "Please fill in: " + strings.Join(e.Fields, ", ")
}

// Validate checks that every required field is non-empty
func (f Form) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"name", f.Name},
		{"email", f.Email},
		{"address line 1", f.Line1},
		{"city", f.City},
		{"postal code", f.PostalCode},
		{"country", f.Country},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

// contactKey identifies the shipping details and email sent with an intent
func (f Form) contactKey() string {
	parts := []string{f.Email, f.Name, f.Phone, f.Line1, f.Line2, f.City, f.State, f.PostalCode, f.Country}
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	parts[len(parts)-1] = strings.ToUpper(parts[len(parts)-1])
	return strings.Join(parts, "\x1f")
}

func (f Form) shipping() *stripepay.Shipping {
	if strings.TrimSpace(f.Name) == "" && strings.TrimSpace(f.Line1) == "" {
		return nil
	}
	return &stripepay.Shipping{
		Name:  strings.TrimSpace(f.Name),
		Phone: strings.TrimSpace(f.Phone),
		Address: stripepay.Address{
			Line1:      strings.TrimSpace(f.Line1),
			Line2:      strings.TrimSpace(f.Line2),
			City:       strings.TrimSpace(f.City),
			State:      strings.TrimSpace(f.State),
			PostalCode: strings.TrimSpace(f.PostalCode),
			Country:    strings.ToUpper(strings.TrimSpace(f.Country)),
		},
	}
}

// Options configure a Checkout
type Options struct {
	Currency  string
	Policy    pricing.Policy
	Selection pricing.Selection
	// Form prefills the shipping details and email sent with intents
	Form Form
}

// Checkout is the checkout page controller. It is not safe for concurrent use.
type Checkout struct {
	store     cart.Store
	intents   IntentCreator
	confirmer Confirmer

	currency  string
	policy    pricing.Policy
	selection pricing.Selection

	cart    cart.Cart
	form    Form
	session *Session
	state   State
	message string
}

// Open loads the persisted cart and returns a controller in the disabled state.
// Call Reconcile to obtain a session for the loaded cart.
func Open(ctx context.Context, store cart.Store, intents IntentCreator, confirmer Confirmer, opts Options) (*Checkout, error) {
	c, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	if opts.Policy.Rates == nil {
		opts.Policy = pricing.DefaultPolicy()
	}
	if opts.Selection.Method == "" {
		opts.Selection.Method = pricing.Standard
	}
	if opts.Selection.Country == "" {
		opts.Selection.Country = opts.Policy.TaxCountry
	}
	co := &Checkout{
		store:     store,
		intents:   intents,
		confirmer: confirmer,
		currency:  strings.ToLower(opts.Currency),
		policy:    opts.Policy,
		selection: opts.Selection,
		form:      opts.Form,
		cart:      c,
		state:     Disabled,
	}
	if c.IsEmpty() {
		co.message = EmptyCartMessage
	}
	return co, nil
}

// State returns the submit control state
func (c *Checkout) State() State { return c.state }

// Cart returns the current cart
func (c *Checkout) Cart() cart.Cart { return c.cart }

// Session returns the current payment session, nil when none is bound
func (c *Checkout) Session() *Session {
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// Selection returns the pricing selection
func (c *Checkout) Selection() pricing.Selection { return c.selection }

// Totals recomputes the totals for the current cart and selection
func (c *Checkout) Totals() pricing.Totals {
	return pricing.ComputeTotals(c.cart.Lines(), c.selection, c.policy)
}

// AddItem adds p to the cart, persists it and reconciles the session
func (c *Checkout) AddItem(ctx context.Context, p cart.Product) (cart.Notice, error) {
	next, notice := c.cart.Add(p)
	if err := c.commit(ctx, next); err != nil {
		return cart.Notice{}, err
	}
	c.message = notice.Message
	return notice, c.Reconcile(ctx)
}

// RemoveItem removes the line at index, persists and reconciles
func (c *Checkout) RemoveItem(ctx context.Context, index int) error {
	next, err := c.cart.Remove(index)
	if err != nil {
		return err
	}
	if err := c.commit(ctx, next); err != nil {
		return err
	}
	c.message = ""
	return c.Reconcile(ctx)
}

// SetQuantity changes the quantity at index, persists and reconciles
func (c *Checkout) SetQuantity(ctx context.Context, index, qty int) error {
	next, err := c.cart.SetQuantity(index, qty)
	if err != nil {
		return err
	}
	if err := c.commit(ctx, next); err != nil {
		return err
	}
	c.message = ""
	return c.Reconcile(ctx)
}

// Select changes shipping method, destination or coupon and reconciles
func (c *Checkout) Select(ctx context.Context, sel pricing.Selection) error {
	if sel.Method == "" {
		sel.Method = pricing.Standard
	}
	if _, err := pricing.ParseMethod(string(sel.Method)); err != nil {
		return err
	}
	c.selection = sel
	return c.Reconcile(ctx)
}

func (c *Checkout) commit(ctx context.Context, next cart.Cart) error {
	if c.state == Submitting {
		return ErrNotReady
	}
	if err := c.store.Save(ctx, next); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	c.cart = next
	if c.state == Succeeded {
		c.state = Disabled
	}
	return nil
}

// Reconcile makes sure the bound session was issued for the current total.
// On mismatch the session is dropped, submission disabled, and a new secret
// requested; submission is enabled only once it arrives.
func (c *Checkout) Reconcile(ctx context.Context) error {
	if c.state == Submitting || c.state == Succeeded {
		return nil
	}
	if c.cart.IsEmpty() {
		c.session = nil
		c.state = Disabled
		c.message = EmptyCartMessage
		return nil
	}

	totals := c.Totals()
	contact := c.form.contactKey()
	if c.session != nil && c.session.Amount == totals.Total && c.session.Currency == c.currency && c.session.contact == contact {
		c.state = Enabled
		return nil
	}

	c.session = nil
	c.state = Disabled

	resp, err := c.intents.CreatePaymentIntent(ctx, PaymentIntentRequest{
		Amount:         totals.Total,
		Currency:       c.currency,
		Items:          c.cart.Items(),
		Shipping:       c.form.shipping(),
		Email:          strings.TrimSpace(c.form.Email),
		IdempotencyKey: "pi-" + uuid.NewString(),
	})
	if err != nil {
		c.message = "Error: " + userMessage(err)
		logger.Warn(ctx, "payment intent request failed", logger.Fields{
			"amount": totals.Total,
			"error":  err.Error(),
		})
		return err
	}

	c.session = &Session{ClientSecret: resp.ClientSecret, Amount: totals.Total, Currency: c.currency, contact: contact}
	c.state = Enabled
	return nil
}

// Submit validates form and confirms the payment with the current secret,
// re-issuing the secret first when the total or the form has drifted from it.
func (c *Checkout) Submit(ctx context.Context, form Form) error {
	if c.state == Submitting || c.state == Succeeded {
		return ErrNotReady
	}
	if c.cart.IsEmpty() {
		c.message = EmptyCartMessage
		return ErrEmptyCart
	}
	if err := form.Validate(); err != nil {
		c.message = err.Error()
		return err
	}
	c.form = form

	if err := c.Reconcile(ctx); err != nil {
		return err
	}
	if c.session == nil {
		return ErrNotReady
	}

	c.state = Submitting
	c.message = ""
	conf, err := c.confirmer.Confirm(ctx, c.session.ClientSecret)
	if err != nil {
		c.state = Enabled
		c.message = "Error: " + userMessage(err)
		logger.Warn(ctx, "payment confirmation failed", logger.Fields{"error": err.Error()})
		return err
	}

	if err := c.store.Clear(ctx); err != nil {
		logger.LogError(ctx, err, "failed to clear persisted cart")
	}
	c.cart = c.cart.Clear()
	c.session = nil
	c.state = Succeeded
	c.message = ConfirmedMessage
	logger.Info(ctx, "payment confirmed", logger.Fields{"intent_id": conf.IntentID, "status": conf.Status})
	return nil
}

// userMessage picks the text to show for err: provider and edge function
// messages verbatim, anything else generic.
func userMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	var pe *stripepay.ProviderError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return genericFailure
}

// LineView is one rendered cart line
type LineView struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Variant   string `json:"variant,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Amount    string `json:"amount"`
}

// View is the render model of the checkout page
type View struct {
	Badge         int            `json:"badge"`
	Lines         []LineView     `json:"lines"`
	Totals        pricing.Totals `json:"totals"`
	Empty         bool           `json:"empty"`
	State         string         `json:"state"`
	SubmitLabel   string         `json:"submit_label"`
	SubmitEnabled bool           `json:"submit_enabled"`
	Message       string         `json:"message,omitempty"`
}

// View renders the current state. It has no side effects.
func (c *Checkout) View() View {
	totals := c.Totals()
	items := c.cart.Items()
	lines := make([]LineView, 0, len(items))
	for i, it := range items {
		var variant []string
		if it.Color != "" {
			variant = append(variant, it.Color)
		}
		if it.Size != "" {
			variant = append(variant, it.Size)
		}
		lines = append(lines, LineView{
			Index:     i,
			ID:        it.ID,
			Name:      it.Name,
			Variant:   strings.Join(variant, " / "),
			Quantity:  it.Quantity,
			UnitPrice: money.FormatMinor(money.ToMinor(it.Price)),
			Amount:    money.FormatMinor(money.LineTotal(it.Price, it.Quantity)),
		})
	}

	label := "Pay " + money.FormatMinor(totals.Total)
	if c.state == Submitting {
		label = ProcessingLabel
	}
	msg := c.message
	if c.cart.IsEmpty() && c.state != Succeeded {
		msg = EmptyCartMessage
	}
	return View{
		Badge:         c.cart.Count(),
		Lines:         lines,
		Totals:        totals,
		Empty:         c.cart.IsEmpty(),
		State:         c.state.String(),
		SubmitLabel:   label,
		SubmitEnabled: c.state == Enabled && !c.cart.IsEmpty(),
		Message:       msg,
	}
}
