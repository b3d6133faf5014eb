package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"tourmaline.app/pkg/cart"
	"tourmaline.app/pkg/money"
	"tourmaline.app/pkg/pricing"
	"tourmaline.app/pkg/storefront"
	"tourmaline.app/pkg/stripepay"
	"tourmaline.app/pkg/templates"
)

// env is what every command works with
type env struct {
	cfg    Config
	store  cart.Store
	closer io.Closer
	out    io.Writer
}

func (e *env) Close() error { return e.closer.Close() }

func setup(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("endpoint"); v != "" {
		cfg.Endpoint = v
	}
	if v := c.String("profile"); v != "" {
		cfg.Profile = v
	}
	store, closer, err := openStore(c.Context, cfg)
	if err != nil {
		return nil, err
	}
	out := c.App.Writer
	if out == nil {
		out = os.Stdout
	}
	return &env{cfg: cfg, store: store, closer: closer, out: out}, nil
}

// selectionFrom overlays selection flags on the configured selection
func (e *env) selectionFrom(c *cli.Context) (pricing.Selection, error) {
	sel := e.cfg.selection()
	if v := c.String("method"); v != "" {
		m, err := pricing.ParseMethod(v)
		if err != nil {
			return sel, err
		}
		sel.Method = m
	}
	if v := c.String("country"); v != "" {
		sel.Country = strings.ToUpper(v)
	}
	if c.IsSet("coupon") {
		sel.Coupon = c.String("coupon")
	}
	if sel.Country == "" {
		sel.Country = strings.ToUpper(e.cfg.Form.Country)
	}
	return sel, nil
}

func (e *env) client() *storefront.Client {
	return storefront.NewClient(e.cfg.Endpoint, nil)
}

func (e *env) confirmer() *stripepay.Confirmer {
	return stripepay.NewConfirmer(e.cfg.PublishableKey, stripepay.ConfirmerOptions{
		Options:       stripepay.Options{BaseURL: e.cfg.StripeAPIBase},
		PaymentMethod: e.cfg.PaymentMethod,
	})
}

// openCheckout loads the cart into a controller. No network calls are made.
func (e *env) openCheckout(c *cli.Context, sel pricing.Selection) (*storefront.Checkout, error) {
	return storefront.Open(c.Context, e.store, e.client(), e.confirmer(), storefront.Options{
		Currency:  e.cfg.Currency,
		Selection: sel,
		Form:      e.cfg.Form,
	})
}

func initCommand(c *cli.Context) error {
	path := c.String("config")
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := writeConfig(path, defaultConfig()); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Wrote %s\n", path)
	return nil
}

func addCommand(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	price, err := decimal.NewFromString(c.String("price"))
	if err != nil || price.IsNegative() {
		return fmt.Errorf("invalid price %q", c.String("price"))
	}
	current, err := e.store.Load(c.Context)
	if err != nil {
		return err
	}
	next, notice := current.Add(cart.Product{
		ID:    c.String("id"),
		Name:  c.String("name"),
		Price: price,
		Image: c.String("image"),
		Color: c.String("color"),
		Size:  c.String("size"),
	})
	if err := e.store.Save(c.Context, next); err != nil {
		return err
	}
	fmt.Fprintln(e.out, notice.Message)
	fmt.Fprintf(e.out, "Cart: %d item(s)\n", next.Count())
	return nil
}

// lineArg parses a 1-based line number
func lineArg(c *cli.Context, pos int) (int, error) {
	raw := c.Args().Get(pos)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid line %q", raw)
	}
	return n - 1, nil
}

func removeCommand(c *cli.Context) error {
	idx, err := lineArg(c, 0)
	if err != nil {
		return err
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	current, err := e.store.Load(c.Context)
	if err != nil {
		return err
	}
	next, err := current.Remove(idx)
	if errors.Is(err, cart.ErrIndexOutOfRange) {
		return fmt.Errorf("no line %d in a cart of %d", idx+1, current.Len())
	}
	if err != nil {
		return err
	}
	if err := e.store.Save(c.Context, next); err != nil {
		return err
	}
	if next.IsEmpty() {
		fmt.Fprintln(e.out, storefront.EmptyCartMessage)
		return nil
	}
	fmt.Fprintf(e.out, "Cart: %d item(s)\n", next.Count())
	return nil
}

func quantityCommand(c *cli.Context) error {
	idx, err := lineArg(c, 0)
	if err != nil {
		return err
	}
	qty, err := strconv.Atoi(c.Args().Get(1))
	if err != nil || qty < 1 {
		return fmt.Errorf("invalid quantity %q", c.Args().Get(1))
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	current, err := e.store.Load(c.Context)
	if err != nil {
		return err
	}
	next, err := current.SetQuantity(idx, qty)
	if err != nil {
		return fmt.Errorf("no line %d in a cart of %d", idx+1, current.Len())
	}
	if err := e.store.Save(c.Context, next); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Cart: %d item(s)\n", next.Count())
	return nil
}

func clearCommand(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.store.Clear(c.Context); err != nil {
		return err
	}
	fmt.Fprintln(e.out, storefront.EmptyCartMessage)
	return nil
}

func cartCommand(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	sel, err := e.selectionFrom(c)
	if err != nil {
		return err
	}
	co, err := e.openCheckout(c, sel)
	if err != nil {
		return err
	}
	view := co.View()
	if c.Bool("json") {
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	printView(e.out, view)
	return nil
}

func printView(w io.Writer, view storefront.View) {
	if view.Empty {
		fmt.Fprintln(w, storefront.EmptyCartMessage)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tITEM\tQTY\tPRICE\tAMOUNT")
	for _, l := range view.Lines {
		name := l.Name
		if l.Variant != "" {
			name += " (" + l.Variant + ")"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", l.Index+1, name, l.Quantity, l.UnitPrice, l.Amount)
	}
	_ = tw.Flush()
	printTotals(w, view.Totals)
}

func printTotals(w io.Writer, t pricing.Totals) {
	fmt.Fprintf(w, "Subtotal: %s\n", money.FormatMinor(t.Subtotal))
	if t.Discount > 0 {
		fmt.Fprintf(w, "Discount: -%s (%s)\n", money.FormatMinor(t.Discount), t.CouponCode)
	}
	shipping := money.FormatMinor(t.Shipping)
	if t.FreeShipping {
		shipping = "Free"
	}
	fmt.Fprintf(w, "Shipping (%s): %s\n", t.Method, shipping)
	fmt.Fprintf(w, "Tax: %s\n", money.FormatMinor(t.Tax))
	fmt.Fprintf(w, "Total: %s\n", money.FormatMinor(t.Total))
}

func quoteCommand(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	sel, err := e.selectionFrom(c)
	if err != nil {
		return err
	}
	current, err := e.store.Load(c.Context)
	if err != nil {
		return err
	}
	if current.IsEmpty() {
		fmt.Fprintln(e.out, storefront.EmptyCartMessage)
		return nil
	}
	totals, err := e.client().Quote(c.Context, current.Lines(), sel)
	if err != nil {
		return err
	}
	printTotals(e.out, *totals)
	return nil
}

func checkoutCommand(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	if c.Bool("hosted") {
		current, err := e.store.Load(c.Context)
		if err != nil {
			return err
		}
		if current.IsEmpty() {
			return storefront.ErrEmptyCart
		}
		session, err := e.client().CreateCheckoutSession(c.Context, current.Items())
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "Session %s\n", session.SessionID)
		if session.URL != "" {
			fmt.Fprintf(e.out, "Open %s to pay\n", session.URL)
		}
		return nil
	}

	sel, err := e.selectionFrom(c)
	if err != nil {
		return err
	}
	co, err := e.openCheckout(c, sel)
	if err != nil {
		return err
	}
	if co.Cart().IsEmpty() {
		fmt.Fprintln(e.out, storefront.EmptyCartMessage)
		return storefront.ErrEmptyCart
	}
	if err := co.Reconcile(c.Context); err != nil {
		return viewError(co, err)
	}

	before := co.View()
	printView(e.out, before)
	fmt.Fprintln(e.out, before.SubmitLabel)

	if err := co.Submit(c.Context, e.cfg.Form); err != nil {
		var ve *storefront.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("%w (set them under [form] in %s)", err, c.String("config"))
		}
		return viewError(co, err)
	}

	_, body, err := templates.RenderTemplate("receipt", templates.TemplateData{
		"Message": co.View().Message,
		"Lines":   before.Lines,
		"Totals":  before.Totals,
	})
	if err != nil {
		return err
	}
	fmt.Fprint(e.out, body)
	return nil
}

// viewError prefers the message the checkout page would show
func viewError(co *storefront.Checkout, err error) error {
	if msg := co.View().Message; msg != "" {
		return errors.New(msg)
	}
	return err
}

func themeCommand(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	current, err := e.store.Theme(c.Context)
	if err != nil {
		return err
	}
	next := current
	switch arg := c.Args().First(); arg {
	case "":
	case "toggle":
		next = current.Toggle()
	default:
		if next, err = cart.ParseTheme(arg); err != nil {
			return err
		}
	}
	if next != current {
		if err := e.store.SetTheme(c.Context, next); err != nil {
			return err
		}
	}
	fmt.Fprintf(e.out, "Theme: %s\n", next)
	return nil
}

func stockCommand(c *cli.Context) error {
	id := strings.TrimSpace(c.Args().First())
	if id == "" {
		return errors.New("missing PRODUCT_ID")
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.client().Stock(c.Context, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s: %d in stock\n", id, res.Stock)
	return nil
}
