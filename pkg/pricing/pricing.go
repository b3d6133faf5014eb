// Package pricing computes cart totals: subtotal, coupon discount, shipping,
// tax and grand total, all in integer minor currency units.
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tourmaline.app/pkg/config"
	"tourmaline.app/pkg/money"
)

// Method is a shipping method
type Method string

const (
	Standard Method = "standard"
	Express  Method = "express"
	Pickup   Method = "pickup"
)

// ParseMethod parses a shipping method name. The empty string selects Standard.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return Standard, nil
	case Standard, Express, Pickup:
		return m, nil
	default:
		return "", fmt.Errorf("unknown shipping method %q", s)
	}
}

// Line is one priced cart line
type Line struct {
	ProductID string          `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// Selection is the buyer's current shipping and coupon choice
type Selection struct {
	Method  Method `json:"method"`
	Country string `json:"country"`
	Coupon  string `json:"coupon,omitempty"`
}

// Policy holds the store's shipping and tax rules
type Policy struct {
	FreeShippingThreshold int64            // minor units; <= 0 disables the threshold
	Rates                 map[Method]int64 // minor units per order
	TaxCountry            string
	TaxRateBps            int64 // basis points, 1000 = 10%
	Coupons               map[string]Coupon
}

// DefaultPolicy returns the built-in store policy
func DefaultPolicy() Policy {
	return PolicyFromSettings(config.Defaults())
}

// PolicyFromSettings builds a Policy from configuration
func PolicyFromSettings(s *config.Settings) Policy {
	return Policy{
		FreeShippingThreshold: s.FreeShippingThreshold,
		Rates: map[Method]int64{
			Standard: s.ShippingStandard,
			Express:  s.ShippingExpress,
			Pickup:   0,
		},
		TaxCountry: strings.ToUpper(s.TaxCountry),
		TaxRateBps: s.TaxRateBps,
		Coupons:    DefaultCoupons(),
	}
}

// LineTotal is the computed amount for one line
type LineTotal struct {
	ProductID string `json:"id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Amount    int64  `json:"amount"`
}

// Totals is always derived from a cart and a selection, never stored
type Totals struct {
	Lines        []LineTotal `json:"lines"`
	Subtotal     int64       `json:"subtotal"`
	Discount     int64       `json:"discount"`
	Shipping     int64       `json:"shipping"`
	Tax          int64       `json:"tax"`
	Total        int64       `json:"total"`
	Method       Method      `json:"method"`
	CouponCode   string      `json:"coupon,omitempty"`
	FreeShipping bool        `json:"free_shipping"`
}

// ComputeTotals prices items under sel and policy. It is pure.
//
// Lines with quantity <= 0 are skipped and negative unit prices count as zero.
// An unknown coupon applies no discount and leaves CouponCode empty. Shipping
// is zero for pickup, for an active free-shipping coupon, when the subtotal
// reaches the free-shipping threshold, and for an empty cart. Tax is charged
// only when the destination matches the policy's tax country.
func ComputeTotals(items []Line, sel Selection, policy Policy) Totals {
	t := Totals{Lines: make([]LineTotal, 0, len(items))}

	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		amount := money.LineTotal(it.UnitPrice, it.Quantity)
		t.Lines = append(t.Lines, LineTotal{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			Amount:    amount,
		})
		t.Subtotal += amount
	}

	coupon, hasCoupon := policy.lookupCoupon(sel.Coupon)
	if hasCoupon {
		t.CouponCode = coupon.Code
		t.Discount = coupon.discount(t.Subtotal)
	}

	method := sel.Method
	if method == "" {
		method = Standard
	}
	t.Method = method

	rate, ok := policy.Rates[method]
	if !ok {
		rate = policy.Rates[Standard]
	}
	switch {
	case t.Subtotal == 0,
		method == Pickup,
		hasCoupon && coupon.Kind == FreeShippingCoupon,
		policy.FreeShippingThreshold > 0 && t.Subtotal >= policy.FreeShippingThreshold:
		t.Shipping = 0
		t.FreeShipping = t.Subtotal > 0
	default:
		if rate > 0 {
			t.Shipping = rate
		}
	}

	base := t.Subtotal - t.Discount + t.Shipping
	if policy.TaxRateBps > 0 && policy.TaxCountry != "" && strings.EqualFold(strings.TrimSpace(sel.Country), policy.TaxCountry) {
		t.Tax = money.ApplyRate(base, policy.TaxRateBps)
	}

	t.Total = base + t.Tax
	if t.Total < 0 {
		t.Total = 0
	}
	return t
}
