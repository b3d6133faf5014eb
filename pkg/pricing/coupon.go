package pricing

import "strings"

// CouponKind is the effect a coupon has on an order
type CouponKind string

const (
	PercentCoupon      CouponKind = "percent"
	FixedCoupon        CouponKind = "fixed"
	FreeShippingCoupon CouponKind = "free_shipping"
)

// Coupon maps a code to a discount. Value is a whole percentage for
// PercentCoupon and minor units for FixedCoupon.
type Coupon struct {
	Code  string     `json:"code"`
	Kind  CouponKind `json:"kind"`
	Value int64      `json:"value"`
}

var builtinCoupons = []Coupon{
	{Code: "SAVE10", Kind: PercentCoupon, Value: 10},
	{Code: "TAKE5", Kind: FixedCoupon, Value: 500},
	{Code: "FREESHIP", Kind: FreeShippingCoupon},
}

// DefaultCoupons returns a fresh copy of the built-in coupon table
func DefaultCoupons() map[string]Coupon {
	out := make(map[string]Coupon, len(builtinCoupons))
	for _, c := range builtinCoupons {
		out[c.Code] = c
	}
	return out
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// LookupCoupon finds a built-in coupon by code, ignoring case and surrounding space
func LookupCoupon(code string) (Coupon, bool) {
	c, ok := DefaultCoupons()[normalizeCode(code)]
	return c, ok
}

func (p Policy) lookupCoupon(code string) (Coupon, bool) {
	code = normalizeCode(code)
	if code == "" {
		return Coupon{}, false
	}
	table := p.Coupons
	if table == nil {
		table = DefaultCoupons()
	}
	c, ok := table[code]
	return c, ok
}

// discount returns the coupon's discount against subtotal, never negative
// and never above subtotal.
func (c Coupon) discount(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	var d int64
	switch c.Kind {
	case PercentCoupon:
		pct := c.Value
		if pct > 100 {
			pct = 100
		}
		d = subtotal * pct / 100
	case FixedCoupon:
		d = c.Value
	}
	if d < 0 {
		return 0
	}
	if d > subtotal {
		return subtotal
	}
	return d
}
