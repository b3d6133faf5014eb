package pricing

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(id, price string, qty int) Line {
	return Line{ProductID: id, Name: id, UnitPrice: decimal.RequireFromString(price), Quantity: qty}
}

func TestComputeTotalsSubtotalIsSumOfRoundedLines(t *testing.T) {
	items := []Line{
		line("a", "19.995", 1), // 1999.5 -> 2000
		line("b", "0.333", 3),  // 99.9 -> 100
		line("c", "45.00", 2),  // 9000
	}
	got := ComputeTotals(items, Selection{Method: Pickup}, DefaultPolicy())

	require.Len(t, got.Lines, 3)
	assert.Equal(t, int64(2000), got.Lines[0].Amount)
	assert.Equal(t, int64(100), got.Lines[1].Amount)
	assert.Equal(t, int64(9000), got.Lines[2].Amount)
	assert.Equal(t, int64(11100), got.Subtotal)
}

func TestComputeTotalsPropertiesHoldForRandomCarts(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	codes := []string{"", "SAVE10", "TAKE5", "FREESHIP", "BOGUS"}
	methods := []Method{Standard, Express, Pickup}
	countries := []string{"AU", "US", "au"}

	for i := 0; i < 500; i++ {
		var items []Line
		var want int64
		n := r.Intn(5)
		for j := 0; j < n; j++ {
			price := decimal.New(r.Int63n(20000), -2)
			qty := r.Intn(4)
			items = append(items, Line{ProductID: "p", UnitPrice: price, Quantity: qty})
			if qty > 0 {
				want += price.Mul(decimal.NewFromInt(int64(qty))).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
			}
		}
		sel := Selection{
			Method:  methods[r.Intn(len(methods))],
			Country: countries[r.Intn(len(countries))],
			Coupon:  codes[r.Intn(len(codes))],
		}
		got := ComputeTotals(items, sel, DefaultPolicy())

		var sum int64
		for _, l := range got.Lines {
			sum += l.Amount
		}
		assert.Equal(t, want, got.Subtotal)
		assert.Equal(t, sum, got.Subtotal)
		assert.GreaterOrEqual(t, got.Discount, int64(0))
		assert.LessOrEqual(t, got.Discount, got.Subtotal)
		assert.GreaterOrEqual(t, got.Total, int64(0))
		assert.Equal(t, got.Subtotal-got.Discount+got.Shipping+got.Tax, got.Total)
	}
}

func TestPercentCoupon(t *testing.T) {
	got := ComputeTotals([]Line{line("a", "100.00", 1)}, Selection{Method: Pickup, Coupon: "SAVE10"}, DefaultPolicy())
	assert.Equal(t, int64(10000), got.Subtotal)
	assert.Equal(t, int64(1000), got.Discount)
	assert.Equal(t, "SAVE10", got.CouponCode)
	assert.Equal(t, int64(9000), got.Total)
}

func TestPercentCouponFloors(t *testing.T) {
	// 10% of 999 = 99.9 -> 99
	got := ComputeTotals([]Line{line("a", "9.99", 1)}, Selection{Method: Pickup, Coupon: "save10"}, DefaultPolicy())
	assert.Equal(t, int64(99), got.Discount)
}

func TestFixedCouponCappedAtSubtotal(t *testing.T) {
	got := ComputeTotals([]Line{line("a", "3.00", 1)}, Selection{Method: Pickup, Coupon: "TAKE5"}, DefaultPolicy())
	assert.Equal(t, int64(300), got.Discount)
	assert.Equal(t, int64(0), got.Total)
}

func TestUnknownCouponAppliesNothing(t *testing.T) {
	got := ComputeTotals([]Line{line("a", "50.00", 1)}, Selection{Method: Pickup, Coupon: "NOPE"}, DefaultPolicy())
	assert.Equal(t, int64(0), got.Discount)
	assert.Empty(t, got.CouponCode)
}

func TestShipping(t *testing.T) {
	tests := []struct {
		name   string
		price  string
		method Method
		coupon string
		want   int64
	}{
		{"standard", "20.00", Standard, "", 1000},
		{"express", "20.00", Express, "", 2500},
		{"pickup", "20.00", Pickup, "", 0},
		{"free shipping coupon", "20.00", Express, "FREESHIP", 0},
		{"threshold standard", "150.00", Standard, "", 0},
		{"threshold express", "150.00", Express, "", 0},
		{"just under threshold", "149.99", Express, "", 2500},
		{"unknown method falls back to standard", "20.00", Method("drone"), "", 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTotals([]Line{line("a", tt.price, 1)}, Selection{Method: tt.method, Country: "US", Coupon: tt.coupon}, DefaultPolicy())
			assert.Equal(t, tt.want, got.Shipping)
		})
	}
}

func TestThresholdUsesSubtotalBeforeDiscount(t *testing.T) {
	got := ComputeTotals([]Line{line("a", "150.00", 1)}, Selection{Method: Express, Coupon: "SAVE10"}, DefaultPolicy())
	assert.Equal(t, int64(0), got.Shipping)
	assert.True(t, got.FreeShipping)
}

func TestTaxOnlyForTaxCountry(t *testing.T) {
	items := []Line{line("a", "50.00", 1)}

	au := ComputeTotals(items, Selection{Method: Standard, Country: "AU", Coupon: "TAKE5"}, DefaultPolicy())
	// (5000 - 500 + 1000) * 10% = 550
	assert.Equal(t, int64(550), au.Tax)
	assert.Equal(t, int64(6050), au.Total)

	us := ComputeTotals(items, Selection{Method: Standard, Country: "US", Coupon: "TAKE5"}, DefaultPolicy())
	assert.Equal(t, int64(0), us.Tax)
	assert.Equal(t, int64(5500), us.Total)
}

func TestTaxRoundsHalfUp(t *testing.T) {
	// 1005 * 10% = 100.5 -> 101
	got := ComputeTotals([]Line{line("a", "10.05", 1)}, Selection{Method: Pickup, Country: "AU"}, DefaultPolicy())
	assert.Equal(t, int64(101), got.Tax)
}

func TestIgnoresBadLines(t *testing.T) {
	items := []Line{line("zero", "10.00", 0), line("neg", "10.00", -1), line("negprice", "-10.00", 2), line("ok", "1.00", 1)}
	got := ComputeTotals(items, Selection{Method: Pickup}, DefaultPolicy())
	assert.Len(t, got.Lines, 2)
	assert.Equal(t, int64(100), got.Subtotal)
}

func TestEmptyCartHasNoShipping(t *testing.T) {
	got := ComputeTotals(nil, Selection{Method: Express, Country: "AU"}, DefaultPolicy())
	assert.Zero(t, got.Total)
	assert.False(t, got.FreeShipping)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, Standard, m)

	m, err = ParseMethod(" Express ")
	require.NoError(t, err)
	assert.Equal(t, Express, m)

	_, err = ParseMethod("teleport")
	assert.Error(t, err)
}

func TestLookupCoupon(t *testing.T) {
	c, ok := LookupCoupon(" freeship ")
	require.True(t, ok)
	assert.Equal(t, FreeShippingCoupon, c.Kind)

	_, ok = LookupCoupon("")
	assert.False(t, ok)
}
