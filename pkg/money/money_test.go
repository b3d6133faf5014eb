package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestLineTotal(t *testing.T) {
	tests := []struct {
		name string
		unit string
		qty  int
		want int64
	}{
		{"whole", "29.99", 2, 5998},
		{"half up", "0.125", 1, 13},
		{"half up accumulated", "1.005", 3, 302},
		{"zero qty", "10", 0, 0},
		{"negative qty", "10", -2, 0},
		{"negative price", "-5", 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LineTotal(decimal.RequireFromString(tt.unit), tt.qty)
			if got != tt.want {
				t.Errorf("LineTotal(%s, %d) = %d, want %d", tt.unit, tt.qty, got, tt.want)
			}
		})
	}
}

func TestApplyRate(t *testing.T) {
	if got := ApplyRate(10000, 1000); got != 1000 {
		t.Errorf("ApplyRate(10000, 1000) = %d, want 1000", got)
	}
	// 1005 * 10% = 100.5 -> 101
	if got := ApplyRate(1005, 1000); got != 101 {
		t.Errorf("ApplyRate(1005, 1000) = %d, want 101", got)
	}
	if got := ApplyRate(-10, 1000); got != 0 {
		t.Errorf("ApplyRate(-10, 1000) = %d, want 0", got)
	}
}

func TestFormatMinor(t *testing.T) {
	cases := map[int64]string{
		0:     "$0.00",
		5:     "$0.05",
		4500:  "$45.00",
		12345: "$123.45",
		-250:  "-$2.50",
	}
	for in, want := range cases {
		if got := FormatMinor(in); got != want {
			t.Errorf("FormatMinor(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestToMinorAndBack(t *testing.T) {
	if got := ToMinor(decimal.RequireFromString("45.999")); got != 4600 {
		t.Errorf("ToMinor = %d, want 4600", got)
	}
	if got := ToMinor(decimal.RequireFromString("-1")); got != 0 {
		t.Errorf("ToMinor negative = %d, want 0", got)
	}
	if !FromMinor(4599).Equal(decimal.RequireFromString("45.99")) {
		t.Errorf("FromMinor(4599) = %s", FromMinor(4599))
	}
}
