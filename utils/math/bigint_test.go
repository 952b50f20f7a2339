package math

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestBaseUnitConversion(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int32
		want     string
	}{
		{"whole", "10", 18, "10000000000000000000"},
		{"fraction", "0.0645", 18, "64500000000000000"},
		{"six decimals", "3000.5", 6, "3000500000"},
		{"truncates", "1.0000009", 6, "1000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToBaseUnits(decimal.RequireFromString(tt.amount), tt.decimals)
			if got.String() != tt.want {
				t.Errorf("ToBaseUnits(%s, %d) = %s; want %s", tt.amount, tt.decimals, got, tt.want)
			}
			back := ToDecimal(got, tt.decimals)
			if back.GreaterThan(decimal.RequireFromString(tt.amount)) {
				t.Errorf("round trip %s grew to %s", tt.amount, back)
			}
		})
	}

	if !ToDecimal(nil, 18).IsZero() {
		t.Errorf("ToDecimal(nil) should be zero")
	}
}

func TestApplyBuffer(t *testing.T) {
	tests := []struct {
		x    int64
		bps  uint16
		want int64
	}{
		{3000, 50, 2985},
		{1000, 0, 1000},
		{999, 50, 994},
		{100, 10000, 0},
	}

	for _, tt := range tests {
		if got := ApplyBuffer(big.NewInt(tt.x), tt.bps); got.Int64() != tt.want {
			t.Errorf("ApplyBuffer(%d, %d) = %v; want %d", tt.x, tt.bps, got, tt.want)
		}
	}
}

func TestMulDiv(t *testing.T) {
	if got := MulDiv(big.NewInt(10), big.NewInt(3), big.NewInt(4)); got.Int64() != 7 {
		t.Errorf("MulDiv(10, 3, 4) = %v; want 7", got)
	}
	if got := MulDiv(big.NewInt(10), big.NewInt(3), big.NewInt(0)); got.Sign() != 0 {
		t.Errorf("MulDiv by zero = %v; want 0", got)
	}
}

func TestGwei(t *testing.T) {
	if got := Gwei(big.NewInt(6000000000)); got != 6 {
		t.Errorf("Gwei(6e9) = %v; want 6", got)
	}
}

func TestClamp(t *testing.T) {
	if Clamp(2.5, 0.5, 2) != 2 || Clamp(0.1, 0.5, 2) != 0.5 || Clamp(1, 0.5, 2) != 1 {
		t.Errorf("Clamp out of bounds")
	}
}
