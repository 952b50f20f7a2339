package math

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const bpsDenominator = 10000

// ToDecimal converts integer base units into a decimal amount.
func ToDecimal(x *big.Int, decimals int32) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x, -decimals)
}

// ToBaseUnits converts a decimal amount into integer base units, truncating
// any precision the token cannot represent.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// Gwei converts wei into a float gwei figure for display and gauges.
func Gwei(wei *big.Int) float64 {
	f, _ := ToDecimal(wei, 9).Float64()
	return f
}

// ApplyBuffer returns x * (1 - bps/10000), rounded down.
func ApplyBuffer(x *big.Int, bps uint16) *big.Int {
	out := new(big.Int).Mul(x, big.NewInt(int64(bpsDenominator-int(bps))))
	return out.Div(out, big.NewInt(bpsDenominator))
}

// MulDiv returns x * num / den with a big.Int intermediate, or zero when den is zero.
func MulDiv(x, num, den *big.Int) *big.Int {
	if den.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(x, num)
	return out.Div(out, den)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
