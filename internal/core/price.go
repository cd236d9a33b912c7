package core

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"
)

// priceDecimals is the number of fractional digits carried by PriceScale.
const priceDecimals int32 = 8

// PriceFromString parses a human-readable decimal price ("101.5") into its
// fixed-point representation. More than eight fractional digits, negative
// values, and values that do not fit in uint64 are errors.
func PriceFromString(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("price %q: %w", s, err)
	}
	p, err := PriceFromDecimal(d)
	if err != nil {
		return 0, fmt.Errorf("price %q: %w", s, err)
	}
	return p, nil
}

// PriceFromDecimal converts a decimal value into fixed-point.
func PriceFromDecimal(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("negative price")
	}
	scaled := d.Shift(priceDecimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("more than %d decimal places", priceDecimals)
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("price overflows fixed-point range")
	}
	return bi.Uint64(), nil
}

// PriceToDecimal converts a fixed-point price back to a decimal value.
func PriceToDecimal(p uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(p), -priceDecimals)
}

// FormatPrice renders a fixed-point price without trailing zeros.
func FormatPrice(p uint64) string {
	return PriceToDecimal(p).String()
}

// FormatScaled renders a signed fixed-point quantity (PnL, signed notional).
func FormatScaled(v int64) string {
	return decimal.New(v, -priceDecimals).String()
}

// Notional computes price*qty/PriceScale with a 128-bit intermediate product,
// saturating at MaxUint64 if the result does not fit.
func Notional(price, qty uint64) uint64 {
	hi, lo := bits.Mul64(price, qty)
	if hi >= PriceScale {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, PriceScale)
	return q
}

// MulDiv computes a*b/den with a 128-bit intermediate product, saturating at
// MaxUint64 if the quotient does not fit. den must be non-zero.
func MulDiv(a, b, den uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, den)
	return q
}

// AbsDiff returns |a-b| without underflow.
func AbsDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
