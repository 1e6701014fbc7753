package math

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var ErrAmountPrecision = errors.New("amount has too many decimal places")

// ParseAmount converts a decimal string into AmountConfig fixed point. Unlike
// prices, amounts are never rounded: extra fractional digits are an error.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	scaled := d.Shift(int32(AmountConfig.DecimalPrecision))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %q: %w", s, ErrAmountPrecision)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return scaled.IntPart(), nil
}

// FormatAmount renders an AmountConfig fixed-point value as a decimal string.
func FormatAmount(v int64) string {
	return decimal.New(v, -int32(AmountConfig.DecimalPrecision)).String()
}

// FormatBigAmount is FormatAmount for aggregated values.
func FormatBigAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(AmountConfig.DecimalPrecision)).String()
}
