package math

import (
	"fmt"
	stdmath "math"
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	AmountConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // token amounts, collateral, values
	PriceConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // index price in quote per unit
	RatioConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // margin ratios, 100_000 = 10%
)

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown                         // toward negative infinity
	RoundUp                           // toward positive infinity
)

func (m RoundingMode) String() string {
	switch m {
	case RoundHalfEven:
		return "HALF_EVEN"
	case RoundDown:
		return "DOWN"
	case RoundUp:
		return "UP"
	default:
		return fmt.Sprintf("RoundingMode(%d)", int(m))
	}
}

// OverflowError is the panic value raised by checked int64 arithmetic.
// Overflow is never a validation outcome: callers must not recover from it.
type OverflowError struct {
	Op   string
	A, B int64
}

func (e OverflowError) Error() string {
	return fmt.Sprintf("FATAL: int64 overflow in %s(%d, %d)", e.Op, e.A, e.B)
}

// CheckedAdd returns a+b, panicking on overflow.
func CheckedAdd(a, b int64) int64 {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		panic(OverflowError{Op: "add", A: a, B: b})
	}
	return c
}

// CheckedSub returns a-b, panicking on overflow.
func CheckedSub(a, b int64) int64 {
	c := a - b
	if (b > 0 && c > a) || (b < 0 && c < a) {
		panic(OverflowError{Op: "sub", A: a, B: b})
	}
	return c
}

// CheckedMul returns a*b, panicking on overflow.
func CheckedMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	c := a * b
	if c/b != a || (a == -1 && b == stdmath.MinInt64) || (b == -1 && a == stdmath.MinInt64) {
		panic(OverflowError{Op: "mul", A: a, B: b})
	}
	return c
}

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b without overflow. The result is owned by the caller.
func MultiplyInt128(a, b int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
}

// DivRound divides numerator by a positive denominator into a fresh big.Int.
func DivRound(numerator, denominator *big.Int, mode RoundingMode) *big.Int {
	if denominator.Sign() <= 0 {
		panic("FATAL: DivRound requires a positive denominator")
	}
	quotient := new(big.Int)
	remainder := getInt128()
	defer putInt128(remainder)

	// Euclidean: remainder >= 0, so quotient is already the floor.
	quotient.DivMod(numerator, denominator, remainder)
	if remainder.Sign() == 0 {
		return quotient
	}

	switch mode {
	case RoundUp:
		quotient.Add(quotient, big.NewInt(1))
	case RoundHalfEven:
		twice := getInt128()
		defer putInt128(twice)
		twice.Lsh(remainder, 1)
		cmp := twice.Cmp(denominator)
		if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
			quotient.Add(quotient, big.NewInt(1))
		}
	}
	return quotient
}

// DivideInt128 performs numerator / denominator with rounding and narrows to int64.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	return MustInt64(DivRound(numerator, big.NewInt(denominator), roundingMode))
}

// MustInt64 narrows b to int64, panicking when it does not fit.
func MustInt64(b *big.Int) int64 {
	if !b.IsInt64() {
		panic(fmt.Sprintf("FATAL: value %s overflows int64", b.String()))
	}
	return b.Int64()
}

// ValueAt converts an amount of a priced asset into quote units:
// amount * price / PriceConfig.Scale.
func ValueAt(amount *big.Int, price int64, mode RoundingMode) *big.Int {
	raw := getInt128()
	defer putInt128(raw)
	raw.Mul(amount, big.NewInt(price))
	return DivRound(raw, big.NewInt(PriceConfig.Scale), mode)
}

// ApplyRatio returns value * ratio / RatioConfig.Scale.
func ApplyRatio(value *big.Int, ratio int64, mode RoundingMode) *big.Int {
	raw := getInt128()
	defer putInt128(raw)
	raw.Mul(value, big.NewInt(ratio))
	return DivRound(raw, big.NewInt(RatioConfig.Scale), mode)
}

// ComputeNotional calculates amount * price in quote scale, rounding half-even.
func ComputeNotional(amount, price int64) int64 {
	return MustInt64(ValueAt(big.NewInt(amount), price, RoundHalfEven))
}
