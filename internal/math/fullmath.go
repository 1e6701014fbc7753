package math

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	one = uint256.NewInt(1)

	// Q96 is the fixed-point unit of sqrt prices (Q64.96).
	Q96 = new(uint256.Int).Lsh(one, 96)
	// Q128 is the fixed-point unit of fee growth accumulators (Q128.128).
	Q128 = new(uint256.Int).Lsh(one, 128)
	// MaxUint128 bounds liquidity.
	MaxUint128 = new(uint256.Int).Sub(Q128, one)
)

// MulDiv computes floor(a*b/d) with a 512-bit intermediate.
// Panics when d is zero or the result does not fit 256 bits.
func MulDiv(a, b, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		panic("FATAL: MulDiv by zero")
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		panic(fmt.Sprintf("FATAL: MulDiv overflow (%s * %s / %s)", a.ToBig(), b.ToBig(), d.ToBig()))
	}
	return z
}

// MulDivRoundingUp computes ceil(a*b/d).
func MulDivRoundingUp(a, b, d *uint256.Int) *uint256.Int {
	z := MulDiv(a, b, d)
	if !new(uint256.Int).MulMod(a, b, d).IsZero() {
		if z.Eq(maxUint256) {
			panic("FATAL: MulDivRoundingUp overflow")
		}
		z.AddUint64(z, 1)
	}
	return z
}

// DivRoundingUp computes ceil(a/d).
func DivRoundingUp(a, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		panic("FATAL: DivRoundingUp by zero")
	}
	z := new(uint256.Int).Div(a, d)
	if !new(uint256.Int).Mod(a, d).IsZero() {
		z.AddUint64(z, 1)
	}
	return z
}

var maxUint256 = new(uint256.Int).Not(new(uint256.Int))

// ErrAmountOverflow reports a token amount that does not fit the ledger.
var ErrAmountOverflow = errors.New("token amount overflows int64")

// TryAmountFromUint256 narrows v, failing instead of panicking when it does not fit.
func TryAmountFromUint256(v *uint256.Int) (int64, error) {
	if !v.IsUint64() || v.Uint64() > 1<<63-1 {
		return 0, fmt.Errorf("%s: %w", v.Dec(), ErrAmountOverflow)
	}
	return int64(v.Uint64()), nil
}

// AmountFromUint256 narrows a token amount to the int64 ledger representation.
func AmountFromUint256(v *uint256.Int) int64 {
	if !v.IsUint64() || v.Uint64() > 1<<63-1 {
		panic(fmt.Sprintf("FATAL: token amount %s overflows int64", v.ToBig()))
	}
	return int64(v.Uint64())
}

// AmountToUint256 widens a non-negative ledger amount.
func AmountToUint256(amount int64) *uint256.Int {
	if amount < 0 {
		panic(fmt.Sprintf("FATAL: negative amount %d", amount))
	}
	return uint256.NewInt(uint64(amount))
}

// MustUint256 parses a decimal string constant.
func MustUint256(s string) *uint256.Int {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid uint256 literal " + s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow || b.Sign() < 0 {
		panic("uint256 literal out of range " + s)
	}
	return v
}

// ParseUint256 parses a decimal string received on the wire.
func ParseUint256(s string) (*uint256.Int, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 {
		return nil, fmt.Errorf("invalid unsigned integer %q", s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("integer %q exceeds 256 bits", s)
	}
	return v, nil
}
