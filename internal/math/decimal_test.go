package math_test

import (
	"math/big"
	"testing"

	fpmath "CurieLedger/internal/math"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// ============================================================================
// Test: decimal amounts
// ============================================================================

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{
		"0":        0,
		"1":        1_000_000,
		"1.5":      1_500_000,
		"-2.25":    -2_250_000,
		"0.000001": 1,
		"3000.10":  3_000_100_000,
	}
	for in, want := range cases {
		got, err := fpmath.ParseAmount(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}

func TestParseAmount_Rejects(t *testing.T) {
	_, err := fpmath.ParseAmount("0.0000001")
	require.ErrorIs(t, err, fpmath.ErrAmountPrecision)

	_, err = fpmath.ParseAmount("10000000000000")
	require.Error(t, err)

	_, err = fpmath.ParseAmount("one")
	require.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "0", fpmath.FormatAmount(0))
	require.Equal(t, "1.5", fpmath.FormatAmount(1_500_000))
	require.Equal(t, "-0.000001", fpmath.FormatAmount(-1))
	require.Equal(t, "0", fpmath.FormatBigAmount(nil))
	require.Equal(t, "12.000001", fpmath.FormatBigAmount(big.NewInt(12_000_001)))
}

func TestProperty_AmountRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.Int64Range(-1_000_000_000_000_000, 1_000_000_000_000_000).Draw(t, "v")
		got, err := fpmath.ParseAmount(fpmath.FormatAmount(v))
		if err != nil {
			t.Fatalf("parse %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %d -> %d", v, got)
		}
	})
}
