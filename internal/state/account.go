package state

import (
	"encoding/binary"

	"CurieLedger/internal/ledger"
)

// Account is one trader's complete clearinghouse state.
type Account struct {
	ID         ledger.AccountID
	Collateral int64 // quote asset, AmountConfig scale
	Tokens     *ledger.TokenBook
	Positions  *PositionBook
}

func NewAccount(id ledger.AccountID) *Account {
	return &Account{
		ID:        id,
		Tokens:    ledger.NewTokenBook(),
		Positions: NewPositionBook(),
	}
}

// Clone returns an independent copy that an operation mutates tentatively.
func (a *Account) Clone() *Account {
	return &Account{
		ID:         a.ID,
		Collateral: a.Collateral,
		Tokens:     a.Tokens.Clone(),
		Positions:  a.Positions.Clone(),
	}
}

// CanonicalBytes for deterministic hashing
func (a *Account) CanonicalBytes() []byte {
	assets := a.Tokens.RegisteredAssets()
	buf := make([]byte, 0, 32+len(assets)*26+a.Positions.Len()*106)

	buf = append(buf, a.ID[:]...)
	buf = appendInt64LE(buf, a.Collateral)

	// tokens in registration order
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(assets)))
	for _, asset := range assets {
		info := a.Tokens.TokenInfo(asset)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(asset))
		buf = appendInt64LE(buf, info.Available)
		buf = appendInt64LE(buf, info.Debt)
		buf = appendInt64LE(buf, info.OpenNotional)
	}

	// positions in key order
	buf = binary.LittleEndian.AppendUint32(buf, uint32(a.Positions.Len()))
	a.Positions.Ascend(func(p LiquidityPosition) bool {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(p.Asset))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(p.LowerTick))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(p.UpperTick))
		liq := p.Liquidity.Bytes32()
		g0 := p.FeeGrowthInside0LastX128.Bytes32()
		g1 := p.FeeGrowthInside1LastX128.Bytes32()
		buf = append(buf, liq[:]...)
		buf = append(buf, g0[:]...)
		buf = append(buf, g1[:]...)
		return true
	})

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(buf, uint64(v))
}
