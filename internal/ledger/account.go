package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AccountID is a 20-byte address identifying a trader account.
type AccountID [20]byte

// ParseAccountID parses a 0x-prefixed (or bare) 40 hex digit address.
func ParseAccountID(s string) (AccountID, error) {
	var id AccountID
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != 2*len(id) {
		return id, fmt.Errorf("account id %q: want %d hex digits", s, 2*len(id))
	}
	if _, err := hex.Decode(id[:], []byte(raw)); err != nil {
		return id, fmt.Errorf("account id %q: %w", s, err)
	}
	return id, nil
}

// MustParseAccountID is ParseAccountID for literals.
func MustParseAccountID(s string) AccountID {
	id, err := ParseAccountID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id AccountID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id AccountID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *AccountID) UnmarshalText(b []byte) error {
	parsed, err := ParseAccountID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeCollateral AccountSubType = iota
	SubTypeAvailable
	SubTypeDebt
	SubTypeOpenNotional

	// System sub-types, entity is the market symbol
	SubTypeSystemPool
	SubTypeSystemPoolFees

	// External sub-types
	SubTypeExternalCustody
	SubTypeExternalExchange
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"USDC": 1,
		"BTC":  2,
		"ETH":  3,
		"SOL":  4,
		"ARB":  5,
	}
	idToAsset = map[AssetID]string{
		1: "USDC",
		2: "BTC",
		3: "ETH",
		4: "SOL",
		5: "ARB",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

func (a AssetID) String() string {
	if name, ok := idToAsset[a]; ok {
		return name
	}
	return fmt.Sprintf("asset#%d", uint16(a))
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [20]byte // address for users, name bytes for system accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(account AccountID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: account,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(name string, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [20]byte
	copy(entityID[:], []byte(name))
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", AccountID(k.EntityID), k.subTypeName(), k.AssetID)
	case AccountScopeSystem:
		name := strings.TrimRight(string(k.EntityID[:]), "\x00")
		return fmt.Sprintf("system:%s:%s:%s", name, k.subTypeName(), k.AssetID)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), k.AssetID)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCollateral:
		return "collateral"
	case SubTypeAvailable:
		return "available"
	case SubTypeDebt:
		return "debt"
	case SubTypeOpenNotional:
		return "open_notional"
	case SubTypeSystemPool:
		return "pool"
	case SubTypeSystemPoolFees:
		return "pool_fees"
	case SubTypeExternalCustody:
		return "custody"
	case SubTypeExternalExchange:
		return "exchange"
	default:
		return "unknown"
	}
}

// ParseAssetID accepts a symbol or the asset#N form produced by String.
func ParseAssetID(s string) (AssetID, error) {
	if id, ok := GetAssetID(s); ok {
		return id, nil
	}
	var n uint16
	if _, err := fmt.Sscanf(s, "asset#%d", &n); err == nil && n != 0 {
		return AssetID(n), nil
	}
	return 0, fmt.Errorf("asset %q: %w", s, ErrInvalidAsset)
}

func parseSubType(name string) (AccountSubType, bool) {
	for st := SubTypeCollateral; st <= SubTypeExternalExchange; st++ {
		if st.name() == name {
			return st, true
		}
	}
	return 0, false
}

func (st AccountSubType) name() string {
	return AccountKey{SubType: st}.subTypeName()
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	bad := func() (AccountKey, error) {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}
	if len(parts) < 3 {
		return bad()
	}
	asset, err := ParseAssetID(parts[len(parts)-1])
	if err != nil {
		return bad()
	}
	st, ok := parseSubType(parts[len(parts)-2])
	if !ok {
		return bad()
	}
	switch {
	case parts[0] == "user" && len(parts) == 4:
		id, err := ParseAccountID(parts[1])
		if err != nil {
			return bad()
		}
		return NewUserAccountKey(id, st, asset), nil
	case parts[0] == "system" && len(parts) == 4 && len(parts[1]) <= 20:
		return NewSystemAccountKey(parts[1], st, asset), nil
	case parts[0] == "external" && len(parts) == 3:
		return NewExternalAccountKey(st, asset), nil
	}
	return bad()
}

func (k AccountKey) MarshalText() ([]byte, error) {
	return []byte(k.AccountPath()), nil
}

func (k *AccountKey) UnmarshalText(b []byte) error {
	key, err := ParseAccountPath(string(b))
	if err != nil {
		return err
	}
	*k = key
	return nil
}
