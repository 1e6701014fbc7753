package ledger

import "errors"

var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidAsset          = errors.New("invalid asset")
	ErrAssetNotFound         = errors.New("asset not found")
	ErrInsufficientAvailable = errors.New("insufficient available balance")
)
