package state

import "errors"

var (
	ErrInvalidTickRange           = errors.New("invalid tick range")
	ErrPositionNotFound           = errors.New("liquidity position not found")
	ErrInsufficientLiquidity      = errors.New("insufficient liquidity")
	ErrMarginInsufficient         = errors.New("margin insufficient")
	ErrInsufficientFreeCollateral = errors.New("insufficient free collateral")
	ErrPriceMoved                 = errors.New("pool price moved during operation")
)
