package server

import (
	"context"
	"errors"

	"CurieLedger/internal/amm"
	"CurieLedger/internal/core"
	"CurieLedger/internal/ingestion"
	"CurieLedger/internal/ledger"
	fpmath "CurieLedger/internal/math"
	"CurieLedger/internal/oracle"
	"CurieLedger/internal/query"
	"CurieLedger/internal/state"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var codeTable = []struct {
	code codes.Code
	errs []error
}{
	{codes.InvalidArgument, []error{
		ledger.ErrInvalidAmount, ledger.ErrInvalidAsset, state.ErrInvalidTickRange,
		amm.ErrBadRange, ingestion.ErrBadPayload, fpmath.ErrAmountPrecision, core.ErrUnknownEvent,
	}},
	{codes.NotFound, []error{ledger.ErrAssetNotFound, state.ErrPositionNotFound, amm.ErrUnknownPool}},
	{codes.AlreadyExists, []error{core.ErrDuplicate, amm.ErrPoolExists}},
	{codes.FailedPrecondition, []error{
		state.ErrInsufficientLiquidity, ledger.ErrInsufficientAvailable, state.ErrMarginInsufficient,
		state.ErrInsufficientFreeCollateral, core.ErrOutOfOrder, core.ErrSequenceGap, query.ErrNoDatabase,
		fpmath.ErrAmountOverflow,
	}},
	{codes.Aborted, []error{state.ErrPriceMoved}},
	{codes.Unavailable, []error{
		core.ErrCustody, state.ErrPriceUnavailable, state.ErrPoolUnavailable,
		oracle.ErrNoPrice, oracle.ErrStalePrice,
	}},
}

// toStatus maps a domain error onto a gRPC status. Errors already carrying a
// status pass through.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	for _, row := range codeTable {
		for _, target := range row.errs {
			if errors.Is(err, target) {
				return status.Error(row.code, err.Error())
			}
		}
	}
	return status.Error(codes.Internal, err.Error())
}
