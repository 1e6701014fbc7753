package server

import (
	"context"
	"encoding/hex"
	"fmt"

	"CurieLedger/internal/ingestion"
	"CurieLedger/internal/ledger"
	"CurieLedger/internal/query"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// Snapshotter takes an on-demand snapshot.
type Snapshotter interface {
	TakeSnapshot(ctx context.Context) (int64, error)
}

// EventLog reports how far the durable log has progressed.
type EventLog interface {
	GetLatestSequence(ctx context.Context) (int64, error)
}

// Deps holds the collaborators behind the RPC surface. Nil Snapshots,
// EventLog or Rebuild make the matching admin call return Unimplemented.
type Deps struct {
	Query     *query.QueryService
	Ingest    *ingestion.GRPCIngestService
	Sequence  func() int64
	Snapshots Snapshotter
	EventLog  EventLog
	Rebuild   func(ctx context.Context) error
}

type clearinghouse struct {
	deps Deps
}

// NewClearinghouse returns the ClearinghouseServer backed by deps.
func NewClearinghouse(deps Deps) ClearinghouseServer {
	return &clearinghouse{deps: deps}
}

func parseAccount(s string) (ledger.AccountID, error) {
	if s == "" {
		return ledger.AccountID{}, status.Error(codes.InvalidArgument, "account is required")
	}
	id, err := ledger.ParseAccountID(s)
	if err != nil {
		return ledger.AccountID{}, status.Errorf(codes.InvalidArgument, "invalid account: %v", err)
	}
	return id, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	}
	return limit
}

func (s *clearinghouse) GetAccount(ctx context.Context, req *AccountRequest) (*query.AccountResponse, error) {
	id, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}
	resp, err := s.deps.Query.GetAccount(ctx, id)
	return resp, toStatus(err)
}

func (s *clearinghouse) GetBalance(ctx context.Context, req *BalanceRequest) (*query.BalanceResponse, error) {
	id, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}
	asset, err := ledger.ParseAssetID(req.Asset)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid asset: %v", err)
	}
	resp, err := s.deps.Query.GetBalance(ctx, id, asset)
	return resp, toStatus(err)
}

func (s *clearinghouse) GetOpenOrders(ctx context.Context, req *AccountRequest) (*OpenOrdersResponse, error) {
	id, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}
	orders, err := s.deps.Query.GetOpenOrders(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	var asOf int64
	if s.deps.Sequence != nil {
		asOf = s.deps.Sequence() - 1
	}
	return &OpenOrdersResponse{Orders: orders, AsOfSequence: asOf}, nil
}

func (s *clearinghouse) GetFeeHistory(ctx context.Context, req *HistoryRequest) (*FeeHistoryResponse, error) {
	id, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}
	fees, err := s.deps.Query.GetFeeHistory(ctx, id, clampLimit(req.Limit))
	if err != nil {
		return nil, toStatus(err)
	}
	return &FeeHistoryResponse{Fees: fees}, nil
}

func (s *clearinghouse) GetJournalHistory(ctx context.Context, req *HistoryRequest) (*JournalHistoryResponse, error) {
	id, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}
	var after *int64
	if req.AfterSequence > 0 {
		after = &req.AfterSequence
	}
	journals, err := s.deps.Query.GetJournalHistory(ctx, id, clampLimit(req.Limit), after)
	if err != nil {
		return nil, toStatus(err)
	}
	return &JournalHistoryResponse{Journals: journals}, nil
}

func (s *clearinghouse) SubmitEvent(ctx context.Context, req *SubmitEventRequest) (*SubmitEventResponse, error) {
	if req.EventType == "" {
		return nil, status.Error(codes.InvalidArgument, "event_type is required")
	}
	if s.deps.Ingest == nil {
		return nil, status.Error(codes.Unimplemented, "ingest disabled")
	}
	out, err := s.deps.Ingest.Submit(ctx, req.EventType, req.Payload)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SubmitEventResponse{
		Sequence:  out.Envelope.Sequence,
		StateHash: hex.EncodeToString(out.Envelope.StateHash[:]),
	}, nil
}

func (s *clearinghouse) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	report, err := s.deps.Query.VerifyIntegrity(ctx)
	return report, toStatus(err)
}

func (s *clearinghouse) GetEventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfoResponse, error) {
	if s.deps.EventLog == nil {
		return nil, status.Error(codes.Unimplemented, "no event log")
	}
	last, err := s.deps.EventLog.GetLatestSequence(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
	}
	resp := &EventLogInfoResponse{LastSequence: last}
	if s.deps.Sequence != nil {
		resp.CoreSequence = s.deps.Sequence()
	}
	return resp, nil
}

func (s *clearinghouse) TakeSnapshot(ctx context.Context, _ *Empty) (*SnapshotResponse, error) {
	if s.deps.Snapshots == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots disabled")
	}
	seq, err := s.deps.Snapshots.TakeSnapshot(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "take snapshot: %v", err)
	}
	return &SnapshotResponse{Sequence: seq}, nil
}

func (s *clearinghouse) RebuildProjections(ctx context.Context, _ *Empty) (*Empty, error) {
	if s.deps.Rebuild == nil {
		return nil, status.Error(codes.Unimplemented, "rebuild disabled")
	}
	if err := s.deps.Rebuild(ctx); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("rebuild failed: %v", err))
	}
	return &Empty{}, nil
}
