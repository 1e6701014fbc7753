package server

import (
	"context"
	"encoding/json"

	"CurieLedger/internal/query"

	"google.golang.org/grpc"
)

const serviceName = "curieledger.v1.Clearinghouse"

// ============================================================================
// Messages
// ============================================================================

type AccountRequest struct {
	Account string `json:"account"`
}

type BalanceRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
}

type HistoryRequest struct {
	Account       string `json:"account"`
	Limit         int    `json:"limit,omitempty"`
	AfterSequence int64  `json:"after_sequence,omitempty"` // journals only; 0 means newest
}

type OpenOrdersResponse struct {
	Orders       []query.OpenOrderResponse `json:"orders"`
	AsOfSequence int64                     `json:"as_of_sequence"`
}

type FeeHistoryResponse struct {
	Fees []query.FeeHistoryResponse `json:"fees"`
}

type JournalHistoryResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type SubmitEventRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type SubmitEventResponse struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
}

type Empty struct{}

type EventLogInfoResponse struct {
	LastSequence int64 `json:"last_sequence"`
	CoreSequence int64 `json:"core_sequence"` // next output the core will emit
}

type SnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

// ClearinghouseServer is the RPC surface of the ledger.
type ClearinghouseServer interface {
	GetAccount(context.Context, *AccountRequest) (*query.AccountResponse, error)
	GetBalance(context.Context, *BalanceRequest) (*query.BalanceResponse, error)
	GetOpenOrders(context.Context, *AccountRequest) (*OpenOrdersResponse, error)
	GetFeeHistory(context.Context, *HistoryRequest) (*FeeHistoryResponse, error)
	GetJournalHistory(context.Context, *HistoryRequest) (*JournalHistoryResponse, error)
	SubmitEvent(context.Context, *SubmitEventRequest) (*SubmitEventResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
	GetEventLogInfo(context.Context, *Empty) (*EventLogInfoResponse, error)
	TakeSnapshot(context.Context, *Empty) (*SnapshotResponse, error)
	RebuildProjections(context.Context, *Empty) (*Empty, error)
}

// ============================================================================
// Service descriptor
// ============================================================================

// unary adapts a typed method to a grpc.MethodDesc handler.
func unary[Req any, Resp any](name string, call func(ClearinghouseServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ClearinghouseServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// ServiceDesc registers a ClearinghouseServer with a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ClearinghouseServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetAccount", ClearinghouseServer.GetAccount),
		unary("GetBalance", ClearinghouseServer.GetBalance),
		unary("GetOpenOrders", ClearinghouseServer.GetOpenOrders),
		unary("GetFeeHistory", ClearinghouseServer.GetFeeHistory),
		unary("GetJournalHistory", ClearinghouseServer.GetJournalHistory),
		unary("SubmitEvent", ClearinghouseServer.SubmitEvent),
		unary("VerifyIntegrity", ClearinghouseServer.VerifyIntegrity),
		unary("GetEventLogInfo", ClearinghouseServer.GetEventLogInfo),
		unary("TakeSnapshot", ClearinghouseServer.TakeSnapshot),
		unary("RebuildProjections", ClearinghouseServer.RebuildProjections),
	},
	Metadata: "curieledger/v1/clearinghouse",
}

// ClearinghouseClient calls the service over a JSON-codec connection.
type ClearinghouseClient struct {
	cc grpc.ClientConnInterface
}

func NewClearinghouseClient(cc grpc.ClientConnInterface) *ClearinghouseClient {
	return &ClearinghouseClient{cc: cc}
}

// Invoke calls method with in and decodes the reply into out.
func (c *ClearinghouseClient) Invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}
