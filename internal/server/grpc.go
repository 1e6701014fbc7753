package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"CurieLedger/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Server runs the Clearinghouse service over gRPC and an HTTP/JSON gateway.
type Server struct {
	svc           ClearinghouseServer
	grpcServer    *grpc.Server
	httpServer    *http.Server
	healthServer  *health.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// NewServer registers svc with a gRPC server and builds the HTTP routes.
func NewServer(grpcAddr, httpAddr string, svc ClearinghouseServer, hc *observability.HealthChecker, logger zerolog.Logger) *Server {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	grpcServer.RegisterService(&ServiceDesc, svc)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)

	reflection.Register(grpcServer)

	s := &Server{
		svc:           svc,
		grpcServer:    grpcServer,
		healthServer:  healthServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: hc,
		logger:        logger,
	}
	s.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetServing flips the gRPC health status of the service.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus(serviceName, st)
	s.healthServer.SetServingStatus("", st)
}

// StartGRPC serves gRPC until ctx is done.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON routes until ctx is done.
func (s *Server) StartHTTPGateway(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the HTTP routes. They call the service in process, so the
// gateway works without a gRPC hop.
func (s *Server) Handler() http.Handler {
	mux := runtime.NewServeMux()
	routes := []struct {
		method, path string
		h            runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/accounts/{account}", s.getAccount},
		{http.MethodGet, "/v1/accounts/{account}/balances/{asset}", s.getBalance},
		{http.MethodGet, "/v1/accounts/{account}/orders", s.getOpenOrders},
		{http.MethodGet, "/v1/accounts/{account}/fees", s.getFeeHistory},
		{http.MethodGet, "/v1/accounts/{account}/journals", s.getJournalHistory},
		{http.MethodPost, "/v1/events/{event_type}", s.submitEvent},
		{http.MethodGet, "/v1/admin/integrity", s.verifyIntegrity},
		{http.MethodGet, "/v1/admin/event-log", s.eventLogInfo},
		{http.MethodPost, "/v1/admin/snapshots", s.takeSnapshot},
		{http.MethodPost, "/v1/admin/projections/rebuild", s.rebuildProjections},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, r.h); err != nil {
			panic(fmt.Sprintf("register %s %s: %v", r.method, r.path, err))
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)
	return httpMux
}

// ============================================================================
// HTTP handlers
// ============================================================================

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := s.svc.GetAccount(r.Context(), &AccountRequest{Account: p["account"]})
	writeJSON(w, resp, err)
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := s.svc.GetBalance(r.Context(), &BalanceRequest{Account: p["account"], Asset: p["asset"]})
	writeJSON(w, resp, err)
}

func (s *Server) getOpenOrders(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := s.svc.GetOpenOrders(r.Context(), &AccountRequest{Account: p["account"]})
	writeJSON(w, resp, err)
}

func (s *Server) getFeeHistory(w http.ResponseWriter, r *http.Request, p map[string]string) {
	req, err := historyRequest(r, p)
	if err != nil {
		writeJSON(w, nil, err)
		return
	}
	resp, err := s.svc.GetFeeHistory(r.Context(), req)
	writeJSON(w, resp, err)
}

func (s *Server) getJournalHistory(w http.ResponseWriter, r *http.Request, p map[string]string) {
	req, err := historyRequest(r, p)
	if err != nil {
		writeJSON(w, nil, err)
		return
	}
	resp, err := s.svc.GetJournalHistory(r.Context(), req)
	writeJSON(w, resp, err)
}

func (s *Server) submitEvent(w http.ResponseWriter, r *http.Request, p map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, nil, status.Errorf(codes.InvalidArgument, "read body: %v", err))
		return
	}
	resp, err := s.svc.SubmitEvent(r.Context(), &SubmitEventRequest{EventType: p["event_type"], Payload: body})
	writeJSON(w, resp, err)
}

func (s *Server) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.svc.VerifyIntegrity(r.Context(), &Empty{})
	writeJSON(w, resp, err)
}

func (s *Server) eventLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.svc.GetEventLogInfo(r.Context(), &Empty{})
	writeJSON(w, resp, err)
}

func (s *Server) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.svc.TakeSnapshot(r.Context(), &Empty{})
	writeJSON(w, resp, err)
}

func (s *Server) rebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.svc.RebuildProjections(r.Context(), &Empty{})
	writeJSON(w, resp, err)
}

func historyRequest(r *http.Request, p map[string]string) (*HistoryRequest, error) {
	req := &HistoryRequest{Account: p["account"]}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid limit %q", v)
		}
		req.Limit = n
	}
	if v := q.Get("after_sequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid after_sequence %q", v)
		}
		req.AfterSequence = n
	}
	return req, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, resp any, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		st := status.Convert(toStatus(err))
		w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
		json.NewEncoder(w).Encode(errorBody{Code: st.Code().String(), Message: st.Message()})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Debug().
				Str("method", info.FullMethod).
				Str("code", status.Code(err).String()).
				Dur("took", time.Since(start)).
				Err(err).
				Msg("rpc failed")
		}
		return resp, err
	}
}
