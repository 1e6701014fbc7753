package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"CurieLedger/internal/config"
	"CurieLedger/internal/core"
	"CurieLedger/internal/event"
	"CurieLedger/internal/ingestion"
	"CurieLedger/internal/observability"
	"CurieLedger/internal/oracle"
	"CurieLedger/internal/persistence"
	"CurieLedger/internal/projection"
	"CurieLedger/internal/query"
	"CurieLedger/internal/server"
	"CurieLedger/internal/state"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const snapshotCheckInterval = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Recover the ledger and serve commands, feeds and queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, logger)
	},
}

func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	logger.Info().Msg("CurieLedger starting")

	// --- Postgres ---
	db, err := openDB(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := persistence.NewMigrator(db, cfg.MigrationsDir, logger.With().Str("component", "migrator").Logger()).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Observability ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)

	// --- Markets, pools, prices ---
	markets, err := cfg.Registry()
	if err != nil {
		return err
	}
	pools, err := cfg.Pools()
	if err != nil {
		return err
	}
	subjects := ingestion.DefaultSubjects()
	var priceFeed state.Oracle = oracle.NewStatic()
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		priceFeed = oracle.NewRedisFeed(rdb, cfg.OracleTimeout, cfg.OracleCacheTTL, cfg.OracleMaxAge)
		healthChecker.AddCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		// Index prices come from Redis, not from the price stream.
		subjects = withoutEventType(subjects, event.EventTypeIndexPriceUpdate.String())
	}

	// --- NATS ---
	natsLogger := logger.With().Str("component", "nats").Logger()
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
	if err != nil {
		return err
	}
	defer nc.Close()
	if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
		return err
	}
	healthChecker.AddCheck("nats", func(context.Context) error {
		if st := nc.Status(); st != nats.CONNECTED {
			return fmt.Errorf("nats %s", st)
		}
		return nil
	})

	// --- Core ---
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	publishChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	coreLogger := logger.With().Str("component", "core").Logger()
	ledgerCore := core.NewClearinghouse(core.Config{
		Markets:             markets,
		Pool:                pools,
		Oracle:              priceFeed,
		Custody:             ingestion.NewSettlementPublisher(js, cfg.CustodyTimeout, natsLogger),
		PersistChan:         persistChan,
		ProjectionChan:      projectionChan,
		DBChecker:           persistence.NewPostgresIdempotencyChecker(db, 0),
		IdempotencyCapacity: cfg.IdempotencyLRUCapacity,
		Metrics:             metrics,
		Logger:              &coreLogger,
	})

	// --- Recovery ---
	snapMgr := persistence.NewSnapshotManager(db)
	if _, err := persistence.Recover(ctx, ledgerCore, snapMgr, cfg.IdempotencyLRUCapacity, metrics, logger); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	snapshotter := persistence.NewSnapshotter(ledgerCore, snapMgr, cfg.SnapshotInterval, metrics, logger.With().Str("component", "snapshotter").Logger())

	// --- Pipeline workers ---
	// They outlive the front door so that everything the core emitted is
	// written before the final snapshot.
	pipelineCtx, stopPipeline := context.WithCancel(context.Background())
	defer stopPipeline()
	var pipeline sync.WaitGroup
	errChan := make(chan error, 8)

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics,
		logger.With().Str("component", "persistence").Logger())
	persistWorker.ForwardCommitted(publishChan)
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics, logger.With().Str("component", "projection").Logger())
	publisher := ingestion.NewOutboundPublisher(js, publishChan, natsLogger)

	persistDone := make(chan struct{})
	pipeline.Add(3)
	go func() {
		defer pipeline.Done()
		defer close(persistDone)
		if err := persistWorker.Run(pipelineCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()
	go func() {
		defer pipeline.Done()
		if err := projWorker.Run(pipelineCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("projection worker: %w", err)
		}
	}()
	go func() {
		defer pipeline.Done()
		<-persistDone
		// Committed outputs stop arriving once the persistence worker exits.
		close(publishChan)
	}()
	var publisherDone sync.WaitGroup
	publisherDone.Add(1)
	go func() {
		defer publisherDone.Done()
		publisher.Run(pipelineCtx)
	}()

	// --- Front door: NATS consumers, RPC, snapshots ---
	frontCtx, stopFront := context.WithCancel(ctx)
	defer stopFront()
	var front sync.WaitGroup

	rawChan := make(chan ingestion.RawEvent, 4096)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, natsLogger)
	if err := subscriber.Subscribe(frontCtx, subjects); err != nil {
		return err
	}
	dispatcher := ingestion.NewDispatcher(ledgerCore, subjects, metrics, logger.With().Str("component", "dispatcher").Logger())

	queryService := query.NewQueryService(ledgerCore, db, metrics)
	rpc := server.NewServer(cfg.GRPCAddr, cfg.HTTPAddr, server.NewClearinghouse(server.Deps{
		Query:     queryService,
		Ingest:    ingestion.NewGRPCIngestService(ledgerCore),
		Sequence:  ledgerCore.GetSequence,
		Snapshots: snapshotter,
		EventLog:  snapMgr,
		Rebuild: func(ctx context.Context) error {
			return projection.RebuildProjections(ctx, db, snapMgr, logger.With().Str("component", "rebuild").Logger())
		},
	}), healthChecker, logger.With().Str("component", "server").Logger())

	runFront := func(name string, fn func(context.Context) error) {
		front.Add(1)
		go func() {
			defer front.Done()
			if err := fn(frontCtx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	runFront("dispatcher", func(ctx context.Context) error { return dispatcher.Run(ctx, rawChan) })
	runFront("grpc", rpc.StartGRPC)
	runFront("http", rpc.StartHTTPGateway)
	runFront("snapshotter", func(ctx context.Context) error { return snapshotter.Run(ctx, snapshotCheckInterval) })
	runFront("metrics", func(ctx context.Context) error { return serveMetrics(ctx, cfg.MetricsAddr, reg, logger) })
	runFront("channel-metrics", func(ctx context.Context) error {
		return sampleChannels(ctx, metrics, map[string]chan core.CoreOutput{
			"persist":    persistChan,
			"projection": projectionChan,
			"publish":    publishChan,
		})
	})

	healthChecker.SetReady(true)
	rpc.SetServing(true)
	logger.Info().
		Int64("next_sequence", ledgerCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("CurieLedger ready")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errChan:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	healthChecker.SetReady(false)
	rpc.SetServing(false)
	subscriber.Stop()
	stopFront()
	front.Wait()

	// Nothing produces outputs any more.
	close(persistChan)
	close(projectionChan)
	pipeline.Wait()
	publisherDone.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := snapshotter.TakeSnapshot(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}

	logger.Info().Msg("CurieLedger shutdown complete")
	return nil
}

func withoutEventType(subjects []ingestion.SubjectConfig, eventType string) []ingestion.SubjectConfig {
	out := subjects[:0:0]
	for _, s := range subjects {
		if s.EventType != eventType {
			out = append(out, s)
		}
	}
	return out
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func sampleChannels(ctx context.Context, metrics *observability.Metrics, chans map[string]chan core.CoreOutput) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for name, ch := range chans {
				metrics.SetChannelMetrics(name, len(ch), cap(ch))
			}
		}
	}
}
