package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for CurieLedger.
type Metrics struct {
	// --- Core processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreSequence       prometheus.Gauge
	CoreAccounts       prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Liquidity & margin ---
	LiquidityOps        *prometheus.CounterVec
	FeesCollected       *prometheus.CounterVec
	MarginRejections    *prometheus.CounterVec
	CustodyInstructions *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg uses
// the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core processing
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "curie_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "curie_core_events_rejected_total",
			Help: "Events rejected (dedup, sequence, validation)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "curie_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "curie_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "curie_core_sequence",
			Help: "Next global sequence number",
		}),

		CoreAccounts: f.NewGauge(prometheus.GaugeOpts{
			Name: "curie_core_accounts",
			Help: "Accounts held in memory",
		}),

		// Latency
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "curie_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"event_type"}),

		ApplyToPersist: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "curie_apply_to_persist_seconds",
			Help:    "Core emit to Postgres commit",
			Buckets: latencyBuckets,
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "curie_persist_batch_duration_seconds",
			Help:    "Time to write one batch to Postgres",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "curie_projection_update_duration_seconds",
			Help:    "Time to apply one output to a projection",
			Buckets: latencyBuckets,
		}, []string{"projection"}),

		// Channels
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "curie_channel_size",
			Help: "Current items buffered in a channel",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "curie_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "curie_channel_utilization",
			Help: "Channel size / capacity",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "curie_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "curie_publish_drops_total",
			Help: "Outbound events dropped because the publish queue was full",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "curie_persist_backpressure_total",
			Help: "Times the core blocked on a full persist channel",
		}),

		// Idempotency & ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "curie_idempotency_duplicates_total",
			Help: "Duplicate commands detected",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "curie_dedup_lru_size",
			Help: "Keys held in the idempotency LRU",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "curie_dedup_tier2_errors_total",
			Help: "Postgres idempotency lookups that failed",
		}),

		EventSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "curie_event_sequence_gap_total",
			Help: "Source sequence gaps detected",
		}, []string{"partition"}),

		EventOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "curie_event_out_of_order_total",
			Help: "Source sequence regressions detected",
		}, []string{"partition"}),

		// Liquidity & margin
		LiquidityOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "curie_liquidity_operations_total",
			Help: "Liquidity adds and removes committed",
		}, []string{"asset", "op"}),

		FeesCollected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "curie_fees_collected_total",
			Help: "Maker fees credited to accounts, in asset units",
		}, []string{"asset"}),

		MarginRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "curie_margin_rejections_total",
			Help: "Operations rejected by the margin engine",
		}, []string{"event_type", "reason"}),

		CustodyInstructions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "curie_custody_instructions_total",
			Help: "Custody credit/debit instructions by outcome",
		}, []string{"direction", "outcome"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "curie_persist_events_written_total",
			Help: "Events written to the event log",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "curie_persist_journals_written_total",
			Help: "Journal entries written",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "curie_persist_batch_size",
			Help:    "Outputs per persistence batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "curie_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"stage"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "curie_persist_retry_total",
			Help: "Persistence batch retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "curie_persist_last_sequence",
			Help: "Last sequence committed to Postgres",
		}),

		// Snapshot & replay
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "curie_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "curie_snapshot_duration_seconds",
			Help:    "Time to write a snapshot",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "curie_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "curie_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "curie_replay_events_total",
			Help: "Events replayed during recovery",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "curie_replay_duration_seconds",
			Help: "Duration of the last recovery replay",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "curie_query_requests_total",
			Help: "Query API requests",
		}, []string{"method"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "curie_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"method"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "curie_query_errors_total",
			Help: "Query API errors by code",
		}, []string{"method", "code"}),
	}
}

// SetChannelMetrics updates size, capacity and utilization for a channel.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
