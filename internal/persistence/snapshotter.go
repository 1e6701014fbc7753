package persistence

import (
	"context"
	"fmt"
	"time"

	"CurieLedger/internal/core"
	"CurieLedger/internal/observability"

	"github.com/rs/zerolog"
)

// SnapshotSource is the clearinghouse as seen by the snapshotter.
type SnapshotSource interface {
	CreateSnapshotState() (*core.SnapshotState, error)
	GetSequence() int64
}

// Snapshotter captures the core every interval outputs and on demand.
type Snapshotter struct {
	source   SnapshotSource
	manager  *SnapshotManager
	interval int64
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewSnapshotter(source SnapshotSource, manager *SnapshotManager, interval int64, metrics *observability.Metrics, logger zerolog.Logger) *Snapshotter {
	if interval <= 0 {
		interval = 100_000
	}
	return &Snapshotter{
		source:   source,
		manager:  manager,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
	}
}

// TakeSnapshot captures and stores the current state, marking it verified
// since it was taken from live state. Returns the snapshot's sequence.
func (s *Snapshotter) TakeSnapshot(ctx context.Context) (int64, error) {
	start := time.Now()

	snap, err := s.source.CreateSnapshotState()
	if err != nil {
		return 0, fmt.Errorf("capture snapshot: %w", err)
	}
	size, err := s.manager.SaveSnapshot(ctx, snap)
	if err != nil {
		return 0, err
	}
	if err := s.manager.MarkVerified(ctx, snap.Sequence); err != nil {
		return 0, fmt.Errorf("mark snapshot %d verified: %w", snap.Sequence, err)
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	s.logger.Info().Int64("sequence", snap.Sequence).Int("bytes", size).Msg("snapshot saved")
	return snap.Sequence, nil
}

// Run checks every tick whether interval outputs have passed since the last
// snapshot.
func (s *Snapshotter) Run(ctx context.Context, tick time.Duration) error {
	last := s.source.GetSequence()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			current := s.source.GetSequence()
			if current-last < s.interval {
				continue
			}
			if _, err := s.TakeSnapshot(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			last = current
		}
	}
}
