package persistence

import (
	"context"
	"fmt"
	"time"

	"CurieLedger/internal/core"
	"CurieLedger/internal/event"
	"CurieLedger/internal/ledger"
	"CurieLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Replayer is the clearinghouse as seen by recovery.
type Replayer interface {
	RestoreFromSnapshot(snap *core.SnapshotState) error
	Replay(env *event.EventEnvelope, batch *ledger.Batch, delta []byte) error
	WarmLRU(keys []string)
	GetSequence() int64
}

const replayPage = 1000

// Recover restores target from the latest verified snapshot, then replays
// every logged output after it. Any hash mismatch aborts recovery. Returns
// the number of outputs replayed.
func Recover(ctx context.Context, target Replayer, sm *SnapshotManager, lruWarm int, metrics *observability.Metrics, logger zerolog.Logger) (int64, error) {
	start := time.Now()

	snap, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	if snap != nil {
		if err := target.RestoreFromSnapshot(snap); err != nil {
			return 0, fmt.Errorf("restore snapshot: %w", err)
		}
		if len(snap.IdempotencyKeys) == 0 && lruWarm > 0 {
			// Snapshots taken with an empty LRU carry no keys; take them from the log.
			keys, err := sm.RecentIdempotencyKeys(ctx, lruWarm)
			if err != nil {
				return 0, fmt.Errorf("warm idempotency cache: %w", err)
			}
			target.WarmLRU(keys)
		}
	} else {
		logger.Info().Msg("no snapshot found, replaying from the start of the log")
	}

	var replayed int64
	for {
		records, err := sm.LoadEventsFrom(ctx, target.GetSequence(), replayPage)
		if err != nil {
			return replayed, fmt.Errorf("load events from %d: %w", target.GetSequence(), err)
		}
		for _, rec := range records {
			if err := target.Replay(rec.Envelope, rec.Batch, rec.Delta); err != nil {
				return replayed, err
			}
			replayed++
		}
		if len(records) < replayPage {
			break
		}
	}

	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	logger.Info().
		Int64("replayed", replayed).
		Int64("next_sequence", target.GetSequence()).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return replayed, nil
}
