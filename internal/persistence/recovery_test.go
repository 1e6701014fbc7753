package persistence_test

import (
	"context"
	"testing"
	"time"

	"CurieLedger/internal/core"
	"CurieLedger/internal/persistence"
	"CurieLedger/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Integration: event log, snapshots and recovery against Postgres
// =============================================================================

func persistAll(t *testing.T, outputs []*core.CoreOutput, run func(chan core.CoreOutput)) {
	t.Helper()
	ch := make(chan core.CoreOutput, len(outputs))
	for _, out := range outputs {
		ch <- *out
	}
	close(ch)
	run(ch)
}

func TestIntegration_WorkerThenRecover(t *testing.T) {
	testutil.RequireIntegration(t)
	ctx := context.Background()
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	require.NoError(t, persistence.NewMigrator(db, testutil.TestMigrationsDir(), zerolog.Nop()).Up(ctx))
	sm := persistence.NewSnapshotManager(db)

	live := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	first := []*core.CoreOutput{
		live.Apply(t, live.Deposit(trader, 10_000*unit)),
		live.Apply(t, live.Mint(trader, testutil.ETH, unit)),
	}

	committed := make(chan core.CoreOutput, 16)
	write := func(ch chan core.CoreOutput) {
		w := persistence.NewPersistenceWorker(db, ch, 10, 5*time.Millisecond, nil, zerolog.Nop())
		w.ForwardCommitted(committed)
		require.NoError(t, w.Run(ctx))
	}
	persistAll(t, first, write)
	require.Len(t, committed, len(first))

	snapshots := persistence.NewSnapshotter(live, sm, 1, nil, zerolog.Nop())
	snapSeq, err := snapshots.TakeSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, first[len(first)-1].Envelope.Sequence, snapSeq)

	second := []*core.CoreOutput{
		live.Apply(t, live.Swap(trader, testutil.ETH, -unit/2, -1_500*unit)),
		live.Apply(t, live.Withdraw(trader, 100*unit)),
	}
	persistAll(t, second, write)

	latest, err := sm.GetLatestSequence(ctx)
	require.NoError(t, err)
	require.Equal(t, second[len(second)-1].Envelope.Sequence, latest)

	replica := testutil.NewEngine(t)
	replayed, err := persistence.Recover(ctx, replica, sm, 100, nil, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, int64(len(second)), replayed)
	require.Equal(t, live.GetStateHash(), replica.GetStateHash())
	require.Equal(t, live.GetSequence(), replica.GetSequence())
	require.Equal(t, live.Collateral(trader), replica.Collateral(trader))

	// both continue identically
	next := live.Deposit(trader, unit)
	a := live.Apply(t, next)
	b := replica.Apply(t, next)
	require.Equal(t, a.Envelope.StateHash, b.Envelope.StateHash)
}

func TestIntegration_ColdRecovery(t *testing.T) {
	testutil.RequireIntegration(t)
	ctx := context.Background()
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	require.NoError(t, persistence.NewMigrator(db, testutil.TestMigrationsDir(), zerolog.Nop()).Up(ctx))
	sm := persistence.NewSnapshotManager(db)

	live := testutil.NewEngine(t)
	trader := testutil.NewAccountID()
	outputs := []*core.CoreOutput{
		live.Apply(t, live.Deposit(trader, 500*unit)),
		live.Apply(t, live.IndexPrice(testutil.ETH, testutil.ETHPrice+unit, 1)),
	}
	persistAll(t, outputs, func(ch chan core.CoreOutput) {
		require.NoError(t, persistence.NewPersistenceWorker(db, ch, 10, 5*time.Millisecond, nil, zerolog.Nop()).Run(ctx))
	})

	replica := testutil.NewEngine(t)
	replayed, err := persistence.Recover(ctx, replica, sm, 100, nil, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, int64(len(outputs)), replayed)
	require.Equal(t, live.GetStateHash(), replica.GetStateHash())

	dup, err := persistence.NewPostgresIdempotencyChecker(db, time.Second).IsDuplicate("Deposit", outputs[0].Envelope.IdempotencyKey)
	require.NoError(t, err)
	require.True(t, dup)
}
