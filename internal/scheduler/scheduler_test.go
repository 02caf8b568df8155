package scheduler

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightlabs/observatory/internal/core"
	"github.com/insightlabs/observatory/internal/storage"
)

type scriptedRunner struct {
	calls atomic.Int64

	mu  sync.Mutex
	err error
}

func (r *scriptedRunner) EnsureSynced(ctx context.Context, inst *core.ProtocolInstance) error {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *scriptedRunner) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func seedInstance(t *testing.T, store *storage.MemoryStore) *core.ProtocolInstance {
	t.Helper()
	inst := &core.ProtocolInstance{
		ID:       "uma-ethereum",
		Protocol: core.ProtocolUMA,
		Chain:    "ethereum",
		Enabled:  true,
	}
	require.NoError(t, store.UpsertInstance(context.Background(), inst))
	return inst
}

func fastOptions() Options {
	return Options{
		TickInterval:    10 * time.Millisecond,
		InitialDelay:    time.Millisecond,
		SyncTimeout:     time.Second,
		RewardsInterval: time.Hour,
		TVLInterval:     time.Hour,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestCircuitBreaksAfterFiveFailingTicks(t *testing.T) {
	store := storage.NewMemoryStore()
	seedInstance(t, store)
	runner := &scriptedRunner{err: errors.New("rpc down")}

	s := New(store, runner, nil, fastOptions())
	s.Start()
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return !s.GetSyncTaskStatus().Running })

	status := s.GetSyncTaskStatus()
	assert.False(t, status.Running)
	assert.Equal(t, maxConsecutiveErrors, status.ConsecutiveErrors)
	assert.Equal(t, uint64(5), status.Ticks, "loop stops on the fifth failing tick")

	// No further ticks after termination.
	ticksAtStop := s.GetSyncTaskStatus().Ticks
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, ticksAtStop, s.GetSyncTaskStatus().Ticks)
}

func TestSuccessResetsConsecutiveErrors(t *testing.T) {
	store := storage.NewMemoryStore()
	seedInstance(t, store)
	runner := &scriptedRunner{err: errors.New("transient")}

	s := New(store, runner, nil, fastOptions())
	s.Start()
	defer s.Stop()

	// Let a few failing ticks accumulate, then recover.
	waitFor(t, time.Second, func() bool { return s.GetSyncTaskStatus().ConsecutiveErrors >= 2 })
	runner.setErr(nil)
	waitFor(t, time.Second, func() bool { return s.GetSyncTaskStatus().ConsecutiveErrors == 0 })

	assert.True(t, s.GetSyncTaskStatus().Running)
}

func TestStopIsSynchronous(t *testing.T) {
	store := storage.NewMemoryStore()
	seedInstance(t, store)
	runner := &scriptedRunner{}

	s := New(store, runner, nil, fastOptions())
	s.Start()
	waitFor(t, time.Second, func() bool { return s.GetSyncTaskStatus().Ticks >= 1 })

	s.Stop()
	assert.False(t, s.GetSyncTaskStatus().Running)

	ticks := s.GetSyncTaskStatus().Ticks
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, ticks, s.GetSyncTaskStatus().Ticks, "no reschedule after stop")
}

func TestStartIsIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	seedInstance(t, store)
	runner := &scriptedRunner{}

	s := New(store, runner, nil, fastOptions())
	s.Start()
	s.Start()
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return s.GetSyncTaskStatus().Ticks >= 2 })
	assert.True(t, s.GetSyncTaskStatus().Running)
}

func TestRewardsDerivedFromSettledAssertions(t *testing.T) {
	store := storage.NewMemoryStore()
	inst := seedInstance(t, store)

	settled := &core.Assertion{
		ID:              "0xabc",
		Chain:           "ethereum",
		Proposer:        "0xproposer",
		Status:          core.AssertionSettled,
		SettlementValue: big.NewInt(1),
		DisputeBond:     big.NewInt(1000),
		TxHash:          "0xtx1",
		LogIndex:        0,
	}
	require.NoError(t, store.UpsertAssertion(context.Background(), inst.ID, settled))

	s := New(store, &scriptedRunner{}, nil, fastOptions())
	require.NoError(t, s.syncRewards(context.Background(), inst))
	assert.Equal(t, 1, store.CountRewardEvents())

	// Re-running is a no-op thanks to (txHash, logIndex) dedup.
	require.NoError(t, s.syncRewards(context.Background(), inst))
	assert.Equal(t, 1, store.CountRewardEvents())
}

func TestTVLSnapshotSumsOpenBonds(t *testing.T) {
	store := storage.NewMemoryStore()
	inst := seedInstance(t, store)

	require.NoError(t, store.UpsertAssertion(context.Background(), inst.ID, &core.Assertion{
		ID: "0x1", Chain: "ethereum", Status: core.AssertionProposed, Bond: big.NewInt(500), TxHash: "0xt1",
	}))
	require.NoError(t, store.UpsertAssertion(context.Background(), inst.ID, &core.Assertion{
		ID: "0x2", Chain: "ethereum", Status: core.AssertionDisputed, Bond: big.NewInt(300), DisputeBond: big.NewInt(200), TxHash: "0xt2",
	}))
	require.NoError(t, store.UpsertAssertion(context.Background(), inst.ID, &core.Assertion{
		ID: "0x3", Chain: "ethereum", Status: core.AssertionSettled, Bond: big.NewInt(999), TxHash: "0xt3",
	}))

	s := New(store, &scriptedRunner{}, nil, fastOptions())
	require.NoError(t, s.snapshotTVL(context.Background(), inst))

	snap := store.LatestTVLSnapshot()
	require.NotNil(t, snap)
	assert.Equal(t, "1000", snap.TotalValue.String(), "settled bonds excluded")
	assert.Equal(t, inst.ID, snap.InstanceID)
}
