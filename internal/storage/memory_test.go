package storage

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightlabs/observatory/internal/core"
)

func TestUpsertAssertionIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a := &core.Assertion{
		ID:         "0xabc",
		Chain:      "ethereum",
		Identifier: "YES_OR_NO_QUERY",
		Proposer:   "0x1111",
		ProposedAt: time.Now(),
		Status:     core.AssertionProposed,
		Bond:       big.NewInt(500),
		TxHash:     "0xt1",
		Version:    core.OracleV3,
	}

	require.NoError(t, store.UpsertAssertion(ctx, "inst-1", a))
	require.NoError(t, store.UpsertAssertion(ctx, "inst-1", a))

	assert.Equal(t, 1, store.CountAssertions())
	got, err := store.GetAssertion(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, core.AssertionProposed, got.Status)
}

func TestAssertionLifecycleMerge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Now()
	require.NoError(t, store.UpsertAssertion(ctx, "inst-1", &core.Assertion{
		ID: "0xabc", Chain: "ethereum", Status: core.AssertionProposed,
		Proposer: "0x1111", Bond: big.NewInt(500), ProposedAt: now,
	}))

	disputedAt := now.Add(time.Minute)
	require.NoError(t, store.UpsertAssertion(ctx, "inst-1", &core.Assertion{
		ID: "0xabc", Chain: "ethereum", Status: core.AssertionDisputed,
		DisputedAt: &disputedAt,
	}))

	settledAt := now.Add(2 * time.Minute)
	require.NoError(t, store.UpsertAssertion(ctx, "inst-1", &core.Assertion{
		ID: "0xabc", Chain: "ethereum", Status: core.AssertionSettled,
		SettledAt: &settledAt, SettlementValue: big.NewInt(1),
		DisputeBond: big.NewInt(1000),
	}))

	got, err := store.GetAssertion(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, core.AssertionSettled, got.Status)
	assert.Equal(t, "0x1111", got.Proposer, "enrichment keeps earlier fields")
	assert.Equal(t, int64(500), got.Bond.Int64())
	assert.Equal(t, int64(1), got.SettlementValue.Int64())
	assert.Equal(t, int64(1000), got.DisputeBond.Int64())

	// A late replayed Proposed event must not resurrect a Settled row.
	require.NoError(t, store.UpsertAssertion(ctx, "inst-1", &core.Assertion{
		ID: "0xabc", Chain: "ethereum", Status: core.AssertionProposed,
	}))
	got, err = store.GetAssertion(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, core.AssertionSettled, got.Status)
}

func TestVoteDedup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	v := &core.Vote{
		Chain: "ethereum", AssertionID: "0xabc", Voter: "0x2222",
		Support: true, TxHash: "0xT5", LogIndex: 3, BlockNumber: 100,
	}
	require.NoError(t, store.UpsertVote(ctx, "inst-1", v))
	// Same (txHash, logIndex) with different casing collapses.
	v2 := *v
	v2.TxHash = "0xt5"
	require.NoError(t, store.UpsertVote(ctx, "inst-1", &v2))

	rows, total, err := store.ListVotes(ctx, VoteFilter{AssertionID: "0xabc"}, Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, rows, 1)
}

func TestListAssertionsFilterAndPage(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.UpsertAssertion(ctx, "inst-1", &core.Assertion{
			ID:          string(rune('a' + i)),
			Chain:       "polygon",
			Status:      core.AssertionProposed,
			BlockNumber: uint64(100 + i),
			ProposedAt:  time.Now(),
		}))
	}
	require.NoError(t, store.UpsertAssertion(ctx, "inst-1", &core.Assertion{
		ID: "other", Chain: "ethereum", Status: core.AssertionProposed,
		ProposedAt: time.Now(),
	}))

	rows, total, err := store.ListAssertions(ctx, AssertionFilter{Chain: "polygon"}, Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, rows, 2)
	// Newest block first.
	assert.Equal(t, uint64(104), rows[0].BlockNumber)

	rows, _, err = store.ListAssertions(ctx, AssertionFilter{Chain: "polygon"}, Page{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSyncStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// Unknown instance yields a zero state, not an error.
	s, err := store.GetSyncState(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), s.LastProcessedBlock)

	now := time.Now()
	s.LastProcessedBlock = 1200
	s.LastSuccessProcessedBlock = 1200
	s.RPCStats = map[string]*core.EndpointStats{
		"https://rpc.example.org": {OK: 4, AvgLatencyMs: 120, LastOKAt: &now},
	}
	require.NoError(t, store.PutSyncState(ctx, "inst-1", s))

	// Mutating the caller's copy must not leak into the store.
	s.RPCStats["https://rpc.example.org"].OK = 99

	got, err := store.GetSyncState(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1200), got.LastProcessedBlock)
	assert.Equal(t, uint64(4), got.RPCStats["https://rpc.example.org"].OK)
}

func TestRewardEventDedup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ev := &core.RewardEvent{
		Chain: "ethereum", Recipient: "0x9", Amount: big.NewInt(10),
		TxHash: "0xr1", LogIndex: 0, BlockNumber: 50, ObservedAt: time.Now(),
	}
	require.NoError(t, store.UpsertRewardEvent(ctx, "inst-1", ev))
	require.NoError(t, store.UpsertRewardEvent(ctx, "inst-1", ev))
	assert.Len(t, store.rewards, 1)
}
