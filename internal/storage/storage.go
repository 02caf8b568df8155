// Package storage owns the persisted rows of the observatory: assertions,
// disputes, votes, sync state, reward events, TVL snapshots and the
// protocol instance table. Two backends implement the same contract: a
// Postgres store with upsert-on-conflict and an in-memory store with the
// same semantics for tests and single-node deployments.
package storage

import (
	"context"
	"errors"

	"github.com/insightlabs/observatory/internal/core"
)

// ErrNotFound is returned by point lookups when no row exists.
var ErrNotFound = errors.New("storage: not found")

// Page bounds a list query. A zero Limit means the backend default (100).
type Page struct {
	Limit  int
	Offset int
}

func (p Page) limitOrDefault() int {
	if p.Limit <= 0 {
		return 100
	}
	return p.Limit
}

// AssertionFilter narrows ListAssertions. Zero values match everything.
type AssertionFilter struct {
	Chain      string
	Status     core.AssertionStatus
	Identifier string
}

// DisputeFilter narrows ListDisputes.
type DisputeFilter struct {
	Chain       string
	Status      core.DisputeStatus
	AssertionID string
}

// VoteFilter narrows ListVotes.
type VoteFilter struct {
	Chain       string
	AssertionID string
	Voter       string
}

// Store is the storage contract the core consumes. All operations are
// idempotent by primary key and honor context cancellation.
type Store interface {
	// Optimistic oracle entities. Upserts merge: later events enrich
	// fields but never resurrect a Settled assertion.
	UpsertAssertion(ctx context.Context, instanceID string, a *core.Assertion) error
	UpsertDispute(ctx context.Context, instanceID string, d *core.Dispute) error
	// UpsertVote deduplicates by (TxHash, LogIndex).
	UpsertVote(ctx context.Context, instanceID string, v *core.Vote) error

	GetAssertion(ctx context.Context, id string) (*core.Assertion, error)
	ListAssertions(ctx context.Context, f AssertionFilter, p Page) ([]*core.Assertion, int, error)
	ListDisputes(ctx context.Context, f DisputeFilter, p Page) ([]*core.Dispute, int, error)
	ListVotes(ctx context.Context, f VoteFilter, p Page) ([]*core.Vote, int, error)

	// Sync state. GetSyncState returns a zero-valued state (not an error)
	// for instances that have never synced.
	GetSyncState(ctx context.Context, instanceID string) (*core.SyncState, error)
	PutSyncState(ctx context.Context, instanceID string, s *core.SyncState) error

	// Scheduler sub-task rows.
	UpsertRewardEvent(ctx context.Context, instanceID string, ev *core.RewardEvent) error
	PutTVLSnapshot(ctx context.Context, snap *core.TVLSnapshot) error

	// Instance registry.
	UpsertInstance(ctx context.Context, inst *core.ProtocolInstance) error
	GetInstance(ctx context.Context, id string) (*core.ProtocolInstance, error)
	ListInstances(ctx context.Context, enabledOnly bool) ([]*core.ProtocolInstance, error)
}

// assertionStatusRank orders lifecycle states so merges never move a row
// backwards. Settled and Expired are terminal.
func assertionStatusRank(s core.AssertionStatus) int {
	switch s {
	case core.AssertionProposed:
		return 1
	case core.AssertionDisputed:
		return 2
	case core.AssertionExpired:
		return 3
	case core.AssertionSettled:
		return 4
	}
	return 0
}

// mergeAssertion folds an incoming upsert into an existing row. The
// incoming event enriches unset fields; status only moves forward.
func mergeAssertion(existing, incoming *core.Assertion) *core.Assertion {
	out := *existing
	if assertionStatusRank(incoming.Status) > assertionStatusRank(out.Status) {
		out.Status = incoming.Status
	}
	if incoming.AncillaryData != "" {
		out.AncillaryData = incoming.AncillaryData
	}
	if incoming.Proposer != "" {
		out.Proposer = incoming.Proposer
	}
	if incoming.ProposedValue != nil {
		out.ProposedValue = incoming.ProposedValue
	}
	if incoming.Reward != nil {
		out.Reward = incoming.Reward
	}
	if incoming.DisputedAt != nil {
		out.DisputedAt = incoming.DisputedAt
	}
	if incoming.SettledAt != nil {
		out.SettledAt = incoming.SettledAt
	}
	if incoming.SettlementValue != nil {
		out.SettlementValue = incoming.SettlementValue
	}
	if incoming.Bond != nil {
		out.Bond = incoming.Bond
	}
	if incoming.DisputeBond != nil {
		out.DisputeBond = incoming.DisputeBond
	}
	return &out
}

func disputeStatusRank(s core.DisputeStatus) int {
	switch s {
	case core.DisputeVoting:
		return 1
	case core.DisputeResolved:
		return 2
	case core.DisputeExecuted:
		return 3
	}
	return 0
}

func mergeDispute(existing, incoming *core.Dispute) *core.Dispute {
	out := *existing
	if disputeStatusRank(incoming.Status) > disputeStatusRank(out.Status) {
		out.Status = incoming.Status
	}
	if incoming.Disputer != "" {
		out.Disputer = incoming.Disputer
	}
	if incoming.DisputeBond != nil {
		out.DisputeBond = incoming.DisputeBond
	}
	if incoming.CurrentVotesFor != nil {
		out.CurrentVotesFor = incoming.CurrentVotesFor
	}
	if incoming.CurrentVotesAgainst != nil {
		out.CurrentVotesAgainst = incoming.CurrentVotesAgainst
	}
	if incoming.TotalVotes > out.TotalVotes {
		out.TotalVotes = incoming.TotalVotes
	}
	return &out
}
