package umasync

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/insightlabs/observatory/internal/core"
)

const ooV2ABIJSON = `[
	{"name":"PriceProposed","type":"event","inputs":[
		{"name":"identifier","type":"bytes32","indexed":true},
		{"name":"timestamp","type":"uint256","indexed":false},
		{"name":"ancillaryData","type":"bytes","indexed":false},
		{"name":"price","type":"int256","indexed":false},
		{"name":"proposer","type":"address","indexed":false},
		{"name":"reward","type":"uint256","indexed":false}]},
	{"name":"PriceDisputed","type":"event","inputs":[
		{"name":"identifier","type":"bytes32","indexed":true},
		{"name":"timestamp","type":"uint256","indexed":false},
		{"name":"ancillaryData","type":"bytes","indexed":false},
		{"name":"price","type":"int256","indexed":false},
		{"name":"disputer","type":"address","indexed":false},
		{"name":"disputeBond","type":"uint256","indexed":false}]},
	{"name":"PriceSettled","type":"event","inputs":[
		{"name":"identifier","type":"bytes32","indexed":true},
		{"name":"timestamp","type":"uint256","indexed":false},
		{"name":"ancillaryData","type":"bytes","indexed":false},
		{"name":"price","type":"int256","indexed":false},
		{"name":"payout","type":"uint256","indexed":false}]}
]`

const ooV3ABIJSON = `[
	{"name":"AssertionMade","type":"event","inputs":[
		{"name":"assertionId","type":"bytes32","indexed":true},
		{"name":"claim","type":"bytes32","indexed":true},
		{"name":"asserter","type":"address","indexed":true},
		{"name":"bond","type":"uint64","indexed":false},
		{"name":"identifier","type":"bytes32","indexed":false}]},
	{"name":"AssertionDisputed","type":"event","inputs":[
		{"name":"assertionId","type":"bytes32","indexed":true},
		{"name":"disputer","type":"address","indexed":true},
		{"name":"disputeBond","type":"uint256","indexed":false}]},
	{"name":"AssertionSettled","type":"event","inputs":[
		{"name":"assertionId","type":"bytes32","indexed":true},
		{"name":"settledTruth","type":"bool","indexed":false},
		{"name":"payout","type":"uint256","indexed":false}]},
	{"name":"VoteEmitted","type":"event","inputs":[
		{"name":"assertionId","type":"bytes32","indexed":true},
		{"name":"voter","type":"address","indexed":true},
		{"name":"support","type":"bool","indexed":false},
		{"name":"weight","type":"uint256","indexed":false}]}
]`

var (
	ooV2ABI = mustABI(ooV2ABIJSON)
	ooV3ABI = mustABI(ooV3ABIJSON)

	topicPriceProposed     = ooV2ABI.Events["PriceProposed"].ID
	topicPriceDisputed     = ooV2ABI.Events["PriceDisputed"].ID
	topicPriceSettled      = ooV2ABI.Events["PriceSettled"].ID
	topicAssertionMade     = ooV3ABI.Events["AssertionMade"].ID
	topicAssertionDisputed = ooV3ABI.Events["AssertionDisputed"].ID
	topicAssertionSettled  = ooV3ABI.Events["AssertionSettled"].ID
	topicVoteEmitted       = ooV3ABI.Events["VoteEmitted"].ID
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// eventBatch collects the entity deltas decoded from one log range.
type eventBatch struct {
	assertions []*core.Assertion
	disputes   []*core.Dispute
	votes      []*core.Vote
}

func (b *eventBatch) empty() bool {
	return len(b.assertions) == 0 && len(b.disputes) == 0 && len(b.votes) == 0
}

// identifierString renders a bytes32 price identifier as its trimmed
// ASCII form ("YES_OR_NO_QUERY" style).
func identifierString(h common.Hash) string {
	return strings.TrimRight(string(h.Bytes()), "\x00")
}

// v2AssertionID derives the deterministic id for request-keyed v2 events.
func v2AssertionID(identifier string, timestamp *big.Int) string {
	return fmt.Sprintf("%s-%s", identifier, timestamp)
}

// decodeLog turns one raw log into entity deltas. Unknown topics are
// skipped; malformed payloads for a known topic are decode errors.
func decodeLog(chain string, votingPeriod time.Duration, lg *types.Log, observedAt time.Time) (*eventBatch, error) {
	if len(lg.Topics) == 0 {
		return &eventBatch{}, nil
	}
	batch := &eventBatch{}
	switch lg.Topics[0] {
	case topicPriceProposed:
		a, err := decodePriceProposed(chain, lg, observedAt)
		if err != nil {
			return nil, err
		}
		batch.assertions = append(batch.assertions, a)
	case topicPriceDisputed:
		a, d, err := decodePriceDisputed(chain, votingPeriod, lg, observedAt)
		if err != nil {
			return nil, err
		}
		batch.assertions = append(batch.assertions, a)
		batch.disputes = append(batch.disputes, d)
	case topicPriceSettled:
		a, err := decodePriceSettled(chain, lg, observedAt)
		if err != nil {
			return nil, err
		}
		batch.assertions = append(batch.assertions, a)
	case topicAssertionMade:
		a, err := decodeAssertionMade(chain, lg, observedAt)
		if err != nil {
			return nil, err
		}
		batch.assertions = append(batch.assertions, a)
	case topicAssertionDisputed:
		a, d, err := decodeAssertionDisputed(chain, votingPeriod, lg, observedAt)
		if err != nil {
			return nil, err
		}
		batch.assertions = append(batch.assertions, a)
		batch.disputes = append(batch.disputes, d)
	case topicAssertionSettled:
		a, err := decodeAssertionSettled(chain, lg, observedAt)
		if err != nil {
			return nil, err
		}
		batch.assertions = append(batch.assertions, a)
	case topicVoteEmitted:
		v, err := decodeVoteEmitted(chain, lg)
		if err != nil {
			return nil, err
		}
		batch.votes = append(batch.votes, v)
	}
	return batch, nil
}

func unpackData(parsed abi.ABI, event string, lg *types.Log) ([]interface{}, error) {
	ev := parsed.Events[event]
	vals, err := ev.Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil {
		return nil, NewSyncError(ClassSyncFailed, fmt.Errorf("decode %s at %s:%d: %w", event, lg.TxHash, lg.Index, err))
	}
	return vals, nil
}

func decodePriceProposed(chain string, lg *types.Log, observedAt time.Time) (*core.Assertion, error) {
	if len(lg.Topics) < 2 {
		return nil, NewSyncError(ClassSyncFailed, fmt.Errorf("PriceProposed at %s:%d: missing identifier topic", lg.TxHash, lg.Index))
	}
	vals, err := unpackData(ooV2ABI, "PriceProposed", lg)
	if err != nil {
		return nil, err
	}
	identifier := identifierString(lg.Topics[1])
	timestamp := vals[0].(*big.Int)
	return &core.Assertion{
		ID:            v2AssertionID(identifier, timestamp),
		Chain:         chain,
		Identifier:    identifier,
		AncillaryData: common.Bytes2Hex(vals[1].([]byte)),
		ProposedValue: vals[2].(*big.Int),
		Proposer:      vals[3].(common.Address).Hex(),
		Reward:        vals[4].(*big.Int),
		ProposedAt:    observedAt,
		Status:        core.AssertionProposed,
		TxHash:        lg.TxHash.Hex(),
		BlockNumber:   lg.BlockNumber,
		LogIndex:      lg.Index,
		Version:       core.OracleV2,
	}, nil
}

func decodePriceDisputed(chain string, votingPeriod time.Duration, lg *types.Log, observedAt time.Time) (*core.Assertion, *core.Dispute, error) {
	if len(lg.Topics) < 2 {
		return nil, nil, NewSyncError(ClassSyncFailed, fmt.Errorf("PriceDisputed at %s:%d: missing identifier topic", lg.TxHash, lg.Index))
	}
	vals, err := unpackData(ooV2ABI, "PriceDisputed", lg)
	if err != nil {
		return nil, nil, err
	}
	identifier := identifierString(lg.Topics[1])
	timestamp := vals[0].(*big.Int)
	id := v2AssertionID(identifier, timestamp)
	disputer := vals[3].(common.Address).Hex()
	bond := vals[4].(*big.Int)

	assertion := &core.Assertion{
		ID:          id,
		Chain:       chain,
		Identifier:  identifier,
		DisputedAt:  &observedAt,
		Status:      core.AssertionDisputed,
		DisputeBond: bond,
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
		Version:     core.OracleV2,
	}
	dispute := &core.Dispute{
		ID:           core.DisputeID(id),
		Chain:        chain,
		AssertionID:  id,
		Disputer:     disputer,
		DisputeBond:  bond,
		DisputedAt:   observedAt,
		VotingEndsAt: observedAt.Add(votingPeriod),
		Status:       core.DisputeVoting,
		TxHash:       lg.TxHash.Hex(),
		BlockNumber:  lg.BlockNumber,
		LogIndex:     lg.Index,
		Version:      core.OracleV2,
	}
	return assertion, dispute, nil
}

func decodePriceSettled(chain string, lg *types.Log, observedAt time.Time) (*core.Assertion, error) {
	if len(lg.Topics) < 2 {
		return nil, NewSyncError(ClassSyncFailed, fmt.Errorf("PriceSettled at %s:%d: missing identifier topic", lg.TxHash, lg.Index))
	}
	vals, err := unpackData(ooV2ABI, "PriceSettled", lg)
	if err != nil {
		return nil, err
	}
	identifier := identifierString(lg.Topics[1])
	timestamp := vals[0].(*big.Int)
	return &core.Assertion{
		ID:              v2AssertionID(identifier, timestamp),
		Chain:           chain,
		Identifier:      identifier,
		SettledAt:       &observedAt,
		SettlementValue: vals[2].(*big.Int),
		Status:          core.AssertionSettled,
		TxHash:          lg.TxHash.Hex(),
		BlockNumber:     lg.BlockNumber,
		LogIndex:        lg.Index,
		Version:         core.OracleV2,
	}, nil
}

func decodeAssertionMade(chain string, lg *types.Log, observedAt time.Time) (*core.Assertion, error) {
	if len(lg.Topics) < 4 {
		return nil, NewSyncError(ClassSyncFailed, fmt.Errorf("AssertionMade at %s:%d: missing topics", lg.TxHash, lg.Index))
	}
	vals, err := unpackData(ooV3ABI, "AssertionMade", lg)
	if err != nil {
		return nil, err
	}
	return &core.Assertion{
		ID:          lg.Topics[1].Hex(),
		Chain:       chain,
		Identifier:  identifierString(common.Hash(vals[1].([32]byte))),
		Proposer:    common.BytesToAddress(lg.Topics[3].Bytes()).Hex(),
		Bond:        new(big.Int).SetUint64(vals[0].(uint64)),
		ProposedAt:  observedAt,
		Status:      core.AssertionProposed,
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
		Version:     core.OracleV3,
	}, nil
}

func decodeAssertionDisputed(chain string, votingPeriod time.Duration, lg *types.Log, observedAt time.Time) (*core.Assertion, *core.Dispute, error) {
	if len(lg.Topics) < 3 {
		return nil, nil, NewSyncError(ClassSyncFailed, fmt.Errorf("AssertionDisputed at %s:%d: missing topics", lg.TxHash, lg.Index))
	}
	vals, err := unpackData(ooV3ABI, "AssertionDisputed", lg)
	if err != nil {
		return nil, nil, err
	}
	id := lg.Topics[1].Hex()
	disputer := common.BytesToAddress(lg.Topics[2].Bytes()).Hex()
	bond := vals[0].(*big.Int)

	assertion := &core.Assertion{
		ID:          id,
		Chain:       chain,
		DisputedAt:  &observedAt,
		Status:      core.AssertionDisputed,
		DisputeBond: bond,
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
		Version:     core.OracleV3,
	}
	dispute := &core.Dispute{
		ID:           core.DisputeID(id),
		Chain:        chain,
		AssertionID:  id,
		Disputer:     disputer,
		DisputeBond:  bond,
		DisputedAt:   observedAt,
		VotingEndsAt: observedAt.Add(votingPeriod),
		Status:       core.DisputeVoting,
		TxHash:       lg.TxHash.Hex(),
		BlockNumber:  lg.BlockNumber,
		LogIndex:     lg.Index,
		Version:      core.OracleV3,
	}
	return assertion, dispute, nil
}

func decodeAssertionSettled(chain string, lg *types.Log, observedAt time.Time) (*core.Assertion, error) {
	if len(lg.Topics) < 2 {
		return nil, NewSyncError(ClassSyncFailed, fmt.Errorf("AssertionSettled at %s:%d: missing topics", lg.TxHash, lg.Index))
	}
	vals, err := unpackData(ooV3ABI, "AssertionSettled", lg)
	if err != nil {
		return nil, err
	}
	settlement := big.NewInt(0)
	if vals[0].(bool) {
		settlement = big.NewInt(1)
	}
	return &core.Assertion{
		ID:              lg.Topics[1].Hex(),
		Chain:           chain,
		SettledAt:       &observedAt,
		SettlementValue: settlement,
		DisputeBond:     vals[1].(*big.Int),
		Status:          core.AssertionSettled,
		TxHash:          lg.TxHash.Hex(),
		BlockNumber:     lg.BlockNumber,
		LogIndex:        lg.Index,
		Version:         core.OracleV3,
	}, nil
}

func decodeVoteEmitted(chain string, lg *types.Log) (*core.Vote, error) {
	if len(lg.Topics) < 3 {
		return nil, NewSyncError(ClassSyncFailed, fmt.Errorf("VoteEmitted at %s:%d: missing topics", lg.TxHash, lg.Index))
	}
	vals, err := unpackData(ooV3ABI, "VoteEmitted", lg)
	if err != nil {
		return nil, err
	}
	return &core.Vote{
		Chain:       chain,
		AssertionID: lg.Topics[1].Hex(),
		Voter:       common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
		Support:     vals[0].(bool),
		Weight:      vals[1].(*big.Int),
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
	}, nil
}
