// Package core holds the shared domain model for the oracle observatory:
// protocol instances, the unified price feed record, and the optimistic
// oracle entities persisted by the sync engine.
package core

import (
	"math/big"
	"time"
)

// Protocol identifies an oracle protocol family.
type Protocol string

const (
	ProtocolChainlink   Protocol = "chainlink"
	ProtocolPyth        Protocol = "pyth"
	ProtocolUMA         Protocol = "uma"
	ProtocolBand        Protocol = "band"
	ProtocolAPI3        Protocol = "api3"
	ProtocolRedStone    Protocol = "redstone"
	ProtocolFlux        Protocol = "flux"
	ProtocolDIA         Protocol = "dia"
	ProtocolSwitchboard Protocol = "switchboard"
	ProtocolInsight     Protocol = "insight"
)

// Valid reports whether p is a known protocol.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolChainlink, ProtocolPyth, ProtocolUMA, ProtocolBand,
		ProtocolAPI3, ProtocolRedStone, ProtocolFlux, ProtocolDIA,
		ProtocolSwitchboard, ProtocolInsight:
		return true
	}
	return false
}

// ProtocolInstance is one configured (protocol, chain) deployment.
// ID is the unique identity; (protocol, chain) is the natural key and
// should be unique among enabled instances.
type ProtocolInstance struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	Protocol       Protocol          `json:"protocol" yaml:"protocol"`
	Chain          string            `json:"chain" yaml:"chain"`
	Enabled        bool              `json:"enabled" yaml:"enabled"`
	Config         InstanceConfig    `json:"config" yaml:"config"`
	ProtocolConfig ProtocolConfig    `json:"protocolConfig" yaml:"protocol_config"`
	Metadata       map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt" yaml:"-"`
	UpdatedAt      time.Time         `json:"updatedAt" yaml:"-"`
}

// InstanceConfig carries the chain-access settings shared by every protocol.
type InstanceConfig struct {
	RPCURLs            []string `json:"rpcUrls" yaml:"rpc_urls"`
	StartBlock         uint64   `json:"startBlock" yaml:"start_block"`
	MaxBlockRange      uint64   `json:"maxBlockRange" yaml:"max_block_range"`
	ConfirmationBlocks uint64   `json:"confirmationBlocks" yaml:"confirmation_blocks"`
	SyncIntervalMs     int64    `json:"syncIntervalMs" yaml:"sync_interval_ms"`
	RPCTimeoutMs       int64    `json:"rpcTimeoutMs" yaml:"rpc_timeout_ms"`
}

// ProtocolConfig is a tagged one-of: exactly one member is non-nil for a
// valid instance. Dispatch is a switch on Kind().
type ProtocolConfig struct {
	Chainlink *AggregatorConfig `json:"chainlink,omitempty" yaml:"chainlink,omitempty"`
	Pyth      *PythConfig       `json:"pyth,omitempty" yaml:"pyth,omitempty"`
	UMA       *UMAConfig        `json:"uma,omitempty" yaml:"uma,omitempty"`
	REST      *RESTConfig       `json:"rest,omitempty" yaml:"rest,omitempty"`
	Proxy     *ProxyConfig      `json:"proxy,omitempty" yaml:"proxy,omitempty"`
}

// ConfigKind names the active variant of a ProtocolConfig.
type ConfigKind string

const (
	ConfigKindAggregator ConfigKind = "aggregator"
	ConfigKindPyth       ConfigKind = "pyth"
	ConfigKindUMA        ConfigKind = "uma"
	ConfigKindREST       ConfigKind = "rest"
	ConfigKindProxy      ConfigKind = "proxy"
	ConfigKindNone       ConfigKind = "none"
)

// Kind returns which variant is populated, or ConfigKindNone.
func (c ProtocolConfig) Kind() ConfigKind {
	switch {
	case c.Chainlink != nil:
		return ConfigKindAggregator
	case c.Pyth != nil:
		return ConfigKindPyth
	case c.UMA != nil:
		return ConfigKindUMA
	case c.REST != nil:
		return ConfigKindREST
	case c.Proxy != nil:
		return ConfigKindProxy
	}
	return ConfigKindNone
}

// AggregatorConfig configures latestRoundData-shaped on-chain reads
// (Chainlink, Flux v3, RedStone on-chain).
type AggregatorConfig struct {
	HeartbeatSeconds int64 `json:"heartbeatSeconds" yaml:"heartbeat_seconds"`
}

// PythConfig configures single-contract feed-id reads.
type PythConfig struct {
	ContractAddress string `json:"contractAddress" yaml:"contract_address"`
	MaxAgeSeconds   int64  `json:"maxAgeSeconds" yaml:"max_age_seconds"`
}

// UMAConfig configures optimistic oracle event ingestion.
type UMAConfig struct {
	OptimisticOracleV2Address string `json:"optimisticOracleV2Address" yaml:"oo_v2_address"`
	OptimisticOracleV3Address string `json:"optimisticOracleV3Address" yaml:"oo_v3_address"`
	VotingPeriodSeconds       int64  `json:"votingPeriodSeconds" yaml:"voting_period_seconds"`
}

// RESTConfig configures pull-oracle HTTP endpoints (DIA, Band, Flux v1).
type RESTConfig struct {
	BaseURL      string `json:"baseUrl" yaml:"base_url"`
	BearerToken  string `json:"-" yaml:"bearer_token"`
	BatchSupport bool   `json:"batchSupport" yaml:"batch_support"`
}

// ProxyConfig configures API3 dAPI proxy read() calls.
type ProxyConfig struct {
	StalenessSeconds int64 `json:"stalenessSeconds" yaml:"staleness_seconds"`
}

// UnifiedPriceFeed is the normalized record every adapter produces.
// PriceRaw is the source of truth; Price is the convenience float and
// equals PriceRaw / 10^Decimals up to rounding.
type UnifiedPriceFeed struct {
	ID               string   `json:"id"`
	InstanceID       string   `json:"instanceId,omitempty"`
	Protocol         Protocol `json:"protocol"`
	Chain            string   `json:"chain"`
	Symbol           string   `json:"symbol"`
	BaseAsset        string   `json:"baseAsset"`
	QuoteAsset       string   `json:"quoteAsset"`
	Price            float64  `json:"price"`
	PriceRaw         *big.Int `json:"priceRaw"`
	Decimals         uint8    `json:"decimals"`
	Timestamp        int64    `json:"timestamp"` // ms since epoch
	Confidence       *float64 `json:"confidence,omitempty"`
	Sources          []string `json:"sources,omitempty"`
	IsStale          bool     `json:"isStale"`
	StalenessSeconds int64    `json:"stalenessSeconds"`
}

// AssertionStatus is the optimistic oracle assertion lifecycle state.
type AssertionStatus string

const (
	AssertionProposed AssertionStatus = "Proposed"
	AssertionDisputed AssertionStatus = "Disputed"
	AssertionSettled  AssertionStatus = "Settled"
	AssertionExpired  AssertionStatus = "Expired"
)

// OracleVersion distinguishes optimistic oracle deployments.
type OracleVersion string

const (
	OracleV2 OracleVersion = "v2"
	OracleV3 OracleVersion = "v3"
)

// Assertion is an optimistic oracle claim. ID is the assertionId for v3
// events or "identifier-timestamp" for v2; the row is owned by ID and
// upserts are idempotent. Settled is terminal.
type Assertion struct {
	ID              string          `json:"id"`
	Chain           string          `json:"chain"`
	Identifier      string          `json:"identifier"`
	AncillaryData   string          `json:"ancillaryData,omitempty"`
	Proposer        string          `json:"proposer"`
	ProposedValue   *big.Int        `json:"proposedValue,omitempty"`
	Reward          *big.Int        `json:"reward,omitempty"`
	ProposedAt      time.Time       `json:"proposedAt"`
	DisputedAt      *time.Time      `json:"disputedAt,omitempty"`
	SettledAt       *time.Time      `json:"settledAt,omitempty"`
	SettlementValue *big.Int        `json:"settlementValue,omitempty"`
	Status          AssertionStatus `json:"status"`
	Bond            *big.Int        `json:"bond,omitempty"`
	DisputeBond     *big.Int        `json:"disputeBond,omitempty"`
	TxHash          string          `json:"txHash"`
	BlockNumber     uint64          `json:"blockNumber"`
	LogIndex        uint            `json:"logIndex"`
	Version         OracleVersion   `json:"version"`
}

// DisputeStatus is the dispute lifecycle state.
type DisputeStatus string

const (
	DisputeVoting   DisputeStatus = "Voting"
	DisputeResolved DisputeStatus = "Resolved"
	DisputeExecuted DisputeStatus = "Executed"
)

// Dispute is the bonded counterclaim against an assertion.
// ID is "D:" + AssertionID; exactly one dispute per assertion.
type Dispute struct {
	ID                 string        `json:"id"`
	Chain              string        `json:"chain"`
	AssertionID        string        `json:"assertionId"`
	Disputer           string        `json:"disputer"`
	DisputeBond        *big.Int      `json:"disputeBond,omitempty"`
	DisputedAt         time.Time     `json:"disputedAt"`
	VotingEndsAt       time.Time     `json:"votingEndsAt"`
	Status             DisputeStatus `json:"status"`
	CurrentVotesFor    *big.Int      `json:"currentVotesFor,omitempty"`
	CurrentVotesAgainst *big.Int     `json:"currentVotesAgainst,omitempty"`
	TotalVotes         uint64        `json:"totalVotes"`
	TxHash             string        `json:"txHash"`
	BlockNumber        uint64        `json:"blockNumber"`
	LogIndex           uint          `json:"logIndex"`
	Version            OracleVersion `json:"version"`
}

// DisputeID derives the dispute row id for an assertion.
func DisputeID(assertionID string) string { return "D:" + assertionID }

// Vote is one VoteEmitted event, deduplicated by (TxHash, LogIndex).
type Vote struct {
	Chain       string   `json:"chain"`
	AssertionID string   `json:"assertionId"`
	Voter       string   `json:"voter"`
	Support     bool     `json:"support"`
	Weight      *big.Int `json:"weight,omitempty"`
	TxHash      string   `json:"txHash"`
	BlockNumber uint64   `json:"blockNumber"`
	LogIndex    uint     `json:"logIndex"`
}

// EndpointStats tracks per-endpoint RPC outcomes. AvgLatencyMs is an
// EWMA with alpha 0.2.
type EndpointStats struct {
	OK           uint64     `json:"ok"`
	Fail         uint64     `json:"fail"`
	LastOKAt     *time.Time `json:"lastOkAt,omitempty"`
	LastFailAt   *time.Time `json:"lastFailAt,omitempty"`
	AvgLatencyMs int64      `json:"avgLatencyMs"`
}

// SyncInfo records the outcome of the most recent sync attempt.
type SyncInfo struct {
	LastAttemptAt  *time.Time `json:"lastAttemptAt,omitempty"`
	LastSuccessAt  *time.Time `json:"lastSuccessAt,omitempty"`
	LastDurationMs int64      `json:"lastDurationMs"`
	LastError      string     `json:"lastError,omitempty"`
}

// SyncState is the persisted per-instance cursor of the event sync engine.
// Invariants: LastProcessedBlock >= LastSuccessProcessedBlock and
// SafeBlock = max(0, LatestBlock - confirmationBlocks).
type SyncState struct {
	InstanceID               string                    `json:"instanceId"`
	LastProcessedBlock       uint64                    `json:"lastProcessedBlock"`
	LatestBlock              uint64                    `json:"latestBlock"`
	SafeBlock                uint64                    `json:"safeBlock"`
	LastSuccessProcessedBlock uint64                   `json:"lastSuccessProcessedBlock"`
	ConsecutiveFailures      int                       `json:"consecutiveFailures"`
	RPCActiveURL             string                    `json:"rpcActiveUrl,omitempty"`
	RPCStats                 map[string]*EndpointStats `json:"rpcStats,omitempty"`
	Sync                     SyncInfo                  `json:"sync"`
}

// Clone returns a deep copy so callers can mutate without racing the engine.
func (s *SyncState) Clone() *SyncState {
	cp := *s
	if s.RPCStats != nil {
		cp.RPCStats = make(map[string]*EndpointStats, len(s.RPCStats))
		for k, v := range s.RPCStats {
			st := *v
			cp.RPCStats[k] = &st
		}
	}
	return &cp
}

// RewardEvent is one rewards-syncer row, deduplicated by (TxHash, LogIndex).
type RewardEvent struct {
	InstanceID  string    `json:"instanceId"`
	Chain       string    `json:"chain"`
	Recipient   string    `json:"recipient"`
	Amount      *big.Int  `json:"amount"`
	TxHash      string    `json:"txHash"`
	BlockNumber uint64    `json:"blockNumber"`
	LogIndex    uint      `json:"logIndex"`
	ObservedAt  time.Time `json:"observedAt"`
}

// TVLSnapshot is one point-in-time total-value-locked observation.
type TVLSnapshot struct {
	InstanceID string    `json:"instanceId"`
	Chain      string    `json:"chain"`
	TotalValue *big.Int  `json:"totalValue"`
	TakenAt    time.Time `json:"takenAt"`
}
