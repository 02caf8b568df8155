package umasync

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/insightlabs/observatory/internal/batch"
	"github.com/insightlabs/observatory/internal/chainrpc"
	"github.com/insightlabs/observatory/internal/core"
	"github.com/insightlabs/observatory/internal/events"
	"github.com/insightlabs/observatory/internal/storage"
)

const (
	// defaultConfirmationBlocks lags the scan behind the head.
	defaultConfirmationBlocks uint64 = 12

	// reorgRescanBlocks re-scans below the cursor to absorb shallow reorgs.
	reorgRescanBlocks uint64 = 10

	// maxRangeAttempts bounds retries of one block range.
	maxRangeAttempts = 3

	// defaultRPCTimeout applies when an instance has no explicit timeout.
	defaultRPCTimeout = 15 * time.Second

	// defaultVotingPeriod sizes votingEndsAt when the instance does not
	// configure one.
	defaultVotingPeriod = 48 * time.Hour

	// persistParallelism caps concurrent upserts per decoded range.
	persistParallelism = 8
)

// inflightSync is one in-progress sync shared by concurrent callers.
type inflightSync struct {
	done chan struct{}
	err  error
}

// Engine scans optimistic-oracle logs per instance and persists the
// decoded entities. Concurrent syncs of the same instance collapse onto
// one in-flight run.
type Engine struct {
	store storage.Store
	pool  *chainrpc.Pool
	bus   events.Emitter

	mu       sync.Mutex
	inflight map[string]*inflightSync
	rotators map[string]*chainrpc.Rotator
}

// NewEngine builds the sync engine. bus may be nil.
func NewEngine(store storage.Store, pool *chainrpc.Pool, bus events.Emitter) *Engine {
	return &Engine{
		store:    store,
		pool:     pool,
		bus:      bus,
		inflight: make(map[string]*inflightSync),
		rotators: make(map[string]*chainrpc.Rotator),
	}
}

// EnsureSynced runs one sync for the instance, or joins the run already
// in flight. The in-flight entry is cleared whatever the outcome.
func (e *Engine) EnsureSynced(ctx context.Context, inst *core.ProtocolInstance) error {
	e.mu.Lock()
	if fl, ok := e.inflight[inst.ID]; ok {
		e.mu.Unlock()
		select {
		case <-fl.done:
			return fl.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	fl := &inflightSync{done: make(chan struct{})}
	e.inflight[inst.ID] = fl
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, inst.ID)
		e.mu.Unlock()
		close(fl.done)
	}()

	fl.err = e.syncOnce(ctx, inst)
	return fl.err
}

// IsSyncing reports whether the instance has a sync in flight.
func (e *Engine) IsSyncing(instanceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inflight[instanceID]
	return ok
}

// SyncingCount returns the number of in-flight syncs.
func (e *Engine) SyncingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

// rotatorFor returns the persistent per-instance rotator so endpoint
// statistics survive across runs.
func (e *Engine) rotatorFor(inst *core.ProtocolInstance) *chainrpc.Rotator {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.rotators[inst.ID]; ok {
		return r
	}
	r := chainrpc.NewRotator(inst.Config.RPCURLs)
	e.rotators[inst.ID] = r
	return r
}

func rpcTimeoutFor(inst *core.ProtocolInstance) time.Duration {
	if inst.Config.RPCTimeoutMs > 0 {
		return time.Duration(inst.Config.RPCTimeoutMs) * time.Millisecond
	}
	return defaultRPCTimeout
}

func votingPeriodFor(inst *core.ProtocolInstance) time.Duration {
	if cfg := inst.ProtocolConfig.UMA; cfg != nil && cfg.VotingPeriodSeconds > 0 {
		return time.Duration(cfg.VotingPeriodSeconds) * time.Second
	}
	return defaultVotingPeriod
}

// oracleContracts resolves the v2/v3 contract addresses the instance
// watches. At least one must be valid.
func oracleContracts(inst *core.ProtocolInstance) (v2, v3 *common.Address, err error) {
	cfg := inst.ProtocolConfig.UMA
	if cfg == nil {
		return nil, nil, NewSyncError(ClassSyncFailed, fmt.Errorf("instance %s has no optimistic oracle config", inst.ID))
	}
	if common.IsHexAddress(cfg.OptimisticOracleV2Address) {
		a := common.HexToAddress(cfg.OptimisticOracleV2Address)
		v2 = &a
	}
	if common.IsHexAddress(cfg.OptimisticOracleV3Address) {
		a := common.HexToAddress(cfg.OptimisticOracleV3Address)
		v3 = &a
	}
	if v2 == nil && v3 == nil {
		return nil, nil, ContractNotFound(cfg.OptimisticOracleV3Address, inst.Chain)
	}
	return v2, v3, nil
}

// syncOnce runs the whole state machine for one instance: derive the
// range, scan it in adaptive windows, and persist the cursor atomically
// at the end.
func (e *Engine) syncOnce(ctx context.Context, inst *core.ProtocolInstance) error {
	started := time.Now()
	state, err := e.store.GetSyncState(ctx, inst.ID)
	if err != nil {
		return e.finishFailure(ctx, inst, state, started, NewSyncError(ClassSyncFailed, err))
	}

	v2Addr, v3Addr, err := oracleContracts(inst)
	if err != nil {
		return e.finishFailure(ctx, inst, state, started, err)
	}

	rotator := e.rotatorFor(inst)
	session := newRPCSession(e.pool, rotator, inst.Chain, state.RPCActiveURL, rpcTimeoutFor(inst))

	latest, err := withRPC(ctx, session, func(ctx context.Context, client *chainrpc.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
	if err != nil {
		return e.finishFailure(ctx, inst, state, started, err)
	}

	confirmations := inst.Config.ConfirmationBlocks
	if confirmations == 0 {
		confirmations = defaultConfirmationBlocks
	}
	safe := uint64(0)
	if latest > confirmations {
		safe = latest - confirmations
	}

	from := deriveFrom(state, inst, safe)
	to := safe
	if from > to {
		return e.finishSuccess(ctx, inst, state, session, started, state.LastProcessedBlock, latest, safe)
	}

	win := newWindow(state.LastProcessedBlock, inst.Config.MaxBlockRange)
	votingPeriod := votingPeriodFor(inst)
	rpcTimeout := rpcTimeoutFor(inst)

	processedHigh := state.LastProcessedBlock
	cursor := from
	for cursor <= to {
		metricWindowSize.WithLabelValues(inst.ID).Set(float64(win.current()))

		rangeTo := cursor + win.current() - 1
		if rangeTo > to {
			rangeTo = to
		}

		logs, scannedTo, err := e.scanRangeWithRetry(ctx, inst, session, win, v2Addr, v3Addr, cursor, rangeTo, rpcTimeout)
		if err != nil {
			return e.finishFailure(ctx, inst, state, started, err)
		}
		rangeTo = scannedTo

		if err := e.persistLogs(ctx, inst, votingPeriod, logs); err != nil {
			return e.finishFailure(ctx, inst, state, started, err)
		}
		metricLogsIngested.WithLabelValues(inst.ID).Add(float64(len(logs)))

		if rangeTo > processedHigh {
			processedHigh = rangeTo
		}
		cursor = rangeTo + 1
	}

	if to > processedHigh {
		processedHigh = to
	}
	return e.finishSuccess(ctx, inst, state, session, started, processedHigh, latest, safe)
}

// deriveFrom picks the scan start: the configured start block (or a
// maxBlockRange lookback) on a cold cursor, otherwise a short re-scan
// below the cursor.
func deriveFrom(state *core.SyncState, inst *core.ProtocolInstance, safe uint64) uint64 {
	if state.LastProcessedBlock == 0 {
		if inst.Config.StartBlock > 0 {
			return inst.Config.StartBlock
		}
		if safe > inst.Config.MaxBlockRange {
			return safe - inst.Config.MaxBlockRange
		}
		return 0
	}
	if state.LastProcessedBlock > reorgRescanBlocks {
		return state.LastProcessedBlock - reorgRescanBlocks
	}
	return 0
}

// scanRangeWithRetry fetches one range, shrinking the window and
// retrying a narrower range on failure. The second return value is the
// upper bound actually scanned; the cursor must advance to it, not the
// requested bound. Elapsed time beyond the RPC timeout stops further
// range retries.
func (e *Engine) scanRangeWithRetry(ctx context.Context, inst *core.ProtocolInstance, session *rpcSession, win *window, v2Addr, v3Addr *common.Address, from, to uint64, rpcTimeout time.Duration) ([]types.Log, uint64, error) {
	rangeStart := time.Now()
	var lastErr error

	for attempt := 1; attempt <= maxRangeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		fetchStart := time.Now()
		logs, err := e.scanRange(ctx, session, v2Addr, v3Addr, from, to)
		if err == nil {
			win.recordSuccess(len(logs), time.Since(fetchStart))
			metricRangesScanned.WithLabelValues(inst.ID, "ok").Inc()
			return logs, to, nil
		}

		metricRangesScanned.WithLabelValues(inst.ID, "fail").Inc()
		if ClassOf(err) == ClassContractNotFound {
			return nil, 0, err
		}
		win.recordFailure()
		if narrowed := from + win.current() - 1; narrowed < to {
			to = narrowed
		}
		lastErr = err
		log.Printf("[SyncEngine] instance=%s range_attempt=%d from=%d to=%d err=%v", inst.ID, attempt, from, to, err)

		if time.Since(rangeStart) > rpcTimeout {
			break
		}
	}
	return nil, 0, NewSyncError(ClassOf(lastErrOr(lastErr)), lastErrOr(lastErr))
}

func lastErrOr(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("range scan failed")
}

// scanRange issues one getLogs per event topic in parallel and merges
// the results.
func (e *Engine) scanRange(ctx context.Context, session *rpcSession, v2Addr, v3Addr *common.Address, from, to uint64) ([]types.Log, error) {
	type topicQuery struct {
		address common.Address
		topic   common.Hash
	}
	var queries []topicQuery
	if v2Addr != nil {
		for _, t := range []common.Hash{topicPriceProposed, topicPriceDisputed, topicPriceSettled} {
			queries = append(queries, topicQuery{address: *v2Addr, topic: t})
		}
	}
	if v3Addr != nil {
		for _, t := range []common.Hash{topicAssertionMade, topicAssertionDisputed, topicAssertionSettled, topicVoteEmitted} {
			queries = append(queries, topicQuery{address: *v3Addr, topic: t})
		}
	}

	outcomes := batch.RunBounded(ctx, queries, len(queries), func(ctx context.Context, q topicQuery) ([]types.Log, error) {
		return withRPC(ctx, session, func(ctx context.Context, client *chainrpc.Client) ([]types.Log, error) {
			return client.FilterLogs(ctx, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(from),
				ToBlock:   new(big.Int).SetUint64(to),
				Addresses: []common.Address{q.address},
				Topics:    [][]common.Hash{{q.topic}},
			})
		})
	})

	var logs []types.Log
	for _, out := range outcomes {
		if out.Status != batch.StatusFulfilled {
			return nil, out.Err
		}
		logs = append(logs, out.Value...)
	}
	return logs, nil
}

// persistLogs decodes a range's logs and upserts the entities with
// bounded parallelism. Deterministic ids make replays no-ops.
func (e *Engine) persistLogs(ctx context.Context, inst *core.ProtocolInstance, votingPeriod time.Duration, logs []types.Log) error {
	if len(logs) == 0 {
		return nil
	}
	observedAt := time.Now()

	merged := &eventBatch{}
	for i := range logs {
		b, err := decodeLog(inst.Chain, votingPeriod, &logs[i], observedAt)
		if err != nil {
			return err
		}
		merged.assertions = append(merged.assertions, b.assertions...)
		merged.disputes = append(merged.disputes, b.disputes...)
		merged.votes = append(merged.votes, b.votes...)
	}
	if merged.empty() {
		return nil
	}

	var ops []func(context.Context) error
	for _, a := range merged.assertions {
		a := a
		ops = append(ops, func(ctx context.Context) error {
			if err := e.store.UpsertAssertion(ctx, inst.ID, a); err != nil {
				return err
			}
			e.publishAssertion(inst, a)
			return nil
		})
	}
	for _, d := range merged.disputes {
		d := d
		ops = append(ops, func(ctx context.Context) error {
			return e.store.UpsertDispute(ctx, inst.ID, d)
		})
	}
	for _, v := range merged.votes {
		v := v
		ops = append(ops, func(ctx context.Context) error {
			return e.store.UpsertVote(ctx, inst.ID, v)
		})
	}

	outcomes := batch.RunBounded(ctx, ops, persistParallelism, func(ctx context.Context, op func(context.Context) error) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	for _, out := range outcomes {
		if out.Status != batch.StatusFulfilled {
			return NewSyncError(ClassSyncFailed, out.Err)
		}
	}
	return nil
}

func (e *Engine) publishAssertion(inst *core.ProtocolInstance, a *core.Assertion) {
	if e.bus == nil {
		return
	}
	eventType := events.TypeAssertionProposed
	switch a.Status {
	case core.AssertionDisputed:
		eventType = events.TypeAssertionDisputed
	case core.AssertionSettled:
		eventType = events.TypeAssertionSettled
	}
	e.bus.Emit(eventType, "umasync", a.ID, map[string]interface{}{
		"instanceId": inst.ID,
		"chain":      a.Chain,
		"status":     string(a.Status),
		"version":    string(a.Version),
	})
}

// finishSuccess persists the advanced cursor and fresh endpoint stats.
func (e *Engine) finishSuccess(ctx context.Context, inst *core.ProtocolInstance, state *core.SyncState, session *rpcSession, started time.Time, processedHigh, latest, safe uint64) error {
	now := time.Now()
	next := state.Clone()
	next.InstanceID = inst.ID
	next.LastProcessedBlock = processedHigh
	next.LatestBlock = latest
	next.SafeBlock = safe
	next.LastSuccessProcessedBlock = processedHigh
	next.ConsecutiveFailures = 0
	next.RPCActiveURL = session.activeEndpoint()
	next.RPCStats = session.rotator.Stats()
	next.Sync.LastAttemptAt = &now
	next.Sync.LastSuccessAt = &now
	next.Sync.LastDurationMs = time.Since(started).Milliseconds()
	next.Sync.LastError = ""

	if err := e.store.PutSyncState(ctx, inst.ID, next); err != nil {
		return NewSyncError(ClassSyncFailed, err)
	}

	metricLastProcessedBlock.WithLabelValues(inst.ID).Set(float64(processedHigh))
	metricSafeBlock.WithLabelValues(inst.ID).Set(float64(safe))
	metricSyncRuns.WithLabelValues(inst.ID, "ok").Inc()
	metricSyncDuration.WithLabelValues(inst.ID).Observe(time.Since(started).Seconds())
	if e.bus != nil {
		e.bus.Emit(events.TypeSyncCompleted, "umasync", inst.ID, map[string]interface{}{
			"lastProcessedBlock": processedHigh,
			"safeBlock":          safe,
		})
	}
	return nil
}

// finishFailure records the attempt without moving the cursor. state is
// nil when reading it was the failure; the stored state is then left
// untouched so a transient read error cannot wipe a good cursor.
func (e *Engine) finishFailure(ctx context.Context, inst *core.ProtocolInstance, state *core.SyncState, started time.Time, cause error) error {
	if state != nil {
		now := time.Now()
		next := state.Clone()
		next.InstanceID = inst.ID
		next.ConsecutiveFailures++
		next.Sync.LastAttemptAt = &now
		next.Sync.LastError = string(ClassOf(cause))
		next.Sync.LastDurationMs = time.Since(started).Milliseconds()

		// Persist best-effort even when the run was cancelled.
		putCtx := ctx
		if putCtx.Err() != nil {
			var cancel context.CancelFunc
			putCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := e.store.PutSyncState(putCtx, inst.ID, next); err != nil {
			log.Printf("[SyncEngine] instance=%s failed to persist failure state: %v", inst.ID, err)
		}
	}

	metricSyncRuns.WithLabelValues(inst.ID, "fail").Inc()
	if e.bus != nil {
		e.bus.Emit(events.TypeSyncFailed, "umasync", inst.ID, map[string]interface{}{
			"error": string(ClassOf(cause)),
		})
	}
	return cause
}

// ReplayEventsRange re-ingests a fixed block range without touching the
// sync cursor. Deterministic ids make this safe over already-ingested
// spans.
func (e *Engine) ReplayEventsRange(ctx context.Context, inst *core.ProtocolInstance, from, to uint64) error {
	if from > to {
		return fmt.Errorf("replay: from %d exceeds to %d", from, to)
	}
	v2Addr, v3Addr, err := oracleContracts(inst)
	if err != nil {
		return err
	}

	state, err := e.store.GetSyncState(ctx, inst.ID)
	if err != nil {
		return NewSyncError(ClassSyncFailed, err)
	}
	session := newRPCSession(e.pool, e.rotatorFor(inst), inst.Chain, state.RPCActiveURL, rpcTimeoutFor(inst))
	votingPeriod := votingPeriodFor(inst)

	win := newWindow(1, inst.Config.MaxBlockRange)
	cursor := from
	for cursor <= to {
		rangeTo := cursor + win.current() - 1
		if rangeTo > to {
			rangeTo = to
		}
		logs, scannedTo, err := e.scanRangeWithRetry(ctx, inst, session, win, v2Addr, v3Addr, cursor, rangeTo, rpcTimeoutFor(inst))
		if err != nil {
			return err
		}
		rangeTo = scannedTo
		if err := e.persistLogs(ctx, inst, votingPeriod, logs); err != nil {
			return err
		}
		cursor = rangeTo + 1
	}
	return nil
}
