// Package scheduler drives the sync engine: a periodic tick over every
// enabled instance, consecutive-failure circuit breaking, and the
// rewards/TVL sub-tasks that run on their own slower cadences.
package scheduler

import (
	"context"
	"log"
	"math/big"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/insightlabs/observatory/internal/core"
	"github.com/insightlabs/observatory/internal/events"
	"github.com/insightlabs/observatory/internal/storage"
)

const (
	defaultTickInterval    = 30 * time.Second
	defaultInitialDelay    = 5 * time.Second
	defaultSyncTimeout     = 120 * time.Second
	defaultRewardsInterval = 5 * time.Minute
	defaultTVLInterval     = 10 * time.Minute

	// maxConsecutiveErrors terminates the loop. Operators restart.
	maxConsecutiveErrors = 5
)

// SyncRunner is the engine surface the scheduler drives.
type SyncRunner interface {
	EnsureSynced(ctx context.Context, inst *core.ProtocolInstance) error
}

// Options override the default cadences. Zero values keep defaults.
type Options struct {
	TickInterval    time.Duration
	InitialDelay    time.Duration
	SyncTimeout     time.Duration
	RewardsInterval time.Duration
	TVLInterval     time.Duration
}

// Status is a snapshot of the scheduler loop.
type Status struct {
	Running           bool       `json:"running"`
	Ticks             uint64     `json:"ticks"`
	ConsecutiveErrors int        `json:"consecutiveErrors"`
	LastTickAt        *time.Time `json:"lastTickAt,omitempty"`
	Instances         int        `json:"instances"`
}

// Scheduler ticks every enabled instance through the sync engine.
type Scheduler struct {
	store  storage.Store
	runner SyncRunner
	bus    events.Emitter

	tickInterval    time.Duration
	initialDelay    time.Duration
	syncTimeout     time.Duration
	rewardsInterval time.Duration
	tvlInterval     time.Duration

	mu                sync.Mutex
	running           bool
	cancel            context.CancelFunc
	ticks             uint64
	consecutiveErrors int
	lastTickAt        *time.Time
	instances         []*core.ProtocolInstance

	subtaskInflight map[string]bool
}

// New builds a scheduler. Env vars UMA_REWARDS_SYNC_INTERVAL_MS and
// UMA_TVL_SYNC_INTERVAL_MS override the sub-task cadences.
func New(store storage.Store, runner SyncRunner, bus events.Emitter, opts Options) *Scheduler {
	s := &Scheduler{
		store:           store,
		runner:          runner,
		bus:             bus,
		tickInterval:    defaultTickInterval,
		initialDelay:    defaultInitialDelay,
		syncTimeout:     defaultSyncTimeout,
		rewardsInterval: envDurationMs("UMA_REWARDS_SYNC_INTERVAL_MS", defaultRewardsInterval),
		tvlInterval:     envDurationMs("UMA_TVL_SYNC_INTERVAL_MS", defaultTVLInterval),
		subtaskInflight: make(map[string]bool),
	}
	if opts.TickInterval > 0 {
		s.tickInterval = opts.TickInterval
	}
	if opts.InitialDelay > 0 {
		s.initialDelay = opts.InitialDelay
	}
	if opts.SyncTimeout > 0 {
		s.syncTimeout = opts.SyncTimeout
	}
	if opts.RewardsInterval > 0 {
		s.rewardsInterval = opts.RewardsInterval
	}
	if opts.TVLInterval > 0 {
		s.tvlInterval = opts.TVLInterval
	}
	return s
}

func envDurationMs(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		log.Printf("[Scheduler] ignoring invalid %s=%q", name, raw)
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// Start launches the tick loop and sub-task loops. Idempotent while
// running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.consecutiveErrors = 0
	s.mu.Unlock()

	go s.loop(ctx)
	go s.subtaskLoop(ctx, "rewards", s.rewardsInterval, s.syncRewards)
	go s.subtaskLoop(ctx, "tvl", s.tvlInterval, s.snapshotTVL)
	log.Printf("[Scheduler] started tick=%s rewards=%s tvl=%s", s.tickInterval, s.rewardsInterval, s.tvlInterval)
}

// Stop flips the running flag and cancels outstanding work. Synchronous:
// in-flight ticks finish naturally but do not reschedule.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if !s.running {
		return
	}
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	log.Printf("[Scheduler] stopped")
}

// GetSyncTaskStatus snapshots the loop state.
func (s *Scheduler) GetSyncTaskStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:           s.running,
		Ticks:             s.ticks,
		ConsecutiveErrors: s.consecutiveErrors,
		LastTickAt:        s.lastTickAt,
		Instances:         len(s.instances),
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.initialDelay):
	}

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		if !s.GetSyncTaskStatus().Running {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick refreshes the instance list and syncs every instance once.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	instances, err := s.store.ListInstances(ctx, true)
	if err != nil {
		// Best-effort refresh: keep the previous list.
		log.Printf("[Scheduler] instance refresh failed: %v", err)
		s.mu.Lock()
		instances = s.instances
		s.mu.Unlock()
	} else {
		s.mu.Lock()
		s.instances = instances
		s.mu.Unlock()
	}

	var (
		wg        sync.WaitGroup
		failures  int
		successes int
		resultMu  sync.Mutex
	)
	for _, inst := range instances {
		inst := inst
		wg.Add(1)
		go func() {
			defer wg.Done()
			syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
			defer cancel()
			err := s.runner.EnsureSynced(syncCtx, inst)
			resultMu.Lock()
			if err != nil {
				failures++
			} else {
				successes++
			}
			resultMu.Unlock()
			if err != nil {
				log.Printf("[Scheduler] instance=%s sync failed: %v", inst.ID, err)
			}
		}()
	}
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	s.lastTickAt = &now
	if failures == 0 {
		s.consecutiveErrors = 0
		return
	}
	s.consecutiveErrors++
	log.Printf("[Scheduler] tick done ok=%d fail=%d consecutive_errors=%d", successes, failures, s.consecutiveErrors)
	if s.consecutiveErrors >= maxConsecutiveErrors {
		log.Printf("[Scheduler] %d consecutive failing ticks, terminating; restart required", s.consecutiveErrors)
		if s.bus != nil {
			s.bus.Emit(events.TypeSchedulerStopped, "scheduler", "", map[string]interface{}{
				"consecutiveErrors": s.consecutiveErrors,
			})
		}
		s.stopLocked()
	}
}

// subtaskLoop runs one sub-task over all instances on its own cadence.
func (s *Scheduler) subtaskLoop(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context, inst *core.ProtocolInstance) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		instances := s.instances
		s.mu.Unlock()

		for _, inst := range instances {
			key := name + "|" + inst.ID
			s.mu.Lock()
			if s.subtaskInflight[key] {
				s.mu.Unlock()
				continue
			}
			s.subtaskInflight[key] = true
			s.mu.Unlock()

			go func(inst *core.ProtocolInstance) {
				defer func() {
					s.mu.Lock()
					delete(s.subtaskInflight, key)
					s.mu.Unlock()
				}()
				if err := fn(ctx, inst); err != nil {
					log.Printf("[Scheduler] %s instance=%s failed: %v", name, inst.ID, err)
				}
			}(inst)
		}
	}
}

// syncRewards derives reward rows from settled assertions: the proposer
// of a truthfully settled assertion earns the recorded payout. Upserts
// are deduplicated by (txHash, logIndex).
func (s *Scheduler) syncRewards(ctx context.Context, inst *core.ProtocolInstance) error {
	rows, _, err := s.store.ListAssertions(ctx, storage.AssertionFilter{
		Chain:  inst.Chain,
		Status: core.AssertionSettled,
	}, storage.Page{Limit: 500})
	if err != nil {
		return err
	}
	for _, a := range rows {
		if a.Proposer == "" || a.SettlementValue == nil || a.SettlementValue.Sign() == 0 {
			continue
		}
		amount := a.DisputeBond
		if amount == nil {
			amount = a.Bond
		}
		if amount == nil {
			continue
		}
		ev := &core.RewardEvent{
			InstanceID:  inst.ID,
			Chain:       inst.Chain,
			Recipient:   a.Proposer,
			Amount:      amount,
			TxHash:      a.TxHash,
			BlockNumber: a.BlockNumber,
			LogIndex:    a.LogIndex,
			ObservedAt:  time.Now(),
		}
		if err := s.store.UpsertRewardEvent(ctx, inst.ID, ev); err != nil {
			return err
		}
	}
	return nil
}

// snapshotTVL sums the bonds locked in open assertions on the chain.
func (s *Scheduler) snapshotTVL(ctx context.Context, inst *core.ProtocolInstance) error {
	total := new(big.Int)
	for _, status := range []core.AssertionStatus{core.AssertionProposed, core.AssertionDisputed} {
		rows, _, err := s.store.ListAssertions(ctx, storage.AssertionFilter{
			Chain:  inst.Chain,
			Status: status,
		}, storage.Page{Limit: 1000})
		if err != nil {
			return err
		}
		for _, a := range rows {
			if a.Bond != nil {
				total.Add(total, a.Bond)
			}
			if a.DisputeBond != nil {
				total.Add(total, a.DisputeBond)
			}
		}
	}
	return s.store.PutTVLSnapshot(ctx, &core.TVLSnapshot{
		InstanceID: inst.ID,
		Chain:      inst.Chain,
		TotalValue: total,
		TakenAt:    time.Now(),
	})
}
