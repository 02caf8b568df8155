package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/insightlabs/observatory/internal/core"
)

// MemoryStore is the in-memory backend. Row-level semantics match the
// Postgres store: idempotent upserts keyed by primary key, vote dedup by
// (txHash, logIndex).
type MemoryStore struct {
	mu         sync.RWMutex
	assertions map[string]*core.Assertion
	disputes   map[string]*core.Dispute
	votes      map[string]*core.Vote // key: txHash|logIndex
	syncStates map[string]*core.SyncState
	rewards    map[string]*core.RewardEvent // key: txHash|logIndex
	tvl        []*core.TVLSnapshot
	instances  map[string]*core.ProtocolInstance
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assertions: make(map[string]*core.Assertion),
		disputes:   make(map[string]*core.Dispute),
		votes:      make(map[string]*core.Vote),
		syncStates: make(map[string]*core.SyncState),
		rewards:    make(map[string]*core.RewardEvent),
		instances:  make(map[string]*core.ProtocolInstance),
	}
}

func voteKey(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s|%d", strings.ToLower(txHash), logIndex)
}

func (m *MemoryStore) UpsertAssertion(ctx context.Context, instanceID string, a *core.Assertion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.assertions[a.ID]; ok {
		m.assertions[a.ID] = mergeAssertion(existing, a)
		return nil
	}
	cp := *a
	m.assertions[a.ID] = &cp
	return nil
}

func (m *MemoryStore) UpsertDispute(ctx context.Context, instanceID string, d *core.Dispute) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.disputes[d.ID]; ok {
		m.disputes[d.ID] = mergeDispute(existing, d)
		return nil
	}
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *MemoryStore) UpsertVote(ctx context.Context, instanceID string, v *core.Vote) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := voteKey(v.TxHash, v.LogIndex)
	if _, ok := m.votes[key]; ok {
		return nil
	}
	cp := *v
	m.votes[key] = &cp
	return nil
}

func (m *MemoryStore) GetAssertion(ctx context.Context, id string) (*core.Assertion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assertions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ListAssertions(ctx context.Context, f AssertionFilter, p Page) ([]*core.Assertion, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*core.Assertion, 0, len(m.assertions))
	for _, a := range m.assertions {
		if f.Chain != "" && a.Chain != f.Chain {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Identifier != "" && a.Identifier != f.Identifier {
			continue
		}
		cp := *a
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].BlockNumber != matched[j].BlockNumber {
			return matched[i].BlockNumber > matched[j].BlockNumber
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	return paginate(matched, p), total, nil
}

func (m *MemoryStore) ListDisputes(ctx context.Context, f DisputeFilter, p Page) ([]*core.Dispute, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*core.Dispute, 0, len(m.disputes))
	for _, d := range m.disputes {
		if f.Chain != "" && d.Chain != f.Chain {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.AssertionID != "" && d.AssertionID != f.AssertionID {
			continue
		}
		cp := *d
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].BlockNumber != matched[j].BlockNumber {
			return matched[i].BlockNumber > matched[j].BlockNumber
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	return paginate(matched, p), total, nil
}

func (m *MemoryStore) ListVotes(ctx context.Context, f VoteFilter, p Page) ([]*core.Vote, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*core.Vote, 0, len(m.votes))
	for _, v := range m.votes {
		if f.Chain != "" && v.Chain != f.Chain {
			continue
		}
		if f.AssertionID != "" && v.AssertionID != f.AssertionID {
			continue
		}
		if f.Voter != "" && !strings.EqualFold(v.Voter, f.Voter) {
			continue
		}
		cp := *v
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].BlockNumber != matched[j].BlockNumber {
			return matched[i].BlockNumber > matched[j].BlockNumber
		}
		return matched[i].LogIndex > matched[j].LogIndex
	})
	total := len(matched)
	return paginate(matched, p), total, nil
}

func (m *MemoryStore) GetSyncState(ctx context.Context, instanceID string) (*core.SyncState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.syncStates[instanceID]
	if !ok {
		return &core.SyncState{InstanceID: instanceID}, nil
	}
	return s.Clone(), nil
}

func (m *MemoryStore) PutSyncState(ctx context.Context, instanceID string, s *core.SyncState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s.Clone()
	cp.InstanceID = instanceID
	m.syncStates[instanceID] = cp
	return nil
}

func (m *MemoryStore) UpsertRewardEvent(ctx context.Context, instanceID string, ev *core.RewardEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := voteKey(ev.TxHash, ev.LogIndex)
	if _, ok := m.rewards[key]; ok {
		return nil
	}
	cp := *ev
	cp.InstanceID = instanceID
	m.rewards[key] = &cp
	return nil
}

func (m *MemoryStore) PutTVLSnapshot(ctx context.Context, snap *core.TVLSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	if cp.TakenAt.IsZero() {
		cp.TakenAt = time.Now().UTC()
	}
	m.tvl = append(m.tvl, &cp)
	return nil
}

func (m *MemoryStore) UpsertInstance(ctx context.Context, inst *core.ProtocolInstance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inst
	now := time.Now().UTC()
	if existing, ok := m.instances[inst.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.instances[inst.ID] = &cp
	return nil
}

func (m *MemoryStore) GetInstance(ctx context.Context, id string) (*core.ProtocolInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (m *MemoryStore) ListInstances(ctx context.Context, enabledOnly bool) ([]*core.ProtocolInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.ProtocolInstance, 0, len(m.instances))
	for _, inst := range m.instances {
		if enabledOnly && !inst.Enabled {
			continue
		}
		cp := *inst
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountAssertions is a test helper.
func (m *MemoryStore) CountAssertions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.assertions)
}

// CountRewardEvents is a test helper.
func (m *MemoryStore) CountRewardEvents() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rewards)
}

// LatestTVLSnapshot is a test helper; nil when none were taken.
func (m *MemoryStore) LatestTVLSnapshot() *core.TVLSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.tvl) == 0 {
		return nil
	}
	cp := *m.tvl[len(m.tvl)-1]
	return &cp
}

func paginate[T any](rows []T, p Page) []T {
	limit := p.limitOrDefault()
	if p.Offset >= len(rows) {
		return nil
	}
	end := p.Offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[p.Offset:end]
}
