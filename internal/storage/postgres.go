package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/insightlabs/observatory/internal/core"
)

// PostgresStore is the relational backend. Every write is an
// ON CONFLICT upsert, so retried ranges and concurrent decoders are safe.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects, pings and bootstraps the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("[Storage] Postgres connected")
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		protocol TEXT NOT NULL,
		chain TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		config JSONB NOT NULL DEFAULT '{}',
		protocol_config JSONB NOT NULL DEFAULT '{}',
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS assertions (
		id TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL,
		chain TEXT NOT NULL,
		identifier TEXT NOT NULL,
		ancillary_data TEXT,
		proposer TEXT,
		proposed_value NUMERIC,
		reward NUMERIC,
		proposed_at TIMESTAMPTZ NOT NULL,
		disputed_at TIMESTAMPTZ,
		settled_at TIMESTAMPTZ,
		settlement_value NUMERIC,
		status TEXT NOT NULL,
		bond NUMERIC,
		dispute_bond NUMERIC,
		tx_hash TEXT NOT NULL,
		block_number BIGINT NOT NULL,
		log_index BIGINT NOT NULL,
		version TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS assertions_chain_status_idx ON assertions (chain, status)`,
	`CREATE TABLE IF NOT EXISTS disputes (
		id TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL,
		chain TEXT NOT NULL,
		assertion_id TEXT NOT NULL,
		disputer TEXT,
		dispute_bond NUMERIC,
		disputed_at TIMESTAMPTZ NOT NULL,
		voting_ends_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		votes_for NUMERIC,
		votes_against NUMERIC,
		total_votes BIGINT NOT NULL DEFAULT 0,
		tx_hash TEXT NOT NULL,
		block_number BIGINT NOT NULL,
		log_index BIGINT NOT NULL,
		version TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS votes (
		tx_hash TEXT NOT NULL,
		log_index BIGINT NOT NULL,
		instance_id TEXT NOT NULL,
		chain TEXT NOT NULL,
		assertion_id TEXT NOT NULL,
		voter TEXT NOT NULL,
		support BOOLEAN NOT NULL,
		weight NUMERIC,
		block_number BIGINT NOT NULL,
		PRIMARY KEY (tx_hash, log_index)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_states (
		instance_id TEXT PRIMARY KEY,
		state JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS reward_events (
		tx_hash TEXT NOT NULL,
		log_index BIGINT NOT NULL,
		instance_id TEXT NOT NULL,
		chain TEXT NOT NULL,
		recipient TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		block_number BIGINT NOT NULL,
		observed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tx_hash, log_index)
	)`,
	`CREATE TABLE IF NOT EXISTS tvl_snapshots (
		id BIGSERIAL PRIMARY KEY,
		instance_id TEXT NOT NULL,
		chain TEXT NOT NULL,
		total_value NUMERIC NOT NULL,
		taken_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func numericOrNil(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

func scanNumeric(s sql.NullString) *big.Int {
	if !s.Valid {
		return nil
	}
	// NUMERIC comes back as a decimal string; assertion values are integral.
	raw := s.String
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		raw = raw[:i]
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil
	}
	return v
}

func (s *PostgresStore) UpsertAssertion(ctx context.Context, instanceID string, a *core.Assertion) error {
	// Enrichment on conflict; a Settled row keeps its terminal status.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assertions (
			id, instance_id, chain, identifier, ancillary_data, proposer,
			proposed_value, reward, proposed_at, disputed_at, settled_at,
			settlement_value, status, bond, dispute_bond, tx_hash,
			block_number, log_index, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (id) DO UPDATE SET
			ancillary_data   = COALESCE(NULLIF(EXCLUDED.ancillary_data, ''), assertions.ancillary_data),
			proposer         = COALESCE(NULLIF(EXCLUDED.proposer, ''), assertions.proposer),
			proposed_value   = COALESCE(EXCLUDED.proposed_value, assertions.proposed_value),
			reward           = COALESCE(EXCLUDED.reward, assertions.reward),
			disputed_at      = COALESCE(EXCLUDED.disputed_at, assertions.disputed_at),
			settled_at       = COALESCE(EXCLUDED.settled_at, assertions.settled_at),
			settlement_value = COALESCE(EXCLUDED.settlement_value, assertions.settlement_value),
			bond             = COALESCE(EXCLUDED.bond, assertions.bond),
			dispute_bond     = COALESCE(EXCLUDED.dispute_bond, assertions.dispute_bond),
			status = CASE
				WHEN assertions.status = 'Settled' THEN assertions.status
				WHEN EXCLUDED.status = 'Settled' THEN EXCLUDED.status
				WHEN assertions.status = 'Disputed' AND EXCLUDED.status = 'Proposed' THEN assertions.status
				ELSE EXCLUDED.status
			END`,
		a.ID, instanceID, a.Chain, a.Identifier, a.AncillaryData, a.Proposer,
		numericOrNil(a.ProposedValue), numericOrNil(a.Reward), a.ProposedAt,
		a.DisputedAt, a.SettledAt, numericOrNil(a.SettlementValue),
		string(a.Status), numericOrNil(a.Bond), numericOrNil(a.DisputeBond),
		a.TxHash, a.BlockNumber, a.LogIndex, string(a.Version))
	return err
}

func (s *PostgresStore) UpsertDispute(ctx context.Context, instanceID string, d *core.Dispute) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disputes (
			id, instance_id, chain, assertion_id, disputer, dispute_bond,
			disputed_at, voting_ends_at, status, votes_for, votes_against,
			total_votes, tx_hash, block_number, log_index, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET
			disputer      = COALESCE(NULLIF(EXCLUDED.disputer, ''), disputes.disputer),
			dispute_bond  = COALESCE(EXCLUDED.dispute_bond, disputes.dispute_bond),
			votes_for     = COALESCE(EXCLUDED.votes_for, disputes.votes_for),
			votes_against = COALESCE(EXCLUDED.votes_against, disputes.votes_against),
			total_votes   = GREATEST(EXCLUDED.total_votes, disputes.total_votes),
			status = CASE
				WHEN disputes.status = 'Executed' THEN disputes.status
				WHEN disputes.status = 'Resolved' AND EXCLUDED.status = 'Voting' THEN disputes.status
				ELSE EXCLUDED.status
			END`,
		d.ID, instanceID, d.Chain, d.AssertionID, d.Disputer,
		numericOrNil(d.DisputeBond), d.DisputedAt, d.VotingEndsAt,
		string(d.Status), numericOrNil(d.CurrentVotesFor),
		numericOrNil(d.CurrentVotesAgainst), d.TotalVotes, d.TxHash,
		d.BlockNumber, d.LogIndex, string(d.Version))
	return err
}

func (s *PostgresStore) UpsertVote(ctx context.Context, instanceID string, v *core.Vote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO votes (
			tx_hash, log_index, instance_id, chain, assertion_id, voter,
			support, weight, block_number
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (tx_hash, log_index) DO NOTHING`,
		strings.ToLower(v.TxHash), v.LogIndex, instanceID, v.Chain,
		v.AssertionID, v.Voter, v.Support, numericOrNil(v.Weight), v.BlockNumber)
	return err
}

func (s *PostgresStore) GetAssertion(ctx context.Context, id string) (*core.Assertion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chain, identifier, ancillary_data, proposer, proposed_value,
		       reward, proposed_at, disputed_at, settled_at, settlement_value,
		       status, bond, dispute_bond, tx_hash, block_number, log_index, version
		FROM assertions WHERE id = $1`, id)
	a, err := scanAssertion(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

type rowScanner interface{ Scan(dest ...interface{}) error }

func scanAssertion(r rowScanner) (*core.Assertion, error) {
	var a core.Assertion
	var ancillary, proposer sql.NullString
	var proposedValue, reward, settlementValue, bond, disputeBond sql.NullString
	var disputedAt, settledAt sql.NullTime
	err := r.Scan(&a.ID, &a.Chain, &a.Identifier, &ancillary, &proposer,
		&proposedValue, &reward, &a.ProposedAt, &disputedAt, &settledAt,
		&settlementValue, &a.Status, &bond, &disputeBond, &a.TxHash,
		&a.BlockNumber, &a.LogIndex, &a.Version)
	if err != nil {
		return nil, err
	}
	a.AncillaryData = ancillary.String
	a.Proposer = proposer.String
	a.ProposedValue = scanNumeric(proposedValue)
	a.Reward = scanNumeric(reward)
	a.SettlementValue = scanNumeric(settlementValue)
	a.Bond = scanNumeric(bond)
	a.DisputeBond = scanNumeric(disputeBond)
	if disputedAt.Valid {
		t := disputedAt.Time
		a.DisputedAt = &t
	}
	if settledAt.Valid {
		t := settledAt.Time
		a.SettledAt = &t
	}
	return &a, nil
}

func (s *PostgresStore) ListAssertions(ctx context.Context, f AssertionFilter, p Page) ([]*core.Assertion, int, error) {
	where, args := buildWhere(map[string]interface{}{
		"chain":      f.Chain,
		"status":     string(f.Status),
		"identifier": f.Identifier,
	})

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM assertions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, chain, identifier, ancillary_data, proposer, proposed_value,
		       reward, proposed_at, disputed_at, settled_at, settlement_value,
		       status, bond, dispute_bond, tx_hash, block_number, log_index, version
		FROM assertions` + where +
		fmt.Sprintf(" ORDER BY block_number DESC, id LIMIT %d OFFSET %d", p.limitOrDefault(), p.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*core.Assertion
	for rows.Next() {
		a, err := scanAssertion(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) ListDisputes(ctx context.Context, f DisputeFilter, p Page) ([]*core.Dispute, int, error) {
	where, args := buildWhere(map[string]interface{}{
		"chain":        f.Chain,
		"status":       string(f.Status),
		"assertion_id": f.AssertionID,
	})

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM disputes`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, chain, assertion_id, disputer, dispute_bond, disputed_at,
		       voting_ends_at, status, votes_for, votes_against, total_votes,
		       tx_hash, block_number, log_index, version
		FROM disputes` + where +
		fmt.Sprintf(" ORDER BY block_number DESC, id LIMIT %d OFFSET %d", p.limitOrDefault(), p.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*core.Dispute
	for rows.Next() {
		var d core.Dispute
		var disputer sql.NullString
		var bond, votesFor, votesAgainst sql.NullString
		if err := rows.Scan(&d.ID, &d.Chain, &d.AssertionID, &disputer, &bond,
			&d.DisputedAt, &d.VotingEndsAt, &d.Status, &votesFor, &votesAgainst,
			&d.TotalVotes, &d.TxHash, &d.BlockNumber, &d.LogIndex, &d.Version); err != nil {
			return nil, 0, err
		}
		d.Disputer = disputer.String
		d.DisputeBond = scanNumeric(bond)
		d.CurrentVotesFor = scanNumeric(votesFor)
		d.CurrentVotesAgainst = scanNumeric(votesAgainst)
		out = append(out, &d)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) ListVotes(ctx context.Context, f VoteFilter, p Page) ([]*core.Vote, int, error) {
	where, args := buildWhere(map[string]interface{}{
		"chain":        f.Chain,
		"assertion_id": f.AssertionID,
		"voter":        f.Voter,
	})

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM votes`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT tx_hash, log_index, chain, assertion_id, voter, support, weight, block_number
		FROM votes` + where +
		fmt.Sprintf(" ORDER BY block_number DESC, log_index DESC LIMIT %d OFFSET %d", p.limitOrDefault(), p.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*core.Vote
	for rows.Next() {
		var v core.Vote
		var weight sql.NullString
		if err := rows.Scan(&v.TxHash, &v.LogIndex, &v.Chain, &v.AssertionID,
			&v.Voter, &v.Support, &weight, &v.BlockNumber); err != nil {
			return nil, 0, err
		}
		v.Weight = scanNumeric(weight)
		out = append(out, &v)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) GetSyncState(ctx context.Context, instanceID string) (*core.SyncState, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM sync_states WHERE instance_id = $1`, instanceID).Scan(&raw)
	if err == sql.ErrNoRows {
		return &core.SyncState{InstanceID: instanceID}, nil
	}
	if err != nil {
		return nil, err
	}
	var state core.SyncState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode sync state: %w", err)
	}
	state.InstanceID = instanceID
	return &state, nil
}

func (s *PostgresStore) PutSyncState(ctx context.Context, instanceID string, state *core.SyncState) error {
	cp := state.Clone()
	cp.InstanceID = instanceID
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode sync state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_states (instance_id, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (instance_id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		instanceID, raw)
	return err
}

func (s *PostgresStore) UpsertRewardEvent(ctx context.Context, instanceID string, ev *core.RewardEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reward_events (tx_hash, log_index, instance_id, chain, recipient, amount, block_number, observed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (tx_hash, log_index) DO NOTHING`,
		strings.ToLower(ev.TxHash), ev.LogIndex, instanceID, ev.Chain,
		ev.Recipient, numericOrNil(ev.Amount), ev.BlockNumber, ev.ObservedAt)
	return err
}

func (s *PostgresStore) PutTVLSnapshot(ctx context.Context, snap *core.TVLSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tvl_snapshots (instance_id, chain, total_value, taken_at)
		VALUES ($1,$2,$3,$4)`,
		snap.InstanceID, snap.Chain, numericOrNil(snap.TotalValue), snap.TakenAt)
	return err
}

func (s *PostgresStore) UpsertInstance(ctx context.Context, inst *core.ProtocolInstance) error {
	cfg, err := json.Marshal(inst.Config)
	if err != nil {
		return err
	}
	pcfg, err := json.Marshal(inst.ProtocolConfig)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(inst.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO instances (id, name, protocol, chain, enabled, config, protocol_config, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			protocol = EXCLUDED.protocol,
			chain = EXCLUDED.chain,
			enabled = EXCLUDED.enabled,
			config = EXCLUDED.config,
			protocol_config = EXCLUDED.protocol_config,
			metadata = EXCLUDED.metadata,
			updated_at = now()`,
		inst.ID, inst.Name, string(inst.Protocol), inst.Chain, inst.Enabled, cfg, pcfg, meta)
	return err
}

func (s *PostgresStore) GetInstance(ctx context.Context, id string) (*core.ProtocolInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, protocol, chain, enabled, config, protocol_config, metadata, created_at, updated_at
		FROM instances WHERE id = $1`, id)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return inst, err
}

func (s *PostgresStore) ListInstances(ctx context.Context, enabledOnly bool) ([]*core.ProtocolInstance, error) {
	query := `
		SELECT id, name, protocol, chain, enabled, config, protocol_config, metadata, created_at, updated_at
		FROM instances`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.ProtocolInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func scanInstance(r rowScanner) (*core.ProtocolInstance, error) {
	var inst core.ProtocolInstance
	var cfg, pcfg, meta []byte
	err := r.Scan(&inst.ID, &inst.Name, &inst.Protocol, &inst.Chain,
		&inst.Enabled, &cfg, &pcfg, &meta, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfg, &inst.Config); err != nil {
		return nil, fmt.Errorf("decode instance config: %w", err)
	}
	if err := json.Unmarshal(pcfg, &inst.ProtocolConfig); err != nil {
		return nil, fmt.Errorf("decode protocol config: %w", err)
	}
	if len(meta) > 0 && string(meta) != "null" {
		if err := json.Unmarshal(meta, &inst.Metadata); err != nil {
			return nil, fmt.Errorf("decode instance metadata: %w", err)
		}
	}
	return &inst, nil
}

// buildWhere assembles a WHERE clause from non-empty equality filters.
// Columns are visited in sorted order so the generated SQL is stable.
func buildWhere(filters map[string]interface{}) (string, []interface{}) {
	cols := make([]string, 0, len(filters))
	for col := range filters {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var clauses []string
	var args []interface{}
	for _, col := range cols {
		val := filters[col]
		if s, ok := val.(string); ok && s == "" {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)+1))
		args = append(args, val)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
