package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"duels/internal/game"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE SCHEMA IF NOT EXISTS duels;

CREATE TABLE IF NOT EXISTS duels.balances (
	account_id TEXT PRIMARY KEY,
	amount NUMERIC(78, 0) NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS duels.duels (
	id BIGINT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	stake NUMERIC(78, 0) NOT NULL,
	player_a TEXT NOT NULL,
	persona_a TEXT NOT NULL,
	player_b TEXT NOT NULL DEFAULT '',
	persona_b TEXT NOT NULL DEFAULT '',
	winner TEXT NOT NULL DEFAULT '',
	turns JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS duels.meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS duels.settlement_calls (
	id UUID PRIMARY KEY,
	kind TEXT NOT NULL,
	duel_id BIGINT,
	recipient TEXT NOT NULL DEFAULT '',
	amount NUMERIC(78, 0) NOT NULL,
	memo TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	queued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS duels.idempotency_keys (
	key TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	status INTEGER NOT NULL DEFAULT 0,
	body BYTEA
);
`

// Postgres stores engine state in the duels schema.
type Postgres struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewPostgres(db *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, log: logger}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context) (game.Snapshot, error) {
	snap := game.Snapshot{Balances: make(map[string]uint256.Int)}

	rows, err := p.db.Query(ctx, `SELECT account_id, amount::text FROM duels.balances`)
	if err != nil {
		return snap, fmt.Errorf("load balances: %w", err)
	}
	for rows.Next() {
		var account, raw string
		if err := rows.Scan(&account, &raw); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan balance: %w", err)
		}
		amount, err := parseAmount(raw)
		if err != nil {
			rows.Close()
			return snap, err
		}
		snap.Balances[account] = amount
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("load balances: %w", err)
	}

	rows, err = p.db.Query(ctx, `
		SELECT id, created_at, started_at, stake::text, player_a, persona_a,
		       player_b, persona_b, winner, turns
		FROM duels.duels
		ORDER BY id
	`)
	if err != nil {
		return snap, fmt.Errorf("load duels: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id                        int64
			d                         game.Duel
			started                   *time.Time
			stake, personaA, personaB string
			winner                    string
			turns                     []byte
		)
		if err := rows.Scan(&id, &d.CreatedAt, &started, &stake, &d.PlayerA, &personaA,
			&d.PlayerB, &personaB, &winner, &turns); err != nil {
			return snap, fmt.Errorf("scan duel: %w", err)
		}
		d.ID = uint64(id)
		if started != nil {
			d.StartedAt = *started
		}
		if d.Stake, err = parseAmount(stake); err != nil {
			return snap, err
		}
		d.PersonaA, d.PersonaB = game.Persona(personaA), game.Persona(personaB)
		d.Winner = game.ParseWinner(winner)
		if d.Turns, err = decodeTurns(turns); err != nil {
			return snap, fmt.Errorf("duel %d: %w", id, err)
		}
		snap.Duels = append(snap.Duels, &d)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("load duels: %w", err)
	}

	meta, err := p.loadMeta(ctx)
	if err != nil {
		return snap, err
	}
	if v, ok := meta[metaNextID]; ok {
		if snap.NextID, err = strconv.ParseUint(v, 10, 64); err != nil {
			return snap, fmt.Errorf("parse next id: %w", err)
		}
	}
	if v, ok := meta[metaCustody]; ok {
		if snap.Custody, err = parseAmount(v); err != nil {
			return snap, err
		}
	}
	if snap.Receipts, err = p.loadReceipts(ctx); err != nil {
		return snap, err
	}
	p.log.Info("store loaded", "store", "postgres", "balances", len(snap.Balances), "duels", len(snap.Duels),
		"receipts", len(snap.Receipts))
	return snap, nil
}

func (p *Postgres) loadReceipts(ctx context.Context) ([]game.Receipt, error) {
	rows, err := p.db.Query(ctx, `SELECT key, created_at, status, body FROM duels.idempotency_keys`)
	if err != nil {
		return nil, fmt.Errorf("load receipts: %w", err)
	}
	defer rows.Close()
	var out []game.Receipt
	for rows.Next() {
		var r game.Receipt
		var status int32
		if err := rows.Scan(&r.Key, &r.CreatedAt, &status, &r.Body); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		r.Status = int(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) loadMeta(ctx context.Context) (map[string]string, error) {
	rows, err := p.db.Query(ctx, `SELECT key, value FROM duels.meta`)
	if err != nil {
		return nil, fmt.Errorf("load meta: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Apply writes one request's changes in a single serializable transaction.
func (p *Postgres) Apply(ctx context.Context, ch game.Changes) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for account, amount := range ch.Balances {
		if _, err := tx.Exec(ctx, `
			INSERT INTO duels.balances (account_id, amount)
			VALUES ($1, $2::numeric)
			ON CONFLICT (account_id) DO UPDATE
			SET amount = EXCLUDED.amount, updated_at = now()
		`, account, amount.Dec()); err != nil {
			return fmt.Errorf("save balance %s: %w", account, err)
		}
	}
	for _, d := range ch.Duels {
		turns, err := encodeTurns(d.Turns)
		if err != nil {
			return err
		}
		var started *time.Time
		if !d.StartedAt.IsZero() {
			started = &d.StartedAt
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO duels.duels (id, created_at, started_at, stake, player_a, persona_a,
			                         player_b, persona_b, winner, turns)
			VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10::jsonb)
			ON CONFLICT (id) DO UPDATE
			SET started_at = EXCLUDED.started_at,
			    player_b = EXCLUDED.player_b,
			    persona_b = EXCLUDED.persona_b,
			    winner = EXCLUDED.winner,
			    turns = EXCLUDED.turns
		`, int64(d.ID), d.CreatedAt, started, d.Stake.Dec(), d.PlayerA, string(d.PersonaA),
			d.PlayerB, string(d.PersonaB), d.Winner.String(), string(turns)); err != nil {
			return fmt.Errorf("save duel %d: %w", d.ID, err)
		}
	}
	for _, id := range ch.Removed {
		if _, err := tx.Exec(ctx, `DELETE FROM duels.duels WHERE id = $1`, int64(id)); err != nil {
			return fmt.Errorf("remove duel %d: %w", id, err)
		}
	}
	for key, value := range map[string]string{
		metaNextID:  strconv.FormatUint(ch.NextID, 10),
		metaCustody: ch.Custody.Dec(),
	} {
		if _, err := tx.Exec(ctx, `
			INSERT INTO duels.meta (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
		`, key, value); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}
	for _, c := range ch.Calls {
		if _, err := tx.Exec(ctx, `
			INSERT INTO duels.settlement_calls (id, kind, duel_id, recipient, amount, memo, status)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, 'queued')
		`, c.ID, string(c.Kind), duelIDArg(c.DuelID), c.Recipient, c.Amount.Dec(), c.Memo); err != nil {
			return fmt.Errorf("queue call %s: %w", c.ID, err)
		}
	}
	for _, r := range ch.Receipts {
		if _, err := tx.Exec(ctx, `
			INSERT INTO duels.idempotency_keys (key, created_at, status, body)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (key) DO UPDATE
			SET status = EXCLUDED.status, body = EXCLUDED.body
		`, r.Key, r.CreatedAt, int32(r.Status), r.Body); err != nil {
			return fmt.Errorf("save receipt: %w", err)
		}
	}
	if len(ch.Forgotten) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM duels.idempotency_keys WHERE key = ANY($1)`, ch.Forgotten); err != nil {
			return fmt.Errorf("forget receipts: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// RecordCall stores the outcome of a dispatched call. Calls that were never
// queued through Apply, such as reconciliation, are inserted here.
func (p *Postgres) RecordCall(ctx context.Context, res game.CallResult) error {
	c := res.Call
	status, msg := callStatus(res)
	_, err := p.db.Exec(ctx, `
		INSERT INTO duels.settlement_calls (id, kind, duel_id, recipient, amount, memo, status, error, completed_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, error = EXCLUDED.error,
		    amount = EXCLUDED.amount, completed_at = EXCLUDED.completed_at
	`, c.ID, string(c.Kind), duelIDArg(c.DuelID), c.Recipient, c.Amount.Dec(), c.Memo, status, msg, res.CompletedAt)
	if err != nil {
		return fmt.Errorf("record call %s: %w", c.ID, err)
	}
	return nil
}
