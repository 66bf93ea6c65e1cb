package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"duels/internal/game"

	"github.com/holiman/uint256"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS balances (
	account_id TEXT PRIMARY KEY,
	amount TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS duels (
	id INTEGER PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	stake TEXT NOT NULL,
	player_a TEXT NOT NULL,
	persona_a TEXT NOT NULL,
	player_b TEXT NOT NULL DEFAULT '',
	persona_b TEXT NOT NULL DEFAULT '',
	winner TEXT NOT NULL DEFAULT '',
	turns TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settlement_calls (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	duel_id INTEGER,
	recipient TEXT NOT NULL DEFAULT '',
	amount TEXT NOT NULL,
	memo TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	queued_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	key TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	status INTEGER NOT NULL DEFAULT 0,
	body BLOB
);
`

// SQLite is a single-file store for local runs and tests.
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// gives a private in-memory database.
func OpenSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLite{db: db, log: logger}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Load(ctx context.Context) (game.Snapshot, error) {
	snap := game.Snapshot{Balances: make(map[string]uint256.Int)}

	rows, err := s.db.QueryContext(ctx, `SELECT account_id, amount FROM balances`)
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
	if err := rows.Close(); err != nil {
		return snap, fmt.Errorf("load balances: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, created_at, started_at, stake, player_a, persona_a,
		       player_b, persona_b, winner, turns
		FROM duels
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
			started                   sql.NullTime
			stake, personaA, personaB string
			winner, turns             string
		)
		if err := rows.Scan(&id, &d.CreatedAt, &started, &stake, &d.PlayerA, &personaA,
			&d.PlayerB, &personaB, &winner, &turns); err != nil {
			return snap, fmt.Errorf("scan duel: %w", err)
		}
		d.ID = uint64(id)
		if started.Valid {
			d.StartedAt = started.Time
		}
		if d.Stake, err = parseAmount(stake); err != nil {
			return snap, err
		}
		d.PersonaA, d.PersonaB = game.Persona(personaA), game.Persona(personaB)
		d.Winner = game.ParseWinner(winner)
		if d.Turns, err = decodeTurns([]byte(turns)); err != nil {
			return snap, fmt.Errorf("duel %d: %w", id, err)
		}
		snap.Duels = append(snap.Duels, &d)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("load duels: %w", err)
	}

	var nextID, custody sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaNextID).Scan(&nextID); err != nil && err != sql.ErrNoRows {
		return snap, fmt.Errorf("load next id: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaCustody).Scan(&custody); err != nil && err != sql.ErrNoRows {
		return snap, fmt.Errorf("load custody: %w", err)
	}
	if nextID.Valid {
		if snap.NextID, err = strconv.ParseUint(nextID.String, 10, 64); err != nil {
			return snap, fmt.Errorf("parse next id: %w", err)
		}
	}
	if custody.Valid {
		if snap.Custody, err = parseAmount(custody.String); err != nil {
			return snap, err
		}
	}

	receipts, err := s.db.QueryContext(ctx, `SELECT key, created_at, status, body FROM idempotency_keys`)
	if err != nil {
		return snap, fmt.Errorf("load receipts: %w", err)
	}
	defer receipts.Close()
	for receipts.Next() {
		var r game.Receipt
		if err := receipts.Scan(&r.Key, &r.CreatedAt, &r.Status, &r.Body); err != nil {
			return snap, fmt.Errorf("scan receipt: %w", err)
		}
		snap.Receipts = append(snap.Receipts, r)
	}
	if err := receipts.Err(); err != nil {
		return snap, fmt.Errorf("load receipts: %w", err)
	}
	s.log.Info("store loaded", "store", "sqlite", "balances", len(snap.Balances), "duels", len(snap.Duels),
		"receipts", len(snap.Receipts))
	return snap, nil
}

func (s *SQLite) Apply(ctx context.Context, ch game.Changes) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for account, amount := range ch.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO balances (account_id, amount) VALUES (?, ?)
			ON CONFLICT (account_id) DO UPDATE
			SET amount = excluded.amount, updated_at = CURRENT_TIMESTAMP
		`, account, amount.Dec()); err != nil {
			return fmt.Errorf("save balance %s: %w", account, err)
		}
	}
	for _, d := range ch.Duels {
		turns, err := encodeTurns(d.Turns)
		if err != nil {
			return err
		}
		var started sql.NullTime
		if !d.StartedAt.IsZero() {
			started = sql.NullTime{Time: d.StartedAt, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO duels (id, created_at, started_at, stake, player_a, persona_a,
			                   player_b, persona_b, winner, turns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE
			SET started_at = excluded.started_at,
			    player_b = excluded.player_b,
			    persona_b = excluded.persona_b,
			    winner = excluded.winner,
			    turns = excluded.turns
		`, int64(d.ID), d.CreatedAt, started, d.Stake.Dec(), d.PlayerA, string(d.PersonaA),
			d.PlayerB, string(d.PersonaB), d.Winner.String(), string(turns)); err != nil {
			return fmt.Errorf("save duel %d: %w", d.ID, err)
		}
	}
	for _, id := range ch.Removed {
		if _, err := tx.ExecContext(ctx, `DELETE FROM duels WHERE id = ?`, int64(id)); err != nil {
			return fmt.Errorf("remove duel %d: %w", id, err)
		}
	}
	for key, value := range map[string]string{
		metaNextID:  strconv.FormatUint(ch.NextID, 10),
		metaCustody: ch.Custody.Dec(),
	} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value
		`, key, value); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}
	for _, c := range ch.Calls {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settlement_calls (id, kind, duel_id, recipient, amount, memo, status)
			VALUES (?, ?, ?, ?, ?, ?, 'queued')
		`, c.ID, string(c.Kind), duelIDArg(c.DuelID), c.Recipient, c.Amount.Dec(), c.Memo); err != nil {
			return fmt.Errorf("queue call %s: %w", c.ID, err)
		}
	}
	for _, r := range ch.Receipts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO idempotency_keys (key, created_at, status, body) VALUES (?, ?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET status = excluded.status, body = excluded.body
		`, r.Key, r.CreatedAt, r.Status, r.Body); err != nil {
			return fmt.Errorf("save receipt: %w", err)
		}
	}
	for _, key := range ch.Forgotten {
		if _, err := tx.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = ?`, key); err != nil {
			return fmt.Errorf("forget receipt: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) RecordCall(ctx context.Context, res game.CallResult) error {
	c := res.Call
	status, msg := callStatus(res)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement_calls (id, kind, duel_id, recipient, amount, memo, status, error, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET status = excluded.status, error = excluded.error,
		    amount = excluded.amount, completed_at = excluded.completed_at
	`, c.ID, string(c.Kind), duelIDArg(c.DuelID), c.Recipient, c.Amount.Dec(), c.Memo, status, msg, res.CompletedAt)
	if err != nil {
		return fmt.Errorf("record call %s: %w", c.ID, err)
	}
	return nil
}

// CallStatus returns the recorded status and error text of a call.
func (s *SQLite) CallStatus(ctx context.Context, id string) (string, string, error) {
	var status, msg string
	err := s.db.QueryRowContext(ctx, `SELECT status, error FROM settlement_calls WHERE id = ?`, id).Scan(&status, &msg)
	if err != nil {
		return "", "", fmt.Errorf("call %s: %w", id, err)
	}
	return status, msg, nil
}
