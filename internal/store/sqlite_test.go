package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"duels/internal/game"
	"duels/internal/tokens"

	"github.com/holiman/uint256"
)

const custodyAccount = "duels.near"

type fixedRandom byte

func (r fixedRandom) RandomByte() (byte, error) { return byte(r), nil }

func setupTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func newEngine(s *SQLite, ext *tokens.Memory, now func() time.Time) *game.Engine {
	return game.NewEngine(ext, game.Options{
		Admin:            "admin.near",
		Custody:          custodyAccount,
		TrackSettlements: true,
		Now:              now,
		Random:           fixedRandom(0),
		Store:            s,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func stake() uint256.Int {
	return *game.MinStake
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ext := tokens.NewMemory(custodyAccount)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return start }

	e := newEngine(s, ext, now)
	for _, account := range []string{"alice", "bob", "carol"} {
		ext.Credit(custodyAccount, stake())
		if _, err := e.OnTransfer(ctx, account, stake(), ""); err != nil {
			t.Fatalf("deposit %s: %v", account, err)
		}
	}
	active, err := e.CreateDuel(ctx, "alice", "MarkTwain", stake())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.AcceptDuel(ctx, "bob", active, "SunTzu"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := e.TakeTurn(ctx, "alice", active, game.Mocking); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if err := e.SetAnnotation(ctx, "admin.near", active, 0, "img-1"); err != nil {
		t.Fatalf("annotate: %v", err)
	}
	pending, err := e.CreateDuel(ctx, "carol", "Socrates", stake())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	e.Close()

	restored := newEngine(s, ext, now)
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	for _, id := range []uint64{active, pending} {
		want, _ := e.Duel(id)
		got, err := restored.Duel(id)
		if err != nil {
			t.Fatalf("restored duel %d: %v", id, err)
		}
		if got.State != want.State || got.Stake != want.Stake || got.PlayerB != want.PlayerB ||
			got.FigureB != want.FigureB || len(got.Turns) != len(want.Turns) || !got.CreatedAt.Equal(want.CreatedAt) {
			t.Fatalf("duel %d: got %+v want %+v", id, got, want)
		}
	}
	got, _ := restored.Duel(active)
	if got.Turns[0].Style != "Mocking" || got.Turns[0].Annotation != "img-1" || got.StartedAt == nil {
		t.Fatalf("unexpected restored turn %+v", got)
	}
	if r := restored.Custody(); !r.Consistent || r.Believed != e.Custody().Believed {
		t.Fatalf("unexpected restored custody %+v", r)
	}

	next, err := restored.CreateDuel(ctx, "alice", "OscarWilde", stake())
	if err == nil {
		t.Fatalf("alice has no free balance, created duel %d", next)
	}
	if err := restored.AcceptDuel(ctx, "alice", pending, "OscarWilde"); err == nil {
		t.Fatalf("accept without balance succeeded")
	}
}

func TestSQLiteRemovesCanceledDuel(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ext := tokens.NewMemory(custodyAccount)
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newEngine(s, ext, func() time.Time { return clock })

	ext.Credit(custodyAccount, stake())
	if _, err := e.OnTransfer(ctx, "alice", stake(), `{"function":"create_duel","figure":"MarkTwain"}`); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	clock = clock.Add(game.PendingCancelAfter + time.Second)
	h, err := e.CancelDuel(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	<-h.Done()
	e.Close()

	status, msg, err := s.CallStatus(ctx, h.Calls[0].ID)
	if err != nil {
		t.Fatalf("call status: %v", err)
	}
	if status != "completed" || msg != "" {
		t.Fatalf("got status %q error %q want completed", status, msg)
	}

	snap, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Duels) != 0 || snap.NextID != 1 || !snap.Custody.IsZero() {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSQLiteRecordsReconcileAndFailures(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ext := tokens.NewMemory(custodyAccount)
	e := newEngine(s, ext, time.Now)

	ext.Credit(custodyAccount, *uint256.NewInt(9))
	ext.FailBurns(1)
	h := e.ReconcileExcess(ctx)
	<-h.Done()
	e.Close()

	if len(h.Calls) != 1 {
		t.Fatalf("got %d queued calls want the burn", len(h.Calls))
	}
	status, msg, err := s.CallStatus(ctx, h.Calls[0].ID)
	if err != nil {
		t.Fatalf("call status: %v", err)
	}
	if status != "failed" || msg == "" {
		t.Fatalf("got status %q error %q want a recorded failure", status, msg)
	}
}

func TestDecodeTurnsRejectsUnknownClass(t *testing.T) {
	if _, err := decodeTurns([]byte(`[{"class":"Sneaky","damage":3}]`)); err == nil {
		t.Fatalf("expected unknown class to fail")
	}
	turns, err := decodeTurns(nil)
	if err != nil || turns != nil {
		t.Fatalf("got %v, %v want empty", turns, err)
	}
}

func TestSQLiteReceiptSurvivesRestore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ext := tokens.NewMemory(custodyAccount)
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	e := newEngine(s, ext, now)
	ext.Credit(custodyAccount, stake())
	delivered := &game.RequestClaim{Key: "token-service\x00POST /v1/hooks/transfer\x00delivery-1"}
	if _, err := e.OnTransfer(game.WithRequestClaim(ctx, delivered), "alice", stake(), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !delivered.Committed() {
		t.Fatalf("claim not committed")
	}
	body := []byte(`{"action":"credit"}`)
	if err := e.RecordResponse(ctx, delivered, 200, body); err != nil {
		t.Fatalf("record response: %v", err)
	}

	// A rejected intent rolls the claim back with everything else.
	rejected := &game.RequestClaim{Key: "token-service\x00POST /v1/hooks/transfer\x00delivery-2"}
	msg := `{"function":"create_duel","figure":"Nobody"}`
	if _, err := e.OnTransfer(game.WithRequestClaim(ctx, rejected), "bob", stake(), msg); err == nil {
		t.Fatalf("deposit with unknown figure succeeded")
	}
	if rejected.Committed() {
		t.Fatalf("rejected deposit committed its claim")
	}
	e.Close()

	restored := newEngine(s, ext, now)
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	r, ok := restored.Receipt(delivered.Key)
	if !ok || r.Status != 200 || string(r.Body) != string(body) {
		t.Fatalf("got receipt %+v ok=%v want status 200 body %s", r, ok, body)
	}
	if _, ok := restored.Receipt(rejected.Key); ok {
		t.Fatalf("rejected delivery left a receipt")
	}

	retry := &game.RequestClaim{Key: delivered.Key}
	if _, err := restored.OnTransfer(game.WithRequestClaim(ctx, retry), "alice", stake(), ""); !errors.Is(err, game.ErrDuplicateRequest) {
		t.Fatalf("got %v want ErrDuplicateRequest", err)
	}
	if bal := restored.Balance("alice"); !bal.Eq(game.MinStake) {
		t.Fatalf("got balance %s want %s", bal.Dec(), game.MinStake.Dec())
	}

	// Receipts past their TTL are dropped by the next claim.
	clock = clock.Add(game.ReceiptTTL + time.Minute)
	if _, ok := restored.Receipt(delivered.Key); ok {
		t.Fatalf("expired receipt still served")
	}
	later := &game.RequestClaim{Key: "token-service\x00POST /v1/hooks/transfer\x00delivery-3"}
	ext.Credit(custodyAccount, stake())
	if _, err := restored.OnTransfer(game.WithRequestClaim(ctx, later), "carol", stake(), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	restored.Close()

	again := newEngine(s, ext, now)
	if err := again.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, ok := again.Receipt(later.Key); !ok {
		t.Fatalf("fresh claim was not persisted")
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM idempotency_keys`).Scan(&count); err != nil {
		t.Fatalf("count receipts: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d stored receipts want 1", count)
	}
}
