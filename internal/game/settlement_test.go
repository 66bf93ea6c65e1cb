package game

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"duels/internal/tokens"

	"github.com/holiman/uint256"
)

func reconcile(t *testing.T, h *harness) (uint256.Int, []CallResult) {
	t.Helper()
	sh := h.engine.ReconcileExcess(context.Background())
	res := waitHandle(t, sh)
	return sh.Burned(), res
}

func TestReconcileIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, "alice", whole(2))

	// A direct credit nobody announced.
	h.ext.Credit(testCustody, *uint256.NewInt(500))

	burned, res := reconcile(t, h)
	if burned.Uint64() != 500 {
		t.Fatalf("got burned %s want 500", burned.Dec())
	}
	if len(res) != 2 || res[0].Call.Kind != CallBalance || res[1].Call.Kind != CallBurn {
		t.Fatalf("unexpected calls %+v", res)
	}

	burned, res = reconcile(t, h)
	if !burned.IsZero() {
		t.Fatalf("second reconcile burned %s want 0", burned.Dec())
	}
	if len(res) != 1 {
		t.Fatalf("got %d calls want only the balance query", len(res))
	}
	h.checkCustody(t)

	held, _ := h.ext.BalanceOf(context.Background(), testCustody)
	if want := whole(2); !held.Eq(&want) {
		t.Fatalf("custody holds %s want %s", held.Dec(), want.Dec())
	}
}

func TestReconcileNothingHeldBelowBelief(t *testing.T) {
	h := newHarness(t, nil)
	// Believed custody exceeds what the service holds: nothing to burn.
	if _, err := h.engine.OnTransfer(context.Background(), "alice", whole(1), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	burned, _ := reconcile(t, h)
	if !burned.IsZero() {
		t.Fatalf("got burned %s want 0", burned.Dec())
	}
}

func TestFailedPayoutIsBurnedByReconcile(t *testing.T) {
	h := newHarness(t, nil)
	h.random.bytes = []byte{9, 0}
	id := h.startDuel(t)

	h.ext.FailTransfers(1)
	res := h.playOut(t, id)
	results := waitHandle(t, res.Settlement)
	if !res.Settlement.Failed() {
		t.Fatalf("expected the payout to fail")
	}
	var transferErr error
	for _, r := range results {
		if r.Call.Kind == CallTransfer {
			transferErr = r.Err
		}
	}
	if !errors.Is(transferErr, tokens.ErrTransferFailed) {
		t.Fatalf("got %v want ErrTransferFailed", transferErr)
	}

	// The local transition stays committed.
	d, _ := h.engine.Duel(id)
	if d.State != StateSettled {
		t.Fatalf("got state %s want settled", d.State)
	}
	h.checkCustody(t)

	// The unpaid amount is now surplus and reconciliation destroys it.
	payout, fee := PotSplit(whole(1))
	burned, _ := reconcile(t, h)
	if !burned.Eq(&payout) {
		t.Fatalf("got burned %s want %s", burned.Dec(), payout.Dec())
	}
	var total uint256.Int
	total.Add(&payout, &fee)
	if got := h.ext.Burned(); !got.Eq(&total) {
		t.Fatalf("total burned %s want %s", got.Dec(), total.Dec())
	}
}

func TestReconcileBurnFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.ext.Credit(testCustody, *uint256.NewInt(7))
	h.ext.FailBurns(1)

	sh := h.engine.ReconcileExcess(context.Background())
	waitHandle(t, sh)
	if !sh.Failed() {
		t.Fatalf("expected burn failure to be reported")
	}
	if b := sh.Burned(); !b.IsZero() {
		t.Fatalf("failed burn reported %s burned", b.Dec())
	}

	burned, _ := reconcile(t, h)
	if burned.Uint64() != 7 {
		t.Fatalf("got burned %s want 7", burned.Dec())
	}
}

// gatedLedger holds every transfer until release is called.
type gatedLedger struct {
	*tokens.Memory
	entered chan struct{}
	open    chan struct{}
	once    sync.Once
}

func (g *gatedLedger) Transfer(ctx context.Context, recipient string, amount uint256.Int, memo string) error {
	g.entered <- struct{}{}
	select {
	case <-g.open:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.Memory.Transfer(ctx, recipient, amount, memo)
}

func (g *gatedLedger) release() {
	g.once.Do(func() { close(g.open) })
}

func TestReconcileLeavesInFlightRefundsAlone(t *testing.T) {
	mem := tokens.NewMemory(testCustody)
	gate := &gatedLedger{Memory: mem, entered: make(chan struct{}, 2), open: make(chan struct{})}
	h := &harness{
		ext:    mem,
		clock:  &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		random: &scriptedRandom{bytes: []byte{0}},
	}
	h.engine = NewEngine(gate, Options{
		Custody:          testCustody,
		TrackSettlements: true,
		Now:              h.clock.Now,
		Random:           h.random,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(h.engine.Close)
	t.Cleanup(gate.release)
	ctx := context.Background()

	id := h.startDuel(t)
	res := h.playOut(t, id)
	if res.Winner != WinnerDraw {
		t.Fatalf("got winner %s want draw", res.Winner)
	}
	// The first refund has reached the service and is stuck there.
	<-gate.entered

	burned, _ := reconcile(t, h)
	if !burned.IsZero() {
		t.Fatalf("reconcile burned %s of in-flight refunds", burned.Dec())
	}
	if got := mem.Burned(); !got.IsZero() {
		t.Fatalf("service burned %s want 0", got.Dec())
	}

	gate.release()
	results := waitHandle(t, res.Settlement)
	if res.Settlement.Failed() {
		t.Fatalf("refunds failed: %+v", results)
	}
	for _, account := range []string{"alice", "bob"} {
		held, _ := mem.BalanceOf(ctx, account)
		if want := whole(1); !held.Eq(&want) {
			t.Fatalf("%s holds %s want %s", account, held.Dec(), want.Dec())
		}
	}
	held, _ := mem.BalanceOf(ctx, testCustody)
	if !held.IsZero() {
		t.Fatalf("custody holds %s want 0", held.Dec())
	}
	h.checkCustody(t)

	burned, _ = reconcile(t, h)
	if !burned.IsZero() {
		t.Fatalf("settled duel left %s to burn", burned.Dec())
	}
}

func TestDispatcherFlows(t *testing.T) {
	mem := tokens.NewMemory(testCustody)
	mem.Credit(testCustody, *uint256.NewInt(10))
	gate := &gatedLedger{Memory: mem, entered: make(chan struct{}, 2), open: make(chan struct{})}
	d := NewDispatcher(gate, 2, nil)
	t.Cleanup(d.Wait)
	t.Cleanup(gate.release)

	h := d.Issue([]Call{
		newCall(CallTransfer, nil, "alice", *uint256.NewInt(4), "withdrawal"),
		newCall(CallTransfer, nil, "bob", *uint256.NewInt(20), "withdrawal"),
	})
	<-gate.entered
	out, settled := d.Flows()
	if out.Uint64() != 24 || !settled.IsZero() {
		t.Fatalf("got outstanding=%s settled=%s want 24 and 0", out.Dec(), settled.Dec())
	}

	gate.release()
	<-h.Done()
	// bob's transfer exceeds custody and fails, so only alice's counts as settled.
	out, settled = d.Flows()
	if !out.IsZero() || settled.Uint64() != 4 {
		t.Fatalf("got outstanding=%s settled=%s want 0 and 4", out.Dec(), settled.Dec())
	}
}

type recorderFunc func(CallResult)

func (f recorderFunc) RecordCall(_ context.Context, res CallResult) error {
	f(res)
	return nil
}

func TestDispatcherRecordsEveryCall(t *testing.T) {
	ext := tokens.NewMemory(testCustody)
	ext.Credit(testCustody, *uint256.NewInt(10))
	d := NewDispatcher(ext, 2, nil)

	got := make(chan CallResult, 4)
	d.SetRecorder(recorderFunc(func(r CallResult) { got <- r }))

	id := uint64(3)
	h := d.Issue([]Call{
		newCall(CallTransfer, &id, "alice", *uint256.NewInt(4), "duel 3 payout"),
		newCall(CallBurn, &id, "", *uint256.NewInt(20), "duel 3 fee"),
	})
	<-h.Done()
	d.Wait()
	close(got)

	var kinds []CallKind
	var failures int
	for r := range got {
		kinds = append(kinds, r.Call.Kind)
		if r.Err != nil {
			failures++
		}
	}
	if len(kinds) != 2 || kinds[0] != CallTransfer || kinds[1] != CallBurn {
		t.Fatalf("got kinds %v want transfer then burn", kinds)
	}
	// Custody only holds 6 after the transfer, so the burn of 20 fails.
	if failures != 1 || !h.Failed() {
		t.Fatalf("got %d failures want 1", failures)
	}
}
