package game

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"duels/internal/tokens"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type CallKind string

const (
	CallTransfer CallKind = "transfer"
	CallBurn     CallKind = "burn"
	CallBalance  CallKind = "balance"
)

// Call is one request to the token service, issued after local state committed.
type Call struct {
	ID        string
	Kind      CallKind
	DuelID    *uint64
	Recipient string
	Amount    uint256.Int
	Memo      string
}

type CallResult struct {
	Call        Call
	Err         error
	CompletedAt time.Time
}

// CallRecorder receives the outcome of every dispatched call for auditing.
type CallRecorder interface {
	RecordCall(ctx context.Context, res CallResult) error
}

// SettlementHandle observes the external calls issued by one request. The
// request itself never waits on it.
type SettlementHandle struct {
	Calls []Call

	done    chan struct{}
	mu      sync.Mutex
	results []CallResult
	burned  uint256.Int
}

func newHandle(calls []Call) *SettlementHandle {
	return &SettlementHandle{Calls: calls, done: make(chan struct{})}
}

// Done is closed once every call has completed or failed.
func (h *SettlementHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the calls finish or ctx ends.
func (h *SettlementHandle) Wait(ctx context.Context) ([]CallResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]CallResult(nil), h.results...), nil
}

// Burned is the surplus destroyed by a reconciliation, valid after Done.
func (h *SettlementHandle) Burned() uint256.Int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.burned
}

// Failed reports whether any call failed, valid after Done.
func (h *SettlementHandle) Failed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

func (h *SettlementHandle) record(res CallResult) {
	h.mu.Lock()
	h.results = append(h.results, res)
	h.mu.Unlock()
}

// Dispatcher runs external calls off the request path. Failures are logged
// and recorded, never retried.
type Dispatcher struct {
	ledger   tokens.Ledger
	recorder CallRecorder
	log      *slog.Logger
	now      func() time.Time
	timeout  time.Duration
	sem      chan struct{}
	wg       sync.WaitGroup

	// outstanding is the amount issued but not yet moved out of custody.
	// settled only grows, by each amount that did leave.
	mu          sync.Mutex
	outstanding uint256.Int
	settled     uint256.Int
}

func NewDispatcher(ledger tokens.Ledger, workers int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{
		ledger:  ledger,
		log:     logger,
		now:     time.Now,
		timeout: 30 * time.Second,
		sem:     make(chan struct{}, workers),
	}
}

// SetRecorder attaches an audit sink for call outcomes.
func (d *Dispatcher) SetRecorder(r CallRecorder) {
	d.recorder = r
}

// Wait blocks until every dispatched call has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Issue runs calls in order on a background goroutine. The amounts count as
// outstanding from the moment Issue returns.
func (d *Dispatcher) Issue(calls []Call) *SettlementHandle {
	h := newHandle(calls)
	d.reserve(calls)
	d.spawn(h, func(ctx context.Context) {
		for _, c := range calls {
			d.execute(ctx, h, c)
		}
	})
	return h
}

func movesFunds(c Call) bool {
	return c.Kind == CallTransfer || c.Kind == CallBurn
}

func (d *Dispatcher) reserve(calls []Call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range calls {
		if movesFunds(c) {
			d.outstanding.Add(&d.outstanding, &c.Amount)
		}
	}
}

func (d *Dispatcher) release(c Call, moved bool) {
	if !movesFunds(c) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outstanding.Sub(&d.outstanding, &c.Amount)
	if moved {
		d.settled.Add(&d.settled, &c.Amount)
	}
}

// Flows reports the amount still in flight and the running total that has
// left custody through this dispatcher.
func (d *Dispatcher) Flows() (outstanding, settled uint256.Int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outstanding, d.settled
}

func (d *Dispatcher) spawn(h *SettlementHandle, fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(h.done)
		d.sem <- struct{}{}
		defer func() { <-d.sem }()
		fn(context.Background())
	}()
}

func (d *Dispatcher) execute(ctx context.Context, h *SettlementHandle, c Call) error {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var err error
	switch c.Kind {
	case CallTransfer:
		err = d.ledger.Transfer(callCtx, c.Recipient, c.Amount, c.Memo)
	case CallBurn:
		err = d.ledger.Burn(callCtx, c.Amount)
	default:
		err = fmt.Errorf("unsupported call kind %q", c.Kind)
	}
	d.release(c, err == nil)
	d.finish(ctx, h, CallResult{Call: c, Err: err, CompletedAt: d.now()})
	return err
}

func (d *Dispatcher) finish(ctx context.Context, h *SettlementHandle, res CallResult) {
	c := res.Call
	if res.Err != nil {
		d.log.Error("token call failed",
			"call", string(c.Kind), "call_id", c.ID, "recipient", c.Recipient,
			"amount", c.Amount.Dec(), "err", res.Err)
	} else {
		d.log.Info("token call completed",
			"call", string(c.Kind), "call_id", c.ID, "recipient", c.Recipient, "amount", c.Amount.Dec())
	}
	h.record(res)
	if d.recorder != nil {
		if err := d.recorder.RecordCall(ctx, res); err != nil {
			d.log.Error("record token call", "call_id", c.ID, "err", err)
		}
	}
}

// Settlement turns terminal outcomes into token service calls and keeps
// believed custody in step with what leaves it.
type Settlement struct {
	ledger   *Ledger
	dispatch *Dispatcher
	custody  string
}

func newCall(kind CallKind, duelID *uint64, recipient string, amount uint256.Int, memo string) Call {
	return Call{ID: uuid.NewString(), Kind: kind, DuelID: duelID, Recipient: recipient, Amount: amount, Memo: memo}
}

// Payout releases amount from custody and queues a transfer to the winner.
func (s *Settlement) Payout(tx *txn, duelID uint64, winner string, amount uint256.Int) {
	s.ledger.ReleaseToExternal(amount)
	tx.queue(newCall(CallTransfer, &duelID, winner, amount, fmt.Sprintf("duel %d payout", duelID)))
}

// Split returns each side its amount; used for draws and cancellations.
func (s *Settlement) Split(tx *txn, duelID uint64, a string, amountA uint256.Int, b string, amountB uint256.Int) {
	s.ledger.ReleaseToExternal(amountA)
	s.ledger.ReleaseToExternal(amountB)
	tx.queue(newCall(CallTransfer, &duelID, a, amountA, fmt.Sprintf("duel %d refund", duelID)))
	tx.queue(newCall(CallTransfer, &duelID, b, amountB, fmt.Sprintf("duel %d refund", duelID)))
}

// Refund returns a single stake, e.g. an unaccepted duel.
func (s *Settlement) Refund(tx *txn, duelID uint64, account string, amount uint256.Int) {
	s.ledger.ReleaseToExternal(amount)
	tx.queue(newCall(CallTransfer, &duelID, account, amount, fmt.Sprintf("duel %d refund", duelID)))
}

// Fee burns the protocol fee, which also leaves custody.
func (s *Settlement) Fee(tx *txn, duelID uint64, amount uint256.Int) {
	if amount.IsZero() {
		return
	}
	s.ledger.ReleaseToExternal(amount)
	tx.queue(newCall(CallBurn, &duelID, "", amount, fmt.Sprintf("duel %d fee", duelID)))
}

// Withdrawal queues the transfer matching a Ledger.Withdraw.
func (s *Settlement) Withdrawal(tx *txn, account string, amount uint256.Int) {
	tx.queue(newCall(CallTransfer, nil, account, amount, "withdrawal"))
}

// reconcile queries the service balance of the custody account and, in a
// continuation scheduled after the query resolves, burns anything above
// believed custody. locked runs its argument under the engine lock.
//
// Calls still in flight when the query answered are part of what the service
// holds, so they count toward the expected balance. So does anything that
// left custody after the query started, since the ledger has already
// released it.
func (s *Settlement) reconcile(locked func(fn func())) *SettlementHandle {
	d := s.dispatch
	h := newHandle(nil)
	d.spawn(h, func(ctx context.Context) {
		_, before := d.Flows()
		query := newCall(CallBalance, nil, s.custody, uint256.Int{}, "reconcile")
		qctx, cancel := context.WithTimeout(ctx, d.timeout)
		held, err := d.ledger.BalanceOf(qctx, s.custody)
		cancel()
		query.Amount = held
		d.finish(ctx, h, CallResult{Call: query, Err: err, CompletedAt: d.now()})
		if err != nil {
			return
		}

		var surplus uint256.Int
		var burn Call
		locked(func() {
			want := s.ledger.Custody()
			outstanding, settled := d.Flows()
			var since uint256.Int
			since.Sub(&settled, &before)
			want.Add(&want, &outstanding)
			want.Add(&want, &since)
			if !held.Gt(&want) {
				return
			}
			surplus.Sub(&held, &want)
			burn = newCall(CallBurn, nil, "", surplus, "excess")
			// Reserved before the lock drops so a concurrent reconcile
			// cannot claim the same surplus.
			d.reserve([]Call{burn})
		})
		if surplus.IsZero() {
			return
		}
		h.mu.Lock()
		h.Calls = append(h.Calls, burn)
		h.mu.Unlock()
		if err := d.execute(ctx, h, burn); err == nil {
			h.mu.Lock()
			h.burned = surplus
			h.mu.Unlock()
		}
	})
	return h
}
