package game

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"duels/internal/tokens"

	"github.com/holiman/uint256"
)

// RandomSource supplies one entropy byte per turn.
type RandomSource interface {
	RandomByte() (byte, error)
}

// CryptoRandom reads from crypto/rand.
type CryptoRandom struct{}

func (CryptoRandom) RandomByte() (byte, error) {
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random byte: %w", err)
	}
	return b[0], nil
}

type Options struct {
	// Admin may annotate turns and trigger reconciliation.
	Admin string
	// Custody is the account the token service holds our funds under.
	Custody string
	// TrackSettlements makes terminal operations return a handle over the
	// issued token calls.
	TrackSettlements bool
	DispatchWorkers  int
	Now              func() time.Time
	Random           RandomSource
	Store            Store
	Logger           *slog.Logger
}

// Engine owns the ledger and registry. Every request holds mu for its whole
// duration, so requests never interleave.
type Engine struct {
	mu       sync.Mutex
	opts     Options
	ledger   *Ledger
	duels    *Registry
	settle   *Settlement
	dispatch *Dispatcher
	store    Store
	receipts map[string]Receipt
	log      *slog.Logger
	now      func() time.Time
	random   RandomSource
}

func NewEngine(ext tokens.Ledger, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		opts:     opts,
		ledger:   NewLedger(),
		duels:    NewRegistry(),
		store:    opts.Store,
		receipts: make(map[string]Receipt),
		log:      logger,
		now:      opts.Now,
		random:   opts.Random,
	}
	if e.store == nil {
		e.store = nopStore{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.random == nil {
		e.random = CryptoRandom{}
	}
	e.dispatch = NewDispatcher(ext, opts.DispatchWorkers, logger)
	if rec, ok := e.store.(CallRecorder); ok {
		e.dispatch.SetRecorder(rec)
	}
	e.settle = &Settlement{ledger: e.ledger, dispatch: e.dispatch, custody: opts.Custody}
	return e
}

// Restore replaces in-memory state with the store's snapshot.
func (e *Engine) Restore(ctx context.Context) error {
	snap, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger = NewLedger()
	for account, amount := range snap.Balances {
		e.ledger.balances[account] = amount
	}
	e.ledger.custody = snap.Custody
	e.duels = NewRegistry()
	for _, d := range snap.Duels {
		e.duels.duels[d.ID] = d.clone()
	}
	e.duels.nextID = snap.NextID
	e.receipts = make(map[string]Receipt, len(snap.Receipts))
	for _, r := range snap.Receipts {
		e.receipts[r.Key] = r
	}
	e.settle.ledger = e.ledger
	e.log.Info("engine restored", "duels", e.duels.Len(), "next_id", snap.NextID,
		"custody", snap.Custody.Dec(), "receipts", len(e.receipts))
	return nil
}

// Close waits for in-flight token calls.
func (e *Engine) Close() {
	e.dispatch.Wait()
}

func (e *Engine) handle(h *SettlementHandle) *SettlementHandle {
	if e.opts.TrackSettlements {
		return h
	}
	return nil
}

// run executes fn as one serialized, atomically committed request. A
// RequestClaim carried by ctx is claimed in the same commit.
func (e *Engine) run(ctx context.Context, fn func(tx *txn) error) (*SettlementHandle, error) {
	return e.exec(ctx, claimFrom(ctx), fn)
}

func (e *Engine) exec(ctx context.Context, claim *RequestClaim, fn func(tx *txn) error) (*SettlementHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx := e.begin()
	if claim != nil {
		if err := tx.claim(claim.Key); err != nil {
			tx.rollback()
			return nil, err
		}
	}
	if err := fn(tx); err != nil {
		tx.rollback()
		return nil, err
	}
	h, err := tx.commit(ctx)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	if claim != nil {
		claim.committed = true
	}
	return h, nil
}

func (e *Engine) CreateDuel(ctx context.Context, caller string, persona Persona, stake uint256.Int) (uint64, error) {
	var id uint64
	_, err := e.run(ctx, func(tx *txn) error {
		var err error
		id, err = e.createDuel(tx, caller, persona, stake)
		return err
	})
	return id, err
}

func (e *Engine) createDuel(tx *txn, caller string, persona Persona, stake uint256.Int) (uint64, error) {
	caller, err := normalizeAccount(caller)
	if err != nil {
		return 0, err
	}
	if _, ok := LookupPersona(persona); !ok {
		return 0, ErrUnknownPersona
	}
	if stake.Lt(MinStake) {
		return 0, ErrBelowMinimumStake
	}
	tx.touchAccount(caller)
	if err := e.ledger.LockStake(caller, stake); err != nil {
		return 0, err
	}
	tx.touchDuel(e.duels.NextID())
	id := e.duels.Create(&Duel{
		CreatedAt: e.now(),
		Stake:     stake,
		PlayerA:   caller,
		PersonaA:  persona,
	})
	e.log.Info("duel created", "duel_id", id, "player", caller, "persona", string(persona), "stake", stake.Dec())
	return id, nil
}

func (e *Engine) AcceptDuel(ctx context.Context, caller string, id uint64, persona Persona) error {
	_, err := e.run(ctx, func(tx *txn) error {
		return e.acceptDuel(tx, caller, id, persona)
	})
	return err
}

func (e *Engine) acceptDuel(tx *txn, caller string, id uint64, persona Persona) error {
	caller, err := normalizeAccount(caller)
	if err != nil {
		return err
	}
	if _, ok := LookupPersona(persona); !ok {
		return ErrUnknownPersona
	}
	tx.touchDuel(id)
	tx.touchAccount(caller)
	return e.duels.Mutate(id, func(d *Duel) error {
		if d.PlayerB != "" {
			return ErrAlreadyAccepted
		}
		if caller == d.PlayerA {
			return ErrSelfParticipation
		}
		if persona == d.PersonaA {
			return ErrDuplicatePersona
		}
		if err := e.ledger.LockStake(caller, d.Stake); err != nil {
			return err
		}
		d.StartedAt = e.now()
		d.PlayerB = caller
		d.PersonaB = persona
		e.log.Info("duel accepted", "duel_id", id, "player", caller, "persona", string(persona))
		return nil
	})
}

// TurnResult is returned by TakeTurn. Settlement is set only on the final
// turn and only when settlement tracking is enabled.
type TurnResult struct {
	Turn       int
	Damage     uint8
	Winner     Winner
	Settlement *SettlementHandle
}

func (e *Engine) TakeTurn(ctx context.Context, caller string, id uint64, class AttackClass) (TurnResult, error) {
	var out TurnResult
	h, err := e.run(ctx, func(tx *txn) error {
		var err error
		out, err = e.takeTurn(tx, caller, id, class)
		return err
	})
	if err != nil {
		return TurnResult{}, err
	}
	out.Settlement = e.handle(h)
	return out, nil
}

func (e *Engine) takeTurn(tx *txn, caller string, id uint64, class AttackClass) (TurnResult, error) {
	var out TurnResult
	if !class.Valid() {
		return out, ErrUnknownAttackClass
	}
	tx.touchDuel(id)
	err := e.duels.Mutate(id, func(d *Duel) error {
		if d.PlayerB == "" || d.Winner != WinnerNone || len(d.Turns) >= MaxTurns {
			return ErrDuelComplete
		}
		if caller != d.PlayerToMove() {
			return ErrNotYourTurn
		}
		roll, err := e.random.RandomByte()
		if err != nil {
			return err
		}
		var prev *AttackClass
		if n := len(d.Turns); n > 0 {
			prev = &d.Turns[n-1].Class
		}
		_, persona := d.attacker(len(d.Turns))
		profile, ok := LookupPersona(persona)
		if !ok {
			return ErrUnknownPersona
		}
		damage := Resolve(profile.Attributes, class, prev, roll)
		d.Turns = append(d.Turns, Turn{CreatedAt: e.now(), Damage: damage, Class: class})
		out.Turn = len(d.Turns) - 1
		out.Damage = damage

		if len(d.Turns) == MaxTurns {
			e.finish(tx, d)
			out.Winner = d.Winner
		}
		return nil
	})
	return out, err
}

// finish sets the winner and queues settlement for a duel on its final turn.
func (e *Engine) finish(tx *txn, d *Duel) {
	a, b := d.Damage()
	switch {
	case a > b:
		d.Winner = WinnerPlayerA
	case b > a:
		d.Winner = WinnerPlayerB
	default:
		d.Winner = WinnerDraw
	}

	if d.Winner == WinnerDraw {
		e.settle.Split(tx, d.ID, d.PlayerA, d.Stake, d.PlayerB, d.Stake)
		e.log.Info("duel settled", "duel_id", d.ID, "result", "draw", "damage_a", a, "damage_b", b)
		return
	}
	winner := d.PlayerA
	if d.Winner == WinnerPlayerB {
		winner = d.PlayerB
	}
	payout, fee := PotSplit(d.Stake)
	e.settle.Fee(tx, d.ID, fee)
	e.settle.Payout(tx, d.ID, winner, payout)
	e.log.Info("duel settled", "duel_id", d.ID, "result", d.Winner.String(), "winner", winner,
		"payout", payout.Dec(), "fee", fee.Dec(), "damage_a", a, "damage_b", b)
}

// CancelDuel removes a stalled duel and refunds the stakes.
func (e *Engine) CancelDuel(ctx context.Context, caller string, id uint64) (*SettlementHandle, error) {
	h, err := e.run(ctx, func(tx *txn) error {
		return e.cancelDuel(tx, caller, id)
	})
	if err != nil {
		return nil, err
	}
	return e.handle(h), nil
}

func (e *Engine) cancelDuel(tx *txn, caller string, id uint64) error {
	d := e.duels.peek(id)
	if d == nil {
		return ErrNotFound
	}
	now := e.now()
	switch d.State() {
	case StatePending:
		if caller != d.PlayerA {
			return ErrNotParticipant
		}
		if now.Sub(d.CreatedAt) < PendingCancelAfter {
			return ErrTooEarly
		}
		tx.touchDuel(id)
		e.settle.Refund(tx, id, d.PlayerA, d.Stake)
	case StateActive:
		if caller != d.Waiting() {
			return ErrNotOpponent
		}
		if now.Sub(d.LastActivity()) < ActiveCancelAfter {
			return ErrTooEarly
		}
		tx.touchDuel(id)
		e.settle.Split(tx, id, d.PlayerToMove(), d.Stake, d.Waiting(), d.Stake)
	default:
		return ErrDuelComplete
	}
	e.duels.Remove(id)
	e.log.Info("duel canceled", "duel_id", id, "caller", caller)
	return nil
}

// Withdraw debits the caller's free balance and transfers it out.
func (e *Engine) Withdraw(ctx context.Context, caller string, amount uint256.Int) (*SettlementHandle, error) {
	caller, err := normalizeAccount(caller)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	h, err := e.run(ctx, func(tx *txn) error {
		tx.touchAccount(caller)
		if err := e.ledger.Withdraw(caller, amount); err != nil {
			return err
		}
		e.settle.Withdrawal(tx, caller, amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("withdrawal", "account", caller, "amount", amount.Dec())
	return e.handle(h), nil
}

// ReconcileExcess burns whatever the token service holds above believed
// custody. It always returns a handle since the caller is an operator.
func (e *Engine) ReconcileExcess(ctx context.Context) *SettlementHandle {
	return e.settle.reconcile(func(fn func()) {
		e.mu.Lock()
		defer e.mu.Unlock()
		fn()
	})
}

// SetAnnotation attaches an external reference to a turn, once.
func (e *Engine) SetAnnotation(ctx context.Context, caller string, id uint64, turn int, ref string) error {
	if caller != e.opts.Admin || e.opts.Admin == "" {
		return ErrNotAdmin
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ErrInvalidAnnotation
	}
	_, err := e.run(ctx, func(tx *txn) error {
		tx.touchDuel(id)
		return e.duels.Mutate(id, func(d *Duel) error {
			if turn < 0 || turn >= len(d.Turns) {
				return ErrTurnNotTaken
			}
			if d.Turns[turn].Annotation != "" {
				return ErrAlreadyAnnotated
			}
			d.Turns[turn].Annotation = ref
			return nil
		})
	})
	return err
}

func (e *Engine) Admin() string {
	return e.opts.Admin
}
