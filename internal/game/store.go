package game

import (
	"context"

	"github.com/holiman/uint256"
)

// Snapshot is the full engine state as persisted.
type Snapshot struct {
	Balances map[string]uint256.Int
	Duels    []*Duel
	NextID   uint64
	Custody  uint256.Int
	Receipts []Receipt
}

// Changes is what one request wrote. Stores apply it atomically.
type Changes struct {
	Balances  map[string]uint256.Int
	Duels     []*Duel
	Removed   []uint64
	NextID    uint64
	Custody   uint256.Int
	Calls     []Call
	Receipts  []Receipt
	Forgotten []string
}

type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Apply(ctx context.Context, ch Changes) error
}

type nopStore struct{}

func (nopStore) Load(context.Context) (Snapshot, error) { return Snapshot{}, nil }
func (nopStore) Apply(context.Context, Changes) error   { return nil }

type accountPrior struct {
	amount  uint256.Int
	present bool
}

type receiptPrior struct {
	receipt Receipt
	present bool
}

// txn stages one request against the in-memory state. Touch before you
// write; rollback restores every touched record.
type txn struct {
	e        *Engine
	accounts map[string]accountPrior
	duels    map[uint64]*Duel
	receipts map[string]receiptPrior
	custody  uint256.Int
	nextID   uint64
	calls    []Call
}

func (e *Engine) begin() *txn {
	return &txn{
		e:        e,
		accounts: make(map[string]accountPrior),
		duels:    make(map[uint64]*Duel),
		receipts: make(map[string]receiptPrior),
		custody:  e.ledger.Custody(),
		nextID:   e.duels.NextID(),
	}
}

func (tx *txn) touchAccount(account string) {
	if _, ok := tx.accounts[account]; ok {
		return
	}
	amount, present := tx.e.ledger.lookup(account)
	tx.accounts[account] = accountPrior{amount: amount, present: present}
}

func (tx *txn) touchDuel(id uint64) {
	if _, ok := tx.duels[id]; ok {
		return
	}
	if d := tx.e.duels.peek(id); d != nil {
		tx.duels[id] = d.clone()
		return
	}
	tx.duels[id] = nil
}

func (tx *txn) touchReceipt(key string) {
	if _, ok := tx.receipts[key]; ok {
		return
	}
	r, present := tx.e.receipts[key]
	tx.receipts[key] = receiptPrior{receipt: r, present: present}
}

func (tx *txn) queue(c Call) {
	tx.calls = append(tx.calls, c)
}

func (tx *txn) rollback() {
	for account, p := range tx.accounts {
		tx.e.ledger.set(account, p.amount, p.present)
	}
	for id, d := range tx.duels {
		tx.e.duels.put(id, d)
	}
	for key, p := range tx.receipts {
		if p.present {
			tx.e.receipts[key] = p.receipt
		} else {
			delete(tx.e.receipts, key)
		}
	}
	tx.e.ledger.custody = tx.custody
	tx.e.duels.nextID = tx.nextID
	tx.calls = nil
}

func (tx *txn) changes() Changes {
	ch := Changes{
		Balances: make(map[string]uint256.Int, len(tx.accounts)),
		NextID:   tx.e.duels.NextID(),
		Custody:  tx.e.ledger.Custody(),
		Calls:    tx.calls,
	}
	for account := range tx.accounts {
		ch.Balances[account] = tx.e.ledger.Balance(account)
	}
	for id := range tx.duels {
		if d := tx.e.duels.peek(id); d != nil {
			ch.Duels = append(ch.Duels, d.clone())
		} else {
			ch.Removed = append(ch.Removed, id)
		}
	}
	for key := range tx.receipts {
		if r, ok := tx.e.receipts[key]; ok {
			ch.Receipts = append(ch.Receipts, r)
		} else {
			ch.Forgotten = append(ch.Forgotten, key)
		}
	}
	return ch
}

// commit persists the staged writes and, only then, hands the queued calls
// to the dispatcher. A store failure restores the in-memory state.
func (tx *txn) commit(ctx context.Context) (*SettlementHandle, error) {
	if err := tx.e.store.Apply(ctx, tx.changes()); err != nil {
		tx.rollback()
		return nil, err
	}
	if len(tx.calls) == 0 {
		return nil, nil
	}
	return tx.e.dispatch.Issue(tx.calls), nil
}
