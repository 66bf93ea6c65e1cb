package game

import (
	"iter"

	"github.com/holiman/uint256"
)

// Ledger tracks custodial balances that are not locked in a duel, and the
// total custody the system believes the token service holds for it.
type Ledger struct {
	balances map[string]uint256.Int
	custody  uint256.Int
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]uint256.Int)}
}

func (l *Ledger) Balance(account string) uint256.Int {
	return l.balances[account]
}

// Custody is the believed total held by the token service on our behalf.
func (l *Ledger) Custody() uint256.Int {
	return l.custody
}

// Deposit credits an account after the token service reported an incoming transfer.
func (l *Ledger) Deposit(account string, amount uint256.Int) {
	b := l.balances[account]
	b.Add(&b, &amount)
	l.balances[account] = b
	l.custody.Add(&l.custody, &amount)
}

// LockStake moves amount out of the account balance into a duel. Custody is
// unchanged: the stake is still held, just no longer attributed to a balance.
func (l *Ledger) LockStake(account string, amount uint256.Int) error {
	return l.debit(account, amount)
}

// Withdraw debits the balance and releases the amount from custody. The
// caller issues the matching external transfer.
func (l *Ledger) Withdraw(account string, amount uint256.Int) error {
	if err := l.debit(account, amount); err != nil {
		return err
	}
	l.ReleaseToExternal(amount)
	return nil
}

// ReleaseToExternal shrinks believed custody for value leaving through an
// external transfer or burn that was not backed by a balance debit.
func (l *Ledger) ReleaseToExternal(amount uint256.Int) {
	if l.custody.Lt(&amount) {
		l.custody.Clear()
		return
	}
	l.custody.Sub(&l.custody, &amount)
}

// All yields every tracked account balance.
func (l *Ledger) All() iter.Seq2[string, uint256.Int] {
	return func(yield func(string, uint256.Int) bool) {
		for k, v := range l.balances {
			if !yield(k, v) {
				return
			}
		}
	}
}

// Total sums all tracked balances.
func (l *Ledger) Total() uint256.Int {
	var sum uint256.Int
	for _, v := range l.balances {
		sum.Add(&sum, &v)
	}
	return sum
}

func (l *Ledger) debit(account string, amount uint256.Int) error {
	b := l.balances[account]
	if b.Lt(&amount) {
		return ErrInsufficientBalance
	}
	b.Sub(&b, &amount)
	l.balances[account] = b
	return nil
}

func (l *Ledger) set(account string, amount uint256.Int, present bool) {
	if !present {
		delete(l.balances, account)
		return
	}
	l.balances[account] = amount
}

func (l *Ledger) lookup(account string) (uint256.Int, bool) {
	b, ok := l.balances[account]
	return b, ok
}
