package tokens

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

// Memory is a deterministic in-process Ledger. It can be told to fail
// transfers or burns to exercise reconciliation under partial failure.
type Memory struct {
	mu            sync.Mutex
	custody       string
	balances      map[string]uint256.Int
	burned        uint256.Int
	failTransfers int
	failBurns     int
	transfers     []Movement
	burns         []uint256.Int
}

// Movement records one successful transfer.
type Movement struct {
	Recipient string
	Amount    uint256.Int
	Memo      string
}

func NewMemory(custodyAccount string) *Memory {
	return &Memory{
		custody:  custodyAccount,
		balances: make(map[string]uint256.Int),
	}
}

// Credit adds funds to an account outside of any engine call, e.g. the
// custody leg of a user deposit or a direct transfer nobody announced.
func (m *Memory) Credit(account string, amount uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.balances[account]
	b.Add(&b, &amount)
	m.balances[account] = b
}

// FailTransfers makes the next n transfers fail without moving funds.
func (m *Memory) FailTransfers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTransfers = n
}

// FailBurns makes the next n burns fail.
func (m *Memory) FailBurns(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failBurns = n
}

func (m *Memory) Transfer(_ context.Context, recipient string, amount uint256.Int, memo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTransfers > 0 {
		m.failTransfers--
		return fmt.Errorf("%w: injected failure", ErrTransferFailed)
	}
	src := m.balances[m.custody]
	if src.Lt(&amount) {
		return fmt.Errorf("%w: custody balance %s below %s", ErrTransferFailed, src.Dec(), amount.Dec())
	}
	src.Sub(&src, &amount)
	m.balances[m.custody] = src
	dst := m.balances[recipient]
	dst.Add(&dst, &amount)
	m.balances[recipient] = dst
	m.transfers = append(m.transfers, Movement{Recipient: recipient, Amount: amount, Memo: memo})
	return nil
}

func (m *Memory) BalanceOf(_ context.Context, account string) (uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}

func (m *Memory) Burn(_ context.Context, amount uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBurns > 0 {
		m.failBurns--
		return fmt.Errorf("%w: injected failure", ErrBurnFailed)
	}
	src := m.balances[m.custody]
	if src.Lt(&amount) {
		return fmt.Errorf("%w: custody balance %s below %s", ErrBurnFailed, src.Dec(), amount.Dec())
	}
	src.Sub(&src, &amount)
	m.balances[m.custody] = src
	m.burned.Add(&m.burned, &amount)
	m.burns = append(m.burns, amount)
	return nil
}

// Transfers returns a copy of every successful transfer, in order.
func (m *Memory) Transfers() []Movement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Movement(nil), m.transfers...)
}

// Burns returns every successful burn amount, in order.
func (m *Memory) Burns() []uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint256.Int(nil), m.burns...)
}

func (m *Memory) Burned() uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.burned
}
