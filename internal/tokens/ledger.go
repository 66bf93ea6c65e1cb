// Package tokens talks to the external fungible-token service that holds
// custody of staked value on behalf of the duel engine.
package tokens

import (
	"context"
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrTransferFailed = errors.New("token transfer failed")
	ErrBurnFailed     = errors.New("token burn failed")
)

// Ledger is the three-call contract the engine depends on.
type Ledger interface {
	Transfer(ctx context.Context, recipient string, amount uint256.Int, memo string) error
	BalanceOf(ctx context.Context, account string) (uint256.Int, error)
	Burn(ctx context.Context, amount uint256.Int) error
}
