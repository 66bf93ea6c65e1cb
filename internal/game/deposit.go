package game

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// DepositIntent is the optional instruction carried by an incoming transfer.
type DepositIntent struct {
	Function string  `json:"function"`
	Figure   Persona `json:"figure"`
	DuelID   duelRef `json:"duel_id"`
}

const (
	intentCreateDuel = "create_duel"
	intentAcceptDuel = "accept_duel"
)

// duelRef accepts a duel id encoded either as a JSON string or number.
type duelRef struct {
	ID    uint64
	Valid bool
}

func (r *duelRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	r.ID, r.Valid = id, true
	return nil
}

// DepositResult tells the token service what happened to a transfer.
type DepositResult struct {
	Action string  `json:"action"`
	DuelID *uint64 `json:"duel_id,omitempty"`
}

// OnTransfer credits sender with amount and, when msg carries a recognised
// intent, creates or accepts a duel using the amount as the stake. Credit and
// intent commit together; if the intent is rejected neither is applied and
// the error is returned so the token service can refund the transfer.
func (e *Engine) OnTransfer(ctx context.Context, sender string, amount uint256.Int, msg string) (DepositResult, error) {
	sender, err := normalizeAccount(sender)
	if err != nil {
		return DepositResult{}, err
	}
	if amount.IsZero() {
		return DepositResult{}, ErrInvalidAmount
	}
	intent, ok := decodeIntent(msg)

	out := DepositResult{Action: "credit"}
	_, err = e.run(ctx, func(tx *txn) error {
		tx.touchAccount(sender)
		e.ledger.Deposit(sender, amount)
		if !ok {
			return nil
		}
		switch intent.Function {
		case intentCreateDuel:
			id, err := e.createDuel(tx, sender, intent.Figure, amount)
			if err != nil {
				return err
			}
			out = DepositResult{Action: intentCreateDuel, DuelID: &id}
		case intentAcceptDuel:
			id := intent.DuelID.ID
			if err := e.acceptDuel(tx, sender, id, intent.Figure); err != nil {
				return err
			}
			out = DepositResult{Action: intentAcceptDuel, DuelID: &id}
		}
		return nil
	})
	if err != nil {
		return DepositResult{}, err
	}
	e.log.Info("deposit", "account", sender, "amount", amount.Dec(), "action", out.Action)
	return out, nil
}

// decodeIntent reports false for an absent or unrecognised message.
func decodeIntent(msg string) (DepositIntent, bool) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return DepositIntent{}, false
	}
	var in DepositIntent
	if err := json.Unmarshal([]byte(msg), &in); err != nil {
		return DepositIntent{}, false
	}
	switch in.Function {
	case intentCreateDuel:
		return in, true
	case intentAcceptDuel:
		return in, in.DuelID.Valid
	default:
		return DepositIntent{}, false
	}
}
