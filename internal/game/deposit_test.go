package game

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestOnTransferIntents(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.engine.OnTransfer(ctx, "alice", whole(1), `{"function":"create_duel","figure":"MarkTwain"}`)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if res.Action != "create_duel" || res.DuelID == nil || *res.DuelID != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if bal := h.engine.Balance("alice"); !bal.IsZero() {
		t.Fatalf("stake not locked: balance %s", bal.Dec())
	}

	// Ids may arrive as strings.
	msg := fmt.Sprintf(`{"function":"accept_duel","figure":"SunTzu","duel_id":"%d"}`, *res.DuelID)
	res, err = h.engine.OnTransfer(ctx, "bob", whole(1), msg)
	if err != nil {
		t.Fatalf("accept intent: %v", err)
	}
	if res.Action != "accept_duel" {
		t.Fatalf("got action %q want accept_duel", res.Action)
	}
	d, _ := h.engine.Duel(0)
	if d.State != StateActive || d.PlayerB != "bob" || d.FigureB != "SunTzu" {
		t.Fatalf("unexpected duel %+v", d)
	}
	h.checkCustody(t)
}

func TestOnTransferPlainCredit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for _, msg := range []string{"", "gift", `{"function":"launch_rocket"}`, `{"function":"accept_duel","figure":"SunTzu"}`} {
		res, err := h.engine.OnTransfer(ctx, "alice", whole(1), msg)
		if err != nil {
			t.Fatalf("msg %q: %v", msg, err)
		}
		if res.Action != "credit" || res.DuelID != nil {
			t.Fatalf("msg %q: unexpected result %+v", msg, res)
		}
	}
	bal := h.engine.Balance("alice")
	if want := whole(4); !bal.Eq(&want) {
		t.Fatalf("got balance %s want %s", bal.Dec(), want.Dec())
	}
}

func TestOnTransferRejectedIntentRollsBackCredit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tests := []struct {
		msg  string
		want error
	}{
		{msg: `{"function":"create_duel","figure":"Nobody"}`, want: ErrUnknownPersona},
		{msg: `{"function":"accept_duel","figure":"SunTzu","duel_id":7}`, want: ErrNotFound},
	}
	for _, tc := range tests {
		if _, err := h.engine.OnTransfer(ctx, "alice", whole(1), tc.msg); !errors.Is(err, tc.want) {
			t.Fatalf("msg %s: got %v want %v", tc.msg, err, tc.want)
		}
	}

	small := whole(1)
	small.Rsh(&small, 1)
	if _, err := h.engine.OnTransfer(ctx, "alice", small, `{"function":"create_duel","figure":"MarkTwain"}`); !errors.Is(err, ErrBelowMinimumStake) {
		t.Fatalf("got %v want ErrBelowMinimumStake", err)
	}

	if bal := h.engine.Balance("alice"); !bal.IsZero() {
		t.Fatalf("rejected deposits left balance %s", bal.Dec())
	}
	if r := h.engine.Custody(); r.Believed != "0" {
		t.Fatalf("rejected deposits left custody %s", r.Believed)
	}
}
