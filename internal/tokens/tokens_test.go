package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/holiman/uint256"
)

func TestMemoryTransferAndBurn(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("custody")
	m.Credit("custody", *uint256.NewInt(100))

	if err := m.Transfer(ctx, "alice", *uint256.NewInt(30), "payout"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := m.Burn(ctx, *uint256.NewInt(20)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if err := m.Transfer(ctx, "bob", *uint256.NewInt(60), ""); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("overdraw: got %v want ErrTransferFailed", err)
	}

	held, _ := m.BalanceOf(ctx, "custody")
	alice, _ := m.BalanceOf(ctx, "alice")
	burned := m.Burned()
	if held.Uint64() != 50 || alice.Uint64() != 30 || burned.Uint64() != 20 {
		t.Fatalf("got custody=%s alice=%s burned=%s", held.Dec(), alice.Dec(), burned.Dec())
	}
	if moves := m.Transfers(); len(moves) != 1 || moves[0].Memo != "payout" {
		t.Fatalf("unexpected transfers %+v", moves)
	}
}

func TestMemoryInjectedFailures(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("custody")
	m.Credit("custody", *uint256.NewInt(10))
	m.FailTransfers(1)
	m.FailBurns(1)

	if err := m.Transfer(ctx, "alice", *uint256.NewInt(1), ""); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("got %v want ErrTransferFailed", err)
	}
	if err := m.Burn(ctx, *uint256.NewInt(1)); !errors.Is(err, ErrBurnFailed) {
		t.Fatalf("got %v want ErrBurnFailed", err)
	}
	if held, _ := m.BalanceOf(ctx, "custody"); held.Uint64() != 10 {
		t.Fatalf("failed calls moved funds: custody %s", held.Dec())
	}
	if err := m.Transfer(ctx, "alice", *uint256.NewInt(1), ""); err != nil {
		t.Fatalf("second transfer: %v", err)
	}
}

func TestClient(t *testing.T) {
	var got []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Service-Token") != "svc" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/ft/balances/duels.near":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"balance":"1000000000000000000000000"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/ft/transfer", r.Method == http.MethodPost && r.URL.Path == "/v1/ft/burn":
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if body["amount"] == "0" {
				http.Error(w, "zero amount", http.StatusUnprocessableEntity)
				return
			}
			got = append(got, body)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL+"/", "duels.near", "svc")

	held, err := c.BalanceOf(ctx, "duels.near")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if held.Dec() != "1000000000000000000000000" {
		t.Fatalf("got balance %s", held.Dec())
	}
	if err := c.Transfer(ctx, "alice", *uint256.NewInt(7), "duel 1 payout"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := c.Burn(ctx, *uint256.NewInt(3)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if err := c.Burn(ctx, uint256.Int{}); !errors.Is(err, ErrBurnFailed) {
		t.Fatalf("got %v want ErrBurnFailed", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d posted bodies want 2", len(got))
	}
	if got[0]["sender_id"] != "duels.near" || got[0]["receiver_id"] != "alice" || got[0]["amount"] != "7" || got[0]["memo"] != "duel 1 payout" {
		t.Fatalf("unexpected transfer body %v", got[0])
	}
	if got[1]["account_id"] != "duels.near" || got[1]["amount"] != "3" {
		t.Fatalf("unexpected burn body %v", got[1])
	}

	bad := NewClient(srv.URL, "duels.near", "wrong")
	if err := bad.Transfer(ctx, "alice", *uint256.NewInt(1), ""); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("got %v want ErrTransferFailed", err)
	}
	if _, err := bad.BalanceOf(ctx, "duels.near"); err == nil {
		t.Fatalf("expected balance error with wrong token")
	}
}
