package cli_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"duels/internal/api"
	"duels/internal/auth"
	cl "duels/internal/cli"
	"duels/internal/config"
	"duels/internal/game"
	"duels/internal/tokens"
)

type zeroRandom struct{}

func (zeroRandom) RandomByte() (byte, error) { return 0, nil }

func newServer(t *testing.T) (*cl.Client, *game.Engine, *tokens.Memory, *auth.Signer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ext := tokens.NewMemory("duels.near")
	engine := game.NewEngine(ext, game.Options{
		Admin:   "admin.near",
		Custody: "duels.near",
		Random:  zeroRandom{},
		Logger:  logger,
	})
	signer := auth.NewSigner("cli-secret")
	cfg := config.APIConfig{AdminAccount: "admin.near", CustodyAccount: "duels.near", WebhookSecret: "hook"}
	srv := httptest.NewServer(api.New(cfg, logger, signer, engine).Handler())
	t.Cleanup(func() {
		srv.Close()
		engine.Close()
	})
	return cl.NewClient(srv.URL + "/"), engine, ext, signer
}

func fund(t *testing.T, engine *game.Engine, ext *tokens.Memory, account string) {
	t.Helper()
	ext.Credit("duels.near", *game.MinStake)
	if _, err := engine.OnTransfer(context.Background(), account, *game.MinStake, ""); err != nil {
		t.Fatalf("fund %s: %v", account, err)
	}
}

func TestClientDuelFlow(t *testing.T) {
	client, engine, ext, signer := newServer(t)
	ctx := context.Background()
	fund(t, engine, ext, "alice")
	fund(t, engine, ext, "bob")
	alice, _ := signer.Issue("alice", time.Hour)
	bob, _ := signer.Issue("bob", time.Hour)

	figures, err := client.Figures(ctx)
	if err != nil || len(figures) != 30 {
		t.Fatalf("figures: got %d err %v", len(figures), err)
	}
	id, err := client.CreateDuel(ctx, alice, "MarkTwain", game.MinStake.Dec(), "c-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d, err := client.AcceptDuel(ctx, bob, id, "SunTzu", "a-1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if d.State != game.StateActive || d.NextMove != "alice" {
		t.Fatalf("got state %s next %q", d.State, d.NextMove)
	}
	res, err := client.TakeTurn(ctx, alice, id, "Witty", "t-1")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if res.Turn != 0 || res.Winner != "" {
		t.Fatalf("unexpected turn result %+v", res)
	}

	active, err := client.ListDuels(ctx, "active", 10, 0)
	if err != nil || len(active) != 1 || active[0].ID != id {
		t.Fatalf("active list: %v %v", active, err)
	}
	bal, err := client.Balance(ctx, "alice")
	if err != nil || bal.Balance != "0" {
		t.Fatalf("balance: %+v %v", bal, err)
	}
	report, err := client.Custody(ctx)
	if err != nil || !report.Consistent {
		t.Fatalf("custody: %+v %v", report, err)
	}
	top, err := client.TopDuel(ctx)
	if err != nil || top != nil {
		t.Fatalf("top duel: %v %v", top, err)
	}
}

func TestClientAPIError(t *testing.T) {
	client, _, _, signer := newServer(t)
	alice, _ := signer.Issue("alice", time.Hour)

	_, err := client.TakeTurn(context.Background(), alice, 9, "Witty", "")
	var apiErr *cl.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("got %v want 404 APIError", err)
	}
	if apiErr.Message == "" || !cl.IsAPIError(err) {
		t.Fatalf("expected decoded error message, got %+v", apiErr)
	}

	offline := cl.NewClient("http://127.0.0.1:1")
	if _, err := offline.Withdraw(context.Background(), alice, "1", "w"); err == nil || cl.IsAPIError(err) {
		t.Fatalf("got %v want transport error", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	t.Setenv("DUELCTL_HOME", t.TempDir())

	if _, err := cl.LoadSession(); err == nil {
		t.Fatalf("expected missing session error")
	}
	if err := cl.SaveSession(cl.Session{AccessToken: "tok", Account: "alice"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s, err := cl.LoadSession()
	if err != nil || s.Account != "alice" || s.AccessToken != "tok" {
		t.Fatalf("load: got %+v %v", s, err)
	}
	if err := cl.ClearSession(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := cl.ClearSession(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if err := cl.SaveSession(cl.Session{Account: "alice"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := cl.LoadSession(); err == nil {
		t.Fatalf("expected empty token error")
	}
}
