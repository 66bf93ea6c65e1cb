package syncq

import (
	"os"
	"path/filepath"
	"testing"
)

func TestQueuePushLoadSave(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DUELCTL_HOME", dir)

	got, err := Load()
	if err != nil || len(got) != 0 {
		t.Fatalf("empty load: got %v %v", got, err)
	}

	first := Command{Method: "POST", Path: "/v1/duels/3/turns", Body: map[string]any{"style": "Witty"}, IdempotencyKey: "k1"}
	if err := Push(first); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := Push(first); err != nil {
		t.Fatalf("duplicate push: %v", err)
	}
	if err := Push(Command{Method: "POST", Path: "/v1/withdrawals", Body: map[string]any{"amount": "5"}, IdempotencyKey: "k2"}); err != nil {
		t.Fatalf("push: %v", err)
	}

	got, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].IdempotencyKey != "k1" || got[1].Path != "/v1/withdrawals" {
		t.Fatalf("unexpected queue %+v", got)
	}
	if got[0].Body["style"] != "Witty" {
		t.Fatalf("got body %v", got[0].Body)
	}

	if err := Save(got[1:]); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, _ = Load()
	if len(got) != 1 || got[0].IdempotencyKey != "k2" {
		t.Fatalf("after save: %+v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "queue.json")); err != nil {
		t.Fatalf("queue file: %v", err)
	}
}

func TestLoadRejectsCorruptQueue(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DUELCTL_HOME", dir)
	if err := os.WriteFile(filepath.Join(dir, "queue.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(); err == nil {
		t.Fatalf("expected decode error")
	}
}
