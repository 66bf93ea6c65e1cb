package config

import (
	"testing"
	"time"
)

func setAPIEnv(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DUELS_API_ADDR", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DUELS_SQLITE_PATH", "/tmp/duels.db")
	t.Setenv("DUELS_ADMIN_ACCOUNT", "admin.near")
	t.Setenv("DUELS_CUSTODY_ACCOUNT", "duels.near")
	t.Setenv("TOKEN_SERVICE_URL", "http://tokens.local/")
	t.Setenv("DUELS_AUTH_SECRET", "secret")
	t.Setenv("DUELS_WEBHOOK_SECRET", "hook")
	t.Setenv("DUELS_TRACK_SETTLEMENTS", "")
	t.Setenv("DUELS_DISPATCH_WORKERS", "")
}

func TestLoadAPIFromEnv(t *testing.T) {
	setAPIEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("DUELS_DISPATCH_WORKERS", "bogus")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("got addr %q want :9000", cfg.Addr)
	}
	if cfg.TokenServiceURL != "http://tokens.local" {
		t.Fatalf("got token url %q", cfg.TokenServiceURL)
	}
	if cfg.DispatchWorkers != 4 || cfg.TrackSettlements {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadAPIFromEnvRequired(t *testing.T) {
	for _, key := range []string{"DUELS_SQLITE_PATH", "DUELS_ADMIN_ACCOUNT", "DUELS_CUSTODY_ACCOUNT", "TOKEN_SERVICE_URL", "DUELS_AUTH_SECRET", "DUELS_WEBHOOK_SECRET"} {
		setAPIEnv(t)
		t.Setenv(key, "")
		if _, err := LoadAPIFromEnv(); err == nil {
			t.Fatalf("expected error with %s unset", key)
		}
	}
}

func TestLoadWorkerFromEnv(t *testing.T) {
	t.Setenv("DUELS_API_BASE_URL", "")
	t.Setenv("DUELS_ADMIN_TOKEN", "tok")
	t.Setenv("DUELS_RECONCILE_EVERY", "90s")
	t.Setenv("DUELS_WORKER_RUN_ONCE", "true")

	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ReconcileEvery != 90*time.Second || !cfg.RunOnce || cfg.APIBaseURL != "http://localhost:8080" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("DUELS_ADMIN_TOKEN", "")
	if _, err := LoadWorkerFromEnv(); err == nil {
		t.Fatalf("expected missing admin token to fail")
	}
}
