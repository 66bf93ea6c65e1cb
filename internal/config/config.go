package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type APIConfig struct {
	Addr             string
	DatabaseURL      string
	SQLitePath       string
	AdminAccount     string
	CustodyAccount   string
	TokenServiceURL  string
	TokenServiceKey  string
	AuthSecret       string
	WebhookSecret    string
	TrackSettlements bool
	DispatchWorkers  int
}

type WorkerConfig struct {
	APIBaseURL     string
	AdminToken     string
	ReconcileEvery time.Duration
	RunOnce        bool
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadDotEnv reads a .env file from the working directory when one exists.
// Variables already set in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("DUELS_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:             addr,
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:       strings.TrimSpace(os.Getenv("DUELS_SQLITE_PATH")),
		AdminAccount:     strings.TrimSpace(os.Getenv("DUELS_ADMIN_ACCOUNT")),
		CustodyAccount:   strings.TrimSpace(os.Getenv("DUELS_CUSTODY_ACCOUNT")),
		TokenServiceURL:  strings.TrimRight(strings.TrimSpace(os.Getenv("TOKEN_SERVICE_URL")), "/"),
		TokenServiceKey:  strings.TrimSpace(os.Getenv("TOKEN_SERVICE_TOKEN")),
		AuthSecret:       strings.TrimSpace(os.Getenv("DUELS_AUTH_SECRET")),
		WebhookSecret:    strings.TrimSpace(os.Getenv("DUELS_WEBHOOK_SECRET")),
		TrackSettlements: envBoolDefault("DUELS_TRACK_SETTLEMENTS", false),
		DispatchWorkers:  envIntDefault("DUELS_DISPATCH_WORKERS", 4),
	}
	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return cfg, fmt.Errorf("DATABASE_URL or DUELS_SQLITE_PATH is required")
	}
	if cfg.AdminAccount == "" {
		return cfg, fmt.Errorf("DUELS_ADMIN_ACCOUNT is required")
	}
	if cfg.CustodyAccount == "" {
		return cfg, fmt.Errorf("DUELS_CUSTODY_ACCOUNT is required")
	}
	if cfg.TokenServiceURL == "" {
		return cfg, fmt.Errorf("TOKEN_SERVICE_URL is required")
	}
	if cfg.AuthSecret == "" {
		return cfg, fmt.Errorf("DUELS_AUTH_SECRET is required")
	}
	if cfg.WebhookSecret == "" {
		return cfg, fmt.Errorf("DUELS_WEBHOOK_SECRET is required")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		APIBaseURL:     strings.TrimRight(envDefault("DUELS_API_BASE_URL", "http://localhost:8080"), "/"),
		AdminToken:     strings.TrimSpace(os.Getenv("DUELS_ADMIN_TOKEN")),
		ReconcileEvery: envDurationDefault("DUELS_RECONCILE_EVERY", 15*time.Minute),
		RunOnce:        envBoolDefault("DUELS_WORKER_RUN_ONCE", false),
	}
	if cfg.AdminToken == "" {
		return cfg, fmt.Errorf("DUELS_ADMIN_TOKEN is required")
	}
	if cfg.ReconcileEvery <= 0 {
		return cfg, fmt.Errorf("DUELS_RECONCILE_EVERY must be positive")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("DUELCTL_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
