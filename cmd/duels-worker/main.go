package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	cl "duels/internal/cli"
	"duels/internal/config"

	"github.com/go-co-op/gocron/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.LoadDotEnv()
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	client := cl.NewClient(cfg.APIBaseURL)

	if cfg.RunOnce {
		if err := reconcile(ctx, logger, client, cfg.AdminToken); err != nil {
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		logger.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(cfg.ReconcileEvery),
		gocron.NewTask(func() {
			_ = reconcile(ctx, logger, client, cfg.AdminToken)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		logger.Error("schedule reconcile failed", "err", err)
		os.Exit(1)
	}
	sched.Start()
	logger.Info("worker started", "reconcile_every", cfg.ReconcileEvery.String(), "api", cfg.APIBaseURL)

	<-ctx.Done()
	if err := sched.Shutdown(); err != nil {
		logger.Error("scheduler shutdown failed", "err", err)
	}
	logger.Info("worker shutdown")
}

// reconcile asks the API to burn whatever custody holds beyond what the
// ledger accounts for.
func reconcile(ctx context.Context, logger *slog.Logger, client *cl.Client, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	out, err := client.Reconcile(ctx, token)
	if err != nil {
		logger.Error("reconcile failed", "err", err)
		return err
	}
	if out.Failed {
		logger.Warn("reconcile token call failed", "held", out.Held)
		return nil
	}
	logger.Info("reconcile complete", "burned", out.Burned, "held", out.Held)
	return nil
}
