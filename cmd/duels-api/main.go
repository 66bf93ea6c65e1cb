package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duels/internal/api"
	"duels/internal/auth"
	"duels/internal/config"
	"duels/internal/db"
	"duels/internal/game"
	"duels/internal/store"
	"duels/internal/tokens"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.LoadDotEnv()
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var st game.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		pg := store.NewPostgres(pool, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("schema init failed", "err", err)
			os.Exit(1)
		}
		st = pg
	} else {
		lite, err := store.OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			logger.Error("sqlite open failed", "path", cfg.SQLitePath, "err", err)
			os.Exit(1)
		}
		defer lite.Close()
		st = lite
	}

	ext := tokens.NewClient(cfg.TokenServiceURL, cfg.CustodyAccount, cfg.TokenServiceKey)
	engine := game.NewEngine(ext, game.Options{
		Admin:            cfg.AdminAccount,
		Custody:          cfg.CustodyAccount,
		TrackSettlements: cfg.TrackSettlements,
		DispatchWorkers:  cfg.DispatchWorkers,
		Store:            st,
		Logger:           logger,
	})
	if err := engine.Restore(ctx); err != nil {
		logger.Error("restore state failed", "err", err)
		os.Exit(1)
	}

	server := api.New(cfg, logger, auth.NewSigner(cfg.AuthSecret), engine)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("duels api listening", "addr", cfg.Addr, "custody", cfg.CustodyAccount)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	// Wait for in-flight settlement calls before the store closes.
	engine.Close()
	logger.Info("duels api stopped")
}
