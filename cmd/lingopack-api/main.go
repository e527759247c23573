// Command lingopack-api is the task-ingress HTTP server: clients submit
// translation tasks, poll their status, cancel them, and read finished
// translations back out of package files.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lingopack/lingopack/internal/api"
	"github.com/lingopack/lingopack/internal/broker"
	"github.com/lingopack/lingopack/internal/config"
	"github.com/lingopack/lingopack/internal/health"
	"github.com/lingopack/lingopack/internal/observe"
	"github.com/lingopack/lingopack/internal/taskstore"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lingopack-api: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("lingopack api starting",
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	flush, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "lingopack-api",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := flush(flushCtx); err != nil {
			slog.Warn("telemetry flush error", "err", err)
		}
	}()

	// ── Database ──────────────────────────────────────────────────────────────
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		slog.Error("failed to open database pool", "err", err)
		return 1
	}
	defer pool.Close()

	store := taskstore.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		slog.Error("failed to migrate database", "err", err)
		return 1
	}

	// ── Broker ────────────────────────────────────────────────────────────────
	client, err := broker.NewClient(cfg.Broker.BootstrapServers, broker.WithClientID("lingopack-api"))
	if err != nil {
		slog.Error("failed to connect to broker", "err", err)
		return 1
	}
	defer client.Close()

	producer, err := client.SyncProducer()
	if err != nil {
		slog.Error("failed to create producer", "err", err)
		return 1
	}
	defer producer.Close()

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv, err := api.NewServer(api.Config{
		Store:            store,
		Producer:         producer,
		AudioTopic:       cfg.Broker.Topics.Audio,
		TranslationTopic: cfg.Broker.Topics.Translation,
	})
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}

	// Health and metrics stay outside the API router so they skip the
	// request middleware.
	mux := http.NewServeMux()
	health.New(
		health.PingChecker("database", pool),
		health.PingChecker("broker", client),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", srv.Router())

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	select {
	case err := <-errc:
		slog.Error("http server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}
