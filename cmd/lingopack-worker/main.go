// Command lingopack-worker runs the pipeline's consumer roles: audio
// transcription and scoring, text translation, and package assembly.
//
// One positional argument selects the role (audio, translation, packaging,
// or all); the default all runs every role in one process. Health and
// metrics endpoints are served on their own listener.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lingopack/lingopack/internal/app"
	"github.com/lingopack/lingopack/internal/broker"
	"github.com/lingopack/lingopack/internal/config"
	"github.com/lingopack/lingopack/internal/health"
	"github.com/lingopack/lingopack/internal/observe"
	"github.com/lingopack/lingopack/internal/resilience"
	"github.com/lingopack/lingopack/internal/sttscore"
	"github.com/lingopack/lingopack/internal/taskstore"
	"github.com/lingopack/lingopack/internal/translate"
	"github.com/lingopack/lingopack/internal/worker"
	"github.com/lingopack/lingopack/pkg/provider/stt"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI ───────────────────────────────────────────────────────────────────
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"usage: lingopack-worker [role]\n\nrole is one of: %s, or all (default all)\n",
			strings.Join(app.AllRoles, ", "))
	}
	flag.Parse()

	role := "all"
	switch args := flag.Args(); {
	case len(args) > 1:
		flag.Usage()
		return 2
	case len(args) == 1:
		role = args[0]
	}

	var roles []string
	if role != "all" {
		if !slices.Contains(app.AllRoles, role) {
			fmt.Fprintf(os.Stderr, "lingopack-worker: unknown role %q (valid roles: %s, or all)\n",
				role, strings.Join(app.AllRoles, ", "))
			return 2
		}
		roles = []string{role}
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lingopack-worker: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("lingopack worker starting",
		"role", role,
		"listen_addr", cfg.Server.WorkerListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	flush, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "lingopack-worker",
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

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, closeProviders, err := buildProviders(cfg, roles)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer closeProviders()

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
	client, err := broker.NewClient(cfg.Broker.BootstrapServers, broker.WithClientID("lingopack-worker"))
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

	consumers := func(group, topic string) (broker.Consumer, error) {
		return client.GroupConsumer(group, topic)
	}

	// ── Health and metrics listener ───────────────────────────────────────────
	mux := http.NewServeMux()
	health.New(
		health.PingChecker("database", pool),
		health.PingChecker("broker", client),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	obsSrv := &http.Server{
		Addr:              cfg.Server.WorkerListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := obsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health listener error", "err", err)
		}
	}()

	// ── Run ───────────────────────────────────────────────────────────────────
	application, err := app.New(cfg, store, producer, consumers, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("worker ready — press Ctrl+C to shut down")

	runErr := application.Run(ctx, roles...)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}
	if err := obsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("health listener shutdown error", "err", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders instantiates the engines the selected roles need (an empty
// roles slice means all of them). The returned closer releases providers
// that hold resources, such as the native whisper model.
func buildProviders(cfg *config.Config, roles []string) (*app.Providers, func(), error) {
	reg := config.DefaultRegistry()
	ps := &app.Providers{}

	var closers []io.Closer
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}

	if hasRole(roles, worker.RoleAudio) {
		transcriber, err := newTranscriber(cfg, reg, &closers)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		ps.Transcriber = transcriber
		ps.Names.STT = cfg.Providers.STT.Name

		scorer, err := newScorer(cfg, reg)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		ps.Scorer = scorer
		ps.Names.Scorer = cfg.Providers.Scorer.Name
	}

	if hasRole(roles, worker.RoleAudio) || hasRole(roles, worker.RoleTranslation) {
		translator, err := newTranslator(cfg, reg)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		ps.Translator = translator
		ps.Names.Translator = cfg.Providers.Translator.Name
	}

	return ps, closeAll, nil
}

// newTranscriber builds the configured transcriber, wrapped with the
// failover backend when one is configured. Transcribers that hold resources
// are appended to closers.
func newTranscriber(cfg *config.Config, reg *config.Registry, closers *[]io.Closer) (stt.Transcriber, error) {
	primary, err := reg.CreateSTT(resolveKey(cfg.Providers.STT, cfg.Providers.OpenAIAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	if c, ok := primary.(io.Closer); ok {
		*closers = append(*closers, c)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	if !cfg.Providers.STTFallback.Enabled() {
		return primary, nil
	}

	fb, err := reg.CreateSTT(resolveKey(cfg.Providers.STTFallback, cfg.Providers.OpenAIAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create stt fallback %q: %w", cfg.Providers.STTFallback.Name, err)
	}
	if c, ok := fb.(io.Closer); ok {
		*closers = append(*closers, c)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STTFallback.Name, "fallback", true)

	group := resilience.NewTranscriberFallback(primary, cfg.Providers.STT.Name, resilience.FallbackConfig{})
	group.AddFallback(cfg.Providers.STTFallback.Name, fb)
	return group, nil
}

// newTranslator builds the completion backend driving translation, wrapped
// with the failover backend when one is configured.
func newTranslator(cfg *config.Config, reg *config.Registry) (translate.Translator, error) {
	completer, err := reg.CreateLLM(resolveKey(cfg.Providers.Translator, cfg.Providers.OpenAIAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create translator %q: %w", cfg.Providers.Translator.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.Translator.Name, "model", cfg.Providers.Translator.Model)

	if cfg.Providers.TranslatorFallback.Enabled() {
		fb, err := reg.CreateLLM(resolveKey(cfg.Providers.TranslatorFallback, cfg.Providers.OpenAIAPIKey))
		if err != nil {
			return nil, fmt.Errorf("create translator fallback %q: %w", cfg.Providers.TranslatorFallback.Name, err)
		}
		slog.Info("provider created", "kind", "llm", "name", cfg.Providers.TranslatorFallback.Name, "fallback", true)

		group := resilience.NewCompleterFallback(completer, cfg.Providers.Translator.Name, resilience.FallbackConfig{})
		group.AddFallback(cfg.Providers.TranslatorFallback.Name, fb)
		completer = group
	}

	return translate.New(completer)
}

// newScorer builds the transcript scorer. The name "local" selects the
// lexical scorer; anything else is a completion backend driving the LLM
// scorer. A disabled entry returns nil and transcripts stay unscored.
func newScorer(cfg *config.Config, reg *config.Registry) (sttscore.Scorer, error) {
	entry := cfg.Providers.Scorer
	if !entry.Enabled() {
		return nil, nil
	}
	if entry.Name == "local" {
		slog.Info("provider created", "kind", "scorer", "name", "local")
		return sttscore.NewLocalScorer(), nil
	}

	completer, err := reg.CreateLLM(resolveKey(entry, cfg.Providers.OpenAIAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create scorer %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "scorer", "name", entry.Name, "model", entry.Model)
	return sttscore.NewLLMScorer(completer)
}

// resolveKey fills an openai entry's API key from the shared OPENAI_API_KEY
// when the entry carries no key of its own. Other backends read their own
// credentials.
func resolveKey(e config.ProviderEntry, shared string) config.ProviderEntry {
	if e.Name == "openai" {
		e.APIKey = e.KeyOr(shared)
	}
	return e
}

// hasRole reports whether the selection includes role; an empty selection
// means every role.
func hasRole(roles []string, role string) bool {
	return len(roles) == 0 || slices.Contains(roles, role)
}
