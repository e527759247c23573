// Package app wires the translation pipeline's worker roles into a running
// application.
//
// The App owns the role lifecycle: New validates the wiring, Run starts the
// requested consumer roles and blocks, and Shutdown leaves the consumer
// groups in reverse-init order.
//
// For testing, every dependency is an interface or factory: back the workers
// with an in-memory store, a mock producer, and a consumer factory handing
// out scripted partitions.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lingopack/lingopack/internal/broker"
	"github.com/lingopack/lingopack/internal/config"
	"github.com/lingopack/lingopack/internal/observe"
	"github.com/lingopack/lingopack/internal/sttscore"
	"github.com/lingopack/lingopack/internal/taskstore"
	"github.com/lingopack/lingopack/internal/translate"
	"github.com/lingopack/lingopack/internal/worker"
	"github.com/lingopack/lingopack/pkg/provider/stt"
)

// AllRoles is every worker role, in start order.
var AllRoles = []string{worker.RoleAudio, worker.RoleTranslation, worker.RolePackaging}

// ConsumerFactory builds the group consumer for one (group, topic) pair. The
// worker binary derives these from its broker client; tests hand back
// scripted consumers.
type ConsumerFactory func(group, topic string) (broker.Consumer, error)

// Providers holds the engine implementations the workers drive. Populated by
// main.go via the config registry. Scorer may be nil; audio transcripts are
// then stored unscored.
type Providers struct {
	Transcriber stt.Transcriber
	Translator  translate.Translator
	Scorer      sttscore.Scorer

	// Names labels engine-call metrics with the configured backend names.
	Names worker.ProviderNames
}

// App owns the worker roles of one process.
type App struct {
	cfg       *config.Config
	store     taskstore.Store
	producer  broker.Producer
	consumers ConsumerFactory
	providers *Providers

	metrics    *observe.Metrics
	workerOpts []worker.Option

	// closers are run in reverse order during Shutdown.
	mu      sync.Mutex
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records role and engine metrics on m instead of the
// process-default instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithWorkerOptions appends options passed to every worker constructor.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(a *App) { a.workerOpts = append(a.workerOpts, opts...) }
}

// New validates the wiring and returns an App. Connections (database pool,
// broker client) belong to the caller; the App only borrows them.
func New(cfg *config.Config, store taskstore.Store, producer broker.Producer, consumers ConsumerFactory, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if store == nil || producer == nil || consumers == nil {
		return nil, errors.New("app: store, producer, and consumer factory are required")
	}
	if providers == nil {
		providers = &Providers{}
	}

	a := &App{
		cfg:       cfg,
		store:     store,
		producer:  producer,
		consumers: consumers,
		providers: providers,
		metrics:   observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the named roles (all of them when none are given) and blocks
// until every role returns. Cancelling ctx stops the roles cleanly; a fatal
// error in one role cancels the siblings and is returned.
func (a *App) Run(ctx context.Context, roles ...string) error {
	if len(roles) == 0 {
		roles = AllRoles
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, role := range roles {
		run, err := a.startRole(role)
		if err != nil {
			return err
		}
		g.Go(func() error { return run(ctx) })
	}

	slog.Info("workers running", "roles", strings.Join(roles, ","))
	return g.Wait()
}

// startRole wires one role's worker and consumer and returns the role's run
// function.
func (a *App) startRole(role string) (func(context.Context) error, error) {
	opts := append([]worker.Option{
		worker.WithMetrics(a.metrics),
		worker.WithProviderNames(a.providers.Names),
	}, a.workerOpts...)

	switch role {
	case worker.RoleAudio:
		if a.providers.Transcriber == nil || a.providers.Translator == nil {
			return nil, fmt.Errorf("app: role %s requires a transcriber and a translator", role)
		}
		w, err := worker.NewAudioWorker(a.store, a.producer, a.providers.Transcriber,
			a.providers.Scorer, a.providers.Translator,
			a.cfg.Broker.Topics.Package, a.cfg.Storage.UploadDir, opts...)
		if err != nil {
			return nil, err
		}
		return a.consume(role, a.cfg.Broker.Groups.Whisper, a.cfg.Broker.Topics.Audio, w.Run)

	case worker.RoleTranslation:
		if a.providers.Translator == nil {
			return nil, fmt.Errorf("app: role %s requires a translator", role)
		}
		w, err := worker.NewTranslationWorker(a.store, a.producer, a.providers.Translator,
			a.cfg.Broker.Topics.Package, opts...)
		if err != nil {
			return nil, err
		}
		return a.consume(role, a.cfg.Broker.Groups.Translation, a.cfg.Broker.Topics.Translation, w.Run)

	case worker.RolePackaging:
		w, err := worker.NewPackagingWorker(a.store, a.cfg.Storage.PackageDir, opts...)
		if err != nil {
			return nil, err
		}
		return a.consume(role, a.cfg.Broker.Groups.Packaging, a.cfg.Broker.Topics.Package, w.Run)

	default:
		return nil, fmt.Errorf("app: unknown role %q (valid roles: %s, or all)",
			role, strings.Join(AllRoles, ", "))
	}
}

// consume builds the role's consumer, registers its closer, and wraps the
// worker's run loop with role logging. Context cancellation is a clean stop,
// not an error.
func (a *App) consume(role, group, topic string, run func(context.Context, broker.Consumer) error) (func(context.Context) error, error) {
	c, err := a.consumers(group, topic)
	if err != nil {
		return nil, fmt.Errorf("app: consumer for role %s: %w", role, err)
	}
	a.addCloser(c.Close)

	return func(ctx context.Context) error {
		slog.Info("worker role started", "role", role, "group", group, "topic", topic)
		err := run(ctx, c)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: role %s: %w", role, err)
		}
		slog.Info("worker role stopped", "role", role)
		return nil
	}, nil
}

func (a *App) addCloser(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown leaves all consumer groups in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, the remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		closers := a.closers
		a.closers = nil
		a.mu.Unlock()

		slog.Info("shutting down", "closers", len(closers))
		for i := len(closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
