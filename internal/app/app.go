// Package app wires all meetingd subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithAnalyzer, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/config"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/health"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/notify"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/observe"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/refine"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/server"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/store"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/store/memstore"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/store/postgres"
	"github.com/dzagr-ss/ai-meeting-sub000/internal/stream"
)

// App owns all subsystem lifetimes for one meetingd process.
type App struct {
	cfg *config.Config

	store    store.Store
	analyzer engine.Analyzer
	bus      *notify.Bus
	metrics  *observe.Metrics
	sessions *stream.Registry
	cache    *refine.Cache
	runner   *refine.Runner
	srv      *server.Server
	watcher  *config.Watcher

	// logLevel is shared with the process logger so hot config reloads can
	// adjust verbosity in place.
	logLevel *slog.LevelVar

	// promHandler, when set, is served on /metrics.
	promHandler http.Handler

	// extraChecks are appended to the readiness probe.
	extraChecks []health.Check

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a record store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithAnalyzer injects an analysis engine instead of building one through
// the registry.
func WithAnalyzer(an engine.Analyzer) Option {
	return func(a *App) { a.analyzer = an }
}

// WithBus injects an event bus instead of creating a fresh one.
func WithBus(b *notify.Bus) Option {
	return func(a *App) { a.bus = b }
}

// WithMetrics injects metric instruments instead of using the process-wide
// defaults.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevelVar shares the logger's level variable so hot reloads can
// change verbosity.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithMetricsHandler serves h on GET /metrics. Typically promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.promHandler = h }
}

// WithHealthCheck appends a readiness probe.
func WithHealthCheck(c health.Check) Option {
	return func(a *App) { a.extraChecks = append(a.extraChecks, c) }
}

// New creates an App by wiring all subsystems together. The registry maps
// engine variants to constructors; main registers the real ones, tests
// register mocks. Use Option functions to inject doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		logLevel: &slog.LevelVar{},
	}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.bus == nil {
		a.bus = notify.NewBus()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initAnalyzer(reg); err != nil {
		return nil, fmt.Errorf("app: init analyzer: %w", err)
	}

	a.sessions = stream.NewRegistry(stream.Config{
		WindowDuration:   cfg.Stream.WindowDuration(),
		SilenceThreshold: float32(cfg.Stream.SilenceThreshold),
		MergeTolerance:   cfg.Stream.MergeTolerance(),
		QueueDepth:       cfg.Stream.QueueDepth,
	}, a.analyzer, a.store, a.bus, a.metrics)

	a.cache = refine.NewCache(a.metrics)
	a.runner = refine.NewRunner(jobConfig(cfg), a.analyzer, a.cache, a.store, a.bus, a.metrics)

	a.srv = server.New(cfg.Server, a.sessions, a.runner, a.store, a.bus, a.metrics,
		health.New(a.healthCheckers()...), a.promHandler)

	return a, nil
}

// initStore connects to PostgreSQL when a DSN is configured and falls back
// to the in-memory store otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		slog.Info("no database configured; transcript records are kept in memory")
		a.store = memstore.New()
		return nil
	}

	pg, err := postgres.New(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = pg
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	a.extraChecks = append(a.extraChecks, health.Check{
		Name:  "database",
		Probe: pg.Ping,
	})
	return nil
}

// initAnalyzer builds the engine selected by config through the registry
// and registers its closer when it holds resources.
func (a *App) initAnalyzer(reg *config.Registry) error {
	if a.analyzer != nil {
		return nil
	}
	if reg == nil {
		reg = DefaultRegistry()
	}

	ec := a.cfg.Engine
	if ec.Variant == "" {
		ec.Variant = config.VariantAuto
	}
	an, err := reg.CreateEngine(ec)
	if err != nil {
		return err
	}
	a.analyzer = an
	if c, ok := an.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	slog.Info("analysis engine ready", "variant", an.Name())
	return nil
}

// healthCheckers assembles the readiness probe list. The audio directory
// check covers the batch pipeline's only filesystem dependency; engines
// that can degrade to a standby report that state as an advisory probe.
func (a *App) healthCheckers() []health.Check {
	dir := a.cfg.Storage.AudioDir
	checks := []health.Check{{
		Name: "audio_dir",
		Probe: func(context.Context) error {
			info, err := os.Stat(dir)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			return nil
		},
	}}
	if d, ok := a.analyzer.(interface{ Degraded() bool }); ok {
		checks = append(checks, health.Check{
			Name:     "engine",
			Advisory: true,
			Probe: func(context.Context) error {
				if d.Degraded() {
					return errors.New("primary engine down, standby serving")
				}
				return nil
			},
		})
	}
	return append(checks, a.extraChecks...)
}

// Run serves HTTP (and WebSocket) traffic until ctx is cancelled, then
// drains open streaming sessions.
func (a *App) Run(ctx context.Context) error {
	slog.Info("meetingd running",
		"addr", a.cfg.Server.ListenAddr,
		"engine", a.analyzer.Name(),
		"audio_dir", a.cfg.Storage.AudioDir,
	)
	return a.srv.Run(ctx)
}

// WatchConfig starts hot-reload polling of the config file at path. Log
// level changes apply immediately, refine tuning applies from the next
// pass, anything else is logged as needing a restart.
func (a *App) WatchConfig(path string, opts ...config.WatcherOption) error {
	w, err := config.NewWatcher(path, a.onConfigChange, opts...)
	if err != nil {
		return fmt.Errorf("app: watch config: %w", err)
	}
	a.watcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

func (a *App) onConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RefineChanged {
		a.runner.UpdateConfig(jobConfig(new))
		slog.Info("refine tuning updated; the next pass uses the new values")
	}
	if d.RestartRequired {
		slog.Warn("config change requires a restart to take effect")
	}
}

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.sessions.CloseAll()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// jobConfig maps the refine section of cfg onto a [refine.JobConfig].
func jobConfig(cfg *config.Config) refine.JobConfig {
	return refine.JobConfig{
		AudioDir:         cfg.Storage.AudioDir,
		Workers:          cfg.Refine.Workers,
		Deadline:         cfg.Refine.Deadline(),
		MinSimilarity:    cfg.Refine.MinSimilarity,
		ClusterThreshold: cfg.Refine.ClusterThreshold,
		ClusterMargin:    cfg.Refine.ClusterMargin,
	}
}
