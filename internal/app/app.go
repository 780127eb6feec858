// Package app wires all Timbre subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects the store,
// engine, sweeper and HTTP surface, Run serves until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithExtractor, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/auricle-labs/timbre/internal/api"
	"github.com/auricle-labs/timbre/internal/config"
	"github.com/auricle-labs/timbre/internal/health"
	"github.com/auricle-labs/timbre/internal/mcptools"
	"github.com/auricle-labs/timbre/internal/observe"
	"github.com/auricle-labs/timbre/internal/resilience"
	"github.com/auricle-labs/timbre/pkg/extract"
	"github.com/auricle-labs/timbre/pkg/extract/httpextract"
	"github.com/auricle-labs/timbre/pkg/ident"
	identpg "github.com/auricle-labs/timbre/pkg/ident/postgres"
)

// shutdownGrace bounds the HTTP server drain during Run's teardown.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	version string

	metrics   *observe.Metrics
	store     ident.Store
	engine    *ident.Engine
	sweeper   *ident.Sweeper
	extractor extract.Extractor
	server    *http.Server

	// checkers feed the /readyz probe.
	checkers []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of creating one from config.
func WithStore(s ident.Store) Option {
	return func(a *App) { a.store = s }
}

// WithExtractor injects an embedding extractor instead of creating the HTTP
// sidecar client from config.
func WithExtractor(x extract.Extractor) Option {
	return func(a *App) { a.extractor = x }
}

// WithMetrics injects a metrics instance instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithVersion sets the version string reported by /healthz and the MCP
// implementation info.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, version: "dev"}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.initEngine()
	if err := a.initExtractor(); err != nil {
		return nil, fmt.Errorf("app: init extractor: %w", err)
	}
	a.initSweeper()
	a.initServer()

	return a, nil
}

// initStore selects the repository: injected double, PostgreSQL when a DSN is
// configured, otherwise a volatile in-process store. Either way the store is
// wrapped with metric instrumentation.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Store.PostgresDSN; dsn != "" {
			store, err := identpg.NewStore(ctx, dsn, a.cfg.Store.EmbeddingDimensions)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
			a.checkers = append(a.checkers, health.PingChecker("database", store))
			a.store = store
		} else {
			slog.Warn("no postgres_dsn configured, using volatile in-memory store")
			a.store = ident.NewMemStore()
		}
	}
	a.store = instrument(a.store, a.metrics)
	return nil
}

// initEngine builds the identification engine from config.
func (a *App) initEngine() {
	t := a.cfg.Identify.Thresholds
	engineOpts := []ident.EngineOption{
		ident.WithThresholds(ident.Thresholds{
			Auto:      t.Auto,
			Suggested: t.Suggested,
			Uncertain: t.Uncertain,
		}),
		ident.WithScanLimit(a.cfg.Identify.ScanLimit),
		ident.WithAmbiguityMargin(a.cfg.Identify.AmbiguityMargin),
		ident.WithMaxSamplesPerSpeaker(a.cfg.Learning.MaxSamplesPerSpeaker),
	}
	if !a.cfg.Learning.FuzzyNameResolution {
		engineOpts = append(engineOpts, ident.WithNameResolver(nil))
	}
	a.engine = ident.NewEngine(a.store, a.cfg.Store.EmbeddingDimensions, engineOpts...)
}

// initExtractor builds the sidecar client when one is configured, guarded by
// a circuit breaker.
func (a *App) initExtractor() error {
	if a.extractor != nil {
		return nil
	}
	baseURL := a.cfg.Extractor.BaseURL
	if baseURL == "" {
		slog.Info("no extractor configured, audio identification disabled")
		return nil
	}

	client, err := httpextract.New(baseURL, a.cfg.Store.EmbeddingDimensions,
		httpextract.WithTimeout(a.cfg.Extractor.Timeout))
	if err != nil {
		return err
	}
	a.checkers = append(a.checkers, health.Checker{Name: "extractor", Check: client.Healthy})
	a.extractor = resilience.WrapExtractor(client, nil)
	return nil
}

// initSweeper wires the decay sweeper to the engine's bus and the metrics.
func (a *App) initSweeper() {
	a.sweeper = ident.NewSweeper(ident.SweeperConfig{
		Store:      a.store,
		Bus:        a.engine.Bus(),
		Interval:   a.cfg.Decay.Interval,
		PruneAfter: a.cfg.Decay.PruneAfter,
		OnSweep: func(res ident.SweepResult) {
			a.metrics.RecordSweep(context.Background(), res.Decayed, res.Pruned)
		},
	})
}

// initServer assembles the HTTP surface, including the optional MCP mount.
func (a *App) initServer() {
	var mcpHandler http.Handler
	if a.cfg.MCP.Enabled {
		mcpHandler = mcptools.Handler(mcptools.NewServer(a.engine, a.version))
	}

	handler := api.New(api.Config{
		Engine:    a.engine,
		Extractor: a.extractor,
		Metrics:   a.metrics,
		Health:    health.New(a.version, a.checkers...),
		MCP:       mcpHandler,
	}).Handler()

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Engine exposes the identification engine, for tests and tooling.
func (a *App) Engine() *ident.Engine { return a.engine }

// Handler exposes the fully-routed HTTP handler, for tests.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Run serves HTTP and runs the decay sweeper until ctx is cancelled, then
// drains the server. A clean, signal-driven exit returns nil.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tls := a.cfg.Server.TLS
		slog.Info("server listening",
			"addr", a.server.Addr,
			"tls", tls != nil,
			"mcp", a.cfg.MCP.Enabled)

		var err error
		if tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := a.sweeper.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.server.Shutdown(drainCtx)
	})

	return g.Wait()
}

// Shutdown stops the sweeper and tears down the remaining subsystems in
// order. It respects the context deadline: closers left when ctx expires are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.sweeper.Stop()

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
