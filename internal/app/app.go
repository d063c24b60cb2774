// Package app wires all suggestd subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and drives the pause checks, Reload applies
// hot-reloadable config changes, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/config"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/health"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/history"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/history/postgres"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/mcp"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/mcp/tools"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/mcp/tools/meetingtool"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/mcp/tools/statstool"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/observe"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/pipeline"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/server"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/suggest"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/transcribe"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/vad"
)

// serviceName identifies the process to MCP clients and in telemetry.
const serviceName = "suggestd"

// drainGrace is added to the pipeline stop timeout when Run drains on
// cancellation.
const drainGrace = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string

	// Injected or created in New.
	store          history.Store
	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	detector *vad.Detector
	gateway  *transcribe.Gateway
	batcher  *suggest.Batcher
	ctxMgr   *suggest.ContextManager
	orch     *pipeline.Orchestrator
	sessions *SessionManager
	hub      *server.Hub
	mcpSrv   *mcp.Server
	handler  http.Handler
	httpSrv  *http.Server

	// closers release resources New created from config. They run after
	// the orchestrator and hub are closed.
	closers []func() error

	drainOnce sync.Once
	drainErr  error
	stopOnce  sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of creating one from config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the instruments shared by every subsystem.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets [App.Reload] change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders]; both are required.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.LLM == nil {
		return nil, errors.New("app: stt and llm providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
	}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		m, err := observe.NewMetrics(noop.NewMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("app: init metrics: %w", err)
		}
		a.metrics = m
	}

	// ── 1. History store ─────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Pipeline stages ───────────────────────────────────────────────
	a.initStages()

	// ── 3. Event hub + orchestrator ──────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.sessions = NewSessionManager(a.orch, a.store)

	// ── 4. MCP server ────────────────────────────────────────────────────
	if err := a.initMCP(); err != nil {
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}

	// ── 5. HTTP server ───────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory connects to PostgreSQL when a DSN is configured and falls back
// to an in-memory store otherwise.
func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.History.PostgresDSN
	if dsn == "" {
		a.store = history.NewMemStore()
		return nil
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initStages builds the detector, transcription gateway, batcher, and
// rolling context from config.
func (a *App) initStages() {
	a.detector = vad.NewDetector(a.cfg.VAD.Settings())

	var summariser suggest.Summariser
	if a.cfg.Suggestions.SummariseContext {
		summariser = suggest.NewLLMSummariser(a.providers.LLM)
	}
	a.ctxMgr = suggest.NewContextManager(a.cfg.Suggestions.ContextChars, summariser)
	a.batcher = suggest.NewBatcher(a.cfg.Suggestions.Batcher())

	t := a.cfg.Transcription
	gwOpts := []transcribe.Option{
		transcribe.WithFilter(transcribe.NewFilter(t.HallucinationPhrases, t.Similarity)),
		transcribe.WithRetry(t.Retry()),
		transcribe.WithCostPerMinute(t.CostPerMinute),
		transcribe.WithLanguage(t.Language),
		transcribe.WithAttemptTimeout(t.AttemptTimeout),
	}
	if n := t.PromptChars; n > 0 {
		ctxMgr := a.ctxMgr
		gwOpts = append(gwOpts, transcribe.WithPrompt(func() string { return ctxMgr.Tail(n) }))
	}
	a.gateway = transcribe.New(a.providers.STT, gwOpts...)
}

// initPipeline creates the event hub and the orchestrator publishing to it.
func (a *App) initPipeline() error {
	a.hub = server.NewHub(
		server.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
		server.WithHubMetrics(a.metrics),
	)

	p := a.cfg.Pipeline
	orch, err := pipeline.New(pipeline.Deps{
		Detector:    a.detector,
		Transcriber: a.gateway,
		Suggester:   suggest.NewGenerator(a.providers.LLM, a.cfg.Suggestions.Generator()),
		Batcher:     a.batcher,
		Context:     a.ctxMgr,
		History:     a.store,
		Sink:        a.hub,
		Metrics:     a.metrics,
	}, p.Limits(),
		pipeline.WithCleanup(p.Cleanup),
		pipeline.WithPauseInterval(p.PauseCheckInterval),
		pipeline.WithStopTimeout(p.StopTimeout),
		pipeline.WithLatencyWindow(p.LatencyWindow),
	)
	if err != nil {
		return err
	}
	a.orch = orch
	return nil
}

// initMCP exposes the meeting history and pipeline stats as MCP tools.
func (a *App) initMCP() error {
	if !a.cfg.MCP.Enabled {
		return nil
	}
	srv, err := mcp.NewServer(serviceName, [][]tools.Tool{
		meetingtool.NewTools(a.store),
		statstool.NewTools(a.orch.Stats),
	}, mcp.WithMetrics(a.metrics), mcp.WithVersion(a.version))
	if err != nil {
		return err
	}
	a.mcpSrv = srv
	slog.Info("mcp server enabled", "tools", srv.Tools())
	return nil
}

// initServer builds the routed handler and the http.Server around it.
func (a *App) initServer() error {
	deps := server.Deps{
		Pipeline:       a.orch,
		Sessions:       a.sessions,
		History:        a.store,
		Hub:            a.hub,
		Health:         health.New(a.checkers()...),
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHandler,
	}
	if a.mcpSrv != nil {
		deps.MCP = a.mcpSrv.Handler()
	}
	srv, err := server.New(server.Config{
		SpoolDir:        a.cfg.Server.SpoolDir,
		MaxSegmentBytes: a.cfg.Server.MaxSegmentBytes,
	}, deps)
	if err != nil {
		return err
	}
	a.handler = srv.Handler()
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// checkers returns the readiness probes: the history store and the
// availability of each provider chain.
func (a *App) checkers() []health.Checker {
	return []health.Checker{
		{Name: "history", Check: a.store.Ping},
		{Name: "stt", Check: availabilityCheck("stt", a.providers.STT)},
		{Name: "llm", Check: availabilityCheck("llm", a.providers.LLM)},
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the routed HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the meeting session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Pipeline returns the segment orchestrator.
func (a *App) Pipeline() *pipeline.Orchestrator { return a.orch }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and drives the pause checks
// until ctx is cancelled. On cancellation the active meeting is stopped and
// the listener drained before Run returns. A listener failure is returned.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		return a.orch.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Pipeline.StopTimeout+drainGrace)
		defer cancel()
		return a.drain(dctx)
	})

	slog.Info("app running", "addr", ln.Addr().String(), "mcp", a.mcpSrv != nil)
	return g.Wait()
}

// drain stops the active meeting and then the HTTP listener. It runs once.
func (a *App) drain(ctx context.Context) error {
	a.drainOnce.Do(func() {
		var errs []error
		if _, ok := a.sessions.Active(); ok {
			m, err := a.sessions.Stop(ctx)
			if err != nil {
				errs = append(errs, err)
			}
			slog.Info("active meeting stopped for shutdown", "meeting_id", m.ID)
		}
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}
		a.drainErr = errors.Join(errs...)
	})
	return a.drainErr
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable differences between old and new.
// Sections that need a restart are logged and otherwise ignored.
func (a *App) Reload(old, new *config.Config) config.ConfigDiff {
	d := config.Diff(old, new)
	if d.Empty() {
		return d
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.QueueLimitsChanged {
		a.orch.SetQueueLimits(new.Pipeline.Limits())
		slog.Info("config reload: queue limits changed",
			"max_concurrent", new.Pipeline.MaxConcurrent, "max_queue_size", new.Pipeline.MaxQueueSize)
	}
	if d.VADChanged {
		a.detector.Configure(new.VAD.Settings())
		slog.Info("config reload: vad settings changed")
	}
	if d.FilterChanged {
		a.gateway.Filter().Configure(new.Transcription.HallucinationPhrases, new.Transcription.Similarity)
		slog.Info("config reload: hallucination filter changed")
	}
	if d.BatcherChanged {
		a.batcher.Configure(new.Suggestions.Batcher())
		slog.Info("config reload: batcher changed")
	}
	if d.ContextChanged {
		a.ctxMgr.SetMaxChars(new.Suggestions.ContextChars)
		slog.Info("config reload: context budget changed", "chars", new.Suggestions.ContextChars)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes require a restart", "sections", d.RestartRequired)
	}
	return d
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the active meeting, drains the HTTP server, and tears down
// all subsystems in order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownErr := a.drain(ctx)
	a.stopOnce.Do(func() {
		// The orchestrator closes before the hub so late events still go out.
		closers := append([]func() error{
			func() error {
				a.orch.Close()
				return nil
			},
			func() error {
				a.hub.Close()
				return nil
			},
		}, a.closers...)
		slog.Info("shutting down", "closers", len(closers))

		for i, closer := range closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(closers)-i)
				shutdownErr = errors.Join(shutdownErr, ctx.Err())
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
