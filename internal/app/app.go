// Package app wires every ragcore subsystem into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems (store, providers, pipeline, HTTP surface), Run serves HTTP
// until the context is cancelled, and Shutdown tears everything down in
// order.
//
// For testing, inject collaborators directly via functional options
// (WithStore, WithLLM, WithEmbedder) instead of building them from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ragcore/ragcore/internal/config"
	"github.com/ragcore/ragcore/internal/feedback"
	"github.com/ragcore/ragcore/internal/health"
	"github.com/ragcore/ragcore/internal/httpapi"
	"github.com/ragcore/ragcore/internal/observe"
	"github.com/ragcore/ragcore/internal/qa"
	"github.com/ragcore/ragcore/internal/resilience"
	"github.com/ragcore/ragcore/internal/thread"
	"github.com/ragcore/ragcore/pkg/provider/embedder"
	embopenai "github.com/ragcore/ragcore/pkg/provider/embedder/openai"
	"github.com/ragcore/ragcore/pkg/provider/llm"
	"github.com/ragcore/ragcore/pkg/provider/llm/anyllm"
	llmopenai "github.com/ragcore/ragcore/pkg/provider/llm/openai"
	"github.com/ragcore/ragcore/pkg/store"
	"github.com/ragcore/ragcore/pkg/store/postgres"
)

// App owns all subsystem lifetimes and serves the HTTP API described by
// spec.md §6.
type App struct {
	cfg *config.Config

	store    store.Store
	llm      llm.Provider
	embedder embedder.Provider

	pipeline *qa.Pipeline
	threads  *thread.Manager
	feedback *feedback.Manager

	srv *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles
// instead of building real collaborators from config.
type Option func(*App)

// WithStore injects a store instead of connecting to Postgres.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLLM injects an llm.Provider instead of constructing one from
// cfg.LLM.Backend.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// WithEmbedder injects an embedder.Provider instead of constructing one
// from cfg.Embedder.
func WithEmbedder(p embedder.Provider) Option {
	return func(a *App) { a.embedder = p }
}

// New wires every subsystem together: the Postgres-backed store (unless
// injected), the LLM and embedding providers named by cfg, the QA
// pipeline, the thread and feedback managers, and the HTTP server
// (internal/httpapi + internal/health, wrapped in internal/observe's
// tracing/metrics middleware). Initialisation is synchronous; Run starts
// serving once New returns.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initLLM(); err != nil {
		return nil, fmt.Errorf("app: init llm provider: %w", err)
	}
	if err := a.initEmbedder(); err != nil {
		return nil, fmt.Errorf("app: init embedder provider: %w", err)
	}

	a.pipeline = qa.New(a.embedder, a.llm, a.store, *cfg)
	a.threads = thread.New(a.store, a.embedder, a.llm)
	a.feedback = feedback.New(a.store)

	h := a.buildHealthHandler()
	srv := httpapi.New(a.pipeline, a.threads, a.feedback, a.store, h, cfg.Pipeline.EnableDialogRetrieval)

	metrics := observe.DefaultMetrics()
	handler := observe.Middleware(metrics)(srv.Mux())

	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initStore connects to Postgres unless a store was injected via
// WithStore.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	st, err := postgres.NewStore(ctx, a.cfg.Postgres.DSN, a.cfg.Embedder.Dimensions)
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, func() error {
		st.Close()
		return nil
	})
	return nil
}

// initLLM constructs the configured llm.Provider unless one was injected
// via WithLLM, then wraps it in a [resilience.LLMFallback] so every call
// site goes through a per-backend circuit breaker. The breaker sits
// beneath resilience.Retry: classifier and verifier calls are retried
// once, and each failed attempt counts as a breaker failure; synthesis,
// planning and thread calls are not retried.
// When cfg.LLM.FallbackBackend is set, a second backend is built and
// registered as the failover target for once the primary's breaker
// opens.
func (a *App) initLLM() error {
	if a.llm != nil {
		return nil
	}

	primary, primaryName, err := a.buildLLMBackend(a.cfg.LLM.Backend, a.cfg.LLM.Model)
	if err != nil {
		return err
	}

	group := resilience.NewLLMFallback(primary, primaryName, resilience.FallbackConfig{})
	if a.cfg.LLM.FallbackBackend != "" {
		fallbackModel := a.cfg.LLM.FallbackModel
		if fallbackModel == "" {
			fallbackModel = a.cfg.LLM.Model
		}
		fallback, fallbackName, err := a.buildLLMBackend(a.cfg.LLM.FallbackBackend, fallbackModel)
		if err != nil {
			return fmt.Errorf("build fallback llm backend: %w", err)
		}
		group.AddFallback(fallbackName, fallback)
	}

	a.llm = group
	return nil
}

// buildLLMBackend constructs a single llm.Provider for the named
// backend/model pair: "openai" (or empty) uses the direct OpenAI SDK
// client, anything else is routed through pkg/provider/llm/anyllm. The
// returned name is used as the breaker/log label inside LLMFallback.
func (a *App) buildLLMBackend(backend, model string) (llm.Provider, string, error) {
	if backend == "openai" || backend == "" {
		p, err := llmopenai.New(a.cfg.LLM.APIKey, model,
			llmopenai.WithBaseURL(a.cfg.LLM.BaseURL),
			llmopenai.WithTimeout(a.cfg.LLM.RequestTimeout),
		)
		if err != nil {
			return nil, "", err
		}
		return p, "openai", nil
	}
	p, err := anyllm.New(backend, model)
	if err != nil {
		return nil, "", err
	}
	return p, backend, nil
}

// initEmbedder constructs the OpenAI-backed embedder.Provider unless one
// was injected via WithEmbedder, wrapping it in a circuit breaker so a
// degraded embedding backend stops being hit on every request once it
// has failed repeatedly.
func (a *App) initEmbedder() error {
	if a.embedder != nil {
		return nil
	}
	p, err := embopenai.New(a.cfg.Embedder.APIKey, a.cfg.Embedder.Model,
		embopenai.WithBaseURL(a.cfg.Embedder.BaseURL),
		embopenai.WithTimeout(a.cfg.Embedder.RequestTimeout),
	)
	if err != nil {
		return err
	}
	a.embedder = newCircuitEmbedder(p)
	return nil
}

// circuitEmbedder wraps an embedder.Provider's Embed call in a
// [resilience.CircuitBreaker], embedding the provider to forward
// Dimensions/ModelID unchanged.
type circuitEmbedder struct {
	embedder.Provider
	breaker *resilience.CircuitBreaker
}

func newCircuitEmbedder(p embedder.Provider) *circuitEmbedder {
	return &circuitEmbedder{
		Provider: p,
		breaker:  resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "embedder:" + p.ModelID()}),
	}
}

func (e *circuitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := e.breaker.Execute(func() error {
		var innerErr error
		vec, innerErr = e.Provider.Embed(ctx, text)
		return innerErr
	})
	return vec, err
}

// pinger is implemented by *postgres.Store; other store.Store
// implementations (e.g. the in-memory mock) are considered always up.
type pinger interface {
	Ping(ctx context.Context) error
}

// buildHealthHandler wires GET /health's "database" and "api" checks
// (spec.md §6) against the live store.
func (a *App) buildHealthHandler() *health.Handler {
	checkers := []health.Checker{
		{Name: "api", Check: func(context.Context) error { return nil }},
	}
	if p, ok := a.store.(pinger); ok {
		checkers = append(checkers, health.Checker{Name: "database", Check: p.Ping})
	} else {
		checkers = append(checkers, health.Checker{Name: "database", Check: func(context.Context) error { return nil }})
	}
	return health.New(checkers...)
}

// Run starts serving HTTP and blocks until ctx is cancelled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", a.srv.Addr)
		errCh <- a.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the HTTP server gracefully, then runs every closer (in
// reverse registration order) within ctx's deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if err := a.srv.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
			shutdownErr = err
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				if shutdownErr == nil {
					shutdownErr = ctx.Err()
				}
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
