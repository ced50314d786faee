// Package app wires the concierge subsystems into a running HTTP service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown releases
// everything in order.
//
// For testing, inject doubles via functional options (WithLeadStore,
// WithNotifier, ...). When an option is not provided, New creates real
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

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/concierge/internal/config"
	"github.com/MrWong99/concierge/internal/consult"
	"github.com/MrWong99/concierge/internal/health"
	"github.com/MrWong99/concierge/internal/inquiry"
	"github.com/MrWong99/concierge/internal/leadstore"
	"github.com/MrWong99/concierge/internal/notify"
	"github.com/MrWong99/concierge/internal/observe"
	"github.com/MrWong99/concierge/internal/resilience"
	"github.com/MrWong99/concierge/pkg/provider/llm"
)

// ReadHeaderTimeout bounds how long a client may take to send request
// headers.
const ReadHeaderTimeout = 10 * time.Second

// Providers holds the model backends built by main.go from the config
// registry. Nil means the provider is not configured.
type Providers struct {
	LLM llm.Provider
}

// App owns all subsystem lifetimes of the concierge service.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New.
	metrics        *observe.Metrics
	metricsHandler http.Handler
	store          leadstore.Store
	notifier       notify.Notifier
	consult        *consult.Generator
	inquiries      *inquiry.Service
	checkers       []health.Checker
	handler        http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLeadStore injects a lead store instead of creating one from config.
func WithLeadStore(s leadstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithNotifier injects a notifier instead of creating one from config.
func WithNotifier(n notify.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithMetrics sets the metric instruments. Defaults to instruments on the
// global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: lead storage,
// notifier, consultation generator, inquiry service and the HTTP routes.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("app: init metrics: %w", err)
		}
		a.metrics = m
	}

	// ── 2. Lead store ────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init lead store: %w", err)
	}

	// ── 3. Notifier ──────────────────────────────────────────────────────
	if err := a.initNotifier(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init notifier: %w", err)
	}

	// ── 4. Consultation reply ────────────────────────────────────────────
	cc := cfg.Consult
	a.consult = consult.New(providers.LLM, cfg.Providers.LLM.Name,
		consult.WithDisabled(cc.Disabled),
		consult.WithTemperature(cc.Temperature),
		consult.WithMaxTokens(cc.MaxTokens),
		consult.WithTimeout(cc.Timeout),
		consult.WithBreaker(a.newBreaker("llm")),
		consult.WithMetrics(a.metrics),
	)

	// ── 5. Inquiry service ───────────────────────────────────────────────
	a.inquiries = inquiry.NewService(a.store, a.notifier, a.consult, inquiry.WithMetrics(a.metrics))

	// ── 6. Routes ────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	inquiry.NewHandler(a.inquiries, inquiry.WithAdminToken(cfg.Server.AdminToken)).Register(mux)
	health.New(a.checkers).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.handler = observe.Middleware(a.metrics)(mux)

	slog.Info("app initialised",
		"lead_store", fmt.Sprintf("%T", a.store),
		"notifier", a.notifier.Name(),
		"llm", cfg.Providers.LLM.Name,
		"consult_disabled", cc.Disabled,
	)
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" && a.cfg.Storage.FilePath != "" {
		store, err := leadstore.OpenFileStore(a.cfg.Storage.FilePath)
		if err != nil {
			return err
		}
		slog.Info("leads are stored in file", "path", a.cfg.Storage.FilePath)
		a.store = store
		return nil
	}
	if dsn == "" {
		slog.Warn("no storage configured, leads are kept in memory only")
		a.store = leadstore.NewMemStore()
		return nil
	}
	store, closeFn, err := leadstore.OpenPostgres(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.checkers = append(a.checkers, health.PingChecker("postgres", store))
	a.closers = append(a.closers, func() error { closeFn(); return nil })
	return nil
}

func (a *App) initNotifier() error {
	if a.notifier != nil {
		return nil
	}
	ej := a.cfg.Notify.EmailJS
	if ej == nil {
		slog.Warn("no emailjs configured, the planner will not be e-mailed about new leads")
		a.notifier = notify.Noop{}
		return nil
	}
	cb := a.newBreaker("emailjs")
	n, err := notify.NewEmailJS(notify.EmailJSConfig{
		ServiceID:  ej.ServiceID,
		TemplateID: ej.TemplateID,
		PublicKey:  ej.PublicKey,
		PrivateKey: ej.PrivateKey,
		ToName:     ej.ToName,
		URL:        ej.BaseURL,
	}, notify.WithBreaker(cb))
	if err != nil {
		return err
	}
	a.notifier = n
	a.checkers = append(a.checkers, health.BreakerChecker(cb))
	return nil
}

// newBreaker returns a circuit breaker that reports transitions to the log
// and to metrics.
func (a *App) newBreaker(name string) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: name,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from, "to", to)
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	})
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled,
// then drains in-flight requests within the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run on an existing listener. The listener is closed when
// Serve returns.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
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

// runClosers releases whatever New already opened when a later step fails.
func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
