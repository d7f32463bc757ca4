package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/inference"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
	"github.com/loqalabs/loqa-voice/internal/synthesis"
)

// Runtime hosts the synthesis HTTP service and its supporting infrastructure.
type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	ready      atomic.Bool

	telemetry *Telemetry
	nats      *natsserver.EmbeddedServer
	bus       *bus.Client
	store     *eventstore.Store
	engine    inference.Engine
}

// Option overrides a component normally built from config.
type Option func(*Runtime)

// WithEngine injects a ready inference engine.
func WithEngine(engine inference.Engine) Option {
	return func(r *Runtime) { r.engine = engine }
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start serves until ctx is cancelled, then shuts everything down.
func (r *Runtime) Start(ctx context.Context) error {
	handler, err := r.setup(ctx)
	if err != nil {
		return errors.Join(err, r.teardown(context.Background()))
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.Info("runtime started", slog.String("addr", addr))
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(err, r.teardown(shutdownCtx))
}

// setup builds every component and returns the root HTTP handler.
func (r *Runtime) setup(ctx context.Context) (http.Handler, error) {
	telemetry, err := SetupTelemetry(r.cfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = telemetry

	if err := r.connectBus(ctx); err != nil {
		return nil, err
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "journal")))
	if err != nil {
		return nil, fmt.Errorf("open synthesis journal: %w", err)
	}
	r.store = store

	if r.engine == nil {
		engine, err := inference.NewEngine(r.cfg.Inference)
		if err != nil {
			return nil, err
		}
		r.engine = engine
	}
	encoder, err := audio.NewEncoder(r.cfg.Encoder.Command)
	if err != nil {
		return nil, err
	}

	svc := synthesis.NewService(r.engine, encoder, synthesis.Options{
		MaxInputChars: r.cfg.Synthesis.MaxInputChars,
		Primary: inference.Params{
			MaxSeconds:  r.cfg.Synthesis.MaxSeconds,
			Temperature: r.cfg.Synthesis.Temperature,
			TopK:        r.cfg.Synthesis.TopK,
		},
	}, r.logger)

	if r.cfg.Inference.Warmup {
		warmCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		if err := svc.Warmup(warmCtx); err != nil {
			r.logger.Warn("warmup failed, continuing", slogError(err))
		}
		cancel()
	}

	recorder := &outcomeRecorder{store: r.store, logger: r.logger.With(slog.String("component", "recorder"))}
	if r.bus != nil {
		recorder.events = r.bus
	}

	mux := http.NewServeMux()
	synthesis.NewHandler(svc, synthesis.HandlerOptions{
		ChunkSize: r.cfg.Synthesis.ChunkSize,
		Timeout:   time.Duration(r.cfg.Synthesis.TimeoutMS) * time.Millisecond,
		Observer:  recorder,
	}, r.logger).Register(mux)
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	mux.HandleFunc("GET "+journalPath, r.handleJournal)
	if r.telemetry.Metrics != nil {
		mux.Handle("GET /metrics", r.telemetry.Metrics)
	}

	r.ready.Store(true)
	return otelhttp.NewHandler(mux, r.cfg.RuntimeName), nil
}

func (r *Runtime) connectBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	ns, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "nats")))
	if err != nil {
		return err
	}
	r.nats = ns
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}
	r.bus = client
	return nil
}

func (r *Runtime) teardown(ctx context.Context) error {
	var errs []error
	if r.bus != nil {
		r.bus.Close()
	}
	r.nats.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	if r.telemetry != nil {
		if err := r.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// healthy reports whether the bus, when enabled, is connected.
func (r *Runtime) healthy() bool {
	return !r.cfg.Bus.Enabled || r.bus.Healthy()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !r.healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("degraded"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
