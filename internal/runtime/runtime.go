package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/liks79/langbridge-liveloop-app/internal/api"
	"github.com/liks79/langbridge-liveloop-app/internal/bus"
	"github.com/liks79/langbridge-liveloop-app/internal/config"
	"github.com/liks79/langbridge-liveloop-app/internal/llm"
	"github.com/liks79/langbridge-liveloop-app/internal/natsserver"
	"github.com/liks79/langbridge-liveloop-app/internal/protocol"
	"github.com/liks79/langbridge-liveloop-app/internal/telemetry"
	"github.com/liks79/langbridge-liveloop-app/internal/tts"
)

const eventStream = "LANGBRIDGE_API"

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	telemetry     *telemetry.Provider
	nats          *natsserver.EmbeddedServer
	bus           *bus.Client
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the edge API until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	tel, err := telemetry.Setup(ctx, r.cfg, r.cfg.RuntimeName, r.logger, telemetry.WithPrometheus())
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel

	flushSentry := setupSentry(r.cfg, r.logger)
	defer flushSentry()

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx); err != nil {
			r.logger.Warn("event bus unavailable; continuing without events", slog.String("error", err.Error()))
		}
	}

	if r.cfg.Gemini.APIKey == "" {
		r.logger.Warn("gemini api key missing; /api requests will fail")
	}
	gemini := llm.NewGemini(r.cfg.Gemini, r.logger, llm.WithMeter(tel.Meter(telemetry.ScopeLLM)))
	synth := tts.NewGeminiSynth(gemini, r.cfg.Gemini, r.logger)
	opts := []api.Option{api.WithMeter(tel.Meter(telemetry.ScopeAPI))}
	if r.bus != nil {
		opts = append(opts, api.WithPublisher(r.bus))
	}
	server := api.New(r.cfg, gemini, synth, r.logger, opts...)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(server.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricsHandler := tel.MetricsHandler(); metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("metrics", r.cfg.Telemetry.PrometheusBind))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.bus.Close()
	r.nats.Shutdown()

	if err := r.telemetry.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}

	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	r.nats = embedded

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}
	if err := client.EnsureStream(eventStream, protocol.SubjectAPIEventPrefix+".>"); err != nil {
		r.logger.Warn("event stream unavailable", slog.String("error", err.Error()))
	}
	r.bus = client
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) routes(apiHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.Handle("/", apiHandler)
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (!r.cfg.Bus.Enabled || r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// setupSentry initializes error reporting when a DSN is configured and
// returns the flush to run on shutdown.
func setupSentry(cfg config.Config, logger *slog.Logger) func() {
	if cfg.Sentry.DSN == "" {
		return func() {}
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		EnableTracing:    cfg.Sentry.TracesSampleRate > 0,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Environment:      cfg.Environment,
		ServerName:       cfg.RuntimeName,
	})
	if err != nil {
		logger.Warn("sentry init failed", slog.String("error", err.Error()))
		return func() {}
	}
	logger.Info("sentry initialized")
	return func() { sentry.Flush(2 * time.Second) }
}
