package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/liks79/langbridge-liveloop-app/internal/config"
	"github.com/liks79/langbridge-liveloop-app/internal/llm"
	"github.com/liks79/langbridge-liveloop-app/internal/protocol"
	"github.com/liks79/langbridge-liveloop-app/internal/telemetry"
	"github.com/liks79/langbridge-liveloop-app/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const maxBodyBytes = 1 << 20

// Publisher receives one event per completed API call.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Server is the edge API in front of the generative-AI service.
type Server struct {
	gen       llm.Generator
	synth     tts.Synthesizer
	cfg       config.Config
	cors      *corsPolicy
	limiter   *clientLimiter
	publisher Publisher
	tracer    trace.Tracer
	meter     metric.Meter
	requests  metric.Int64Counter
	latency   metric.Float64Histogram
	logger    *slog.Logger
	now       func() time.Time
	rng       *rand.Rand
	routes    map[string]handlerFunc
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

type Option func(*Server)

// WithMeter records request metrics on m instead of the global meter.
func WithMeter(m metric.Meter) Option {
	return func(s *Server) {
		if m != nil {
			s.meter = m
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// WithClock fixes the time used for dates in prompts and payloads.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRand makes category choice and prompt seeds reproducible.
func WithRand(r *rand.Rand) Option {
	return func(s *Server) {
		if r != nil {
			s.rng = r
		}
	}
}

func New(cfg config.Config, gen llm.Generator, synth tts.Synthesizer, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		gen:    gen,
		synth:  synth,
		cfg:    cfg,
		cors:   newCORSPolicy(cfg.CORS.AllowedOrigins),
		tracer: otel.Tracer(telemetry.ScopeAPI),
		logger: logger.With(slog.String("component", "api")),
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6c62)),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = newClientLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.meter == nil {
		s.meter = otel.Meter(telemetry.ScopeAPI)
	}
	s.requests, s.latency = newInstruments(s.meter, s.logger)
	s.routes = map[string]handlerFunc{
		protocol.PathAnalyze:         s.handleAnalyze,
		protocol.PathQuiz:            s.handleQuiz,
		protocol.PathTTS:             s.handleTTS,
		protocol.PathTopic:           s.handleTopic,
		protocol.PathDailyExpression: s.handleDailyExpression,
		protocol.PathDialogue:        s.handleDialogue,
	}
	return s
}

// Handler returns the API handler with recovery and CORS applied.
func (s *Server) Handler() http.Handler {
	return withSentryRecovery(s.logger, s.cors.wrap(http.HandlerFunc(s.serve)))
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !strings.HasPrefix(r.URL.Path, "/api/") {
		writeError(w, http.StatusNotFound, protocol.ErrorBody{Error: "Not found"})
		return
	}
	if strings.TrimSpace(s.cfg.Gemini.APIKey) == "" {
		writeError(w, http.StatusInternalServerError, protocol.ErrorBody{Error: "Server misconfigured: GEMINI_API_KEY missing"})
		return
	}

	handler, ok := s.routes[r.URL.Path]
	if !ok || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, protocol.ErrorBody{Error: "Not found"})
		return
	}
	if s.limiter != nil && !s.limiter.allow(clientKey(r), s.now()) {
		writeError(w, http.StatusTooManyRequests, protocol.ErrorBody{Error: "Rate limit exceeded"})
		return
	}

	endpoint := strings.TrimPrefix(r.URL.Path, "/api/")
	ctx, span := s.tracer.Start(r.Context(), "api."+endpoint,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("api.endpoint", endpoint)))
	defer span.End()

	start := s.now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	r = r.WithContext(ctx)
	r.Body = http.MaxBytesReader(rec, r.Body, maxBodyBytes)

	if err := handler(rec, r); err != nil {
		var he *httpError
		if errors.As(err, &he) {
			if he.status >= http.StatusInternalServerError {
				s.logger.Warn("upstream failure", slog.String("endpoint", endpoint), slog.Int("status", he.status), slog.String("error", he.body.Error))
			}
			writeError(rec, he.status, he.body)
		} else {
			s.logger.Error("handler failed", slog.String("endpoint", endpoint), slog.String("error", err.Error()))
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler failed")
			captureError(r, err, endpoint)
			writeError(rec, http.StatusInternalServerError, protocol.ErrorBody{Error: "Worker error", Detail: err.Error()})
		}
	}

	span.SetAttributes(attribute.Int("http.status_code", rec.status))
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.Int("status", rec.status))
	s.requests.Add(ctx, 1, attrs)
	s.latency.Record(ctx, float64(s.now().Sub(start))/float64(time.Millisecond), attrs)
	s.publish(protocol.APIEvent{
		RequestID: uuid.NewString(),
		Endpoint:  endpoint,
		Status:    rec.status,
		Origin:    r.Header.Get("Origin"),
		Model:     s.modelFor(r.URL.Path),
		Bytes:     rec.bytes,
		Latency:   s.now().Sub(start),
		Timestamp: start.UTC(),
	})
}

func newInstruments(meter metric.Meter, logger *slog.Logger) (metric.Int64Counter, metric.Float64Histogram) {
	requests, err := meter.Int64Counter("api.requests", metric.WithDescription("Completed API requests by endpoint and status"))
	if err != nil {
		logger.Warn("create request counter", slog.String("error", err.Error()))
		requests = noop.Int64Counter{}
	}
	latency, err := meter.Float64Histogram(telemetry.APIRequestDuration,
		metric.WithUnit("ms"),
		metric.WithDescription("API request latency including the upstream call"))
	if err != nil {
		logger.Warn("create latency histogram", slog.String("error", err.Error()))
		latency = noop.Float64Histogram{}
	}
	return requests, latency
}

func (s *Server) modelFor(path string) string {
	if path == protocol.PathTTS {
		return s.cfg.Gemini.TTSModel
	}
	return s.cfg.Gemini.TextModel
}

func (s *Server) publish(ev protocol.APIEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishJSON(protocol.SubjectForEndpoint(ev.Endpoint), ev); err != nil {
		s.logger.Debug("publish api event failed", slog.String("error", err.Error()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body protocol.ErrorBody) {
	writeJSON(w, status, body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.wrote {
		return
	}
	r.status = code
	r.wrote = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if !r.wrote {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

func withSentryRecovery(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic in handler", slog.Any("panic", rec), slog.String("path", req.URL.Path))
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), rec)
				hub.Flush(2 * time.Second)
				writeError(w, http.StatusInternalServerError, protocol.ErrorBody{Error: "Worker error"})
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func captureError(req *http.Request, err error, endpoint string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetTag("endpoint", endpoint)
		sentry.CaptureException(err)
	})
}
