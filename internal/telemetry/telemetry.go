// Package telemetry installs the OpenTelemetry tracer and meter providers
// shared by the edge server and the study client.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/liks79/langbridge-liveloop-app/internal/config"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// Instrumentation scopes of the packages that record metrics.
const (
	ScopeAPI   = "github.com/liks79/langbridge-liveloop-app/internal/api"
	ScopeLLM   = "github.com/liks79/langbridge-liveloop-app/internal/llm"
	ScopeAudio = "github.com/liks79/langbridge-liveloop-app/internal/audio"
)

// Histograms recorded in milliseconds. Gemini calls range from a few hundred
// milliseconds for text to tens of seconds for speech.
const (
	APIRequestDuration    = "api.request.duration"
	GeminiRequestDuration = "gemini.request.duration"
)

var latencyBucketsMS = []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000}

// Provider owns the process-wide tracer and meter providers.
type Provider struct {
	tracer  *sdktrace.TracerProvider
	meter   *sdkmetric.MeterProvider
	handler http.Handler
	reader  *sdkmetric.ManualReader
}

type options struct {
	prometheus bool
	snapshots  bool
}

type Option func(*options)

// WithPrometheus exposes metrics through MetricsHandler for scraping.
func WithPrometheus() Option {
	return func(o *options) { o.prometheus = true }
}

// WithSnapshots keeps an in-process reader so Counters can report totals.
func WithSnapshots() Option {
	return func(o *options) { o.snapshots = true }
}

// Setup builds the providers for service and installs them as the otel
// globals.
func Setup(ctx context.Context, cfg config.Config, service string, logger *slog.Logger, opts ...Option) (*Provider, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger = logger.With(slog.String("component", "telemetry"))

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(service),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	tp, err := newTracerProvider(ctx, cfg.Telemetry, res, logger)
	if err != nil {
		return nil, err
	}

	p := &Provider{tracer: tp}
	mopts := []sdkmetric.Option{sdkmetric.WithResource(res), sdkmetric.WithView(latencyViews()...)}
	if o.prometheus {
		registry := promclient.NewRegistry()
		exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			logger.Warn("prometheus exporter unavailable", slog.String("error", err.Error()))
		} else {
			mopts = append(mopts, sdkmetric.WithReader(exporter))
			p.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		}
	}
	if o.snapshots {
		p.reader = sdkmetric.NewManualReader()
		mopts = append(mopts, sdkmetric.WithReader(p.reader))
	}
	p.meter = sdkmetric.NewMeterProvider(mopts...)

	otel.SetTracerProvider(p.tracer)
	otel.SetMeterProvider(p.meter)
	return p, nil
}

func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		logger.Info("tracing to otlp", slog.String("endpoint", endpoint))
		return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res)), nil
	}

	// Spans go to stderr only when debugging; stdout belongs to logs and
	// command output.
	if cfg.Level() == slog.LevelDebug {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		logger.Debug("tracing to stderr")
		return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res)), nil
	}

	return sdktrace.NewTracerProvider(sdktrace.WithResource(res)), nil
}

func latencyViews() []sdkmetric.View {
	views := make([]sdkmetric.View, 0, 2)
	for _, name := range []string{APIRequestDuration, GeminiRequestDuration} {
		views = append(views, sdkmetric.NewView(
			sdkmetric.Instrument{Name: name},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: latencyBucketsMS}},
		))
	}
	return views
}

// Meter returns a meter from this provider rather than the global one.
func (p *Provider) Meter(scope string) metric.Meter {
	return p.meter.Meter(scope)
}

// MetricsHandler serves the Prometheus exposition, or nil without
// WithPrometheus.
func (p *Provider) MetricsHandler() http.Handler {
	return p.handler
}

// Counters returns the running total of every integer counter, summed over
// attributes. It needs WithSnapshots.
func (p *Provider) Counters(ctx context.Context) (map[string]int64, error) {
	if p.reader == nil {
		return nil, errors.New("telemetry: snapshots not enabled")
	}
	return Counters(ctx, p.reader)
}

// Counters collects r and sums each Int64 counter.
func Counters(ctx context.Context, r sdkmetric.Reader) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := r.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out, nil
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return errors.Join(p.meter.Shutdown(ctx), p.tracer.Shutdown(ctx))
}
