package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/liks79/langbridge-liveloop-app/internal/config"
	"github.com/liks79/langbridge-liveloop-app/internal/httpretry"
	"github.com/liks79/langbridge-liveloop-app/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const maxDetailBytes = 8 << 10

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type Content struct {
	Parts []Part `json:"parts"`
}

type GenerationConfig struct {
	ResponseMimeType   string        `json:"responseMimeType,omitempty"`
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig VoiceConfig `json:"voiceConfig"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// GenerateContentRequest is the generateContent request body.
type GenerateContentRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

type GenerateContentResponse struct {
	Candidates []struct {
		Content Content `json:"content"`
	} `json:"candidates"`
}

// FirstPart returns the first part of the first candidate.
func (r *GenerateContentResponse) FirstPart() (Part, bool) {
	if r == nil || len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return Part{}, false
	}
	return r.Candidates[0].Content.Parts[0], true
}

// Gemini talks to the Gemini generateContent API. 429 answers are retried
// through httpretry before they surface as an UpstreamError.
type Gemini struct {
	endpoint   string
	apiKey     string
	textModel  string
	httpClient *http.Client
	retryOpts  []httpretry.Option
	tracer     trace.Tracer
	meter      metric.Meter
	calls      metric.Int64Counter
	latency    metric.Float64Histogram
	logger     *slog.Logger
}

type GeminiOption func(*Gemini)

func WithHTTPClient(c *http.Client) GeminiOption {
	return func(g *Gemini) {
		if c != nil {
			g.httpClient = c
		}
	}
}

func WithRetryOptions(opts ...httpretry.Option) GeminiOption {
	return func(g *Gemini) {
		g.retryOpts = append(g.retryOpts, opts...)
	}
}

// WithMeter records upstream calls on m instead of the global meter.
func WithMeter(m metric.Meter) GeminiOption {
	return func(g *Gemini) {
		if m != nil {
			g.meter = m
		}
	}
}

func NewGemini(cfg config.GeminiConfig, logger *slog.Logger, opts ...GeminiOption) *Gemini {
	logger = logger.With(slog.String("component", "gemini"))
	g := &Gemini{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		textModel:  cfg.TextModel,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		tracer:     otel.Tracer(telemetry.ScopeLLM),
		logger:     logger,
	}
	g.retryOpts = []httpretry.Option{
		httpretry.WithMaxRetries(cfg.MaxRetries),
		httpretry.WithLogger(logger),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.meter == nil {
		g.meter = otel.Meter(telemetry.ScopeLLM)
	}
	var err error
	if g.calls, err = g.meter.Int64Counter("gemini.requests",
		metric.WithDescription("HTTP attempts against generateContent, retries included")); err != nil {
		g.calls = noop.Int64Counter{}
	}
	if g.latency, err = g.meter.Float64Histogram(telemetry.GeminiRequestDuration, metric.WithUnit("ms")); err != nil {
		g.latency = noop.Float64Histogram{}
	}
	return g
}

func (g *Gemini) Configured() bool {
	return g != nil && g.apiKey != ""
}

// Generate runs a text prompt and returns the first candidate's text.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = g.textModel
	}
	body := GenerateContentRequest{
		Contents: []Content{{Parts: []Part{{Text: req.Prompt}}}},
	}
	if req.System != "" {
		body.SystemInstruction = &Content{Parts: []Part{{Text: req.System}}}
	}
	if req.JSON {
		body.GenerationConfig = &GenerationConfig{ResponseMimeType: "application/json"}
	}
	resp, err := g.GenerateContent(ctx, model, body)
	if err != nil {
		return "", err
	}
	part, ok := resp.FirstPart()
	if !ok || part.Text == "" {
		return "", ErrNoContent
	}
	return part.Text, nil
}

// GenerateContent posts body to models/{model}:generateContent.
func (g *Gemini) GenerateContent(ctx context.Context, model string, body GenerateContentRequest) (*GenerateContentResponse, error) {
	ctx, span := g.tracer.Start(ctx, "gemini.generateContent", trace.WithAttributes(attribute.String("gemini.model", model)))
	defer span.End()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode generateContent request: %w", err)
	}
	target := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.endpoint, url.PathEscape(model), url.QueryEscape(g.apiKey))

	start := time.Now()
	resp, err := httpretry.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := g.httpClient.Do(req)
		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		g.calls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("status", status)))
		return resp, err
	}, g.retryOpts...)
	g.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("model", model)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("gemini request: %w", redact(err, g.apiKey))
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))
		g.logger.Warn("gemini returned non-OK status",
			slog.String("model", model),
			slog.Int("status", resp.StatusCode))
		span.SetStatus(codes.Error, resp.Status)
		return nil, &UpstreamError{Status: resp.StatusCode, Detail: string(detail)}
	}

	var out GenerateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode generateContent response: %w", err)
	}
	return &out, nil
}

// redact strips the API key from transport errors, which embed the URL.
func redact(err error, key string) error {
	if key == "" {
		return err
	}
	msg := err.Error()
	for _, s := range []string{url.QueryEscape(key), key} {
		msg = strings.ReplaceAll(msg, s, "REDACTED")
	}
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
