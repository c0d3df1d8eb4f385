package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/liks79/langbridge-liveloop-app/internal/config"
	"github.com/liks79/langbridge-liveloop-app/internal/llm"
	"github.com/liks79/langbridge-liveloop-app/internal/protocol"
	"github.com/liks79/langbridge-liveloop-app/internal/telemetry"
	"github.com/liks79/langbridge-liveloop-app/internal/tts"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type capturePublisher struct {
	mu     sync.Mutex
	events map[string][]protocol.APIEvent
}

func (p *capturePublisher) PublishJSON(subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = map[string][]protocol.APIEvent{}
	}
	p.events[subject] = append(p.events[subject], v.(protocol.APIEvent))
	return nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Gemini.APIKey = "test-key"
	return cfg
}

var fixedNow = time.Date(2026, 7, 14, 9, 30, 0, 0, time.UTC)

func newServer(t *testing.T, cfg config.Config, gen llm.Generator, synth tts.Synthesizer, opts ...Option) *Server {
	t.Helper()
	if synth == nil {
		synth = tts.NewMockSynth(24000)
	}
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithRand(rand.New(rand.NewPCG(1, 2))),
	}, opts...)
	return New(cfg, gen, synth, newLogger(), opts...)
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) protocol.ErrorBody {
	t.Helper()
	var body protocol.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestAnalyzeUsesModeDependentPrompt(t *testing.T) {
	gen := llm.NewMockGenerator(func(req llm.Request) (string, error) {
		return `{"originalText":"커피 주세요","variations":[{"style":"Formal (격식)","text":"Coffee, please."}]}`, nil
	})
	pub := &capturePublisher{}
	h := newServer(t, testConfig(), gen, nil, WithPublisher(pub)).Handler()

	rec := do(t, h, http.MethodPost, protocol.PathAnalyze, `{"inputText":"커피 주세요","detectedMode":"KtoE"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out protocol.Analysis
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Variations) != 1 || out.Variations[0].Text != "Coffee, please." {
		t.Fatalf("unexpected analysis %+v", out)
	}

	reqs := gen.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one generate call, got %d", len(reqs))
	}
	if reqs[0].Prompt != "커피 주세요" || !reqs[0].JSON {
		t.Fatalf("unexpected request %+v", reqs[0])
	}
	if !strings.Contains(reqs[0].System, "English writing coach for Korean speakers") {
		t.Fatalf("expected KtoE prompt, got %q", reqs[0].System)
	}

	events := pub.events[protocol.SubjectForEndpoint("analyze")]
	if len(events) != 1 || events[0].Status != http.StatusOK || events[0].RequestID == "" {
		t.Fatalf("expected one analyze event, got %+v", events)
	}
}

func TestAnalyzeUnknownModeFallsBackToEtoK(t *testing.T) {
	gen := llm.NewMockGenerator(func(llm.Request) (string, error) { return `{}`, nil })
	h := newServer(t, testConfig(), gen, nil).Handler()

	do(t, h, http.MethodPost, protocol.PathAnalyze, `{"inputText":"hello","detectedMode":"XtoY"}`, nil)
	if sys := gen.Requests()[0].System; !strings.Contains(sys, "Analyze the user's English input") {
		t.Fatalf("expected EtoK prompt, got %q", sys)
	}
}

func TestValidationErrors(t *testing.T) {
	h := newServer(t, testConfig(), llm.NewMockGenerator(nil), nil).Handler()

	cases := []struct {
		path, body, want string
	}{
		{protocol.PathAnalyze, `{"inputText":"   "}`, "inputText is required"},
		{protocol.PathQuiz, `{"detectedMode":"EtoK"}`, "result is required"},
		{protocol.PathTTS, `{"text":""}`, "text is required"},
		{protocol.PathDialogue, `{}`, "text is required"},
		{protocol.PathDialogue, `not json`, "text is required"},
	}
	for _, tc := range cases {
		rec := do(t, h, http.MethodPost, tc.path, tc.body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.path, rec.Code)
		}
		if got := decodeError(t, rec).Error; got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.path, tc.want, got)
		}
	}
}

func TestRoutingAndMisconfiguration(t *testing.T) {
	h := newServer(t, testConfig(), llm.NewMockGenerator(nil), nil).Handler()

	rec := do(t, h, http.MethodOptions, protocol.PathAnalyze, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for OPTIONS, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusNotFound || decodeError(t, rec).Error != "Not found" {
		t.Fatalf("expected 404 outside /api/, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, protocol.PathAnalyze, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for GET, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/unknown", "{}", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown endpoint, got %d", rec.Code)
	}

	cfg := testConfig()
	cfg.Gemini.APIKey = ""
	h = newServer(t, cfg, llm.NewMockGenerator(nil), nil).Handler()
	rec = do(t, h, http.MethodPost, protocol.PathAnalyze, `{"inputText":"hi"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 without key, got %d", rec.Code)
	}
	if got := decodeError(t, rec).Error; got != "Server misconfigured: GEMINI_API_KEY missing" {
		t.Fatalf("unexpected error %q", got)
	}
}

func TestCORS(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"https://app.example"}
	gen := llm.NewMockGenerator(func(llm.Request) (string, error) { return `{"text":"Hello there."}`, nil })
	h := newServer(t, cfg, gen, nil).Handler()

	rec := do(t, h, http.MethodPost, protocol.PathTopic, `{}`, map[string]string{"Origin": "https://app.example"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("expected echoed origin, got %q", got)
	}
	if rec.Header().Get("Vary") != "Origin" || rec.Header().Get("Access-Control-Allow-Methods") != "GET,POST,OPTIONS" {
		t.Fatalf("missing CORS headers: %v", rec.Header())
	}

	rec = do(t, h, http.MethodPost, protocol.PathTopic, `{}`, map[string]string{"Origin": "https://evil.example"})
	if rec.Code != http.StatusForbidden || decodeError(t, rec).Error != "Origin not allowed" {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if len(gen.Requests()) != 1 {
		t.Fatalf("expected no upstream call for a rejected origin")
	}

	rec = do(t, h, http.MethodOptions, protocol.PathTopic, "", map[string]string{"Origin": "https://evil.example"})
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected permissive preflight, got %d %v", rec.Code, rec.Header())
	}

	cfg.CORS.AllowedOrigins = nil
	h = newServer(t, cfg, gen, nil).Handler()
	rec = do(t, h, http.MethodPost, protocol.PathTopic, `{}`, nil)
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard without origin, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestUpstreamErrorsPassThrough(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		raw        string
		wantStatus int
		wantError  string
	}{
		{"status", &llm.UpstreamError{Status: 503, Detail: "overloaded"}, "", 503, "Gemini error"},
		{"no content", llm.ErrNoContent, "", 502, "No content from Gemini"},
		{"invalid json", nil, "not json", 502, "Invalid JSON from Gemini"},
		{"other", errors.New("boom"), "", 500, "Worker error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := llm.NewMockGenerator(func(llm.Request) (string, error) { return tc.raw, tc.err })
			h := newServer(t, testConfig(), gen, nil).Handler()
			rec := do(t, h, http.MethodPost, protocol.PathAnalyze, `{"inputText":"hi"}`, nil)
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			body := decodeError(t, rec)
			if body.Error != tc.wantError {
				t.Fatalf("expected %q, got %+v", tc.wantError, body)
			}
			if tc.name == "status" && (body.Status != 503 || body.Detail != "overloaded") {
				t.Fatalf("expected status and detail passed through, got %+v", body)
			}
			if tc.name == "invalid json" && body.Raw != "not json" {
				t.Fatalf("expected raw output echoed, got %+v", body)
			}
		})
	}
}

func TestTopicPrompts(t *testing.T) {
	gen := llm.NewMockGenerator(func(llm.Request) (string, error) { return `{"text":"  "}`, nil })
	h := newServer(t, testConfig(), gen, nil).Handler()

	rec := do(t, h, http.MethodPost, protocol.PathTopic, ``, nil)
	if rec.Code != http.StatusBadGateway || decodeError(t, rec).Error != "Invalid topic payload" {
		t.Fatalf("expected invalid topic payload, got %d %s", rec.Code, rec.Body.String())
	}
	req := gen.Requests()[0]
	if req.Prompt != "Generate today topic." {
		t.Fatalf("unexpected user prompt %q", req.Prompt)
	}
	for _, want := range []string{"Date: 2026-07-14", "Month: July", "Weekday: Tuesday", "Season: summer"} {
		if !strings.Contains(req.System, want) {
			t.Fatalf("expected %q in prompt", want)
		}
	}

	do(t, h, http.MethodPost, protocol.PathTopic, `{"keyword":"rain"}`, nil)
	if sys := gen.Requests()[1].System; !strings.Contains(sys, `Topic keyword: "rain"`) {
		t.Fatalf("expected keyword prompt, got %q", sys)
	}
}

func TestDailyExpression(t *testing.T) {
	gen := llm.NewMockGenerator(func(llm.Request) (string, error) {
		return `{"expression":"Hit the sack","meaningKo":"잠자리에 들다","exampleEn":"I'm going to hit the sack.","exampleKo":"나 이제 잘게."}`, nil
	})
	h := newServer(t, testConfig(), gen, nil).Handler()

	rec := do(t, h, http.MethodPost, protocol.PathDailyExpression, `{}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out protocol.DailyExpression
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Date != "2026-07-14" || out.Expression != "Hit the sack" {
		t.Fatalf("unexpected payload %+v", out)
	}
	found := false
	for _, c := range Categories {
		if out.Category == c {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a known category, got %q", out.Category)
	}
	if want := "Generate a daily expression for category: " + out.Category; gen.Requests()[0].Prompt != want {
		t.Fatalf("expected %q, got %q", want, gen.Requests()[0].Prompt)
	}

	rec = do(t, h, http.MethodPost, protocol.PathDailyExpression, `{"date":"2025-01-02"}`, nil)
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Date != "2025-01-02" {
		t.Fatalf("expected date override, got %q", out.Date)
	}
	rec = do(t, h, http.MethodPost, protocol.PathDailyExpression, `{"date":"tomorrow"}`, nil)
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Date != "2026-07-14" {
		t.Fatalf("expected malformed override ignored, got %q", out.Date)
	}
}

func TestDailyExpressionRequiresExample(t *testing.T) {
	gen := llm.NewMockGenerator(func(llm.Request) (string, error) { return `{"expression":"Hit the sack"}`, nil })
	h := newServer(t, testConfig(), gen, nil).Handler()

	rec := do(t, h, http.MethodPost, protocol.PathDailyExpression, `{}`, nil)
	if rec.Code != http.StatusBadGateway || decodeError(t, rec).Error != "Invalid daily expression payload" {
		t.Fatalf("expected invalid payload, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestDialogueRequiresTwoTurns(t *testing.T) {
	raw := `{"turns":[{"speaker":"Liz","en":"Hi","ko":"안녕"}]}`
	gen := llm.NewMockGenerator(func(llm.Request) (string, error) { return raw, nil })
	h := newServer(t, testConfig(), gen, nil).Handler()

	rec := do(t, h, http.MethodPost, protocol.PathDialogue, `{"text":"hello"}`, nil)
	if rec.Code != http.StatusBadGateway || decodeError(t, rec).Error != "Invalid dialogue payload" {
		t.Fatalf("expected invalid dialogue payload, got %d", rec.Code)
	}

	raw = `{"turns":[{"speaker":"Liz","en":"Hi","ko":"안녕"},{"speaker":"David","en":"Hey","ko":"어이"}]}`
	rec = do(t, h, http.MethodPost, protocol.PathDialogue, `{"text":"hello"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out protocol.Dialogue
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || len(out.Turns) != 2 || out.Turns[1].Speaker != "David" {
		t.Fatalf("unexpected dialogue %+v %v", out, err)
	}
	if !strings.Contains(gen.Requests()[1].System, "Input text:\nhello") {
		t.Fatalf("expected input text in prompt")
	}
}

func TestQuizPromptUsesResult(t *testing.T) {
	gen := llm.NewMockGenerator(func(llm.Request) (string, error) { return `{"questions":[]}`, nil })
	h := newServer(t, testConfig(), gen, nil).Handler()

	body := `{"detectedMode":"EtoK","result":{"originalText":"Break the ice","translation":"어색함을 깨다","keywords":[{"word":"ice"},{"word":"break"}]}}`
	rec := do(t, h, http.MethodPost, protocol.PathQuiz, body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	req := gen.Requests()[0]
	if req.Prompt != "Generate a quiz based on this context." {
		t.Fatalf("unexpected user prompt %q", req.Prompt)
	}
	if !strings.Contains(req.System, "Original Text: Break the ice\nTranslation: 어색함을 깨다\nKeywords: ice, break") {
		t.Fatalf("unexpected quiz context: %q", req.System)
	}
}

func TestTTSReturnsWAV(t *testing.T) {
	synth := tts.NewMockSynth(24000)
	h := newServer(t, testConfig(), llm.NewMockGenerator(nil), synth).Handler()

	rec := do(t, h, http.MethodPost, protocol.PathTTS, `{"text":"Hello","voice":"MAN"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "audio/wav" || rec.Header().Get("Cache-Control") != "private, max-age=86400" {
		t.Fatalf("unexpected headers %v", rec.Header())
	}
	if !strings.HasPrefix(rec.Body.String(), "RIFF") {
		t.Fatal("expected WAV body")
	}
	if reqs := synth.Requests(); len(reqs) != 1 || reqs[0].Voice != "MAN" {
		t.Fatalf("unexpected synth requests %+v", reqs)
	}

	synth.Err = tts.ErrNoAudio
	rec = do(t, h, http.MethodPost, protocol.PathTTS, `{"text":"Hello"}`, nil)
	if rec.Code != http.StatusBadGateway || decodeError(t, rec).Error != "No audio data from Gemini" {
		t.Fatalf("expected 502 for missing audio, got %d", rec.Code)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 1, Burst: 1}
	gen := llm.NewMockGenerator(func(llm.Request) (string, error) { return `{"text":"hi"}`, nil })
	h := newServer(t, cfg, gen, nil).Handler()

	first := do(t, h, http.MethodPost, protocol.PathTopic, `{}`, map[string]string{"X-Forwarded-For": "10.0.0.1"})
	second := do(t, h, http.MethodPost, protocol.PathTopic, `{}`, map[string]string{"X-Forwarded-For": "10.0.0.1"})
	other := do(t, h, http.MethodPost, protocol.PathTopic, `{}`, map[string]string{"X-Forwarded-For": "10.0.0.2"})

	if first.Code != http.StatusOK || other.Code != http.StatusOK {
		t.Fatalf("expected first requests to pass, got %d and %d", first.Code, other.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	if len(gen.Requests()) != 2 {
		t.Fatalf("expected limited request not to reach upstream, got %d calls", len(gen.Requests()))
	}
}

func TestPanicRecovered(t *testing.T) {
	gen := llm.NewMockGenerator(func(llm.Request) (string, error) { panic("boom") })
	h := newServer(t, testConfig(), gen, nil).Handler()

	rec := do(t, h, http.MethodPost, protocol.PathAnalyze, `{"inputText":"hi"}`, nil)
	if rec.Code != http.StatusInternalServerError || decodeError(t, rec).Error != "Worker error" {
		t.Fatalf("expected recovered 500, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRequestsAreCounted(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("t")
	gen := llm.NewMockGenerator(func(req llm.Request) (string, error) {
		return `{"text":"Let's grab coffee."}`, nil
	})
	h := newServer(t, testConfig(), gen, nil, WithMeter(meter)).Handler()

	do(t, h, http.MethodPost, protocol.PathTopic, `{}`, nil)
	do(t, h, http.MethodPost, protocol.PathAnalyze, `{}`, nil)

	counts, err := telemetry.Counters(context.Background(), reader)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if counts["api.requests"] != 2 {
		t.Fatalf("expected 2 counted requests, got %v", counts)
	}
}
