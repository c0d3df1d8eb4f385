package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/liks79/langbridge-liveloop-app/internal/llm"
	"github.com/liks79/langbridge-liveloop-app/internal/protocol"
	"github.com/liks79/langbridge-liveloop-app/internal/script"
	"github.com/liks79/langbridge-liveloop-app/internal/tts"
)

var dateOverride = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// httpError is a handled failure with its own status and body.
type httpError struct {
	status int
	body   protocol.ErrorBody
}

func (e *httpError) Error() string {
	return fmt.Sprintf("%d %s", e.status, e.body.Error)
}

func badRequest(msg string) error {
	return &httpError{status: http.StatusBadRequest, body: protocol.ErrorBody{Error: msg}}
}

func badGateway(msg, raw string) error {
	return &httpError{status: http.StatusBadGateway, body: protocol.ErrorBody{Error: msg, Raw: raw}}
}

// upstreamFailure maps generator errors onto the responses clients expect.
func upstreamFailure(err error) error {
	var up *llm.UpstreamError
	switch {
	case errors.As(err, &up):
		return &httpError{status: up.Status, body: protocol.ErrorBody{Error: "Gemini error", Status: up.Status, Detail: up.Detail}}
	case errors.Is(err, llm.ErrNoContent):
		return badGateway("No content from Gemini", "")
	case errors.Is(err, tts.ErrNoAudio):
		return badGateway("No audio data from Gemini", "")
	}
	return err
}

// decodeBody reads a JSON body into v. Lenient endpoints treat an empty or
// malformed body as {}.
func decodeBody(r *http.Request, v any, lenient bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || lenient {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return badRequest("Request body is required")
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &httpError{status: http.StatusRequestEntityTooLarge, body: protocol.ErrorBody{Error: "Request body too large"}}
	}
	return badRequest("Invalid JSON body")
}

func (s *Server) generate(ctx context.Context, system, prompt string) (string, error) {
	raw, err := s.gen.Generate(ctx, llm.Request{System: system, Prompt: prompt, JSON: true})
	if err != nil {
		return "", upstreamFailure(err)
	}
	return raw, nil
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) error {
	var req protocol.AnalyzeRequest
	if err := decodeBody(r, &req, false); err != nil {
		return err
	}
	if strings.TrimSpace(req.InputText) == "" {
		return badRequest("inputText is required")
	}
	mode := script.ParseMode(req.DetectedMode)

	raw, err := s.generate(r.Context(), analyzePrompt(mode), req.InputText)
	if err != nil {
		return err
	}
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return badGateway("Invalid JSON from Gemini", raw)
	}
	writeJSON(w, http.StatusOK, parsed)
	return nil
}

func (s *Server) handleQuiz(w http.ResponseWriter, r *http.Request) error {
	var req protocol.QuizRequest
	if err := decodeBody(r, &req, false); err != nil {
		return err
	}
	if req.Result == nil {
		return badRequest("result is required")
	}
	mode := script.ParseMode(req.DetectedMode)

	raw, err := s.generate(r.Context(), quizPrompt(mode, req.Result), promptQuizUser)
	if err != nil {
		return err
	}
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return badGateway("Invalid JSON from Gemini", raw)
	}
	writeJSON(w, http.StatusOK, parsed)
	return nil
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) error {
	var req protocol.TTSRequest
	if err := decodeBody(r, &req, false); err != nil {
		return err
	}
	if strings.TrimSpace(req.Text) == "" {
		return badRequest("text is required")
	}

	audio, err := s.synth.Synthesize(r.Context(), tts.SynthRequest{Text: req.Text, Voice: req.Voice})
	if err != nil {
		return upstreamFailure(err)
	}
	h := w.Header()
	h.Set("Content-Type", "audio/wav")
	h.Set("Cache-Control", "private, max-age=86400")
	h.Set("Content-Length", strconv.Itoa(len(audio.WAV)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.WAV)
	return nil
}

func (s *Server) handleTopic(w http.ResponseWriter, r *http.Request) error {
	var req protocol.TopicRequest
	_ = decodeBody(r, &req, true)

	raw, err := s.generate(r.Context(), topicPrompt(req.Keyword, s.now().UTC()), promptTopicUser)
	if err != nil {
		return err
	}
	parsed, err := parseObject(raw)
	if err != nil {
		return err
	}
	text := stringField(parsed, "text")
	if strings.TrimSpace(text) == "" {
		return badGateway("Invalid topic payload", raw)
	}
	writeJSON(w, http.StatusOK, protocol.Topic{Text: text})
	return nil
}

func (s *Server) handleDailyExpression(w http.ResponseWriter, r *http.Request) error {
	var req protocol.DailyExpressionRequest
	_ = decodeBody(r, &req, true)

	now := s.now().UTC()
	date := now.Format(time.DateOnly)
	if dateOverride.MatchString(req.Date) {
		date = req.Date
	}
	category := Categories[s.rng.IntN(len(Categories))]
	system := dailyExpressionPrompt(date, now.Weekday(), category, s.rng.Float64())

	raw, err := s.generate(r.Context(), system, dailyExpressionUserPrompt(category))
	if err != nil {
		return err
	}
	parsed, err := parseObject(raw)
	if err != nil {
		return err
	}
	out := protocol.DailyExpression{
		Expression: stringField(parsed, "expression"),
		MeaningKo:  stringField(parsed, "meaningKo"),
		ExampleEn:  stringField(parsed, "exampleEn"),
		ExampleKo:  stringField(parsed, "exampleKo"),
		Category:   stringField(parsed, "category"),
		Date:       date,
	}
	if strings.TrimSpace(out.Expression) == "" || strings.TrimSpace(out.ExampleEn) == "" {
		return badGateway("Invalid daily expression payload", raw)
	}
	if out.Category == "" {
		out.Category = category
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

func (s *Server) handleDialogue(w http.ResponseWriter, r *http.Request) error {
	var req protocol.DialogueRequest
	_ = decodeBody(r, &req, true)
	if strings.TrimSpace(req.Text) == "" {
		return badRequest("text is required")
	}

	raw, err := s.generate(r.Context(), dialoguePrompt(req.Text), promptDialogueUser)
	if err != nil {
		return err
	}
	parsed, err := parseObject(raw)
	if err != nil {
		return err
	}
	turns, ok := parsed["turns"].([]any)
	if !ok || len(turns) < 2 {
		return badGateway("Invalid dialogue payload", raw)
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
	return nil
}

// parseObject decodes raw model output. Valid JSON that is not an object
// yields an empty map so field checks fail as invalid payloads.
func parseObject(raw string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, badGateway("Invalid JSON from Gemini", raw)
	}
	m, _ := v.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
