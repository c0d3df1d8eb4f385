// Package apiclient is a typed client for the LangBridge edge API. Every
// call is a JSON POST issued through httpretry, so 429 answers are retried
// with exponential backoff before the caller sees them.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/liks79/langbridge-liveloop-app/internal/httpretry"
	"github.com/liks79/langbridge-liveloop-app/internal/protocol"
	"github.com/liks79/langbridge-liveloop-app/internal/script"
)

const maxErrorBody = 4 << 10

// StatusError reports a non-2xx answer from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return strconv.Itoa(e.Code)
}

func (e *StatusError) IsRateLimited() bool {
	return e.Code == http.StatusTooManyRequests
}

type Client struct {
	base       string
	httpClient *http.Client
	retryOpts  []httpretry.Option
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithRetryOptions tunes the 429 backoff applied to every call.
func WithRetryOptions(opts ...httpretry.Option) Option {
	return func(cl *Client) {
		cl.retryOpts = append(cl.retryOpts, opts...)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

func New(base string, opts ...Option) *Client {
	c := &Client{
		base:       strings.TrimRight(strings.TrimSpace(base), "/"),
		httpClient: http.DefaultClient,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retryOpts = append([]httpretry.Option{httpretry.WithLogger(c.logger)}, c.retryOpts...)
	return c
}

func (c *Client) Base() string {
	return c.base
}

func (c *Client) Analyze(ctx context.Context, text string, mode script.Mode) (*protocol.Analysis, error) {
	var out protocol.Analysis
	err := c.postJSON(ctx, protocol.PathAnalyze, protocol.AnalyzeRequest{InputText: text, DetectedMode: string(mode)}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Quiz(ctx context.Context, mode script.Mode, result *protocol.Analysis) (*protocol.Quiz, error) {
	var out protocol.Quiz
	err := c.postJSON(ctx, protocol.PathQuiz, protocol.QuizRequest{DetectedMode: string(mode), Result: result}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// TTS returns the synthesized audio payload (WAV bytes) for text.
func (c *Client) TTS(ctx context.Context, text, voice string) ([]byte, error) {
	resp, err := c.post(ctx, protocol.PathTTS, protocol.TTSRequest{Text: text, Voice: voice})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts payload: %w", err)
	}
	return data, nil
}

func (c *Client) Topic(ctx context.Context, keyword string) (*protocol.Topic, error) {
	var out protocol.Topic
	if err := c.postJSON(ctx, protocol.PathTopic, protocol.TopicRequest{Keyword: strings.TrimSpace(keyword)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DailyExpression(ctx context.Context) (*protocol.DailyExpression, error) {
	var out protocol.DailyExpression
	if err := c.postJSON(ctx, protocol.PathDailyExpression, protocol.DailyExpressionRequest{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Dialogue(ctx context.Context, text string) (*protocol.Dialogue, error) {
	var out protocol.Dialogue
	if err := c.postJSON(ctx, protocol.PathDialogue, protocol.DialogueRequest{Text: text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	resp, err := c.post(ctx, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// post returns a 2xx response or an error; the caller owns the body.
func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", path, err)
	}
	url := c.base + path

	resp, err := httpretry.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(req)
	}, c.retryOpts...)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		c.logger.Debug("api call failed", slog.String("path", path), slog.Int("status", resp.StatusCode))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	return resp, nil
}
