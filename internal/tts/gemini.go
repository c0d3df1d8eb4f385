package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/liks79/langbridge-liveloop-app/internal/config"
	"github.com/liks79/langbridge-liveloop-app/internal/llm"
	"github.com/liks79/langbridge-liveloop-app/internal/protocol"
)

const defaultMimeType = "audio/L16; rate=24000"

var rateParam = regexp.MustCompile(`rate=(\d+)`)

type geminiSynth struct {
	client *llm.Gemini
	cfg    config.GeminiConfig
	logger *slog.Logger
}

// NewGeminiSynth synthesizes speech with the Gemini audio modality and
// returns the PCM payload wrapped as WAV.
func NewGeminiSynth(client *llm.Gemini, cfg config.GeminiConfig, logger *slog.Logger) Synthesizer {
	return &geminiSynth{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "tts")),
	}
}

func (s *geminiSynth) Synthesize(ctx context.Context, req SynthRequest) (*Audio, error) {
	voice := ResolveVoice(req.Voice, s.cfg)
	resp, err := s.client.GenerateContent(ctx, s.cfg.TTSModel, llm.GenerateContentRequest{
		Contents: []llm.Content{{Parts: []llm.Part{{Text: req.Text}}}},
		GenerationConfig: &llm.GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &llm.SpeechConfig{
				VoiceConfig: llm.VoiceConfig{
					PrebuiltVoiceConfig: llm.PrebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	part, ok := resp.FirstPart()
	if !ok || part.InlineData == nil || part.InlineData.Data == "" {
		return nil, ErrNoAudio
	}
	pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
	if err != nil {
		return nil, fmt.Errorf("tts: decode audio payload: %w", err)
	}
	rate := SampleRateFromMime(part.InlineData.MimeType)
	data, err := EncodeWAV(pcm, rate, 1)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("synthesized speech",
		slog.String("voice", voice),
		slog.Int("sample_rate", rate),
		slog.Int("pcm_bytes", len(pcm)))
	return &Audio{WAV: data, SampleRate: rate, Voice: voice}, nil
}

// ResolveVoice maps the WOMAN and MAN aliases to configured voice names and
// falls back to the default voice when none is given.
func ResolveVoice(voice string, cfg config.GeminiConfig) string {
	switch voice {
	case protocol.VoiceWoman:
		return firstNonEmpty(cfg.TTSVoiceWoman, "Aoede")
	case protocol.VoiceMan:
		return firstNonEmpty(cfg.TTSVoiceMan, "Charon")
	case "":
		return firstNonEmpty(cfg.TTSVoice, "Aoede")
	default:
		return voice
	}
}

// SampleRateFromMime reads the rate parameter of an audio/L16 mime type.
func SampleRateFromMime(mime string) int {
	if strings.TrimSpace(mime) == "" {
		mime = defaultMimeType
	}
	m := rateParam.FindStringSubmatch(mime)
	if m == nil {
		return DefaultSampleRate
	}
	rate, err := strconv.Atoi(m[1])
	if err != nil || rate <= 0 {
		return DefaultSampleRate
	}
	return rate
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
