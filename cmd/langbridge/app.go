package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/liks79/langbridge-liveloop-app/internal/apiclient"
	"github.com/liks79/langbridge-liveloop-app/internal/audio"
	"github.com/liks79/langbridge-liveloop-app/internal/config"
	"github.com/liks79/langbridge-liveloop-app/internal/dialogue"
	"github.com/liks79/langbridge-liveloop-app/internal/orchestrator"
	"github.com/liks79/langbridge-liveloop-app/internal/playback"
	"github.com/liks79/langbridge-liveloop-app/internal/player"
	"github.com/liks79/langbridge-liveloop-app/internal/speech"
	"github.com/liks79/langbridge-liveloop-app/internal/store"
	"github.com/liks79/langbridge-liveloop-app/internal/telemetry"
)

// app is the wired client: API, audio pipeline, playback and the study
// orchestrator on top of the local store.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	api      *apiclient.Client
	engine   *audio.Engine
	player   player.Player
	speaker  *playback.Controller
	dialogue *dialogue.Player
	store    *store.Store
	orch     *orchestrator.Orchestrator
	tel      *telemetry.Provider
}

const (
	clientService         = "langbridge-client"
	telemetryFlushTimeout = 2 * time.Second
)

// newApp wires the client. The audio device is only opened when sound is
// true; otherwise playback goes to a silent player.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, sound bool) (*app, error) {
	tel, err := telemetry.Setup(ctx, cfg, clientService, logger, telemetry.WithSnapshots())
	if err != nil {
		return nil, err
	}

	client := apiclient.New(cfg.Client.APIBase, apiclient.WithLogger(logger))

	engine, err := audio.NewEngine(audio.SynthesizerFunc(client.TTS),
		audio.WithCooldown(cfg.Client.Audio.Cooldown()),
		audio.WithPanicDelay(cfg.Client.Audio.PanicDelay()),
		audio.WithRateLimitRetries(cfg.Client.Audio.RateLimitRetries),
		audio.WithCacheEntries(cfg.Client.Audio.CacheEntries),
		audio.WithLogger(logger),
		audio.WithMeter(tel.Meter(telemetry.ScopeAudio)),
	)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("audio engine: %w", err)
	}

	out := openPlayer(cfg.Client.Playback, logger, sound)
	local := openSpeech(cfg.Client.Speech, logger, sound)

	controller := playback.New(engine, out, local,
		playback.WithLogger(logger),
		playback.WithRate(cfg.Client.Playback.Rate),
	)
	dialogues := dialogue.NewPlayer(engine, controller,
		dialogue.WithPause(cfg.Client.Playback.DialoguePause()),
		dialogue.WithLogger(logger),
	)

	st, err := store.Open(ctx, cfg.Client, logger)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	orch := orchestrator.New(client, engine, st,
		orchestrator.WithLogger(logger),
		orchestrator.WithDialogueLoader(dialogues),
		orchestrator.WithSpeaker(controller),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		api:      client,
		engine:   engine,
		player:   out,
		speaker:  controller,
		dialogue: dialogues,
		store:    st,
		orch:     orch,
		tel:      tel,
	}, nil
}

func openPlayer(cfg config.PlaybackConfig, logger *slog.Logger, sound bool) player.Player {
	if !sound || cfg.Player == "none" {
		return player.NewMockPlayer(0)
	}
	p, err := player.NewOtoPlayer(player.DefaultSampleRate, logger)
	if err != nil {
		logger.Warn("audio device unavailable, playback disabled", slog.String("error", err.Error()))
		return player.NewMockPlayer(0)
	}
	return p
}

func openSpeech(cfg config.SpeechConfig, logger *slog.Logger, sound bool) speech.Engine {
	if !sound || cfg.Command == "" {
		return speech.NewMockEngine(0)
	}
	e, err := speech.NewExecEngine(cfg.Command, cfg.WordsPerMinute)
	if err != nil {
		logger.Warn("speech command invalid, on-device speech disabled", slog.String("error", err.Error()))
		return speech.NewMockEngine(0)
	}
	return e
}

// counters reports the client's metric totals since start.
func (a *app) counters(ctx context.Context) map[string]int64 {
	counts, err := a.tel.Counters(ctx)
	if err != nil {
		a.logger.Debug("metrics snapshot failed", slog.String("error", err.Error()))
		return nil
	}
	return counts
}

func (a *app) Close() error {
	a.speaker.Cancel()
	a.orch.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
	defer cancel()
	if counts := a.counters(ctx); len(counts) > 0 {
		attrs := make([]any, 0, len(counts))
		for name, v := range counts {
			attrs = append(attrs, slog.Int64(name, v))
		}
		a.logger.Debug("client metric totals", attrs...)
	}
	return errors.Join(a.store.Close(), a.tel.Shutdown(ctx))
}

// withApp loads the wired client for one command run.
func withApp(ctx context.Context, sound bool, fn func(*app) error) error {
	cfg, logger, err := requireConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger, sound)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
