package dialogue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/liks79/langbridge-liveloop-app/internal/audio"
	"github.com/liks79/langbridge-liveloop-app/internal/protocol"
)

type fakeResolver struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
	block chan struct{}
}

func (r *fakeResolver) Resolve(ctx context.Context, text, voice string) (*audio.Clip, error) {
	r.mu.Lock()
	r.calls = append(r.calls, voice+":"+text)
	fail := r.fail[text]
	block := r.block
	r.mu.Unlock()
	if block != nil {
		<-block
	}
	if fail {
		return nil, errors.New("synthesis failed")
	}
	return &audio.Clip{Text: text, Voice: voice}, nil
}

type spoken struct {
	text  string
	voice string
	at    time.Time
}

type fakeSpeaker struct {
	mu     sync.Mutex
	lines  []spoken
	player *Player
	index  []int
	hold   time.Duration
}

func (s *fakeSpeaker) Speak(ctx context.Context, text, voice string) error {
	s.mu.Lock()
	s.lines = append(s.lines, spoken{text: text, voice: voice, at: time.Now()})
	s.mu.Unlock()
	if s.player != nil {
		idx := s.player.Readiness().Current
		s.mu.Lock()
		s.index = append(s.index, idx)
		s.mu.Unlock()
	}
	if s.hold > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.hold):
		}
	}
	return nil
}

func fourTurns() []protocol.Turn {
	return []protocol.Turn{
		{Speaker: "Liz", En: "Hi David!", Ko: "안녕 데이비드!"},
		{Speaker: "David", En: "Hey Liz, how are you?", Ko: "안녕 리즈, 잘 지내?"},
		{Speaker: "Liz", En: "Great, thanks.", Ko: "좋아, 고마워."},
		{Speaker: "David", En: "Glad to hear it.", Ko: "다행이다."},
	}
}

func TestVoiceFor(t *testing.T) {
	if VoiceFor("Liz") != "WOMAN" || VoiceFor("David") != "MAN" || VoiceFor("") != "MAN" {
		t.Fatal("unexpected voice mapping")
	}
}

func TestPrepareCountsFailedTurns(t *testing.T) {
	turns := fourTurns()
	res := &fakeResolver{fail: map[string]bool{turns[1].En: true}}
	p := NewPlayer(res, &fakeSpeaker{})
	p.Load(turns)

	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	r := p.Readiness()
	if r.Loaded != 4 || r.Total != 4 || !r.Ready || r.Preparing {
		t.Fatalf("unexpected readiness %+v", r)
	}
	want := []string{"WOMAN:Hi David!", "MAN:Hey Liz, how are you?", "WOMAN:Great, thanks.", "MAN:Glad to hear it."}
	if len(res.calls) != len(want) {
		t.Fatalf("expected %d resolves, got %v", len(want), res.calls)
	}
	for i, w := range want {
		if res.calls[i] != w {
			t.Fatalf("resolve %d = %q, want %q", i, res.calls[i], w)
		}
	}
}

func TestPrepareAllFailingStillReady(t *testing.T) {
	turns := fourTurns()
	fail := map[string]bool{}
	for _, turn := range turns {
		fail[turn.En] = true
	}
	p := NewPlayer(&fakeResolver{fail: fail}, &fakeSpeaker{})
	p.Load(turns)
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if r := p.Readiness(); r.Loaded != len(turns) || !r.Ready {
		t.Fatalf("expected ready after all-failing prepare, got %+v", r)
	}
}

func TestPrepareIsNoOpWhenReadyOrBusy(t *testing.T) {
	res := &fakeResolver{block: make(chan struct{})}
	p := NewPlayer(res, &fakeSpeaker{})
	p.Load(fourTurns())

	done := make(chan error, 1)
	go func() { done <- p.Prepare(context.Background()) }()
	deadline := time.Now().Add(time.Second)
	for !p.Readiness().Preparing && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("re-entrant prepare: %v", err)
	}
	close(res.block)
	if err := <-done; err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(res.calls) != 4 {
		t.Fatalf("expected 4 resolves, got %d", len(res.calls))
	}
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("prepare when ready: %v", err)
	}
	if len(res.calls) != 4 {
		t.Fatalf("prepare when ready must not resolve again, got %d", len(res.calls))
	}
}

func TestLoadResetsReadiness(t *testing.T) {
	p := NewPlayer(&fakeResolver{}, &fakeSpeaker{})
	p.Load(fourTurns())
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	p.Load(fourTurns()[:2])
	if r := p.Readiness(); r.Loaded != 0 || r.Ready || r.Total != 2 {
		t.Fatalf("expected reset readiness, got %+v", r)
	}
}

func TestPlayAllRefusedWhenNotReady(t *testing.T) {
	sp := &fakeSpeaker{}
	p := NewPlayer(&fakeResolver{}, sp, WithPause(0))
	if err := p.PlayAll(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady without dialogue, got %v", err)
	}
	p.Load(fourTurns())
	if err := p.PlayAll(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady before prepare, got %v", err)
	}
	if len(sp.lines) != 0 {
		t.Fatal("nothing should be spoken")
	}
}

func TestPlayAllRefusedWhilePlaying(t *testing.T) {
	sp := &fakeSpeaker{hold: 100 * time.Millisecond}
	p := NewPlayer(&fakeResolver{}, sp, WithPause(0))
	p.Load(fourTurns()[:1])
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- p.PlayAll(context.Background()) }()
	deadline := time.Now().Add(time.Second)
	for !p.Readiness().Playing && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := p.PlayAll(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("play all: %v", err)
	}
}

func TestPlayAllSpeaksInOrderWithPause(t *testing.T) {
	sp := &fakeSpeaker{}
	pause := 20 * time.Millisecond
	p := NewPlayer(&fakeResolver{}, sp, WithPause(pause))
	sp.player = p
	p.Load(fourTurns())
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := p.PlayAll(context.Background()); err != nil {
		t.Fatalf("play all: %v", err)
	}

	turns := fourTurns()
	if len(sp.lines) != len(turns) {
		t.Fatalf("expected %d lines, got %d", len(turns), len(sp.lines))
	}
	for i, turn := range turns {
		if sp.lines[i].text != turn.En || sp.lines[i].voice != VoiceFor(turn.Speaker) {
			t.Fatalf("line %d = %+v", i, sp.lines[i])
		}
		if sp.index[i] != i {
			t.Fatalf("current index during line %d was %d", i, sp.index[i])
		}
		if i > 0 && sp.lines[i].at.Sub(sp.lines[i-1].at) < pause {
			t.Fatalf("turn %d started without the pause", i)
		}
	}
	if r := p.Readiness(); r.Playing || r.Current != -1 {
		t.Fatalf("expected flags cleared, got %+v", r)
	}
}

func TestPlayAllCancelClearsFlags(t *testing.T) {
	sp := &fakeSpeaker{hold: time.Second}
	p := NewPlayer(&fakeResolver{}, sp, WithPause(0))
	p.Load(fourTurns())
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := p.PlayAll(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if r := p.Readiness(); r.Playing || r.Current != -1 {
		t.Fatalf("expected flags cleared after cancel, got %+v", r)
	}
}
