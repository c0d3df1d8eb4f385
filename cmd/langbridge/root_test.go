package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/liks79/langbridge-liveloop-app/internal/protocol"
)

type fakeEdge struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeEdge) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func newFakeEdge(t *testing.T) (*fakeEdge, *httptest.Server) {
	t.Helper()
	f := &fakeEdge{calls: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[r.URL.Path]++
		f.mu.Unlock()

		var body any
		switch r.URL.Path {
		case protocol.PathAnalyze:
			body = protocol.Analysis{
				OriginalText: "Break a leg",
				Translation:  "행운을 빌어",
				Keywords:     []protocol.Keyword{{Word: "break a leg", Meaning: "행운을 빌다", Usage: "Break a leg tonight!"}},
			}
		case protocol.PathQuiz:
			body = protocol.Quiz{Questions: []protocol.QuizQuestion{
				{ID: 1, Question: "Meaning?", Options: []string{"행운을 빌어", "다리를 다쳐"}, CorrectAnswerIndex: 0},
				{ID: 2, Question: "Usage?", Options: []string{"before a show", "after a fall"}, CorrectAnswerIndex: 0},
			}}
		case protocol.PathTopic:
			body = protocol.Topic{Text: "The early bird catches the worm."}
		case protocol.PathDailyExpression:
			body = protocol.DailyExpression{Expression: "Piece of cake", ExampleEn: "It was a piece of cake.", Date: "2026-10-16"}
		case protocol.PathDialogue:
			body = protocol.Dialogue{Turns: []protocol.Turn{
				{Speaker: "A", En: "Big day?", Ko: "중요한 날이야?"},
				{Speaker: "B", En: "Break a leg!", Ko: "행운을 빌어!"},
			}}
		case protocol.PathTTS:
			w.Header().Set("Content-Type", "audio/wav")
			_, _ = w.Write([]byte("RIFF"))
			return
		default:
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LANGBRIDGE_CLIENT_AUDIO_COOLDOWN_MS", "0")
	t.Setenv("LANGBRIDGE_CLIENT_PLAYBACK_PLAYER", "none")
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestNewRootCmdHasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"analyze", "quiz", "topic", "daily", "dialogue", "speak", "vocab", "history", "study", "stats"}
	for _, name := range want {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected subcommand %q not found in root", name)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("expected --config persistent flag to be registered")
	}
}

func TestRequireConfigFailsWhenNotLoaded(t *testing.T) {
	orig := configLoaded
	t.Cleanup(func() { configLoaded = orig })
	configLoaded = false

	if _, _, err := requireConfig(); err == nil {
		t.Fatal("expected error when config is not loaded")
	}
}

func TestAnalyzeCommand(t *testing.T) {
	edge, srv := newFakeEdge(t)

	out, err := runCLI(t, "", "--api-base", srv.URL, "--retention", "ephemeral", "analyze", "Break a leg")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(out, "번역: 행운을 빌어") {
		t.Fatalf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "break a leg: 행운을 빌다") {
		t.Fatalf("keywords missing from output: %q", out)
	}
	if edge.count(protocol.PathAnalyze) != 1 {
		t.Fatalf("expected one analyze call, got %d", edge.count(protocol.PathAnalyze))
	}
	// Close waits for the background dialogue.
	if edge.count(protocol.PathDialogue) != 1 {
		t.Fatalf("expected background dialogue call, got %d", edge.count(protocol.PathDialogue))
	}
}

func TestQuizCommandReadsAnswers(t *testing.T) {
	_, srv := newFakeEdge(t)

	out, err := runCLI(t, "1\nx\n2\n", "--api-base", srv.URL, "--retention", "ephemeral", "quiz", "Break a leg")
	if err != nil {
		t.Fatalf("quiz: %v", err)
	}
	if !strings.Contains(out, "1-2 사이의 번호를 입력하세요.") {
		t.Fatalf("expected invalid answer prompt: %q", out)
	}
	if !strings.Contains(out, "점수: 1/2") {
		t.Fatalf("expected score 1/2: %q", out)
	}
}

func TestVocabAndHistoryPersist(t *testing.T) {
	_, srv := newFakeEdge(t)
	t.Setenv("LANGBRIDGE_CLIENT_STORE_PATH", t.TempDir()+"/lb.db")
	base := []string{"--api-base", srv.URL, "--retention", "persistent"}

	if _, err := runCLI(t, "", append(base, "vocab", "add", "piece of cake", "--meaning", "식은 죽 먹기")...); err != nil {
		t.Fatalf("vocab add: %v", err)
	}
	out, err := runCLI(t, "", append(base, "vocab")...)
	if err != nil {
		t.Fatalf("vocab: %v", err)
	}
	if !strings.Contains(out, "piece of cake - 식은 죽 먹기") {
		t.Fatalf("saved term missing: %q", out)
	}

	if _, err := runCLI(t, "", append(base, "analyze", "Break a leg")...); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	out, err = runCLI(t, "", append(base, "history")...)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "Break a leg") {
		t.Fatalf("history missing entry: %q", out)
	}

	out, err = runCLI(t, "", append(base, "stats")...)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "연속 학습: 1일") || !strings.Contains(out, "단어장: 1/300") {
		t.Fatalf("unexpected stats: %q", out)
	}
}

func TestConnectionFailureIsReported(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out, err := runCLI(t, "", "--api-base", url, "--retention", "ephemeral", "topic")
	if err == nil {
		t.Fatal("expected error when the API is unreachable")
	}
	if !strings.Contains(out, "서버에 연결할 수 없습니다 (토픽 생성)") {
		t.Fatalf("expected connection notice: %q", out)
	}
}

func TestStudySession(t *testing.T) {
	_, srv := newFakeEdge(t)

	script := strings.Join([]string{
		`analyze "Break a leg"`,
		"save 1",
		"quiz",
		"answer 1 1",
		"answer 2 1",
		"submit",
		"bogus",
		"daily",
		"quit",
	}, "\n")
	out, err := runCLI(t, script, "--api-base", srv.URL, "--retention", "ephemeral", "study", "--quiet")
	if err != nil {
		t.Fatalf("study: %v", err)
	}
	for _, want := range []string{
		"번역: 행운을 빌어",
		"저장됨: break a leg (1개)",
		"Q1. Meaning?",
		"점수: 2/2",
		"만점입니다!",
		`error: unknown command "bogus"`,
		"Piece of cake",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
