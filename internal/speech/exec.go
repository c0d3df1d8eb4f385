package speech

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execEngine struct {
	cmd []string
	wpm int
	mu  sync.Mutex
}

// NewExecEngine runs an external speech command per utterance, for example
// "espeak-ng --stdin -v {voice} -s {wpm}". The placeholders {lang}, {voice}
// and {wpm} are substituted per call and the text is written to stdin.
func NewExecEngine(command string, wordsPerMinute int) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse speech command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("speech command empty")
	}
	if wordsPerMinute <= 0 {
		wordsPerMinute = 175
	}
	return &execEngine{cmd: args, wpm: wordsPerMinute}, nil
}

func (e *execEngine) Speak(ctx context.Context, u Utterance) error {
	if strings.TrimSpace(u.Text) == "" {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	args := e.expand(u)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = strings.NewReader(u.Text)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("speech command failed: %w: %s", err, strings.TrimSpace(string(out)))
		}
		return fmt.Errorf("run speech command: %w", err)
	}
	return nil
}

func (e *execEngine) expand(u Utterance) []string {
	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	r := strings.NewReplacer(
		"{lang}", u.Lang,
		"{voice}", voiceForLang(u.Lang),
		"{wpm}", strconv.Itoa(int(float64(e.wpm)*rate)),
	)
	out := make([]string, len(e.cmd))
	for i, arg := range e.cmd {
		out[i] = r.Replace(arg)
	}
	return out
}

// voiceForLang maps a BCP 47 tag to an espeak-style voice name.
func voiceForLang(lang string) string {
	lang = strings.ToLower(lang)
	switch {
	case lang == "":
		return "en-us"
	case strings.HasPrefix(lang, "ko"):
		return "ko"
	default:
		return lang
	}
}
