package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/liks79/langbridge-liveloop-app/internal/dialogue"
	"github.com/liks79/langbridge-liveloop-app/internal/orchestrator"
	"github.com/liks79/langbridge-liveloop-app/internal/store"
	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
)

var errQuit = errors.New("quit")

func newStudyCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "study",
		Short: "Interactive study session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), !quiet, func(a *app) error {
				s := newSession(a, cmd.OutOrStdout())
				return s.run(cmd.Context(), cmd.InOrStdin())
			})
		},
	}

	cmd.Flags().BoolVar(&quiet, "quiet", false, "Disable audio output")

	return cmd
}

type sessionCmd struct {
	usage string
	run   func(ctx context.Context, args []string) error
}

// session is the line-oriented study loop. Each line is split with shell
// quoting rules and dispatched to one command. Playback runs in the
// background so the loop keeps reading and 'stop' can end it.
type session struct {
	app      *app
	out      io.Writer
	parser   *shellwords.Parser
	commands map[string]sessionCmd

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// syncWriter serializes writes from the loop and background playback.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

func newSession(a *app, out io.Writer) *session {
	s := &session{app: a, out: &syncWriter{w: out}, parser: shellwords.NewParser()}
	s.commands = map[string]sessionCmd{
		"analyze":  {"analyze <text>", s.analyze},
		"quiz":     {"quiz", s.quiz},
		"answer":   {"answer <question> <option>", s.answer},
		"submit":   {"submit", s.submit},
		"topic":    {"topic [keyword]", s.topic},
		"daily":    {"daily [refresh]", s.daily},
		"dialogue": {"dialogue [text]", s.dialogue},
		"prepare":  {"prepare", s.prepare},
		"play":     {"play", s.play},
		"speak":    {"speak [text]", s.speak},
		"stop":     {"stop", s.stop},
		"rate":     {"rate <0.75|1.0>", s.rate},
		"save":     {"save <keyword>", s.save},
		"vocab":    {"vocab", s.vocab},
		"unsave":   {"unsave <id>", s.unsave},
		"history":  {"history", s.history},
		"load":     {"load <id>", s.load},
		"retry":    {"retry", s.retry},
		"dismiss":  {"dismiss", s.dismiss},
		"reset":    {"reset", s.reset},
		"stats":    {"stats", s.stats},
		"help":     {"help", s.help},
		"quit":     {"quit", func(context.Context, []string) error { return errQuit }},
	}
	return s
}

func (s *session) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(s.out, "LangBridge study session. Type 'help' for commands.")
	for {
		fmt.Fprint(s.out, "langbridge> ")
		if !scanner.Scan() {
			// End of input lets queued playback finish.
			s.wg.Wait()
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		err := s.exec(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			s.stopBackground()
			s.wg.Wait()
			return nil
		}
		if ctx.Err() != nil {
			s.stopBackground()
			s.wg.Wait()
			return ctx.Err()
		}
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

func (s *session) exec(ctx context.Context, line string) error {
	args, err := s.parser.Parse(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	name := strings.ToLower(args[0])
	if name == "exit" {
		name = "quit"
	}
	c, ok := s.commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	return c.run(ctx, args[1:])
}

// background runs fn on its own goroutine, replacing any earlier job.
func (s *session) background(ctx context.Context, fn func(context.Context) error) {
	s.stopBackground()
	s.wg.Wait()
	jobCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := fn(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}()
}

func (s *session) stopBackground() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *session) feature(err error) error {
	if err == nil {
		return nil
	}
	var fe *orchestrator.FeatureError
	if s.app.orch.Issue() == nil && !errors.As(err, &fe) {
		return err
	}
	_ = reportFailure(s.out, s.app.orch, err)
	return nil
}

func (s *session) analyze(ctx context.Context, args []string) error {
	text := strings.Join(args, " ")
	if text == "" {
		text = s.app.orch.Snapshot().InputText
	}
	res, err := s.app.orch.Analyze(ctx, text)
	if err != nil {
		return s.feature(err)
	}
	printAnalysis(s.out, s.app.orch.Snapshot().Mode, res)
	return nil
}

func (s *session) quiz(ctx context.Context, _ []string) error {
	quiz, err := s.app.orch.GenerateQuiz(ctx)
	if err != nil {
		return s.feature(err)
	}
	for i, q := range quiz.Questions {
		printQuestion(s.out, i+1, q)
	}
	return nil
}

func (s *session) answer(_ context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: answer <question> <option>")
	}
	qn, err1 := strconv.Atoi(args[0])
	opt, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return errors.New("question and option must be numbers")
	}
	snap := s.app.orch.Snapshot()
	if snap.Quiz == nil {
		return errors.New("no quiz loaded")
	}
	if qn < 1 || qn > len(snap.Quiz.Questions) {
		return fmt.Errorf("question must be between 1 and %d", len(snap.Quiz.Questions))
	}
	q := snap.Quiz.Questions[qn-1]
	if opt < 1 || opt > len(q.Options) {
		return fmt.Errorf("option must be between 1 and %d", len(q.Options))
	}
	s.app.orch.AnswerQuiz(q.ID, opt-1)
	return nil
}

func (s *session) submit(context.Context, []string) error {
	score, err := s.app.orch.SubmitQuiz()
	if err != nil {
		return err
	}
	snap := s.app.orch.Snapshot()
	printScore(s.out, snap.Quiz, snap.Answers, score)
	return nil
}

func (s *session) topic(ctx context.Context, args []string) error {
	text, err := s.app.orch.GenerateTopic(ctx, strings.Join(args, " "))
	if err != nil {
		return s.feature(err)
	}
	fmt.Fprintln(s.out, text)
	return nil
}

func (s *session) daily(ctx context.Context, args []string) error {
	refresh := len(args) > 0 && args[0] == "refresh"
	d, err := s.app.orch.DailyExpression(ctx, refresh)
	if err != nil {
		return s.feature(err)
	}
	printDaily(s.out, d)
	return nil
}

func (s *session) dialogue(ctx context.Context, args []string) error {
	snap := s.app.orch.Snapshot()
	if len(args) == 0 && snap.Dialogue != nil {
		printDialogue(s.out, snap.Dialogue)
		return nil
	}
	if len(args) == 0 && snap.DialogueLoading {
		fmt.Fprintln(s.out, "대화를 생성하는 중입니다.")
		return nil
	}
	d, err := s.app.orch.GenerateDialogue(ctx, strings.Join(args, " "))
	if err != nil {
		return s.feature(err)
	}
	printDialogue(s.out, d)
	return nil
}

func (s *session) prepare(ctx context.Context, _ []string) error {
	if err := s.app.dialogue.Prepare(ctx); err != nil {
		return err
	}
	r := s.app.dialogue.Readiness()
	fmt.Fprintf(s.out, "오디오 준비 %d/%d\n", r.Loaded, r.Total)
	return nil
}

func (s *session) play(ctx context.Context, _ []string) error {
	if !s.app.dialogue.Readiness().Ready {
		return dialogue.ErrNotReady
	}
	s.background(ctx, s.app.dialogue.PlayAll)
	return nil
}

func (s *session) speak(ctx context.Context, args []string) error {
	text := strings.Join(args, " ")
	if text == "" {
		snap := s.app.orch.Snapshot()
		text = speakable(snap.Mode, snap.Result)
	}
	if text == "" {
		return errors.New("nothing to speak")
	}
	s.background(ctx, func(ctx context.Context) error {
		return s.app.speaker.Speak(ctx, text, "")
	})
	return nil
}

func (s *session) stop(context.Context, []string) error {
	s.stopBackground()
	s.app.speaker.Cancel()
	return nil
}

func (s *session) rate(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: rate <0.75|1.0>")
	}
	r, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return err
	}
	return s.app.speaker.SetRate(r)
}

func (s *session) save(ctx context.Context, args []string) error {
	snap := s.app.orch.Snapshot()
	if snap.Result == nil || len(snap.Result.Keywords) == 0 {
		return errors.New("no keywords to save")
	}
	if len(args) != 1 {
		return errors.New("usage: save <keyword>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(snap.Result.Keywords) {
		return fmt.Errorf("keyword must be between 1 and %d", len(snap.Result.Keywords))
	}
	k := snap.Result.Keywords[n-1]
	items, err := s.app.orch.SaveVocab(ctx, store.VocabItem{
		Term:      k.Word,
		Meaning:   k.Meaning,
		ExampleEn: k.Usage,
		ExampleKo: k.UsageTranslation,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "저장됨: %s (%d개)\n", k.Word, len(items))
	return nil
}

func (s *session) vocab(ctx context.Context, _ []string) error {
	items, err := s.app.orch.Vocab(ctx)
	if err != nil {
		return err
	}
	printVocab(s.out, items)
	return nil
}

func (s *session) unsave(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: unsave <id>")
	}
	items, err := s.app.orch.RemoveVocab(ctx, args[0])
	if err != nil {
		return err
	}
	printVocab(s.out, items)
	return nil
}

func (s *session) history(ctx context.Context, _ []string) error {
	items, err := s.app.orch.History(ctx)
	if err != nil {
		return err
	}
	printHistory(s.out, items, time.Now())
	return nil
}

func (s *session) load(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: load <id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}
	item, err := s.app.orch.LoadHistoryItem(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, item.Text)
	printAnalysis(s.out, item.Mode, item.Result)
	return nil
}

func (s *session) retry(ctx context.Context, _ []string) error {
	if err := s.app.orch.RetryFailed(ctx); err != nil {
		return s.feature(err)
	}
	fmt.Fprintln(s.out, "완료")
	return nil
}

func (s *session) dismiss(context.Context, []string) error {
	s.app.orch.DismissConnectionIssue()
	return nil
}

func (s *session) reset(context.Context, []string) error {
	s.app.orch.Reset()
	return nil
}

func (s *session) stats(ctx context.Context, _ []string) error {
	return showStats(ctx, s.out, s.app)
}

func (s *session) help(context.Context, []string) error {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(s.out, "  %s\n", s.commands[name].usage)
	}
	return nil
}
