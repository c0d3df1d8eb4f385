package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/liks79/langbridge-liveloop-app/internal/httpretry"
	"github.com/liks79/langbridge-liveloop-app/internal/protocol"
	"github.com/liks79/langbridge-liveloop-app/internal/script"
	"github.com/liks79/langbridge-liveloop-app/internal/store"
)

const (
	DefaultAnalyzeRetries   = 2
	DefaultAnalyzeBaseDelay = time.Second
)

// API is the subset of the edge API the features call.
type API interface {
	Analyze(ctx context.Context, text string, mode script.Mode) (*protocol.Analysis, error)
	Quiz(ctx context.Context, mode script.Mode, result *protocol.Analysis) (*protocol.Quiz, error)
	Topic(ctx context.Context, keyword string) (*protocol.Topic, error)
	DailyExpression(ctx context.Context) (*protocol.DailyExpression, error)
	Dialogue(ctx context.Context, text string) (*protocol.Dialogue, error)
}

// Prefetcher warms the audio cache without waiting for the result.
type Prefetcher interface {
	Prefetch(text, voice string)
}

// DialogueLoader receives freshly generated dialogues.
type DialogueLoader interface {
	Load(turns []protocol.Turn)
}

type Canceler interface {
	Cancel()
}

// Score is the outcome of a submitted quiz.
type Score struct {
	Correct int
	Total   int
}

func (s Score) Perfect() bool { return s.Total > 0 && s.Correct == s.Total }

// Snapshot is a copy of the orchestrator's user-facing state.
type Snapshot struct {
	InputText       string
	Mode            script.Mode
	Result          *protocol.Analysis
	Quiz            *protocol.Quiz
	Answers         map[int]int
	Score           *Score
	Daily           *protocol.DailyExpression
	Dialogue        *protocol.Dialogue
	Loading         bool
	QuizLoading     bool
	TopicLoading    bool
	DailyRefreshing bool
	DialogueLoading bool
	Issue           *ConnectionIssue
	InlineError     string
}

// Orchestrator drives the study features: analysis, quiz, topic, daily
// expression and dialogue generation, plus history and vocabulary.
type Orchestrator struct {
	api      API
	audio    Prefetcher
	store    *store.Store
	dialogue DialogueLoader
	speaker  Canceler
	log      *slog.Logger

	analyzeRetries int
	analyzeBase    time.Duration
	sleep          func(context.Context, time.Duration) error

	bg sync.WaitGroup

	mu    sync.Mutex
	state Snapshot
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.log = logger
		}
	}
}

// WithDialogueLoader forwards generated dialogues to the dialogue player.
func WithDialogueLoader(d DialogueLoader) Option {
	return func(o *Orchestrator) { o.dialogue = d }
}

// WithSpeaker lets Reset stop whatever is being spoken.
func WithSpeaker(c Canceler) Option {
	return func(o *Orchestrator) { o.speaker = c }
}

// WithAnalyzeRetry sets how often a rate-limited analysis is retried on top
// of the API client's own retries, and the base of its doubling wait.
func WithAnalyzeRetry(retries int, base time.Duration) Option {
	return func(o *Orchestrator) {
		if retries >= 0 {
			o.analyzeRetries = retries
		}
		if base >= 0 {
			o.analyzeBase = base
		}
	}
}

func New(api API, audio Prefetcher, st *store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:            api,
		audio:          audio,
		store:          st,
		log:            slog.Default(),
		analyzeRetries: DefaultAnalyzeRetries,
		analyzeBase:    DefaultAnalyzeBaseDelay,
		sleep:          sleep,
		state:          Snapshot{Mode: script.EtoK, Answers: map[int]int{}},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With(slog.String("component", "orchestrator"))
	return o
}

// SetInput replaces the input text and re-detects the mode.
func (o *Orchestrator) SetInput(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.InputText = text
	o.state.Mode = script.DetectMode(text)
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.state
	s.Answers = make(map[int]int, len(o.state.Answers))
	for k, v := range o.state.Answers {
		s.Answers[k] = v
	}
	return s
}

// Wait blocks until background work started by feature calls has finished.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}

// Analyze runs the main study loop for text: analysis, streak, history,
// audio pre-fetch and a background dialogue.
func (o *Orchestrator) Analyze(ctx context.Context, text string) (*protocol.Analysis, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	mode := script.DetectMode(text)

	o.mu.Lock()
	o.state.Loading = true
	o.state.InlineError = ""
	o.state.InputText = text
	o.state.Mode = mode
	o.clearResultLocked()
	o.mu.Unlock()
	defer o.setFlag(func(s *Snapshot) { s.Loading = false })

	result, err := o.analyzeWithRetry(ctx, text, mode)
	if err != nil {
		return nil, o.route(err, LabelAnalyze, func(ctx context.Context) error {
			_, err := o.Analyze(ctx, text)
			return err
		}, false)
	}

	o.mu.Lock()
	o.state.Result = result
	o.mu.Unlock()

	o.bumpStreak(ctx)

	// Pre-fetch failures stay inside the audio engine.
	switch mode {
	case script.EtoK:
		o.audio.Prefetch(text, "")
	case script.KtoE:
		for _, v := range result.Variations {
			if v.Text != "" {
				o.audio.Prefetch(v.Text, "")
			}
		}
	}

	source := text
	if mode == script.KtoE && len(result.Variations) > 0 && result.Variations[0].Text != "" {
		source = result.Variations[0].Text
	}
	// Detached: dialogue errors are routed silently by GenerateDialogue itself.
	o.background(ctx, func(ctx context.Context) {
		_, _ = o.generateDialogue(ctx, source, false)
	})

	if _, err := o.store.AddHistory(ctx, store.HistoryItem{Text: text, Mode: mode, Result: result}); err != nil {
		o.log.Warn("record history failed", slogError(err))
	}
	return result, nil
}

func (o *Orchestrator) analyzeWithRetry(ctx context.Context, text string, mode script.Mode) (*protocol.Analysis, error) {
	schedule := httpretry.Schedule(o.analyzeBase)
	for attempt := 0; ; attempt++ {
		result, err := o.api.Analyze(ctx, text, mode)
		if err == nil || attempt >= o.analyzeRetries || !isRateLimited(err) {
			return result, err
		}
		wait := schedule.NextBackOff()
		o.log.Info("analysis rate limited, retrying", slog.Int("attempt", attempt+1), slog.Duration("wait", wait))
		if err := o.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// GenerateQuiz builds a quiz from the current analysis.
func (o *Orchestrator) GenerateQuiz(ctx context.Context) (*protocol.Quiz, error) {
	o.mu.Lock()
	result, mode := o.state.Result, o.state.Mode
	if result == nil {
		o.mu.Unlock()
		return nil, ErrNoResult
	}
	o.state.QuizLoading = true
	o.state.InlineError = ""
	o.mu.Unlock()
	defer o.setFlag(func(s *Snapshot) { s.QuizLoading = false })

	quiz, err := o.api.Quiz(ctx, mode, result)
	if err != nil {
		return nil, o.route(err, LabelQuiz, func(ctx context.Context) error {
			_, err := o.GenerateQuiz(ctx)
			return err
		}, false)
	}

	o.mu.Lock()
	o.state.Quiz = quiz
	o.state.Answers = map[int]int{}
	o.state.Score = nil
	o.mu.Unlock()
	return quiz, nil
}

// AnswerQuiz records an answer; answers are frozen once the quiz is scored.
func (o *Orchestrator) AnswerQuiz(questionID, option int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Score != nil {
		return
	}
	o.state.Answers[questionID] = option
}

func (o *Orchestrator) SubmitQuiz() (Score, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Quiz == nil {
		return Score{}, ErrNoQuiz
	}
	score := Score{Total: len(o.state.Quiz.Questions)}
	for _, q := range o.state.Quiz.Questions {
		if answer, ok := o.state.Answers[q.ID]; ok && answer == q.CorrectAnswerIndex {
			score.Correct++
		}
	}
	o.state.Score = &score
	return score, nil
}

// GenerateTopic asks for a practice sentence and makes it the input text.
func (o *Orchestrator) GenerateTopic(ctx context.Context, keyword string) (string, error) {
	o.mu.Lock()
	if o.state.TopicLoading {
		o.mu.Unlock()
		return "", ErrInProgress
	}
	o.state.TopicLoading = true
	o.state.InlineError = ""
	o.clearResultLocked()
	o.mu.Unlock()
	defer o.setFlag(func(s *Snapshot) { s.TopicLoading = false })

	topic, err := o.api.Topic(ctx, strings.TrimSpace(keyword))
	if err == nil && (topic == nil || strings.TrimSpace(topic.Text) == "") {
		err = ErrEmptyTopic
	}
	if err != nil {
		return "", o.route(err, LabelTopic, func(ctx context.Context) error {
			_, err := o.GenerateTopic(ctx, keyword)
			return err
		}, false)
	}

	o.SetInput(topic.Text)
	o.audio.Prefetch(topic.Text, "")
	o.bumpStreak(ctx)
	return topic.Text, nil
}

// DailyExpression returns today's expression, serving the stored one when
// it is still fresh unless refresh is set.
func (o *Orchestrator) DailyExpression(ctx context.Context, refresh bool) (*protocol.DailyExpression, error) {
	if !refresh {
		cached, err := o.store.DailyExpression(ctx)
		if err != nil {
			o.log.Warn("load daily expression failed", slogError(err))
		}
		if o.store.IsFresh(cached) {
			o.mu.Lock()
			o.state.Daily = cached
			o.mu.Unlock()
			o.audio.Prefetch(cached.Expression, "")
			return cached, nil
		}
	}

	o.mu.Lock()
	if o.state.DailyRefreshing {
		o.mu.Unlock()
		return nil, ErrInProgress
	}
	o.state.DailyRefreshing = true
	o.mu.Unlock()
	defer o.setFlag(func(s *Snapshot) { s.DailyRefreshing = false })

	daily, err := o.api.DailyExpression(ctx)
	if err != nil {
		return nil, o.route(err, LabelDaily, func(ctx context.Context) error {
			_, err := o.DailyExpression(ctx, true)
			return err
		}, false)
	}

	o.mu.Lock()
	o.state.Daily = daily
	o.mu.Unlock()
	if err := o.store.SaveDailyExpression(ctx, daily); err != nil {
		o.log.Warn("save daily expression failed", slogError(err))
	}
	if daily.Expression != "" {
		o.audio.Prefetch(daily.Expression, "")
	}
	return daily, nil
}

// GenerateDialogue builds a short dialogue about text and hands it to the
// dialogue player. Failures are not shown inline.
func (o *Orchestrator) GenerateDialogue(ctx context.Context, text string) (*protocol.Dialogue, error) {
	return o.generateDialogue(ctx, text, true)
}

// generateDialogue leaves InlineError alone when clearInline is false, so a
// background run after Analyze does not wipe an unrelated message.
func (o *Orchestrator) generateDialogue(ctx context.Context, text string, clearInline bool) (*protocol.Dialogue, error) {
	o.mu.Lock()
	if text = strings.TrimSpace(text); text == "" {
		text = strings.TrimSpace(o.state.InputText)
	}
	if text == "" {
		o.mu.Unlock()
		return nil, ErrEmptyInput
	}
	if o.state.DialogueLoading {
		o.mu.Unlock()
		return nil, ErrInProgress
	}
	o.state.DialogueLoading = true
	o.state.Dialogue = nil
	if clearInline {
		o.state.InlineError = ""
	}
	o.mu.Unlock()
	defer o.setFlag(func(s *Snapshot) { s.DialogueLoading = false })

	dialogue, err := o.api.Dialogue(ctx, text)
	if err != nil {
		return nil, o.route(err, LabelDialogue, func(ctx context.Context) error {
			_, err := o.GenerateDialogue(ctx, text)
			return err
		}, true)
	}

	o.mu.Lock()
	o.state.Dialogue = dialogue
	o.mu.Unlock()
	if o.dialogue != nil {
		o.dialogue.Load(dialogue.Turns)
	}
	return dialogue, nil
}

func (o *Orchestrator) History(ctx context.Context) ([]store.HistoryItem, error) {
	return o.store.History(ctx)
}

// LoadHistoryItem restores a past analysis as the current result.
func (o *Orchestrator) LoadHistoryItem(ctx context.Context, id int64) (store.HistoryItem, error) {
	item, err := o.store.HistoryItem(ctx, id)
	if err != nil {
		return item, err
	}
	o.mu.Lock()
	o.clearResultLocked()
	o.state.InputText = item.Text
	o.state.Mode = item.Mode
	o.state.Result = item.Result
	o.mu.Unlock()
	return item, nil
}

func (o *Orchestrator) ClearHistory(ctx context.Context) error {
	return o.store.ClearHistory(ctx)
}

func (o *Orchestrator) Vocab(ctx context.Context) ([]store.VocabItem, error) {
	return o.store.Vocab(ctx)
}

func (o *Orchestrator) SaveVocab(ctx context.Context, item store.VocabItem) ([]store.VocabItem, error) {
	return o.store.AddVocab(ctx, item)
}

func (o *Orchestrator) RemoveVocab(ctx context.Context, id string) ([]store.VocabItem, error) {
	return o.store.RemoveVocab(ctx, id)
}

func (o *Orchestrator) ClearVocab(ctx context.Context) error {
	return o.store.ClearVocab(ctx)
}

func (o *Orchestrator) Streak(ctx context.Context) (store.Streak, error) {
	return o.store.Streak(ctx)
}

// Reset clears the current input and result and stops any speech.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.state.InputText = ""
	o.state.Mode = script.EtoK
	o.state.InlineError = ""
	o.clearResultLocked()
	o.mu.Unlock()
	if o.speaker != nil {
		o.speaker.Cancel()
	}
}

// Issue returns the pending connection notice, if any.
func (o *Orchestrator) Issue() *ConnectionIssue {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Issue
}

func (o *Orchestrator) DismissConnectionIssue() {
	o.mu.Lock()
	o.state.Issue = nil
	o.mu.Unlock()
}

// RetryFailed clears the connection notice and replays the action that
// raised it.
func (o *Orchestrator) RetryFailed(ctx context.Context) error {
	o.mu.Lock()
	issue := o.state.Issue
	o.state.Issue = nil
	o.mu.Unlock()
	if issue == nil || issue.retry == nil {
		return ErrNothingFailed
	}
	o.log.Info("retrying failed action", slog.String("label", issue.Label))
	return issue.retry(ctx)
}

// InlineError returns the message of the last non-network failure.
func (o *Orchestrator) InlineError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.InlineError
}

// route sends err to exactly one channel: the connection notice, the
// inline error, or the log only when silent.
func (o *Orchestrator) route(err error, label string, retry func(context.Context) error, silent bool) error {
	o.log.Error("api error", slog.String("label", label), slogError(err))
	if errors.Is(err, context.Canceled) {
		return err
	}
	if IsConnectionError(err) {
		o.mu.Lock()
		o.state.Issue = &ConnectionIssue{Label: label, Err: err, retry: retry}
		o.mu.Unlock()
		return err
	}
	fe := &FeatureError{Label: label, Err: err}
	if !silent {
		o.mu.Lock()
		o.state.InlineError = fe.Message()
		o.mu.Unlock()
	}
	return fe
}

func (o *Orchestrator) bumpStreak(ctx context.Context) {
	if _, err := o.store.BumpStreak(ctx); err != nil {
		o.log.Warn("bump streak failed", slogError(err))
	}
}

func (o *Orchestrator) background(ctx context.Context, fn func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		fn(ctx)
	}()
}

func (o *Orchestrator) clearResultLocked() {
	o.state.Result = nil
	o.state.Quiz = nil
	o.state.Answers = map[int]int{}
	o.state.Score = nil
}

func (o *Orchestrator) setFlag(fn func(*Snapshot)) {
	o.mu.Lock()
	fn(&o.state)
	o.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
