package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/liks79/langbridge-liveloop-app/internal/audio"
	"github.com/liks79/langbridge-liveloop-app/internal/orchestrator"
	"github.com/liks79/langbridge-liveloop-app/internal/protocol"
	"github.com/liks79/langbridge-liveloop-app/internal/script"
	"github.com/liks79/langbridge-liveloop-app/internal/store"
)

func printAnalysis(w io.Writer, mode script.Mode, a *protocol.Analysis) {
	if a == nil {
		return
	}
	if a.OriginalText != "" {
		fmt.Fprintf(w, "원문: %s\n", a.OriginalText)
	}
	if mode == script.KtoE {
		for i, v := range a.Variations {
			fmt.Fprintf(w, "%d. [%s] %s\n", i+1, v.Style, v.Text)
		}
	} else {
		fmt.Fprintf(w, "번역: %s\n", a.Translation)
		if a.Nuance != "" {
			fmt.Fprintf(w, "뉘앙스: %s\n", a.Nuance)
		}
	}
	if len(a.Keywords) > 0 {
		fmt.Fprintln(w, "핵심 표현:")
		for _, k := range a.Keywords {
			line := "  - " + k.Word
			if k.Meaning != "" {
				line += ": " + k.Meaning
			}
			fmt.Fprintln(w, line)
			if k.Usage != "" {
				fmt.Fprintf(w, "      %s\n", k.Usage)
			}
			if k.UsageTranslation != "" {
				fmt.Fprintf(w, "      %s\n", k.UsageTranslation)
			}
		}
	}
}

// speakable returns the text to play for a result: the translation for
// Korean targets, the first variation for English ones.
func speakable(mode script.Mode, a *protocol.Analysis) string {
	if a == nil {
		return ""
	}
	if mode == script.KtoE {
		if len(a.Variations) > 0 {
			return a.Variations[0].Text
		}
		return ""
	}
	return a.OriginalText
}

func printQuestion(w io.Writer, n int, q protocol.QuizQuestion) {
	fmt.Fprintf(w, "Q%d. %s\n", n, q.Question)
	for i, opt := range q.Options {
		fmt.Fprintf(w, "   %d) %s\n", i+1, opt)
	}
}

func printScore(w io.Writer, quiz *protocol.Quiz, answers map[int]int, score orchestrator.Score) {
	for i, q := range quiz.Questions {
		mark := "✗"
		if a, ok := answers[q.ID]; ok && a == q.CorrectAnswerIndex {
			mark = "✓"
		}
		fmt.Fprintf(w, "%s Q%d 정답: %d", mark, i+1, q.CorrectAnswerIndex+1)
		if q.Explanation != "" {
			fmt.Fprintf(w, " (%s)", q.Explanation)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "점수: %d/%d\n", score.Correct, score.Total)
	if score.Perfect() {
		fmt.Fprintln(w, "만점입니다!")
	}
}

func printDaily(w io.Writer, d *protocol.DailyExpression) {
	if d == nil {
		return
	}
	fmt.Fprintf(w, "[%s] %s\n", d.Date, d.Expression)
	if d.MeaningKo != "" {
		fmt.Fprintf(w, "  뜻: %s\n", d.MeaningKo)
	}
	if d.ExampleEn != "" {
		fmt.Fprintf(w, "  예문: %s\n", d.ExampleEn)
	}
	if d.ExampleKo != "" {
		fmt.Fprintf(w, "        %s\n", d.ExampleKo)
	}
	if d.Category != "" {
		fmt.Fprintf(w, "  분야: %s\n", d.Category)
	}
}

func printDialogue(w io.Writer, d *protocol.Dialogue) {
	if d == nil {
		return
	}
	for _, t := range d.Turns {
		fmt.Fprintf(w, "%s: %s\n", t.Speaker, t.En)
		if t.Ko != "" {
			fmt.Fprintf(w, "   %s\n", t.Ko)
		}
	}
}

func printVocab(w io.Writer, items []store.VocabItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "단어장이 비어 있습니다.")
		return
	}
	for _, v := range items {
		fmt.Fprintf(w, "%s  %s", v.ID, v.Term)
		if v.Meaning != "" {
			fmt.Fprintf(w, " - %s", v.Meaning)
		}
		fmt.Fprintln(w)
		if v.ExampleEn != "" {
			fmt.Fprintf(w, "    %s\n", v.ExampleEn)
		}
	}
}

func printHistory(w io.Writer, items []store.HistoryItem, now time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(w, "기록이 없습니다.")
		return
	}
	for _, h := range items {
		fmt.Fprintf(w, "%4d  %-4s  %-14s  %s\n", h.ID, h.Mode,
			humanize.RelTime(h.CreatedAt, now, "ago", "from now"), truncate(h.Text, 48))
	}
}

func printStats(w io.Writer, streak store.Streak, history, vocab int, cache audio.Stats, counts map[string]int64) {
	fmt.Fprintf(w, "연속 학습: %s일", humanize.Comma(int64(streak.Streak)))
	if streak.LastStudyDate != "" {
		fmt.Fprintf(w, " (마지막 학습 %s)", streak.LastStudyDate)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "기록: %s/%d\n", humanize.Comma(int64(history)), store.HistoryLimit)
	fmt.Fprintf(w, "단어장: %s/%d\n", humanize.Comma(int64(vocab)), store.VocabLimit)
	fmt.Fprintf(w, "오디오 캐시: %d clips, %s, %d in flight\n",
		cache.Entries, humanize.Bytes(uint64(cache.Bytes)), cache.InFlight)
	fmt.Fprintf(w, "음성 합성: %s회 요청, 캐시 적중 %s회\n",
		humanize.Comma(counts["audio.synth.calls"]), humanize.Comma(counts["audio.cache.hits"]))
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// reportFailure prints the user-facing form of a feature error: the
// connection notice with a retry hint, or the inline message.
func reportFailure(w io.Writer, o *orchestrator.Orchestrator, err error) error {
	if issue := o.Issue(); issue != nil {
		fmt.Fprintf(w, "서버에 연결할 수 없습니다 (%s). 'retry'로 다시 시도할 수 있습니다.\n", issue.Label)
		return err
	}
	var fe *orchestrator.FeatureError
	if errors.As(err, &fe) {
		fmt.Fprintln(w, fe.Message())
	}
	return err
}
