package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newAnalyzeCmd() *cobra.Command {
	var speak bool

	cmd := &cobra.Command{
		Use:   "analyze <text>",
		Short: "Translate and explain an English or Korean sentence",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withApp(cmd.Context(), speak, func(a *app) error {
				out := cmd.OutOrStdout()
				res, err := a.orch.Analyze(cmd.Context(), text)
				if err != nil {
					return reportFailure(out, a.orch, err)
				}
				mode := a.orch.Snapshot().Mode
				printAnalysis(out, mode, res)
				if speak {
					return a.speaker.Speak(cmd.Context(), speakable(mode, res), "")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&speak, "speak", false, "Play the English side of the result")

	return cmd
}

func newQuizCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quiz <text>",
		Short: "Analyze a sentence and take a short quiz on it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withApp(cmd.Context(), false, func(a *app) error {
				out := cmd.OutOrStdout()
				res, err := a.orch.Analyze(cmd.Context(), text)
				if err != nil {
					return reportFailure(out, a.orch, err)
				}
				printAnalysis(out, a.orch.Snapshot().Mode, res)
				fmt.Fprintln(out)

				quiz, err := a.orch.GenerateQuiz(cmd.Context())
				if err != nil {
					return reportFailure(out, a.orch, err)
				}
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for i, q := range quiz.Questions {
					printQuestion(out, i+1, q)
					choice, ok := readChoice(out, scanner, len(q.Options))
					if !ok {
						break
					}
					a.orch.AnswerQuiz(q.ID, choice)
				}
				score, err := a.orch.SubmitQuiz()
				if err != nil {
					return err
				}
				printScore(out, quiz, a.orch.Snapshot().Answers, score)
				return nil
			})
		},
	}
}

// readChoice reads a 1-based option number and returns it 0-based. It
// reports false once input is exhausted.
func readChoice(w io.Writer, scanner *bufio.Scanner, options int) (int, bool) {
	for {
		fmt.Fprint(w, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(w)
			return 0, false
		}
		n, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err == nil && n >= 1 && n <= options {
			return n - 1, true
		}
		fmt.Fprintf(w, "1-%d 사이의 번호를 입력하세요.\n", options)
	}
}
