package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newTopicCmd() *cobra.Command {
	var analyze bool

	cmd := &cobra.Command{
		Use:   "topic [keyword]",
		Short: "Generate a practice sentence, optionally about a keyword",
		RunE: func(cmd *cobra.Command, args []string) error {
			keyword := strings.Join(args, " ")
			return withApp(cmd.Context(), false, func(a *app) error {
				out := cmd.OutOrStdout()
				text, err := a.orch.GenerateTopic(cmd.Context(), keyword)
				if err != nil {
					return reportFailure(out, a.orch, err)
				}
				fmt.Fprintln(out, text)
				if !analyze {
					return nil
				}
				res, err := a.orch.Analyze(cmd.Context(), text)
				if err != nil {
					return reportFailure(out, a.orch, err)
				}
				fmt.Fprintln(out)
				printAnalysis(out, a.orch.Snapshot().Mode, res)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&analyze, "analyze", false, "Analyze the generated sentence right away")

	return cmd
}

func newDailyCmd() *cobra.Command {
	var (
		refresh bool
		speak   bool
	)

	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Show today's expression",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), speak, func(a *app) error {
				out := cmd.OutOrStdout()
				d, err := a.orch.DailyExpression(cmd.Context(), refresh)
				if err != nil {
					return reportFailure(out, a.orch, err)
				}
				printDaily(out, d)
				if speak {
					return a.speaker.Speak(cmd.Context(), d.Expression, "")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Fetch a new expression even if today's is cached")
	cmd.Flags().BoolVar(&speak, "speak", false, "Play the expression")

	return cmd
}

func newDialogueCmd() *cobra.Command {
	var play bool

	cmd := &cobra.Command{
		Use:   "dialogue <text>",
		Short: "Generate a short two-person dialogue using a sentence",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withApp(cmd.Context(), play, func(a *app) error {
				out := cmd.OutOrStdout()
				d, err := a.orch.GenerateDialogue(cmd.Context(), text)
				if err != nil {
					return reportFailure(out, a.orch, err)
				}
				printDialogue(out, d)
				if !play {
					return nil
				}
				if err := a.dialogue.Prepare(cmd.Context()); err != nil {
					return err
				}
				r := a.dialogue.Readiness()
				fmt.Fprintf(out, "오디오 준비 %d/%d\n", r.Loaded, r.Total)
				return a.dialogue.PlayAll(cmd.Context())
			})
		},
	}

	cmd.Flags().BoolVar(&play, "play", false, "Pre-load audio for every turn and play the dialogue")

	return cmd
}

func newSpeakCmd() *cobra.Command {
	var (
		voice string
		rate  float64
	)

	cmd := &cobra.Command{
		Use:   "speak <text>",
		Short: "Speak a sentence; Korean text uses the on-device engine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withApp(cmd.Context(), true, func(a *app) error {
				if cmd.Flags().Changed("rate") {
					if err := a.speaker.SetRate(rate); err != nil {
						return err
					}
				}
				return a.speaker.Speak(cmd.Context(), text, voice)
			})
		},
	}

	cmd.Flags().StringVar(&voice, "voice", "", "Voice name (woman|man or a provider voice)")
	cmd.Flags().Float64Var(&rate, "rate", 1.0, "Playback rate (0.75 or 1.0)")

	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show study streak and store usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), false, func(a *app) error {
				return showStats(cmd.Context(), cmd.OutOrStdout(), a)
			})
		},
	}
}

func showStats(ctx context.Context, w io.Writer, a *app) error {
	streak, err := a.orch.Streak(ctx)
	if err != nil {
		return err
	}
	history, err := a.orch.History(ctx)
	if err != nil {
		return err
	}
	vocab, err := a.orch.Vocab(ctx)
	if err != nil {
		return err
	}
	printStats(w, streak, len(history), len(vocab), a.engine.Stats(), a.counters(ctx))
	return nil
}
