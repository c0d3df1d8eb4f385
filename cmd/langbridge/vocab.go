package main

import (
	"fmt"
	"strings"

	"github.com/liks79/langbridge-liveloop-app/internal/store"
	"github.com/spf13/cobra"
)

func newVocabCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "List saved vocabulary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), false, func(a *app) error {
				items, err := a.orch.Vocab(cmd.Context())
				if err != nil {
					return err
				}
				printVocab(cmd.OutOrStdout(), items)
				return nil
			})
		},
	}

	cmd.AddCommand(newVocabAddCmd())
	cmd.AddCommand(newVocabRemoveCmd())
	cmd.AddCommand(newVocabClearCmd())

	return cmd
}

func newVocabAddCmd() *cobra.Command {
	var item store.VocabItem

	cmd := &cobra.Command{
		Use:   "add <term>",
		Short: "Save a term to the vocabulary list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item.Term = strings.Join(args, " ")
			return withApp(cmd.Context(), false, func(a *app) error {
				items, err := a.orch.SaveVocab(cmd.Context(), item)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "저장됨 (%d개)\n", len(items))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&item.Meaning, "meaning", "", "Meaning of the term")
	cmd.Flags().StringVar(&item.ExampleEn, "example-en", "", "English example sentence")
	cmd.Flags().StringVar(&item.ExampleKo, "example-ko", "", "Korean example sentence")

	return cmd
}

func newVocabRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove"},
		Short:   "Remove a saved term",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(a *app) error {
				items, err := a.orch.RemoveVocab(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printVocab(cmd.OutOrStdout(), items)
				return nil
			})
		},
	}
}

func newVocabClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every saved term",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), false, func(a *app) error {
				return a.orch.ClearVocab(cmd.Context())
			})
		},
	}
}
