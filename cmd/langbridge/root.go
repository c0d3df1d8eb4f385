package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/liks79/langbridge-liveloop-app/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	apiBase   string
	retention string
	logLevel  string

	activeCfg    config.Config
	activeLogger *slog.Logger
	configLoaded bool
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "langbridge",
		Short:         "Korean/English study client for the LangBridge edge API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("api-base") {
				loaded.Client.APIBase = apiBase
			}
			if flags.Changed("retention") {
				loaded.Client.RetentionMode = retention
			}
			if flags.Changed("log-level") {
				loaded.Telemetry.LogLevel = logLevel
			}
			activeCfg = loaded
			activeLogger = setupLogger(loaded.Telemetry)
			configLoaded = true
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional YAML config file")
	cmd.PersistentFlags().StringVar(&apiBase, "api-base", "", "Base URL of the edge API")
	cmd.PersistentFlags().StringVar(&retention, "retention", "", "Store retention mode (persistent|ephemeral)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")

	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newQuizCmd())
	cmd.AddCommand(newTopicCmd())
	cmd.AddCommand(newDailyCmd())
	cmd.AddCommand(newDialogueCmd())
	cmd.AddCommand(newSpeakCmd())
	cmd.AddCommand(newVocabCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newStudyCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

// setupLogger logs to stderr so command output on stdout stays clean.
func setupLogger(cfg config.TelemetryConfig) *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()})
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

func requireConfig() (config.Config, *slog.Logger, error) {
	if !configLoaded {
		return config.Config{}, nil, fmt.Errorf("configuration not loaded")
	}
	return activeCfg, activeLogger, nil
}
