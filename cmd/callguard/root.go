package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"callguard/pkg/config"
	"callguard/pkg/version"
)

var (
	logger    = logrus.New()
	appConfig *config.Config
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "callguard",
		Short: "Callguard - live scam call protection",
		Long: `Callguard listens to a phone call through a capture device, streams it to a
live model that scores the call for synthetic voice and scam patterns, and
serves the running analysis, alerts and history to a dashboard.

Recorded calls can be analyzed offline with the analyze command.`,
		Version:      version.Version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(logger)
		if err != nil {
			return err
		}
		if err := cfg.ApplyLogging(logger); err != nil {
			return err
		}
		// one-shot commands print results on stdout
		if cmd.Name() != "serve" && cfg.Logging.OutputFile == "" {
			logger.SetOutput(os.Stderr)
		}
		if *debugLogging {
			logger.SetLevel(logrus.DebugLevel)
		}
		appConfig = cfg
		return nil
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newAnalyzeCommand())
	cmd.AddCommand(newHistoryCommand())

	return cmd
}

func execute(ctx context.Context) error {
	logger.SetOutput(os.Stderr)
	return newRootCommand().ExecuteContext(ctx)
}
