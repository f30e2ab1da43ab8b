package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-convert-tracker/internal/config"
	"github.com/tendant/simple-convert-tracker/internal/tracker"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "convertctl",
	Short:         "Submit documents for Markdown conversion and track them",
	Long:          `convertctl uploads files or URLs to the conversion service, follows their progress over the progress stream and reports the results.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			if cfg.LogLevel, err = config.ParseLevel(logLevel); err != nil {
				return err
			}
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(logger)

		tk, err := tracker.FromConfig(cfg, logger)
		if err != nil {
			return fmt.Errorf("build tracker: %w", err)
		}
		ctx := context.WithValue(cmd.Context(), sessionKey, &session{cfg: cfg, logger: logger, tracker: tk})
		cmd.SetContext(ctx)
		return nil
	},
}

type contextKey string

const sessionKey contextKey = "session"

type session struct {
	cfg     config.Config
	logger  *slog.Logger
	tracker *tracker.Tracker
}

func sessionFrom(ctx context.Context) (*session, error) {
	s, ok := ctx.Value(sessionKey).(*session)
	if !ok || s == nil {
		return nil, fmt.Errorf("session not initialised")
	}
	return s, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
