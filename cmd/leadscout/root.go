package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/amishk599/leadscout/internal/config"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "leadscout",
	Short: "AI job lead pipeline",
	Long: "LeadScout collects job postings for every active user, enriches them with an AI\n" +
		"relevance analysis and mails each user a daily report of their best matches.",
	// Default to `start` so that `leadscout` with no args runs the daemon.
	RunE:          runStart,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: LEADSCOUT_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig overlays .env files, resolves the config path and parses it.
// Priority: --config flag > LEADSCOUT_CONFIG env var > "./config.yaml"
func loadConfig(logger *slog.Logger) (*config.Config, error) {
	config.LoadEnvFiles(logger)
	return config.Load(config.ResolvePath(cfgPath))
}

func setupLogger(dbg bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

// discardLogger keeps the TUI commands from drawing log lines over the alt screen.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
