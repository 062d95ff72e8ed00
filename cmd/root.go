package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/poe2oai/gateway/internal/config"
)

const (
	AppName = "poe2oai-gateway"
	Version = "0.1.0"
)

var (
	logger   *slog.Logger
	settings config.Settings
)

func init() {
	settings = config.LoadSettings()
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(settings.LogLevel),
	}))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var rootCmd = &cobra.Command{
	Use:     "poe2oai-gateway",
	Short:   "OpenAI-compatible gateway in front of a Poe-style chat bot upstream",
	Long:    `Translates OpenAI Chat Completions requests (streaming and non-streaming) into the upstream bot protocol and back.`,
	Version: Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging(verbose bool) {
	level := parseLevel(settings.LogLevel)
	if verbose {
		level = slog.LevelDebug
	}

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
