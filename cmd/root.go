package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/timvw/pane-relay/internal/config"
	"github.com/timvw/pane-relay/internal/logging"
)

var (
	// Global flags.
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "pane-relay",
	Short: "Open tmux panes on the host from inside a container",
	Long: `pane-relay lets a process inside a docker container ask the host's tmux
to split the current window and enter back into that container.

Run "pane-relay server" on the host, inside tmux. Run "pane-relay client"
in the container; it finds its own container id and asks the server to
open a new pane that execs into it, optionally running a command there.`,
	SilenceUsage: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", envOrDefault("PANE_RELAY_CONFIG", ""), "config file (default: .pane-relay.yaml, then ~/.config/pane-relay/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format: json, text (default: json)")
}

// loadConfig loads file and env configuration and applies the global flags.
// Callers apply their own flags, then call Finalize.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.LogFormat = flagLogFormat
	}
	return cfg, nil
}

// newLogger builds the process logger for a role.
func newLogger(cfg *config.Config, component string) *slog.Logger {
	return logging.NewLogger(logging.Options{
		Level:     cfg.LogLevel,
		Component: component,
		Text:      cfg.LogFormat == "text",
	})
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
