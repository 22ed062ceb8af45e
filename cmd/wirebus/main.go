package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirebus/internal/config"
	"github.com/vovakirdan/wirebus/internal/log"
)

var (
	configPath string
	logLevel   string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "wirebus",
	Short: "Local message bus over a Unix socket",
	Long: `Wirebus relays framed messages between processes on one machine.

Start a hub, then connect any number of clients to it:

  wirebus hub
  wirebus chat --name alice
  wirebus perf                      # receiver
  wirebus perf --count 1000 --size 4  # sender`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Hub socket path")
}

// loggerFunc builds a logger from the configured level and format.
type loggerFunc func(level, format string) *zerolog.Logger

// stderrLogger keeps log lines out of the way of command output on stdout.
func stderrLogger(level, format string) *zerolog.Logger {
	return log.NewWithWriter(os.Stderr, level, format)
}

// loadConfig resolves configuration with flags taking precedence over file and env,
// then builds the command's logger with newLogger.
func loadConfig(newLogger loggerFunc) (config.Config, *zerolog.Logger, error) {
	bootstrap := log.NewWithWriter(os.Stderr, "info", "console")

	cfg, path, err := config.Load(bootstrap, configPath)
	if err != nil {
		return cfg, bootstrap, err
	}
	cfg.UpdateFrom(config.Config{LogLevel: logLevel, SocketPath: socketPath})
	if err := cfg.Validate(); err != nil {
		return cfg, bootstrap, fmt.Errorf("invalid config %s: %w", path, err)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, logger, nil
}
