package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirebus/internal/app"
	"github.com/vovakirdan/wirebus/internal/log"
)

var hubAdminAddr string

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run the hub until interrupted",
	RunE:  runHub,
}

func init() {
	rootCmd.AddCommand(hubCmd)

	hubCmd.Flags().StringVar(&hubAdminAddr, "admin-addr", "", "Admin HTTP listen address (overrides config)")
}

// runHub logs to stdout; it has no other output.
func runHub(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(log.New)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("admin-addr") {
		cfg.AdminAddr = hubAdminAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	logger.Info().Str("socket", application.SocketPath()).Msg("starting wirebus hub")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("hub exited with error")
		return err
	}
	logger.Info().Msg("hub stopped")
	return nil
}
