package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/coderunner/internal/executor/docker"
	"github.com/sakif/coderunner/internal/metrics"
	"github.com/sakif/coderunner/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(os.Stdout)
			if err != nil {
				return err
			}

			m := metrics.New()

			exec, err := docker.New(cfg.ExecutorConfig(), logger, m)
			if err != nil {
				return err
			}
			defer func() {
				if err := exec.Close(); err != nil {
					logger.Warn("failed to close executor", slog.String("error", err.Error()))
				}
			}()

			srv, err := server.New(cfg, logger, exec, m)
			if err != nil {
				return err
			}

			// Start blocks until SIGINT/SIGTERM.
			return srv.Start()
		},
	}
}
