// Command coderunner runs untrusted code snippets in throwaway containers,
// either as an HTTP service (serve) or once from the command line (run).
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/coderunner/internal/config"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "coderunner",
		Short:        "Run code snippets in isolated, disposable containers",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (default ./config.yaml)")

	serve := newServeCmd()
	root.RunE = serve.RunE
	root.AddCommand(serve, newRunCmd())

	return root
}

// loadConfig reads configuration and builds the logger it describes.
func loadConfig(out io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}
