package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sakif/coderunner/internal/config"
	"github.com/sakif/coderunner/internal/executor"
	"github.com/sakif/coderunner/internal/executor/docker"
)

var extensions = map[string]executor.Language{
	".py": executor.Python,
	".js": executor.JavaScript,
	".go": executor.Golang,
	".kt": executor.Kotlin,
}

func newRunCmd() *cobra.Command {
	var (
		language string
		timeout  uint64
	)

	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Execute one file and print the result as JSON",
		Long: "Execute one file in a fresh container and print the result as JSON.\n" +
			"Reads the code from stdin when the file is \"-\".",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lang, err := detectLanguage(language, args[0])
			if err != nil {
				return err
			}

			code, err := readSource(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, logger, err := loadConfig(os.Stderr)
			if err != nil {
				return err
			}

			exec, err := docker.New(runnerConfig(cfg), logger, nil)
			if err != nil {
				return err
			}
			defer exec.Close()

			res := executor.Shape(exec.Execute(cmd.Context(), executor.ExecutionRequest{
				Language: lang,
				Code:     code,
				Timeout:  executor.TimeoutSeconds(timeout),
			}))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("writing result: %w", err)
			}

			if res.IsError() {
				return fmt.Errorf("execution failed: %s", res.Stderr)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "Language (python, javascript, golang, kotlin); detected from the extension when empty")
	cmd.Flags().Uint64VarP(&timeout, "timeout", "t", 0, "Timeout in seconds (0 uses the configured default)")

	return cmd
}

// runnerConfig is the executor configuration for a one-shot run. The
// orphan sweep stays with the server so a run never races a live server
// over containers on the same daemon.
func runnerConfig(cfg *config.Config) docker.Config {
	ec := cfg.ExecutorConfig()
	ec.SweepOrphans = false
	return ec
}

// detectLanguage prefers an explicit --language and falls back to the
// file extension.
func detectLanguage(flag, path string) (executor.Language, error) {
	if flag != "" {
		return executor.ParseLanguage(flag)
	}
	if lang, ok := extensions[filepath.Ext(path)]; ok {
		return lang, nil
	}
	return "", fmt.Errorf("cannot detect language for %q, use --language", path)
}

func readSource(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading source: %w", err)
	}
	return string(data), nil
}
