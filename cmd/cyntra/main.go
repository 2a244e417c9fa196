// Command cyntra is the kernel's single-binary entrypoint: it loads
// .cyntra/config.yaml, then either runs the daemon loop or answers a
// read-only status/history/stats query against the local state database.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cyntra-dev/cyntra/internal/config"
)

// Exit codes per the kernel's external-interface contract: 0 success,
// 1 partial/failed issue, 2 config error, 64 usage error.
const (
	exitSuccess = 0
	exitFailure = 1
	exitConfig  = 2
	exitUsage   = 64
)

// cliError carries the exit code a command wants main to use; an error
// whose Unwrap chain holds no *cliError exits with exitFailure.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func usageErr(format string, args ...any) error {
	return &cliError{code: exitUsage, err: fmt.Errorf(format, args...)}
}

func configErr(format string, args ...any) error {
	return &cliError{code: exitConfig, err: fmt.Errorf(format, args...)}
}

func runErr(format string, args ...any) error {
	return &cliError{code: exitFailure, err: fmt.Errorf(format, args...)}
}

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "cyntra",
		Short:         "Cyntra autonomous patch kernel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to config.yaml")

	root.AddCommand(newInitCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newWorkcellsCommand())
	root.AddCommand(newHistoryCommand())
	root.AddCommand(newStatsCommand())
	root.AddCommand(newConfigCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cyntra: %v\n", err)
		os.Exit(exitCodeOf(err))
	}
}

func exitCodeOf(err error) int {
	var ce *cliError
	for e := err; e != nil; {
		if c, ok := e.(*cliError); ok {
			ce = c
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if ce != nil {
		return ce.code
	}
	return exitFailure
}

func defaultConfigPath() string {
	if p := os.Getenv("CYNTRA_CONFIG"); p != "" {
		return p
	}
	return ".cyntra/config.yaml"
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configErr("%v", err)
	}
	if root := os.Getenv("CYNTRA_REPO_ROOT"); root != "" {
		cfg.RepoRoot = root
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
