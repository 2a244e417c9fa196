package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cyntra-dev/cyntra/internal/beadstore"
	"github.com/cyntra-dev/cyntra/internal/config"
	"github.com/cyntra-dev/cyntra/internal/runner"
)

func newRunCommand() *cobra.Command {
	var (
		once          bool
		issueID       string
		maxConcurrent int
		speculate     bool
		dryRun        bool
		watch         bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the kernel: admit ready issues, dispatch, verify, and record proofs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if maxConcurrent > 0 {
				cfg.MaxConcurrentWorkcells = maxConcurrent
			}

			logger := newLogger(cfg.General.LogLevel)
			mgr := config.NewRWMutexManager(cfg)

			if dryRun {
				return runDryRun(cmd.Context(), mgr, issueID)
			}

			r, err := runner.New(mgr, configPath, logger)
			if err != nil {
				return runErr("build runner: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			switch {
			case issueID != "":
				if err := r.RunIssue(ctx, issueID, speculate, cfg.Speculation.DefaultParallelism); err != nil {
					return runErr("%w", err)
				}
				return nil
			case once:
				if err := r.RunOnce(ctx); err != nil {
					return runErr("%w", err)
				}
				return nil
			default:
				if watch {
					r.EnableWatchTick()
				}
				if err := r.Run(ctx); err != nil {
					return runErr("%w", err)
				}
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single scheduler tick and exit")
	cmd.Flags().StringVar(&issueID, "issue", "", "run a single issue outside the normal admission schedule")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "override max_concurrent_workcells for this run")
	cmd.Flags().BoolVar(&speculate, "speculate", false, "run --issue as a speculate group instead of a single workcell")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be dispatched without creating workcells")
	cmd.Flags().BoolVar(&watch, "watch", false, "trigger an immediate tick whenever the bead store changes")

	return cmd
}

// runDryRun reports what the next tick would admit. It only reads from the
// bead store; it does not update issues, create workcells, or start
// Temporal work.
func runDryRun(ctx context.Context, mgr config.Manager, issueID string) error {
	cfg := mgr.Get()
	beads := beadstore.NewCLIClient(config.ExpandHome(cfg.General.BeadsDir), cfg.General.MaxRetries)

	if issueID != "" {
		issue, err := beads.Get(ctx, issueID)
		if err != nil {
			return runErr("dry-run: load issue %s: %w", issueID, err)
		}
		fmt.Printf("would dispatch %s (status=%s risk=%s tokens=%d)\n",
			issue.ID, issue.Status, issue.RiskLevel, issue.DKEstimatedTokens)
		return nil
	}

	ready, err := beads.ListReady(ctx)
	if err != nil {
		return runErr("dry-run: list ready issues: %w", err)
	}
	if len(ready) == 0 {
		fmt.Println("no ready issues")
		return nil
	}

	budget := cfg.MaxConcurrentWorkcells
	tokens := cfg.MaxConcurrentTokens
	for _, issue := range ready {
		if budget <= 0 || tokens < issue.DKEstimatedTokens {
			fmt.Printf("would skip  %s (budget exhausted)\n", issue.ID)
			continue
		}
		fmt.Printf("would dispatch %s (risk=%s tokens=%d)\n", issue.ID, issue.RiskLevel, issue.DKEstimatedTokens)
		budget--
		tokens -= issue.DKEstimatedTokens
	}
	return nil
}
