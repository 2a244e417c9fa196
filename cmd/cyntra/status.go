package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cyntra-dev/cyntra/internal/config"
	"github.com/cyntra-dev/cyntra/internal/store"
)

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(config.ExpandHome(cfg.General.StateDB))
	if err != nil {
		return nil, runErr("open state database: %w", err)
	}
	return st, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func newStatusCommand() *cobra.Command {
	var (
		asJSON  bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the kernel's current admission state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			running, err := st.ListRunningWorkcells()
			if err != nil {
				return runErr("list running workcells: %w", err)
			}

			resp := map[string]any{
				"running_count":  len(running),
				"max_concurrent": cfg.MaxConcurrentWorkcells,
				"max_tokens":     cfg.MaxConcurrentTokens,
			}
			if verbose {
				resp["running"] = running
				resp["toolchain_priority"] = cfg.ToolchainPriority
			}

			if asJSON {
				printJSON(resp)
				return nil
			}
			fmt.Printf("running:        %d / %d\n", len(running), cfg.MaxConcurrentWorkcells)
			fmt.Printf("token budget:   %d\n", cfg.MaxConcurrentTokens)
			if verbose {
				for _, w := range running {
					fmt.Printf("  %s  issue=%s  since=%s\n", w.WorkcellID, w.IssueID, w.CreatedAt.Format("15:04:05"))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "include per-workcell detail")
	return cmd
}

func newWorkcellsCommand() *cobra.Command {
	var (
		all    bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "workcells",
		Short: "List workcells",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			var rows []store.WorkcellRecord
			if all {
				rows, err = st.ListAllWorkcells()
			} else {
				rows, err = st.ListRunningWorkcells()
			}
			if err != nil {
				return runErr("list workcells: %w", err)
			}

			if asJSON {
				printJSON(rows)
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WORKCELL\tISSUE\tSTATUS\tCREATED")
			for _, w := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", w.WorkcellID, w.IssueID, w.Status, w.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include completed/failed/cleaned-up workcells")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newHistoryCommand() *cobra.Command {
	var (
		runID   string
		issueID string
		limit   int
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show proof history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID != "" && issueID != "" {
				return usageErr("--run and --issue are mutually exclusive")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			var rows []store.ProofRecord
			switch {
			case issueID != "":
				rows, err = st.ListProofsByIssue(issueID)
			case runID != "":
				rows, err = st.ListProofsByIssue(runID)
			default:
				rows, err = st.ListRecentProofs(limit)
			}
			if err != nil {
				return runErr("query history: %w", err)
			}

			if asJSON {
				printJSON(rows)
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WORKCELL\tISSUE\tSTATUS\tCONFIDENCE\tCOST_USD\tCREATED")
			for _, p := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.4f\t%s\n",
					p.WorkcellID, p.IssueID, p.Status, p.Confidence, p.CostUSD, p.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "filter by run (workcell) id")
	cmd.Flags().StringVar(&issueID, "issue", "", "filter by issue id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to return")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newStatsCommand() *cobra.Command {
	var (
		cost        bool
		successRate bool
		showTime    bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate cost, success-rate, and timing statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			recent, err := st.ListRecentProofs(500)
			if err != nil {
				return runErr("compute stats: %w", err)
			}

			var (
				total, succeeded int
				totalCost        float64
				totalDurationMS  int64
			)
			for _, p := range recent {
				total++
				if p.Status == "success" {
					succeeded++
				}
				totalCost += p.CostUSD
				totalDurationMS += p.DurationMS
			}

			resp := map[string]any{"sample_size": total}
			showAll := !cost && !successRate && !showTime
			if total > 0 {
				if cost || showAll {
					resp["total_cost_usd"] = totalCost
				}
				if successRate || showAll {
					resp["success_rate"] = float64(succeeded) / float64(total)
				}
				if showTime || showAll {
					resp["avg_duration_ms"] = totalDurationMS / int64(total)
				}
			}
			printJSON(resp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&cost, "cost", false, "include cost breakdown")
	cmd.Flags().BoolVar(&successRate, "success-rate", false, "include success rate")
	cmd.Flags().BoolVar(&showTime, "time", false, "include timing breakdown")
	return cmd
}
