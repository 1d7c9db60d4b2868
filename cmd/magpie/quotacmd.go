package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hylla/magpie/internal/domain"
)

// newQuotaCmd builds the quota command group.
func newQuotaCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect and correct quota estimates",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current window estimate per tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			defer c.close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			window, err := c.estimator.EnsureWindow(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, titleStyle.Render("Quota window"))
			fmt.Fprintf(out, "  start: %s\n", window.Start.Local().Format(time.RFC822))
			fmt.Fprintf(out, "  ends:  %s\n", window.End().Local().Format(time.RFC822))

			for _, tier := range []domain.Tier{domain.TierHaiku, domain.TierSonnet, domain.TierOpus} {
				est, err := c.estimator.Remaining(ctx, tier)
				if err != nil {
					return err
				}
				line := fmt.Sprintf("  %-7s %4d/%-4d used, %d for autonomous (%.1f%% left)",
					tier, est.Used, est.Limit, est.AvailableForAutonomous, est.RemainingPct)
				if est.AvailableForAutonomous <= 0 {
					line = warnStyle.Render(line)
				}
				fmt.Fprintln(out, line)
			}

			spent, err := c.repo.DailyAutonomousCost(ctx, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  spend: $%.2f / $%.2f today\n", spent, c.cfg.Budget.MaxDailyUSD)
			fmt.Fprintf(out, "  weekly ceiling: %d parallel\n", c.weekly.Ceiling())

			fits, err := c.estimator.HasBudget(ctx,
				c.cfg.Budget.EstimatedTaskUSD, c.cfg.Budget.MaxDailyUSD, c.cfg.DefaultTier())
			if err != nil {
				return err
			}
			if fits {
				fmt.Fprintln(out, okStyle.Render(fmt.Sprintf(
					"  next task (~$%.2f) fits the budget", c.cfg.Budget.EstimatedTaskUSD)))
			} else {
				fmt.Fprintln(out, warnStyle.Render("  next task would exceed quota or the daily cap"))
			}
			return nil
		},
	}

	var (
		tierFlag   string
		sessionPct float64
		weekPct    float64
	)
	correctCmd := &cobra.Command{
		Use:   "correct",
		Short: "Record an observed usage percentage",
		Long:  "Record the usage percentage the agent CLI reports, overriding the\nledger-derived estimate for the current window.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("session") && !cmd.Flags().Changed("week") {
				return fmt.Errorf("provide --session and/or --week")
			}
			if err := c.setup(); err != nil {
				return err
			}
			defer c.close()
			ctx := cmd.Context()

			tier, err := parseTier(tierFlag)
			if err != nil {
				return err
			}
			if tier == "" {
				tier = c.cfg.DefaultTier()
			}
			if cmd.Flags().Changed("session") {
				if _, err := c.corrections.Apply(ctx, tier, domain.ScopeSession, sessionPct); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(
					fmt.Sprintf("recorded %s session usage at %.1f%%", tier, sessionPct)))
			}
			if cmd.Flags().Changed("week") {
				if _, err := c.corrections.Apply(ctx, tier, domain.ScopeWeek, weekPct); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(
					fmt.Sprintf("recorded %s week usage at %.1f%%", tier, weekPct)))
			}
			return nil
		},
	}
	correctCmd.Flags().StringVar(&tierFlag, "tier", "", "tier the percentage applies to (default from config)")
	correctCmd.Flags().Float64Var(&sessionPct, "session", 0, "session window usage percent")
	correctCmd.Flags().Float64Var(&weekPct, "week", 0, "weekly usage percent")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull live usage from the quota endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			defer c.close()
			if c.corrections.AutoSync(cmd.Context()) {
				fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("quota synced"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render("sync failed; keeping ledger-derived estimates"))
			return nil
		},
	}

	var hours int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent metered usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			defer c.close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			lookback := time.Duration(hours) * time.Hour

			events, err := c.ledger.History(ctx, lookback)
			if err != nil {
				return err
			}
			for _, ev := range events {
				kind := "manual"
				if ev.Autonomous {
					kind = "auto"
				}
				fmt.Fprintf(out, "%s  %-6s %-6s in=%-6d out=%-6d $%.4f\n",
					ev.Timestamp.Local().Format("Jan 02 15:04"), ev.Tier, kind,
					ev.InputTokens, ev.OutputTokens, ev.CostUSD)
			}
			summary, err := c.ledger.Summarize(ctx, lookback)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d events, $%.2f total ($%.2f autonomous) in last %dh\n",
				summary.EventCount, summary.TotalCostUSD, summary.AutonomousCostUSD, hours)
			return nil
		},
	}
	historyCmd.Flags().IntVar(&hours, "hours", 24, "lookback window in hours")

	cmd.AddCommand(showCmd, correctCmd, syncCmd, historyCmd)
	return cmd
}
