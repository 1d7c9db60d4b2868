package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newPatternsCmd builds the patterns command group.
func newPatternsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect learned activity patterns",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current activity state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			defer c.close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if err := c.patterns.RecordActivity(ctx); err != nil {
				return err
			}
			if mins, ok := c.patterns.IdleMinutes(); ok {
				fmt.Fprintf(out, "idle for %.0f minutes\n", mins)
			} else {
				fmt.Fprintln(out, okStyle.Render("active now"))
			}
			next, err := c.patterns.PredictNextReturn(ctx)
			if err != nil {
				return err
			}
			if next != nil {
				fmt.Fprintf(out, "predicted return: %s\n", next.Local().Format(time.RFC822))
			} else {
				fmt.Fprintln(out, dimStyle.Render("no return prediction yet (patterns still learning)"))
			}
			return printActivityGrid(cmd, c)
		},
	}

	var hours int
	predictCmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict upcoming idle windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			defer c.close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if err := c.patterns.UpdatePatterns(ctx); err != nil {
				return err
			}
			windows, err := c.patterns.PredictIdleWindows(ctx, hours)
			if err != nil {
				return err
			}
			if len(windows) == 0 {
				fmt.Fprintln(out, dimStyle.Render("no idle windows predicted"))
				return nil
			}
			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Idle windows in the next %dh", hours)))
			for _, w := range windows {
				fmt.Fprintf(out, "  %s - %s  (%.1fh, %.0f%% likely idle)\n",
					w.Start.Local().Format("Mon 15:04"), w.End.Local().Format("Mon 15:04"),
					w.Hours(), (1-w.Probability)*100)
			}

			est, err := c.estimator.Remaining(ctx, c.cfg.DefaultTier())
			if err != nil {
				return err
			}
			hoursLeft := time.Until(est.WindowEnd).Hours()
			wasted, err := c.patterns.EstimateWastedQuota(ctx, est.Remaining, hoursLeft)
			if err != nil {
				return err
			}
			if wasted > 0 {
				fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf(
					"~%d messages may expire unused this window", wasted)))
			}
			return nil
		},
	}
	predictCmd.Flags().IntVar(&hours, "hours", 12, "prediction horizon in hours")

	cmd.AddCommand(showCmd, predictCmd)
	return cmd
}

// gridDays indexes rows Monday-first, matching the stored patterns.
var gridDays = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// printActivityGrid renders the learned weekly activity grid, one cell per
// hour, darker cells meaning more likely active.
func printActivityGrid(cmd *cobra.Command, c *cli) error {
	patterns, err := c.repo.ListSchedulePatterns(cmd.Context())
	if err != nil {
		return err
	}
	if len(patterns) == 0 {
		return nil
	}
	grid := make(map[[2]int]float64, len(patterns))
	for _, p := range patterns {
		grid[[2]int{p.DayOfWeek, p.Hour}] = p.ActivityProbability
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, titleStyle.Render("Weekly activity"))
	fmt.Fprintln(out, dimStyle.Render("     0     4     8     12    16    20"))
	for day := 0; day < len(gridDays); day++ {
		row := gridDays[day] + "  "
		for hour := 0; hour < 24; hour++ {
			prob := grid[[2]int{day, hour}]
			switch {
			case prob >= 0.6:
				row += okStyle.Render("█")
			case prob >= 0.3:
				row += warnStyle.Render("▒")
			default:
				row += dimStyle.Render("·")
			}
		}
		fmt.Fprintln(out, row)
	}
	return nil
}
