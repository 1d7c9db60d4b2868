package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hylla/magpie/internal/domain"
)

// stateColor renders a work item state for table output.
func stateColor(state domain.WorkItemState) string {
	switch state {
	case domain.StateCompleted:
		return okStyle.Render(string(state))
	case domain.StateFailed:
		return warnStyle.Render(string(state))
	case domain.StateCancelled:
		return dimStyle.Render(string(state))
	default:
		return string(state)
	}
}

// printItems renders a work item table.
func printItems(cmd *cobra.Command, items []domain.WorkItem) {
	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, dimStyle.Render("no work items"))
		return
	}
	for _, item := range items {
		tier := string(item.Tier)
		if tier == "" {
			tier = "auto"
		}
		fmt.Fprintf(out, "%s  %5.1f  %-9s  %-6s  %-12s  %s\n",
			shortRef(item.ID), item.Priority, stateColor(item.State), tier, item.Origin, item.Title)
	}
}

// newTasksCmd builds the tasks command group.
func newTasksCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage the work item queue",
	}

	var stateFlag string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List queued work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			defer c.close()
			state, err := parseState(stateFlag)
			if err != nil {
				return err
			}
			var items []domain.WorkItem
			if state == "" {
				items, err = c.tasks.List(cmd.Context())
			} else {
				items, err = c.tasks.List(cmd.Context(), state)
			}
			if err != nil {
				return err
			}
			printItems(cmd, items)
			return nil
		},
	}
	listCmd.Flags().StringVar(&stateFlag, "state", "", "filter by state")

	var (
		detail   string
		priority float64
		tierFlag string
		workDir  string
	)
	addCmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Queue a work item",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			defer c.close()
			tier, err := parseTier(tierFlag)
			if err != nil {
				return err
			}
			item, err := c.tasks.Add(cmd.Context(), strings.Join(args, " "), detail, priority, tier, workDir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(
				fmt.Sprintf("queued %s (priority %.1f)", shortRef(item.ID), item.Priority)))
			return nil
		},
	}
	addCmd.Flags().StringVar(&detail, "detail", "", "longer task description")
	addCmd.Flags().Float64Var(&priority, "priority", 0, "explicit priority 0-100 (default: scored)")
	addCmd.Flags().StringVar(&tierFlag, "tier", "", "pin a tier instead of auto-selection")
	addCmd.Flags().StringVar(&workDir, "dir", "", "repository the task runs in")

	removeCmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a queued work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			defer c.close()
			item, err := findItem(cmd, c, args[0])
			if err != nil {
				return err
			}
			if err := c.tasks.Remove(cmd.Context(), item.ID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("removed "+shortRef(item.ID)))
			return nil
		},
	}

	var scanDir string
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover work items from code comments and queue files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			defer c.close()
			dir := scanDir
			if dir == "" {
				dir = c.workDir()
			}
			added, err := c.scanner.Scan(cmd.Context(), dir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("%d new work items", added)))
			return nil
		},
	}
	scanCmd.Flags().StringVar(&scanDir, "dir", "", "directory to scan (default: work dir)")

	cmd.AddCommand(listCmd, addCmd, removeCmd, scanCmd)
	return cmd
}

// findItem resolves an id or unique id prefix to a work item.
func findItem(cmd *cobra.Command, c *cli, ref string) (domain.WorkItem, error) {
	if item, err := c.tasks.Get(cmd.Context(), ref); err == nil {
		return item, nil
	}
	items, err := c.tasks.List(cmd.Context())
	if err != nil {
		return domain.WorkItem{}, err
	}
	var match *domain.WorkItem
	for i := range items {
		if strings.HasPrefix(items[i].ID, ref) {
			if match != nil {
				return domain.WorkItem{}, fmt.Errorf("id prefix %q is ambiguous", ref)
			}
			match = &items[i]
		}
	}
	if match == nil {
		return domain.WorkItem{}, fmt.Errorf("no work item matches %q", ref)
	}
	return *match, nil
}
