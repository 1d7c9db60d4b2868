package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newReviewCmd builds the review command group.
func newReviewCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review completed autonomous work",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List completed work items awaiting review",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			defer c.close()
			items, err := c.review.List(cmd.Context())
			if err != nil {
				return err
			}
			printItems(cmd, items)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a completed item's commits and diff",
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
			detail, err := c.review.Show(cmd.Context(), item.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render(detail.Item.Title))
			if detail.Item.WorkBranch != "" {
				fmt.Fprintln(out, dimStyle.Render("branch: "+detail.Item.WorkBranch))
			}
			if detail.Item.ResultSummary != "" {
				fmt.Fprintln(out)
				fmt.Fprintln(out, detail.Item.ResultSummary)
			}
			if detail.Log != "" {
				fmt.Fprintln(out)
				fmt.Fprintln(out, titleStyle.Render("Commits"))
				fmt.Fprintln(out, detail.Log)
			}
			if detail.Diff != "" {
				fmt.Fprintln(out)
				fmt.Fprintln(out, titleStyle.Render("Diff"))
				fmt.Fprintln(out, detail.Diff)
			}
			return nil
		},
	}

	approveCmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Merge a completed item's branch",
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
			if err := c.review.Approve(cmd.Context(), item.ID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("merged "+item.WorkBranch))
			return nil
		},
	}

	rejectCmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Discard a completed item's branch",
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
			if err := c.review.Reject(cmd.Context(), item.ID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("rejected "+shortRef(item.ID)))
			return nil
		},
	}

	cmd.AddCommand(listCmd, showCmd, approveCmd, rejectCmd)
	return cmd
}
