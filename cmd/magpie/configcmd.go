package main

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/hylla/magpie/internal/config"
)

// newConfigCmd builds the config command group.
func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialize configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.resolve(); err != nil {
				return err
			}
			if _, err := os.Stat(c.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", c.configPath)
			}
			if err := os.MkdirAll(filepath.Dir(c.configPath), 0o755); err != nil {
				return err
			}
			if err := config.Save(c.configPath, config.Default(c.paths.DBPath)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("wrote "+c.configPath))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.resolve(); err != nil {
				return err
			}
			content, err := toml.Marshal(c.cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("# "+c.configPath))
			fmt.Fprint(cmd.OutOrStdout(), string(content))
			return nil
		},
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print resolved file locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.resolve(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config: %s\n", c.configPath)
			fmt.Fprintf(out, "data_dir: %s\n", c.paths.DataDir)
			fmt.Fprintf(out, "db: %s\n", c.cfg.Database.Path)
			fmt.Fprintf(out, "pid: %s\n", c.pidPath())
			fmt.Fprintf(out, "log: %s\n", c.logPath())
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd, pathCmd)
	return cmd
}
