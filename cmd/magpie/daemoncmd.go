package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hylla/magpie/internal/daemon"
	"github.com/hylla/magpie/internal/domain"
)

// stopWait bounds how long `daemon stop` waits for a clean shutdown.
const stopWait = 5 * time.Second

// newDaemonCmd builds the daemon command group.
func newDaemonCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the background scheduler",
	}

	var logFile string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler loop in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			if logFile != "" {
				if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
					return err
				}
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				c.log = newLogger(f, c.verbose, true)
			}
			if err := c.setup(); err != nil {
				return err
			}
			defer c.close()

			pidFile := daemon.NewPIDFile(c.pidPath())
			if err := pidFile.Write(); err != nil {
				return err
			}
			defer func() { _ = pidFile.Remove() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := daemon.NewRunner(
				c.scheduler, c.prioritizer, c.lifecycle,
				c.patterns, c.weekly, c.corrections,
				time.Now, c.log, daemon.Config{
					PollInterval:   time.Duration(c.cfg.Daemon.PollIntervalSeconds) * time.Second,
					WeeklyInterval: time.Duration(c.cfg.Daemon.WeeklyUpdateMinutes) * time.Minute,
				})
			return runner.Run(ctx)
		},
	}
	runCmd.Flags().StringVar(&logFile, "log-file", "", "write logfmt logs to this file instead of stderr")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.resolve(); err != nil {
				return err
			}
			pidFile := daemon.NewPIDFile(c.pidPath())
			if pid, ok := pidFile.Running(); ok {
				return fmt.Errorf("daemon already running (pid %d)", pid)
			}

			self, err := os.Executable()
			if err != nil {
				return err
			}
			childArgs := []string{"daemon", "run", "--log-file", c.logPath()}
			if c.configPath != "" {
				childArgs = append(childArgs, "--config", c.configPath)
			}
			if c.dbPath != "" {
				childArgs = append(childArgs, "--db", c.dbPath)
			}
			if c.devMode {
				childArgs = append(childArgs, "--dev")
			}
			if c.verbose {
				childArgs = append(childArgs, "--verbose")
			}
			child := exec.Command(self, childArgs...)
			child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
			child.Stdin = nil
			child.Stdout = nil
			child.Stderr = nil
			if err := child.Start(); err != nil {
				return err
			}
			// Detach; the child owns the pid file from here.
			if err := child.Process.Release(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(
				fmt.Sprintf("daemon started (pid %d)", child.Process.Pid)))
			fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("log: "+c.logPath()))
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.resolve(); err != nil {
				return err
			}
			pid, err := daemon.NewPIDFile(c.pidPath()).Stop(stopWait)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("daemon stopped (pid %d)", pid)))
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, and admission state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(); err != nil {
				return err
			}
			defer c.close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if pid, ok := daemon.NewPIDFile(c.pidPath()).Running(); ok {
				fmt.Fprintf(out, "daemon:  %s\n", okStyle.Render(fmt.Sprintf("running (pid %d)", pid)))
			} else {
				fmt.Fprintf(out, "daemon:  %s\n", dimStyle.Render("stopped"))
			}

			for _, state := range []domain.WorkItemState{
				domain.StatePending, domain.StateRunning, domain.StateCompleted, domain.StateFailed,
			} {
				n, err := c.repo.CountByState(ctx, state)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-8s %d\n", state+":", n)
			}

			decision, err := c.scheduler.Decide(ctx)
			if err != nil {
				return err
			}
			if decision.Allowed {
				fmt.Fprintf(out, "admit:   %s\n", okStyle.Render(decision.Reason))
			} else {
				fmt.Fprintf(out, "admit:   %s\n", warnStyle.Render(decision.Reason))
			}
			return nil
		},
	}

	cmd.AddCommand(runCmd, startCmd, stopCmd, statusCmd)
	return cmd
}
