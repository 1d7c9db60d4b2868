package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	charmLog "github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hylla/magpie/internal/adapters/activity"
	"github.com/hylla/magpie/internal/adapters/agent"
	"github.com/hylla/magpie/internal/adapters/gitws"
	"github.com/hylla/magpie/internal/adapters/quotaapi"
	"github.com/hylla/magpie/internal/adapters/storage/sqlite"
	"github.com/hylla/magpie/internal/app"
	"github.com/hylla/magpie/internal/config"
	"github.com/hylla/magpie/internal/domain"
	"github.com/hylla/magpie/internal/platform"
)

// Output styles shared across subcommands.
var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// cli holds flag state and, after setup, the wired service graph.
type cli struct {
	configPath string
	dbPath     string
	devMode    bool
	verbose    bool

	paths platform.Paths
	cfg   config.Config
	log   *charmLog.Logger
	repo  *sqlite.Repository
	ws    *gitws.Workspace

	quota       app.QuotaSource
	estimator   *app.Estimator
	ledger      *app.Ledger
	weekly      *app.WeeklyBudget
	scheduler   *app.Scheduler
	prioritizer *app.Prioritizer
	lifecycle   *app.Lifecycle
	tasks       *app.Tasks
	scanner     *app.Scanner
	review      *app.Review
	patterns    *app.Patterns
	corrections *app.Corrections
}

// newLogger builds a logger writing to w.
func newLogger(w io.Writer, verbose bool, logfmt bool) *charmLog.Logger {
	level := charmLog.InfoLevel
	if verbose {
		level = charmLog.DebugLevel
	}
	opts := charmLog.Options{ReportTimestamp: true, Level: level}
	if logfmt {
		opts.Formatter = charmLog.LogfmtFormatter
	}
	return charmLog.NewWithOptions(w, opts)
}

// resolve loads paths and configuration without touching the database.
func (c *cli) resolve() error {
	paths, err := platform.DefaultPathsWithOptions(platform.Options{
		AppName: "magpie",
		DevMode: c.devMode,
	})
	if err != nil {
		return err
	}
	c.paths = paths

	if c.configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("MAGPIE_CONFIG")); envPath != "" {
			c.configPath = envPath
		} else {
			c.configPath = paths.ConfigPath
		}
	}
	cfg, err := config.Load(c.configPath, config.Default(paths.DBPath))
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.dbPath) != "" {
		cfg.Database.Path = c.dbPath
	}
	c.cfg = cfg
	if c.log == nil {
		c.log = newLogger(os.Stderr, c.verbose, false)
	}
	return nil
}

// setup wires the full service graph over an open database.
func (c *cli) setup() error {
	if err := c.resolve(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	repo, err := sqlite.Open(c.cfg.Database.Path)
	if err != nil {
		return err
	}
	c.repo = repo

	idGen := uuid.NewString
	clock := time.Now
	cfg := c.cfg

	c.ws = gitws.New()
	c.quota = quotaapi.New()
	probe := activity.New(cfg.Agent.Bin)

	tierLimits := make(map[domain.Tier]int, len(cfg.Quota.Limits))
	for name, limit := range cfg.Quota.Limits {
		tierLimits[domain.Tier(name)] = limit
	}
	c.estimator = app.NewEstimator(repo, idGen, clock, app.EstimatorConfig{
		WindowHours:  cfg.Quota.WindowHours,
		DefaultLimit: cfg.Quota.DefaultLimit,
		TierLimits:   tierLimits,
		SafetyMargin: cfg.Quota.SafetyMargin,
		DefaultTier:  cfg.DefaultTier(),
	})
	c.ledger = app.NewLedger(repo, idGen, clock, cfg.TierCost)
	c.weekly = app.NewWeeklyBudget(repo, c.quota, clock, c.log, app.WeeklyConfig{
		TargetPct: cfg.Quota.WeeklyTargetPct,
		Cap:       cfg.Daemon.MaxParallel,
		ResetDay:  cfg.Quota.WeeklyResetDay,
		ResetHour: cfg.Quota.WeeklyResetHour,
	})
	c.scheduler = app.NewScheduler(repo, c.estimator, c.weekly, clock, app.SchedulerConfig{
		MaxDailyUSD:      cfg.Budget.MaxDailyUSD,
		EstimatedTaskUSD: cfg.Budget.EstimatedTaskUSD,
		WindowHours:      cfg.Quota.WindowHours,
		MaxParallel:      cfg.Daemon.MaxParallel,
	})
	c.prioritizer = app.NewPrioritizer(repo)
	c.patterns = app.NewPatterns(repo, probe, idGen, clock, c.log)
	selector := app.NewTierSelector(c.estimator, c.patterns, clock, c.log, app.SelectorConfig{
		AutoSelect:  cfg.Tiers.AutoSelect,
		DefaultTier: cfg.DefaultTier(),
	})
	runner := agent.NewRunner(cfg.Agent.Bin, cfg.TierModel, cfg.Agent.ExtraFlags, cfg.Agent.MaxTurns, c.log)
	c.lifecycle = app.NewLifecycle(repo, runner, c.ws, c.ledger, selector, clock, c.log, app.LifecycleConfig{
		MaxTaskUSD:  cfg.Budget.MaxTaskUSD,
		MaxDailyUSD: cfg.Budget.MaxDailyUSD,
		Timeout:     time.Duration(cfg.Agent.TimeoutSeconds) * time.Second,
		WorkDir:     c.workDir(),
	})
	c.tasks = app.NewTasks(repo, idGen, clock)
	c.review = app.NewReview(repo, c.ws, clock, c.log)
	c.corrections = app.NewCorrections(repo, c.estimator, c.quota, idGen, clock, c.log)

	overrides := make(map[string]app.TemplateOverride, len(cfg.AutoTasks.Templates))
	for name, tpl := range cfg.AutoTasks.Templates {
		overrides[name] = app.TemplateOverride{
			Enabled:       tpl.Enabled,
			IntervalHours: tpl.IntervalHours,
			MinCommits:    tpl.MinCommits,
		}
	}
	maintenance := app.NewMaintenanceSource(repo, c.ws, clock, app.MaintenanceSourceConfig{
		Enabled:   cfg.AutoTasks.Enabled,
		WorkDir:   cfg.AutoTasks.WorkDir,
		Overrides: overrides,
	})
	c.scanner = app.NewScanner(repo, c.prioritizer, idGen, clock, c.log,
		app.NewCommentSource(c.ws), app.NewQueueSource(), maintenance)
	return nil
}

// workDir is where autonomous work runs when an item carries no directory.
func (c *cli) workDir() string {
	if dir := strings.TrimSpace(c.cfg.Daemon.WorkDir); dir != "" {
		return dir
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

// close releases the database.
func (c *cli) close() {
	if c.repo != nil {
		_ = c.repo.Close()
	}
}

// pidPath returns the daemon pid file location.
func (c *cli) pidPath() string {
	return c.paths.PIDPath
}

// logPath returns the daemon log file location.
func (c *cli) logPath() string {
	return c.paths.LogPath
}

// newRootCmd builds the command tree.
func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "magpie",
		Short:         "Quota-aware scheduler for autonomous agent work",
		Long:          "magpie queues engineering work items and executes them with an agent CLI\nwhile the operator is away, inside the subscription's rolling quota windows.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config TOML")
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "path to sqlite database")
	root.PersistentFlags().BoolVar(&c.devMode, "dev", false, "use dev mode paths (magpie-dev)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newConfigCmd(c),
		newQuotaCmd(c),
		newTasksCmd(c),
		newReviewCmd(c),
		newPatternsCmd(c),
		newDaemonCmd(c),
	)
	return root
}

// parseTier validates a tier flag; empty means unset.
func parseTier(s string) (domain.Tier, error) {
	if s == "" {
		return "", nil
	}
	tier := domain.Tier(strings.ToLower(s))
	if !domain.IsValidTier(tier) {
		return "", fmt.Errorf("unknown tier %q (haiku, sonnet, opus)", s)
	}
	return tier, nil
}

// parseState validates a state flag; empty means unset.
func parseState(s string) (domain.WorkItemState, error) {
	if s == "" {
		return "", nil
	}
	state := domain.WorkItemState(strings.ToLower(s))
	if !domain.IsValidState(state) {
		return "", fmt.Errorf("unknown state %q", s)
	}
	return state, nil
}

// shortRef abbreviates an id for table output.
func shortRef(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
