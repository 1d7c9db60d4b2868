package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/hylla/magpie/internal/domain"
)

// Config is the full on-disk configuration.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Quota     QuotaConfig     `toml:"quota"`
	Budget    BudgetConfig    `toml:"budget"`
	Tiers     TiersConfig     `toml:"tiers"`
	Agent     AgentConfig     `toml:"agent"`
	Daemon    DaemonConfig    `toml:"daemon"`
	Activity  ActivityConfig  `toml:"activity"`
	AutoTasks AutoTasksConfig `toml:"auto_tasks"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// QuotaConfig controls rolling-window and weekly accounting.
type QuotaConfig struct {
	WindowHours     int            `toml:"window_hours"`
	DefaultLimit    int            `toml:"messages_per_window"`
	SafetyMargin    float64        `toml:"safety_margin"`
	Limits          map[string]int `toml:"limits"`
	WeeklyTargetPct float64        `toml:"weekly_target_pct"`
	WeeklyResetDay  int            `toml:"weekly_reset_day"` // 0=Monday, UTC
	WeeklyResetHour int            `toml:"weekly_reset_hour"`
}

// BudgetConfig caps autonomous spending.
type BudgetConfig struct {
	MaxTaskUSD       float64 `toml:"max_task_usd"`
	MaxDailyUSD      float64 `toml:"max_daily_usd"`
	EstimatedTaskUSD float64 `toml:"estimated_task_usd"`
}

// TierPricing holds USD per million tokens for one tier.
type TierPricing struct {
	InputUSD  float64 `toml:"input_usd"`
	OutputUSD float64 `toml:"output_usd"`
}

// TiersConfig maps tiers to agent models and pricing.
type TiersConfig struct {
	AutoSelect bool                   `toml:"auto_select"`
	Default    string                 `toml:"default"`
	Models     map[string]string      `toml:"models"`
	Pricing    map[string]TierPricing `toml:"pricing"`
}

// AgentConfig describes how the external agent process is invoked.
type AgentConfig struct {
	Bin            string   `toml:"bin"`
	ExtraFlags     []string `toml:"extra_flags"`
	MaxTurns       int      `toml:"max_turns"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// DaemonConfig controls the polling control loop.
type DaemonConfig struct {
	PollIntervalSeconds int    `toml:"poll_interval"`
	MaxParallel         int    `toml:"max_parallel_tasks"`
	WeeklyUpdateMinutes int    `toml:"weekly_update_minutes"`
	WorkDir             string `toml:"work_dir"`
}

// ActivityConfig tunes operator-activity detection (informational only).
type ActivityConfig struct {
	IdleThresholdMinutes int `toml:"idle_threshold_minutes"`
	ReturnBufferMinutes  int `toml:"return_buffer_minutes"`
}

// AutoTasksConfig controls generated maintenance work items.
type AutoTasksConfig struct {
	Enabled   bool                      `toml:"enabled"`
	WorkDir   string                    `toml:"work_dir"`
	Templates map[string]TemplateConfig `toml:"templates"`
}

// TemplateConfig overrides one built-in maintenance template.
type TemplateConfig struct {
	Enabled       *bool `toml:"enabled"`
	IntervalHours *int  `toml:"interval_hours"`
	MinCommits    *int  `toml:"min_commits"`
}

// Default returns the baseline configuration for the given database path.
func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{Path: dbPath},
		Quota: QuotaConfig{
			WindowHours:  5,
			DefaultLimit: 225,
			SafetyMargin: 0.15,
			Limits: map[string]int{
				string(domain.TierHaiku):  450,
				string(domain.TierSonnet): 225,
				string(domain.TierOpus):   45,
			},
			WeeklyTargetPct: 90,
			WeeklyResetDay:  0,
			WeeklyResetHour: 0,
		},
		Budget: BudgetConfig{
			MaxTaskUSD:       2.00,
			MaxDailyUSD:      10.00,
			EstimatedTaskUSD: 0.50,
		},
		Tiers: TiersConfig{
			AutoSelect: true,
			Default:    string(domain.TierSonnet),
			Models: map[string]string{
				string(domain.TierHaiku):  "claude-haiku-4-5-20251001",
				string(domain.TierSonnet): "claude-sonnet-4-5-20250929",
				string(domain.TierOpus):   "claude-opus-4-1-20250805",
			},
			Pricing: map[string]TierPricing{
				string(domain.TierHaiku):  {InputUSD: 0.80, OutputUSD: 4.00},
				string(domain.TierSonnet): {InputUSD: 3.00, OutputUSD: 15.00},
				string(domain.TierOpus):   {InputUSD: 15.00, OutputUSD: 75.00},
			},
		},
		Agent: AgentConfig{
			Bin:            "claude",
			MaxTurns:       50,
			TimeoutSeconds: 600,
		},
		Daemon: DaemonConfig{
			PollIntervalSeconds: 60,
			MaxParallel:         4,
			WeeklyUpdateMinutes: 30,
		},
		Activity: ActivityConfig{
			IdleThresholdMinutes: 30,
			ReturnBufferMinutes:  15,
		},
		AutoTasks: AutoTasksConfig{Enabled: false},
	}
}

// Load reads path over defaults. A missing file yields the defaults.
func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(path string, cfg Config) error {
	content, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	return os.WriteFile(path, content, 0o644)
}

// Validate rejects values the scheduler cannot operate with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}
	if c.Quota.WindowHours <= 0 {
		return errors.New("quota.window_hours must be > 0")
	}
	if c.Quota.DefaultLimit <= 0 {
		return errors.New("quota.messages_per_window must be > 0")
	}
	if c.Quota.SafetyMargin < 0 || c.Quota.SafetyMargin >= 1 {
		return errors.New("quota.safety_margin must be in [0, 1)")
	}
	if c.Quota.WeeklyTargetPct <= 0 || c.Quota.WeeklyTargetPct > 100 {
		return errors.New("quota.weekly_target_pct must be in (0, 100]")
	}
	if c.Quota.WeeklyResetDay < 0 || c.Quota.WeeklyResetDay > 6 {
		return errors.New("quota.weekly_reset_day must be in [0, 6]")
	}
	if c.Quota.WeeklyResetHour < 0 || c.Quota.WeeklyResetHour > 23 {
		return errors.New("quota.weekly_reset_hour must be in [0, 23]")
	}
	for name := range c.Quota.Limits {
		if !domain.IsValidTier(domain.Tier(name)) {
			return fmt.Errorf("quota.limits references unknown tier %q", name)
		}
	}
	if c.Budget.MaxTaskUSD <= 0 || c.Budget.MaxDailyUSD <= 0 {
		return errors.New("budget limits must be > 0")
	}
	if c.Budget.EstimatedTaskUSD < 0 {
		return errors.New("budget.estimated_task_usd must be >= 0")
	}
	if !domain.IsValidTier(domain.Tier(c.Tiers.Default)) {
		return fmt.Errorf("invalid tiers.default: %q", c.Tiers.Default)
	}
	if c.Daemon.PollIntervalSeconds <= 0 {
		return errors.New("daemon.poll_interval must be > 0")
	}
	if c.Daemon.MaxParallel < 1 {
		return errors.New("daemon.max_parallel_tasks must be >= 1")
	}
	if c.Agent.TimeoutSeconds <= 0 {
		return errors.New("agent.timeout_seconds must be > 0")
	}
	return nil
}

// DefaultTier returns the configured default tier.
func (c Config) DefaultTier() domain.Tier {
	return domain.Tier(c.Tiers.Default)
}

// TierLimit resolves the per-window limit for a tier: explicit override,
// then the legacy scalar fallback.
func (c Config) TierLimit(tier domain.Tier) int {
	if limit, ok := c.Quota.Limits[string(tier)]; ok && limit > 0 {
		return limit
	}
	return c.Quota.DefaultLimit
}

// TierModel resolves the agent model identifier for a tier.
func (c Config) TierModel(tier domain.Tier) string {
	if m, ok := c.Tiers.Models[string(tier)]; ok && m != "" {
		return m
	}
	return c.Tiers.Models[c.Tiers.Default]
}

// TierCost derives the monetary cost of a metered operation at write time.
func (c Config) TierCost(tier domain.Tier, inputTokens, outputTokens int) float64 {
	pricing, ok := c.Tiers.Pricing[string(tier)]
	if !ok {
		pricing = c.Tiers.Pricing[c.Tiers.Default]
	}
	return float64(inputTokens)*pricing.InputUSD/1e6 + float64(outputTokens)*pricing.OutputUSD/1e6
}
