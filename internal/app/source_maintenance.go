package app

import (
	"context"
	"time"

	"github.com/hylla/magpie/internal/domain"
)

// MaintenanceTemplate describes one kind of generated maintenance item and
// its trigger conditions.
type MaintenanceTemplate struct {
	TaskType        string
	Title           string
	Detail          string
	IntervalHours   int
	MinCommits      int
	NeedsNewCommits bool
	NeedsCodeChange bool
	Enabled         bool
}

// BuiltinTemplates returns the default maintenance template set.
func BuiltinTemplates() []MaintenanceTemplate {
	return []MaintenanceTemplate{
		{
			TaskType:        "run_tests",
			Title:           "Run test suite",
			Detail:          "Run the full test suite, investigate any failures, and fix broken tests.",
			IntervalHours:   24,
			NeedsNewCommits: true,
			Enabled:         true,
		},
		{
			TaskType:        "update_docs",
			Title:           "Update documentation",
			Detail:          "Review recent code changes and update README or other documentation to stay in sync.",
			IntervalHours:   48,
			NeedsCodeChange: true,
			Enabled:         true,
		},
		{
			TaskType:   "clean_commits",
			Title:      "Clean up commit history",
			Detail:     "Review the current branch commits, squash fixups, and improve commit messages.",
			MinCommits: 10,
			Enabled:    true,
		},
		{
			TaskType:        "lint_check",
			Title:           "Run linter and fix issues",
			Detail:          "Run the project linter, auto-fix where possible, and address remaining warnings.",
			IntervalHours:   12,
			NeedsCodeChange: true,
			Enabled:         true,
		},
		{
			TaskType:      "dependency_check",
			Title:         "Check dependency updates",
			Detail:        "Check for outdated dependencies and evaluate available upgrades for security and compatibility.",
			IntervalHours: 168,
			Enabled:       true,
		},
		{
			TaskType:        "security_audit",
			Title:           "Audit code for security issues",
			Detail:          "Scan the codebase for security vulnerabilities: hardcoded secrets, injection risks, insecure deserialization, and other OWASP Top 10 issues. Report findings and apply fixes.",
			IntervalHours:   168,
			NeedsCodeChange: true,
			Enabled:         true,
		},
		{
			TaskType:        "test_coverage",
			Title:           "Generate tests for uncovered code",
			Detail:          "Identify functions and branches with no test coverage. Generate unit tests for the most critical uncovered paths and verify they pass.",
			IntervalHours:   48,
			NeedsCodeChange: true,
			Enabled:         true,
		},
		{
			TaskType:        "dead_code_detection",
			Title:           "Detect and remove dead code",
			Detail:          "Find unused imports, functions, variables, and unreachable code. Remove dead code and verify the test suite still passes.",
			IntervalHours:   168,
			NeedsCodeChange: true,
			Enabled:         true,
		},
		{
			TaskType:   "changelog_generation",
			Title:      "Generate changelog from recent commits",
			Detail:     "Review recent commit history and generate or update CHANGELOG entries, grouped by category following Keep a Changelog format.",
			MinCommits: 5,
			Enabled:    true,
		},
	}
}

// TemplateOverride adjusts one built-in template from configuration.
type TemplateOverride struct {
	Enabled       *bool
	IntervalHours *int
	MinCommits    *int
}

// MaintenanceSourceConfig tunes maintenance item generation.
type MaintenanceSourceConfig struct {
	Enabled   bool
	WorkDir   string
	Overrides map[string]TemplateOverride
}

// MaintenanceSource generates routine maintenance work items from
// templates whose trigger conditions are met. At most one item per
// template type per day is emitted, via origin_ref "<type>:<date>".
type MaintenanceSource struct {
	repo      Repository
	ws        Workspace
	clock     Clock
	cfg       MaintenanceSourceConfig
	templates []MaintenanceTemplate
}

// NewMaintenanceSource constructs a MaintenanceSource over the built-in
// template set.
func NewMaintenanceSource(repo Repository, ws Workspace, clock Clock, cfg MaintenanceSourceConfig) *MaintenanceSource {
	if clock == nil {
		clock = time.Now
	}
	return &MaintenanceSource{
		repo: repo, ws: ws, clock: clock, cfg: cfg,
		templates: BuiltinTemplates(),
	}
}

// effective applies configured overrides to one template.
func (s *MaintenanceSource) effective(t MaintenanceTemplate) MaintenanceTemplate {
	o, ok := s.cfg.Overrides[t.TaskType]
	if !ok {
		return t
	}
	if o.Enabled != nil {
		t.Enabled = *o.Enabled
	}
	if o.IntervalHours != nil {
		t.IntervalHours = *o.IntervalHours
	}
	if o.MinCommits != nil {
		t.MinCommits = *o.MinCommits
	}
	return t
}

// conditionsMet evaluates one template's trigger conditions against the
// repository history and the stored completion log.
func (s *MaintenanceSource) conditionsMet(ctx context.Context, t MaintenanceTemplate, dir string) bool {
	if !t.Enabled {
		return false
	}
	now := s.clock()

	if t.IntervalHours > 0 {
		last, err := s.repo.LastMaintenanceCompletion(ctx, t.TaskType)
		if err != nil {
			return false
		}
		if last != nil && now.Sub(*last) < time.Duration(t.IntervalHours)*time.Hour {
			return false
		}
	}

	if t.MinCommits > 0 {
		count, err := s.ws.BranchCommitCount(dir)
		if err != nil || count < t.MinCommits {
			return false
		}
	}

	if t.IntervalHours > 0 {
		since := now.Add(-time.Duration(t.IntervalHours) * time.Hour)
		if t.NeedsNewCommits {
			if ok, err := s.ws.HasCommitsSince(dir, since); err != nil || !ok {
				return false
			}
		}
		if t.NeedsCodeChange {
			if ok, err := s.ws.HasCodeChangesSince(dir, since); err != nil || !ok {
				return false
			}
		}
	}
	return true
}

// Scan emits candidates for every template whose conditions are met.
func (s *MaintenanceSource) Scan(ctx context.Context, dir string) ([]Candidate, error) {
	if !s.cfg.Enabled {
		return nil, nil
	}
	workDir := s.cfg.WorkDir
	if workDir == "" {
		workDir = dir
	}
	today := s.clock().UTC().Format("2006-01-02")

	var out []Candidate
	for _, t := range s.templates {
		t = s.effective(t)
		if !s.conditionsMet(ctx, t, workDir) {
			continue
		}
		out = append(out, Candidate{
			Title:     t.Title,
			Detail:    t.Detail,
			Origin:    domain.OriginMaintenance,
			OriginRef: t.TaskType + ":" + today,
		})
	}
	return out, nil
}
