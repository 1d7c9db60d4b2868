package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hylla/magpie/internal/app"
	"github.com/hylla/magpie/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// Repository represents repository data used by this package.
type Repository struct {
	db *sql.DB
}

// Open opens the requested operation.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens in memory.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS usage_log (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			tier TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			work_item_id TEXT NOT NULL DEFAULT '',
			autonomous INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS quota_windows (
			id TEXT PRIMARY KEY,
			start TEXT NOT NULL,
			hours INTEGER NOT NULL,
			estimated_limit INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS quota_corrections (
			id TEXT PRIMARY KEY,
			window_id TEXT NOT NULL,
			tier TEXT NOT NULL,
			scope TEXT NOT NULL,
			used_pct REAL NOT NULL,
			corrected_at TEXT NOT NULL,
			FOREIGN KEY(window_id) REFERENCES quota_windows(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS work_items (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			origin TEXT NOT NULL,
			origin_ref TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT 'pending',
			priority REAL NOT NULL DEFAULT 0,
			tier TEXT NOT NULL DEFAULT '',
			work_branch TEXT NOT NULL DEFAULT '',
			work_dir TEXT NOT NULL DEFAULT '',
			result_summary TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS schedule_patterns (
			day_of_week INTEGER NOT NULL,
			hour INTEGER NOT NULL,
			activity_probability REAL NOT NULL DEFAULT 0,
			avg_usage REAL NOT NULL DEFAULT 0,
			sample_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY(day_of_week, hour)
		);`,
		`CREATE TABLE IF NOT EXISTS activity_sessions (
			id TEXT PRIMARY KEY,
			start_time TEXT NOT NULL,
			end_time TEXT,
			message_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_work_items_origin_ref ON work_items(origin, origin_ref) WHERE origin_ref != '';`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_state_priority ON work_items(state, priority DESC, created_at ASC);`,
		`CREATE INDEX IF NOT EXISTS idx_usage_log_tier_timestamp ON usage_log(tier, timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_quota_corrections_lookup ON quota_corrections(window_id, tier, scope, corrected_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_activity_sessions_start ON activity_sessions(start_time DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// AppendUsage appends one usage event to the ledger.
func (r *Repository) AppendUsage(ctx context.Context, ev domain.UsageEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_log(id, timestamp, tier, input_tokens, output_tokens, cost_usd, work_item_id, autonomous)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ts(ev.Timestamp), string(ev.Tier), ev.InputTokens, ev.OutputTokens, ev.CostUSD, ev.WorkItemID, boolInt(ev.Autonomous))
	return err
}

// UsageSince lists usage events at or after since, oldest first.
func (r *Repository) UsageSince(ctx context.Context, since time.Time) ([]domain.UsageEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, timestamp, tier, input_tokens, output_tokens, cost_usd, work_item_id, autonomous
		FROM usage_log
		WHERE datetime(timestamp) >= datetime(?)
		ORDER BY datetime(timestamp) ASC, id ASC
	`, ts(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.UsageEvent{}
	for rows.Next() {
		ev, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// TierUsageCount counts tier events at or after since.
func (r *Repository) TierUsageCount(ctx context.Context, tier domain.Tier, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM usage_log
		WHERE tier = ? AND datetime(timestamp) >= datetime(?)
	`, string(tier), ts(since)).Scan(&n)
	return n, err
}

// DailyAutonomousCost sums autonomous spend on the given UTC date.
func (r *Repository) DailyAutonomousCost(ctx context.Context, day time.Time) (float64, error) {
	var total float64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_log
		WHERE autonomous = 1 AND substr(timestamp, 1, 10) = ?
	`, day.UTC().Format("2006-01-02")).Scan(&total)
	return total, err
}

// InsertQuotaWindow inserts quota window.
func (r *Repository) InsertQuotaWindow(ctx context.Context, w domain.QuotaWindow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO quota_windows(id, start, hours, estimated_limit)
		VALUES (?, ?, ?, ?)
	`, w.ID, ts(w.Start), w.Hours, w.EstimatedLimit)
	return err
}

// CurrentQuotaWindow returns the window covering the present moment.
// Expired windows are never returned, so a caller sees app.ErrNotFound and
// materializes a fresh one.
func (r *Repository) CurrentQuotaWindow(ctx context.Context) (domain.QuotaWindow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, start, hours, estimated_limit
		FROM quota_windows
		WHERE datetime(start, '+' || hours || ' hours') > datetime('now')
			AND datetime(start) <= datetime('now')
		ORDER BY datetime(start) DESC
		LIMIT 1
	`)
	var (
		w        domain.QuotaWindow
		startRaw string
	)
	if err := row.Scan(&w.ID, &startRaw, &w.Hours, &w.EstimatedLimit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.QuotaWindow{}, app.ErrNotFound
		}
		return domain.QuotaWindow{}, err
	}
	w.Start = parseTS(startRaw)
	return w, nil
}

// InsertCorrection inserts correction.
func (r *Repository) InsertCorrection(ctx context.Context, c domain.QuotaCorrection) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO quota_corrections(id, window_id, tier, scope, used_pct, corrected_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.WindowID, string(c.Tier), string(c.Scope), c.UsedPct, ts(c.CorrectedAt))
	return err
}

// LatestCorrection returns the most recent correction for the key.
func (r *Repository) LatestCorrection(ctx context.Context, windowID string, tier domain.Tier, scope domain.CorrectionScope) (domain.QuotaCorrection, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, window_id, tier, scope, used_pct, corrected_at
		FROM quota_corrections
		WHERE window_id = ? AND tier = ? AND scope = ?
		ORDER BY datetime(corrected_at) DESC, id DESC
		LIMIT 1
	`, windowID, string(tier), string(scope))
	var (
		c            domain.QuotaCorrection
		tierRaw      string
		scopeRaw     string
		correctedRaw string
	)
	if err := row.Scan(&c.ID, &c.WindowID, &tierRaw, &scopeRaw, &c.UsedPct, &correctedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.QuotaCorrection{}, app.ErrNotFound
		}
		return domain.QuotaCorrection{}, err
	}
	c.Tier = domain.Tier(tierRaw)
	c.Scope = domain.CorrectionScope(scopeRaw)
	c.CorrectedAt = parseTS(correctedRaw)
	return c, nil
}

// CreateWorkItem creates work item.
func (r *Repository) CreateWorkItem(ctx context.Context, item domain.WorkItem) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO work_items(
			id, title, detail, origin, origin_ref, state, priority, tier,
			work_branch, work_dir, result_summary, created_at, started_at, completed_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID,
		item.Title,
		item.Detail,
		string(item.Origin),
		item.OriginRef,
		string(item.State),
		item.Priority,
		string(item.Tier),
		item.WorkBranch,
		item.WorkDir,
		item.ResultSummary,
		ts(item.CreatedAt),
		nullableTS(item.StartedAt),
		nullableTS(item.CompletedAt),
	)
	if isUniqueViolation(err) {
		return app.ErrDuplicateRef
	}
	return err
}

// UpdateWorkItem updates state for the requested operation.
func (r *Repository) UpdateWorkItem(ctx context.Context, item domain.WorkItem) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE work_items
		SET title = ?, detail = ?, origin = ?, origin_ref = ?, state = ?, priority = ?, tier = ?,
		    work_branch = ?, work_dir = ?, result_summary = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`,
		item.Title,
		item.Detail,
		string(item.Origin),
		item.OriginRef,
		string(item.State),
		item.Priority,
		string(item.Tier),
		item.WorkBranch,
		item.WorkDir,
		item.ResultSummary,
		nullableTS(item.StartedAt),
		nullableTS(item.CompletedAt),
		item.ID,
	)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// GetWorkItem returns work item.
func (r *Repository) GetWorkItem(ctx context.Context, id string) (domain.WorkItem, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, detail, origin, origin_ref, state, priority, tier,
		       work_branch, work_dir, result_summary, created_at, started_at, completed_at
		FROM work_items
		WHERE id = ?
	`, id)
	return scanWorkItem(row)
}

// DeleteWorkItem deletes work item.
func (r *Repository) DeleteWorkItem(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM work_items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// ListWorkItems lists all work items ordered by priority.
func (r *Repository) ListWorkItems(ctx context.Context) ([]domain.WorkItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, detail, origin, origin_ref, state, priority, tier,
		       work_branch, work_dir, result_summary, created_at, started_at, completed_at
		FROM work_items
		ORDER BY priority DESC, created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWorkItems(rows)
}

// WorkItemsByState lists items in any of the given states ordered by priority.
func (r *Repository) WorkItemsByState(ctx context.Context, states ...domain.WorkItemState) ([]domain.WorkItem, error) {
	if len(states) == 0 {
		return []domain.WorkItem{}, nil
	}
	placeholders := make([]string, len(states))
	args := make([]any, len(states))
	for i, s := range states {
		placeholders[i] = "?"
		args[i] = string(s)
	}
	query := fmt.Sprintf(`
		SELECT id, title, detail, origin, origin_ref, state, priority, tier,
		       work_branch, work_dir, result_summary, created_at, started_at, completed_at
		FROM work_items
		WHERE state IN (%s)
		ORDER BY priority DESC, created_at ASC
	`, strings.Join(placeholders, ", "))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWorkItems(rows)
}

// CountByState counts items in the given state.
func (r *Repository) CountByState(ctx context.Context, state domain.WorkItemState) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM work_items WHERE state = ?
	`, string(state)).Scan(&n)
	return n, err
}

// HasOriginRef reports whether an item with the (origin, ref) pair exists.
func (r *Repository) HasOriginRef(ctx context.Context, origin domain.WorkItemOrigin, ref string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM work_items WHERE origin = ? AND origin_ref = ?
	`, string(origin), ref).Scan(&n)
	return n > 0, err
}

// MarkRunning performs the atomic pending-to-running transition. The state
// predicate in the UPDATE makes concurrent claims of one item race-free.
func (r *Repository) MarkRunning(ctx context.Context, id string, tier domain.Tier, startedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE work_items
		SET state = ?, tier = ?, started_at = ?
		WHERE id = ? AND state = ?
	`, string(domain.StateRunning), string(tier), ts(startedAt), id, string(domain.StatePending))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_items WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	if n == 0 {
		return false, app.ErrNotFound
	}
	return false, nil
}

// LastMaintenanceCompletion returns when a maintenance item of the given
// type last completed, or nil when none has.
func (r *Repository) LastMaintenanceCompletion(ctx context.Context, taskType string) (*time.Time, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT completed_at
		FROM work_items
		WHERE origin = ? AND state = ? AND origin_ref LIKE ? AND completed_at IS NOT NULL
		ORDER BY datetime(completed_at) DESC
		LIMIT 1
	`, string(domain.OriginMaintenance), string(domain.StateCompleted), taskType+":%")
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t := parseTS(raw)
	return &t, nil
}

// UpsertSchedulePattern writes one activity grid cell.
func (r *Repository) UpsertSchedulePattern(ctx context.Context, p domain.SchedulePattern) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO schedule_patterns(day_of_week, hour, activity_probability, avg_usage, sample_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(day_of_week, hour) DO UPDATE SET
			activity_probability = excluded.activity_probability,
			avg_usage = excluded.avg_usage,
			sample_count = excluded.sample_count
	`, p.DayOfWeek, p.Hour, p.ActivityProbability, p.AvgUsage, p.SampleCount)
	return err
}

// ListSchedulePatterns lists all activity grid cells.
func (r *Repository) ListSchedulePatterns(ctx context.Context) ([]domain.SchedulePattern, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT day_of_week, hour, activity_probability, avg_usage, sample_count
		FROM schedule_patterns
		ORDER BY day_of_week ASC, hour ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.SchedulePattern{}
	for rows.Next() {
		var p domain.SchedulePattern
		if err := rows.Scan(&p.DayOfWeek, &p.Hour, &p.ActivityProbability, &p.AvgUsage, &p.SampleCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertActivitySession inserts activity session.
func (r *Repository) InsertActivitySession(ctx context.Context, s domain.ActivitySession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_sessions(id, start_time, end_time, message_count)
		VALUES (?, ?, ?, ?)
	`, s.ID, ts(s.StartTime), nullableTS(s.EndTime), s.MessageCount)
	return err
}

// UpdateActivitySession updates state for the requested operation.
func (r *Repository) UpdateActivitySession(ctx context.Context, s domain.ActivitySession) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE activity_sessions
		SET start_time = ?, end_time = ?, message_count = ?
		WHERE id = ?
	`, ts(s.StartTime), nullableTS(s.EndTime), s.MessageCount, s.ID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// RecentActivitySessions lists the newest sessions, most recent first.
func (r *Repository) RecentActivitySessions(ctx context.Context, limit int) ([]domain.ActivitySession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, start_time, end_time, message_count
		FROM activity_sessions
		ORDER BY datetime(start_time) DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ActivitySession{}
	for rows.Next() {
		var (
			s        domain.ActivitySession
			startRaw string
			endRaw   sql.NullString
		)
		if err := rows.Scan(&s.ID, &startRaw, &endRaw, &s.MessageCount); err != nil {
			return nil, err
		}
		s.StartTime = parseTS(startRaw)
		s.EndTime = parseNullTS(endRaw)
		out = append(out, s)
	}
	return out, rows.Err()
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

// scanUsage handles scan usage.
func scanUsage(s scanner) (domain.UsageEvent, error) {
	var (
		ev       domain.UsageEvent
		tsRaw    string
		tierRaw  string
		autonRaw int
	)
	if err := s.Scan(&ev.ID, &tsRaw, &tierRaw, &ev.InputTokens, &ev.OutputTokens, &ev.CostUSD, &ev.WorkItemID, &autonRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UsageEvent{}, app.ErrNotFound
		}
		return domain.UsageEvent{}, err
	}
	ev.Timestamp = parseTS(tsRaw)
	ev.Tier = domain.Tier(tierRaw)
	ev.Autonomous = autonRaw != 0
	return ev, nil
}

// scanWorkItem handles scan work item.
func scanWorkItem(s scanner) (domain.WorkItem, error) {
	var (
		item         domain.WorkItem
		originRaw    string
		stateRaw     string
		tierRaw      string
		createdRaw   string
		startedRaw   sql.NullString
		completedRaw sql.NullString
	)
	if err := s.Scan(
		&item.ID,
		&item.Title,
		&item.Detail,
		&originRaw,
		&item.OriginRef,
		&stateRaw,
		&item.Priority,
		&tierRaw,
		&item.WorkBranch,
		&item.WorkDir,
		&item.ResultSummary,
		&createdRaw,
		&startedRaw,
		&completedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WorkItem{}, app.ErrNotFound
		}
		return domain.WorkItem{}, err
	}
	item.Origin = domain.WorkItemOrigin(originRaw)
	item.State = domain.WorkItemState(stateRaw)
	item.Tier = domain.Tier(tierRaw)
	item.CreatedAt = parseTS(createdRaw)
	item.StartedAt = parseNullTS(startedRaw)
	item.CompletedAt = parseNullTS(completedRaw)
	return item, nil
}

// collectWorkItems drains rows into a slice.
func collectWorkItems(rows *sql.Rows) ([]domain.WorkItem, error) {
	out := []domain.WorkItem{}
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// translateNoRows handles translate no rows.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableTS handles nullable ts.
func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

// parseNullTS parses input into a normalized form.
func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	parsed := parseTS(v.String)
	return &parsed
}

// boolInt converts a bool to its stored integer form.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether the expected condition is satisfied.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
