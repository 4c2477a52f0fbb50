package planstore

import (
	"context"
	"fmt"
	"strings"

	"wanderlust/internal/domain/tracker"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultHistoryLimit = 100

var _ tracker.RunRecorder = (*PostgresRunRecorder)(nil)

// PostgresRunRecorder persists terminal runs in the workflow_runs table.
type PostgresRunRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRunRecorder wraps a pool.
func NewPostgresRunRecorder(pool *pgxpool.Pool) *PostgresRunRecorder {
	return &PostgresRunRecorder{pool: pool}
}

// EnsureSchema creates the run history table if needed.
func (r *PostgresRunRecorder) EnsureSchema(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("run recorder not initialized")
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflow_runs (
    run_id TEXT PRIMARY KEY,
    plan_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    location_id TEXT NOT NULL DEFAULT '',
    user_id TEXT NOT NULL DEFAULT '',
    task_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    signature TEXT NOT NULL DEFAULT '',
    unchanged_count INTEGER NOT NULL DEFAULT 0,
    shape_count INTEGER NOT NULL DEFAULT 0,
    ticks INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_plan ON workflow_runs (plan_id, finished_at DESC);`,
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure run schema: %w", err)
		}
	}
	return nil
}

// RecordRun upserts a terminal run.
func (r *PostgresRunRecorder) RecordRun(ctx context.Context, rec tracker.RunRecord) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("run recorder not initialized")
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO workflow_runs (
    run_id, plan_id, kind, location_id, user_id, task_id, status, signature,
    unchanged_count, shape_count, ticks, error, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (run_id) DO UPDATE SET
    status = EXCLUDED.status,
    signature = EXCLUDED.signature,
    unchanged_count = EXCLUDED.unchanged_count,
    shape_count = EXCLUDED.shape_count,
    ticks = EXCLUDED.ticks,
    error = EXCLUDED.error,
    finished_at = EXCLUDED.finished_at
`,
		rec.RunID,
		rec.PlanID,
		string(rec.Kind),
		rec.LocationID,
		rec.UserID,
		rec.TaskID,
		string(rec.Status),
		rec.Signature,
		rec.UnchangedCount,
		rec.ShapeCount,
		rec.Ticks,
		rec.Error,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.RunID, err)
	}
	return nil
}

// ListRuns returns matching runs, newest first.
func (r *PostgresRunRecorder) ListRuns(ctx context.Context, filter tracker.RunFilter) ([]tracker.RunRecord, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("run recorder not initialized")
	}
	var (
		clauses []string
		args    []any
	)
	if filter.PlanID != "" {
		args = append(args, filter.PlanID)
		clauses = append(clauses, fmt.Sprintf("plan_id = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		clauses = append(clauses, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	args = append(args, limit)

	query := `SELECT run_id, plan_id, kind, location_id, user_id, task_id, status, signature,
    unchanged_count, shape_count, ticks, error, started_at, finished_at
FROM workflow_runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY finished_at DESC, run_id LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanRunRecord)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return records, nil
}

func scanRunRecord(row pgx.CollectableRow) (tracker.RunRecord, error) {
	var (
		rec    tracker.RunRecord
		kind   string
		status string
	)
	err := row.Scan(
		&rec.RunID,
		&rec.PlanID,
		&kind,
		&rec.LocationID,
		&rec.UserID,
		&rec.TaskID,
		&status,
		&rec.Signature,
		&rec.UnchangedCount,
		&rec.ShapeCount,
		&rec.Ticks,
		&rec.Error,
		&rec.StartedAt,
		&rec.FinishedAt,
	)
	rec.Kind = tracker.WorkflowKind(kind)
	rec.Status = tracker.RunStatus(status)
	return rec, err
}
