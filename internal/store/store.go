package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/qurio/internal/research"
)

// Store persists research runs, users and watches in Postgres.
type Store struct {
	DB *sql.DB
}

// Run statuses persisted for research runs.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one persisted research run.
type Run struct {
	ID          string
	UserID      string
	Question    string
	Mode        string
	Concurrent  bool
	Status      string
	PlanJSON    []byte
	Report      string
	Sources     []research.SourceEntry
	DurationMS  int64
	CreatedAt   time.Time
	CompletedAt sql.NullTime
}

// StepResult is the persisted outcome of one plan step.
type StepResult struct {
	RunID      string
	Step       int
	Action     string
	Status     string
	DurationMS int64
	Content    string
}

// Watch is a stored research question re-run on a cron schedule.
type Watch struct {
	ID        string
	UserID    string
	Question  string
	Mode      string
	CronSpec  string
	Enabled   bool
	CreatedAt time.Time
	LastRunAt sql.NullTime
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`, email, hash).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Run operations

func (s *Store) CreateRun(ctx context.Context, run Run) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO runs (id, user_id, question, mode, concurrent, status, plan_json) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		run.ID, run.UserID, run.Question, run.Mode, run.Concurrent, RunStatusRunning, nullableBytes(run.PlanJSON))
	return err
}

// CompleteRun finalizes a run with its report, sources and terminal status.
func (s *Store) CompleteRun(ctx context.Context, runID, status, report string, sources []research.SourceEntry, durationMS int64) error {
	if sources == nil {
		sources = []research.SourceEntry{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE runs SET status=$2, report=$3, sources=$4, duration_ms=$5, completed_at=NOW() WHERE id=$1`,
		runID, status, report, sourcesJSON, durationMS)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID, userID string) (Run, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, user_id, question, mode, concurrent, status, plan_json, report, sources, duration_ms, created_at, completed_at FROM runs WHERE id=$1 AND user_id=$2`, runID, userID)

	var run Run
	var planJSON, sourcesJSON []byte
	var report sql.NullString
	err := row.Scan(&run.ID, &run.UserID, &run.Question, &run.Mode, &run.Concurrent, &run.Status, &planJSON, &report, &sourcesJSON, &run.DurationMS, &run.CreatedAt, &run.CompletedAt)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	run.PlanJSON = planJSON
	run.Report = report.String
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &run.Sources); err != nil {
			return Run{}, false, fmt.Errorf("unmarshal sources: %w", err)
		}
	}
	return run, true, nil
}

func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, question, mode, concurrent, status, duration_ms, created_at, completed_at FROM runs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run := Run{UserID: userID}
		if err := rows.Scan(&run.ID, &run.Question, &run.Mode, &run.Concurrent, &run.Status, &run.DurationMS, &run.CreatedAt, &run.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// SaveStepResult records one step outcome for a run.
func (s *Store) SaveStepResult(ctx context.Context, r StepResult) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO run_steps (run_id, step, action, status, duration_ms, content) VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (run_id, step) DO UPDATE SET status=EXCLUDED.status, duration_ms=EXCLUDED.duration_ms, content=EXCLUDED.content`,
		r.RunID, r.Step, r.Action, r.Status, r.DurationMS, r.Content)
	return err
}

func (s *Store) ListStepResults(ctx context.Context, runID string) ([]StepResult, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT run_id, step, action, status, duration_ms, content FROM run_steps WHERE run_id=$1 ORDER BY step ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StepResult
	for rows.Next() {
		var r StepResult
		if err := rows.Scan(&r.RunID, &r.Step, &r.Action, &r.Status, &r.DurationMS, &r.Content); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Watch operations

func (s *Store) CreateWatch(ctx context.Context, userID, question, mode, cronSpec string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO watches (user_id, question, mode, cron_spec, enabled) VALUES ($1,$2,$3,$4,TRUE) RETURNING id`,
		userID, question, mode, cronSpec).Scan(&id)
	return id, err
}

func (s *Store) ListWatches(ctx context.Context, userID string) ([]Watch, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, user_id, question, mode, cron_spec, enabled, created_at, last_run_at FROM watches WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWatches(rows)
}

// ListEnabledWatches returns every enabled watch, for the scheduler.
func (s *Store) ListEnabledWatches(ctx context.Context) ([]Watch, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, user_id, question, mode, cron_spec, enabled, created_at, last_run_at FROM watches WHERE enabled=TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWatches(rows)
}

func (s *Store) SetWatchEnabled(ctx context.Context, watchID, userID string, enabled bool) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE watches SET enabled=$3 WHERE id=$1 AND user_id=$2`, watchID, userID, enabled)
	if err != nil {
		return err
	}
	return oneRow(res, watchID)
}

// TouchWatch stamps the watch after the scheduler fires it.
func (s *Store) TouchWatch(ctx context.Context, watchID string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE watches SET last_run_at=NOW() WHERE id=$1`, watchID)
	return err
}

func (s *Store) DeleteWatch(ctx context.Context, watchID, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM watches WHERE id=$1 AND user_id=$2`, watchID, userID)
	if err != nil {
		return err
	}
	return oneRow(res, watchID)
}

func scanWatches(rows *sql.Rows) ([]Watch, error) {
	var out []Watch
	for rows.Next() {
		var w Watch
		if err := rows.Scan(&w.ID, &w.UserID, &w.Question, &w.Mode, &w.CronSpec, &w.Enabled, &w.CreatedAt, &w.LastRunAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func oneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("watch %s not found", id)
	}
	return nil
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
