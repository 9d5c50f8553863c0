// Package history persists run and step records in an embedded DuckDB
// database so operators can review past executions.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/wafer-pendant/backend/internal/models"
)

// ErrNotFound is returned when a run id has no record.
var ErrNotFound = errors.New("run not found")

// Store is the DuckDB-backed history store. Unlike a session cache the
// database file is persistent: Close keeps it on disk.
type Store struct {
	db     *sql.DB
	dbPath string

	// Writes are serialized; the engine emits events from a single
	// goroutine but API-triggered queries run concurrently.
	mu sync.Mutex
}

// NewStore opens (or creates) the history database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	fmt.Printf("[History] Opening database at: %s\n", dbPath)

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='256MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				fmt.Printf("[History] Pragma warning: %v\n", err)
				// Non-fatal - continue even if pragma fails
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id             VARCHAR PRIMARY KEY,
			recipe_name    VARCHAR NOT NULL,
			status         VARCHAR NOT NULL,
			total_steps    INTEGER NOT NULL,
			executed_steps INTEGER NOT NULL DEFAULT 0,
			error_count    INTEGER NOT NULL DEFAULT 0,
			retries_used   INTEGER NOT NULL DEFAULT 0,
			error          VARCHAR,
			started_at     BIGINT NOT NULL,
			ended_at       BIGINT,
			duration_ms    BIGINT
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create runs table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS step_results (
			run_id      VARCHAR NOT NULL,
			step_index  INTEGER NOT NULL,
			step_type   VARCHAR NOT NULL,
			description VARCHAR,
			outcome     VARCHAR NOT NULL,
			attempts    INTEGER NOT NULL,
			error       VARCHAR,
			started_at  BIGINT NOT NULL,
			duration_ms BIGINT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create step_results table: %w", err)
	}

	var existing int
	if err := db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&existing); err == nil && existing > 0 {
		fmt.Printf("[History] Loaded %d existing run records\n", existing)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// RecordRunStart inserts a new run row in its initial state.
func (s *Store) RecordRunStart(info models.RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO runs (id, recipe_name, status, total_steps, executed_steps, error_count, retries_used, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, info.ID, info.RecipeName, string(info.Status), info.TotalSteps,
		info.ExecutedSteps, info.ErrorCount, info.RetriesUsed, info.StartTime.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// RecordRunEnd updates a run row with its terminal outcome.
func (s *Store) RecordRunEnd(info models.RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var endedAt, durationMs interface{}
	if info.EndTime != nil {
		endedAt = info.EndTime.UnixMilli()
		durationMs = info.EndTime.Sub(info.StartTime).Milliseconds()
	}

	_, err := s.db.Exec(`
		UPDATE runs
		SET status = ?, executed_steps = ?, error_count = ?, retries_used = ?, error = ?, ended_at = ?, duration_ms = ?
		WHERE id = ?
	`, string(info.Status), info.ExecutedSteps, info.ErrorCount, info.RetriesUsed,
		info.Error, endedAt, durationMs, info.ID)
	if err != nil {
		return fmt.Errorf("failed to record run end: %w", err)
	}
	return nil
}

// RecordStep appends one step execution record.
func (s *Store) RecordStep(res models.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO step_results (run_id, step_index, step_type, description, outcome, attempts, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, res.RunID, res.StepIndex, string(res.StepType), res.Description,
		string(res.Outcome), res.Attempts, res.Error, res.StartTime.UnixMilli(), res.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to record step: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipe_name, status, total_steps, executed_steps, error_count, retries_used, error, started_at, ended_at, duration_ms
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("runs query failed: %w", err)
	}
	defer rows.Close()

	records := make([]models.RunRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetRun returns a single run record, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (models.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, recipe_name, status, total_steps, executed_steps, error_count, retries_used, error, started_at, ended_at, duration_ms
		FROM runs WHERE id = ?
	`, id)

	rec, err := scanRunRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RunRecord{}, ErrNotFound
	}
	if err != nil {
		return models.RunRecord{}, err
	}
	return rec, nil
}

// ListStepResults returns the step records of one run in execution order.
func (s *Store) ListStepResults(ctx context.Context, runID string) ([]models.StepResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, step_index, step_type, description, outcome, attempts, error, started_at, duration_ms
		FROM step_results WHERE run_id = ? ORDER BY started_at, step_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("step results query failed: %w", err)
	}
	defer rows.Close()

	var results []models.StepResult
	for rows.Next() {
		var (
			res       models.StepResult
			stepType  string
			outcome   string
			desc      sql.NullString
			stepErr   sql.NullString
			startedAt int64
		)
		if err := rows.Scan(&res.RunID, &res.StepIndex, &stepType, &desc, &outcome,
			&res.Attempts, &stepErr, &startedAt, &res.DurationMs); err != nil {
			return nil, err
		}
		res.StepType = models.StepType(stepType)
		res.Outcome = models.StepOutcome(outcome)
		res.Description = desc.String
		res.Error = stepErr.String
		res.StartTime = time.UnixMilli(startedAt)
		results = append(results, res)
	}
	return results, rows.Err()
}

// Stats aggregates the whole run history.
func (s *Store) Stats(ctx context.Context) (models.RunStats, error) {
	var stats models.RunStats
	var avg sql.NullFloat64

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'cancelled'),
		       COUNT(*) FILTER (WHERE status = 'error'),
		       COALESCE(SUM(executed_steps), 0),
		       COALESCE(SUM(retries_used), 0),
		       AVG(duration_ms)
		FROM runs
	`).Scan(&stats.TotalRuns, &stats.CompletedRuns, &stats.CancelledRuns,
		&stats.ErrorRuns, &stats.TotalSteps, &stats.TotalRetries, &avg)
	if err != nil {
		return models.RunStats{}, fmt.Errorf("stats query failed: %w", err)
	}
	stats.AvgDurationMs = avg.Float64
	return stats, nil
}

// Close closes the database. The file stays on disk.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRunRow(row rowScanner) (models.RunRecord, error) {
	var (
		rec        models.RunRecord
		status     string
		runErr     sql.NullString
		startedAt  int64
		endedAt    sql.NullInt64
		durationMs sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.RecipeName, &status, &rec.TotalSteps, &rec.ExecutedSteps,
		&rec.ErrorCount, &rec.RetriesUsed, &runErr, &startedAt, &endedAt, &durationMs)
	if err != nil {
		return models.RunRecord{}, err
	}

	rec.Status = models.RunStatus(status)
	rec.Error = runErr.String
	rec.StartTime = time.UnixMilli(startedAt)
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64)
		rec.EndTime = &t
	}
	rec.DurationMs = durationMs.Int64
	return rec, nil
}
