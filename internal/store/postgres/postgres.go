// Package postgres implements persistence.Store against Postgres via
// jackc/pgx/v5's pgxpool, grounded on the teacher's own root-package
// database.go/initialize.go (pgxpool.Pool + Acquire/Release, CREATE TABLE
// IF NOT EXISTS at startup, JSON-column storage for semi-structured data).
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ntegrals/openbrowser/internal/persistence"
)

// Store is a pgxpool-backed persistence.Store. Append-only: steps are
// inserted as they complete, and FinalizeRun updates the owning run row
// with end-of-run totals rather than rewriting the step rows.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and ensures the runs/steps tables exist,
// mirroring the teacher's CreateModelsTable "CREATE TABLE IF NOT EXISTS"
// startup idiom.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("postgres: acquire: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS agent_runs (
			run_id               TEXT PRIMARY KEY,
			task                 TEXT NOT NULL,
			start_time           TIMESTAMPTZ NOT NULL,
			end_time             TIMESTAMPTZ,
			total_duration_ms    BIGINT,
			total_steps          INT NOT NULL DEFAULT 0,
			total_input_tokens   INT NOT NULL DEFAULT 0,
			total_output_tokens  INT NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("postgres: create agent_runs: %w", err)
	}

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS agent_steps (
			run_id       TEXT NOT NULL REFERENCES agent_runs(run_id) ON DELETE CASCADE,
			step         INT NOT NULL,
			recorded_at  TIMESTAMPTZ NOT NULL,
			record       JSONB NOT NULL,
			PRIMARY KEY (run_id, step)
		)
	`)
	if err != nil {
		return fmt.Errorf("postgres: create agent_steps: %w", err)
	}
	return nil
}

// AppendStep inserts (or, on retry, replaces) one step's record and rolls
// its token usage into the owning run row, creating the run row on first
// use so callers don't need a separate "start run" call.
func (s *Store) AppendStep(ctx context.Context, runID string, r persistence.StepRecord) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("postgres: marshal step: %w", err)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("postgres: acquire: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO agent_runs (run_id, task, start_time)
		VALUES ($1, '', $2)
		ON CONFLICT (run_id) DO NOTHING
	`, runID, r.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: ensure run row: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO agent_steps (run_id, step, recorded_at, record)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, step) DO UPDATE SET recorded_at = EXCLUDED.recorded_at, record = EXCLUDED.record
	`, runID, r.Step, r.Timestamp, raw)
	if err != nil {
		return fmt.Errorf("postgres: insert step: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE agent_runs
		SET total_steps = total_steps + 1,
		    total_input_tokens = total_input_tokens + $2,
		    total_output_tokens = total_output_tokens + $3
		WHERE run_id = $1
	`, runID, r.InputTokens, r.OutputTokens)
	if err != nil {
		return fmt.Errorf("postgres: update run totals: %w", err)
	}

	return tx.Commit(ctx)
}

// FinalizeRun writes the run's task/start/end/duration summary fields from
// log (the authoritative in-memory totals), once the run has ended.
func (s *Store) FinalizeRun(ctx context.Context, runID string, log persistence.ExecutionLog) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("postgres: acquire: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
		INSERT INTO agent_runs (run_id, task, start_time, end_time, total_duration_ms, total_steps, total_input_tokens, total_output_tokens)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO UPDATE SET
			task = EXCLUDED.task,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			total_duration_ms = EXCLUDED.total_duration_ms,
			total_steps = EXCLUDED.total_steps,
			total_input_tokens = EXCLUDED.total_input_tokens,
			total_output_tokens = EXCLUDED.total_output_tokens
	`, runID, log.Task, log.StartTime, log.EndTime, log.TotalDuration, log.TotalSteps, log.TotalInputTokens, log.TotalOutputTokens)
	if err != nil {
		return fmt.Errorf("postgres: finalize run: %w", err)
	}
	return nil
}

// LoadRun reconstructs an ExecutionLog from its run row and ordered steps.
func (s *Store) LoadRun(ctx context.Context, runID string) (persistence.ExecutionLog, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return persistence.ExecutionLog{}, fmt.Errorf("postgres: acquire: %w", err)
	}
	defer conn.Release()

	var log persistence.ExecutionLog
	row := conn.QueryRow(ctx, `
		SELECT task, start_time, end_time, total_duration_ms, total_steps, total_input_tokens, total_output_tokens
		FROM agent_runs WHERE run_id = $1
	`, runID)
	if err := row.Scan(&log.Task, &log.StartTime, &log.EndTime, &log.TotalDuration, &log.TotalSteps, &log.TotalInputTokens, &log.TotalOutputTokens); err != nil {
		return persistence.ExecutionLog{}, fmt.Errorf("postgres: load run: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT record FROM agent_steps WHERE run_id = $1 ORDER BY step ASC`, runID)
	if err != nil {
		return persistence.ExecutionLog{}, fmt.Errorf("postgres: load steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return persistence.ExecutionLog{}, fmt.Errorf("postgres: scan step: %w", err)
		}
		var r persistence.StepRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return persistence.ExecutionLog{}, fmt.Errorf("postgres: decode step: %w", err)
		}
		log.Entries = append(log.Entries, r)
	}
	if rows.Err() != nil {
		return persistence.ExecutionLog{}, fmt.Errorf("postgres: iterate steps: %w", rows.Err())
	}

	return log, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
