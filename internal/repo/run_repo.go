package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/tracepipe/internal/domain"
)

// Пределы выборки истории.
const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// RunRepo — репозиторий истории runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// SaveRun сохраняет run вместе с записями о стадиях.
//
// Повторное сохранение того же run перезаписывает строку и все стадии.
func (r *RunRepo) SaveRun(ctx context.Context, run *domain.Run) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO runs (id, workload_id, workload, dir, status, state, failed_stage,
		                  started_at, finished_at, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, state = EXCLUDED.state,
		    failed_stage = EXCLUDED.failed_stage, started_at = EXCLUDED.started_at,
		    finished_at = EXCLUDED.finished_at, error = EXCLUDED.error
	`
	_, err = tx.Exec(ctx, query,
		run.ID,
		run.WorkloadID,
		run.Workload,
		run.Dir,
		string(run.Status),
		string(run.State),
		nullStage(run.FailedStage),
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM stage_runs WHERE run_id = $1`, run.ID); err != nil {
		return fmt.Errorf("delete stage runs: %w", err)
	}

	batch := &pgx.Batch{}
	for _, rec := range run.Stages {
		batch.Queue(`
			INSERT INTO stage_runs (run_id, stage, name, status, exit_code, started_at, finished_at, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			run.ID,
			int(rec.Stage),
			rec.Name,
			string(rec.Status),
			rec.ExitCode,
			rec.StartedAt,
			rec.FinishedAt,
			nullString(rec.Error),
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert stage runs: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID вместе со стадиями.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `
		SELECT id, workload_id, workload, dir, status, state, failed_stage,
		       started_at, finished_at, error, created_at
		FROM runs
		WHERE id = $1
	`
	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	stages, err := r.listStages(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Stages = stages
	return run, nil
}

// List возвращает последние runs (без стадий), новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `
		SELECT id, workload_id, workload, dir, status, state, failed_stage,
		       started_at, finished_at, error, created_at
		FROM runs
		WHERE ($1::text IS NULL OR workload_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.WorkloadID),
		nullString(string(filter.Status)),
		filter.limit(),
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (r *RunRepo) listStages(ctx context.Context, runID uuid.UUID) ([]domain.StageRecord, error) {
	query := `
		SELECT stage, name, status, exit_code, started_at, finished_at, error
		FROM stage_runs
		WHERE run_id = $1
		ORDER BY stage
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list stage runs: %w", err)
	}
	defer rows.Close()

	var stages []domain.StageRecord
	for rows.Next() {
		var rec domain.StageRecord
		var stage int
		var status string
		var recErr *string

		if err := rows.Scan(&stage, &rec.Name, &status, &rec.ExitCode, &rec.StartedAt, &rec.FinishedAt, &recErr); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		rec.Stage = domain.Stage(stage)
		rec.Status = domain.StageStatus(status)
		if recErr != nil {
			rec.Error = *recErr
		}
		stages = append(stages, rec)
	}
	return stages, rows.Err()
}

// --- Helpers ---

// RunFilter — параметры фильтрации истории.
type RunFilter struct {
	WorkloadID string
	Status     domain.RunStatus
	Limit      int
}

func (f RunFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}

// scanRun сканирует одну строку в Run. Подходит и для pgx.Row, и для pgx.Rows.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var status, state string
	var failedStage *int
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.WorkloadID,
		&run.Workload,
		&run.Dir,
		&status,
		&state,
		&failedStage,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.Status = domain.RunStatus(status)
	run.State = domain.PipelineState(state)
	if failedStage != nil {
		run.FailedStage = domain.Stage(*failedStage)
	}
	if runError != nil {
		run.Error = *runError
	}
	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullStage возвращает nil, если стадии не падали.
func nullStage(s domain.Stage) *int {
	if s == 0 {
		return nil
	}
	i := int(s)
	return &i
}
