package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema — таблицы истории runs. Создаются при первом подключении.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           UUID PRIMARY KEY,
	workload_id  TEXT        NOT NULL,
	workload     TEXT        NOT NULL,
	dir          TEXT        NOT NULL,
	status       TEXT        NOT NULL,
	state        TEXT        NOT NULL,
	failed_stage INT,
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ,
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS runs_workload_created_idx ON runs (workload_id, created_at DESC);

CREATE TABLE IF NOT EXISTS stage_runs (
	run_id      UUID        NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	stage       INT         NOT NULL,
	name        TEXT        NOT NULL,
	status      TEXT        NOT NULL,
	exit_code   INT         NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	error       TEXT,
	PRIMARY KEY (run_id, stage)
);
`

// EnsureSchema создаёт таблицы runs и stage_runs, если их нет.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
