package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	type       TEXT NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	total      INT  NOT NULL DEFAULT 0,
	completed  INT  NOT NULL DEFAULT 0,
	failed     INT  NOT NULL DEFAULT 0,
	status     TEXT NOT NULL,
	job_ids    TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	batch_id        TEXT NOT NULL,
	session_id      TEXT NOT NULL,
	type            TEXT NOT NULL,
	recipient_email TEXT NOT NULL,
	recipient_name  TEXT NOT NULL DEFAULT '',
	scheduled_for   TIMESTAMPTZ NOT NULL,
	status          TEXT NOT NULL,
	attempts        INT  NOT NULL DEFAULT 0,
	metadata        JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS dead_letters (
	id              TEXT PRIMARY KEY,
	job_id          TEXT NOT NULL,
	batch_id        TEXT NOT NULL,
	session_id      TEXT NOT NULL,
	type            TEXT NOT NULL,
	recipient_email TEXT NOT NULL,
	attempts        INT  NOT NULL DEFAULT 0,
	error_message   TEXT NOT NULL,
	failed_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_batch_id ON jobs(batch_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status_scheduled ON jobs(status, scheduled_for);
CREATE INDEX IF NOT EXISTS idx_batches_session_id ON batches(session_id);
CREATE INDEX IF NOT EXISTS idx_batches_created_by ON batches(created_by);
CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
CREATE INDEX IF NOT EXISTS idx_dead_letters_batch_id ON dead_letters(batch_id);
`

// InitSchema applies the table definitions on startup. Statements are
// idempotent so repeated boots are safe.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
