package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/praxislabs/session-notifier/internal/domain"
)

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	if err := InitSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresJobsRepository{pool: pool}, nil
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

func (r *PostgresJobsRepository) CreateBatch(ctx context.Context, batch *domain.Batch, jobs []*domain.Job) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create batch: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO batches (id, session_id, type, created_by, total, completed, failed, status, job_ids, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		batch.ID,
		batch.SessionID,
		string(batch.Type),
		batch.CreatedBy,
		batch.Total,
		batch.Completed,
		batch.Failed,
		string(batch.Status),
		batch.JobIDs,
		batch.CreatedAt,
		batch.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	for _, job := range jobs {
		if err := insertJob(ctx, tx, job); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create batch: %w", err)
	}
	return nil
}

func insertJob(ctx context.Context, tx pgx.Tx, job *domain.Job) error {
	metadata, err := encodeMetadata(job.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, batch_id, session_id, type, recipient_email, recipient_name, scheduled_for, status, attempts, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		job.ID,
		job.BatchID,
		job.SessionID,
		string(job.Type),
		job.RecipientEmail,
		job.RecipientName,
		job.ScheduledFor,
		string(job.Status),
		job.Attempts,
		metadata,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const batchColumns = `id, session_id, type, created_by, total, completed, failed, status, job_ids, created_at, updated_at`

func (r *PostgresJobsRepository) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, batchID)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query batch: %w", err)
	}
	return batch, nil
}

func (r *PostgresJobsRepository) ListBatchesForSession(ctx context.Context, sessionID string) ([]*domain.Batch, error) {
	return r.listBatches(ctx, `SELECT `+batchColumns+` FROM batches WHERE session_id = $1 ORDER BY created_at DESC`, sessionID)
}

func (r *PostgresJobsRepository) ListBatchesForCreator(ctx context.Context, createdBy string) ([]*domain.Batch, error) {
	return r.listBatches(ctx, `SELECT `+batchColumns+` FROM batches WHERE created_by = $1 ORDER BY created_at DESC`, createdBy)
}

func (r *PostgresJobsRepository) ListActiveBatches(ctx context.Context) ([]*domain.Batch, error) {
	return r.listBatches(ctx, `SELECT `+batchColumns+` FROM batches WHERE status IN ('pending','in_progress') ORDER BY created_at DESC`)
}

func (r *PostgresJobsRepository) listBatches(ctx context.Context, query string, args ...any) ([]*domain.Batch, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	batches := make([]*domain.Batch, 0)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate batches: %w", rows.Err())
	}
	return batches, nil
}

func (r *PostgresJobsRepository) DeleteBatch(ctx context.Context, batchID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete batch: %w", err)
	}
	defer tx.Rollback(ctx)

	command, err := tx.Exec(ctx, `DELETE FROM batches WHERE id = $1`, batchID)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM jobs WHERE batch_id = $1`, batchID); err != nil {
		return fmt.Errorf("delete batch jobs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete batch: %w", err)
	}
	return nil
}

const jobColumns = `id, batch_id, session_id, type, recipient_email, recipient_name, scheduled_for, status, attempts, metadata, created_at, updated_at`

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) ListJobsForBatch(ctx context.Context, batchID string) ([]*domain.Job, error) {
	return r.listJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE batch_id = $1 ORDER BY id`, batchID)
}

func (r *PostgresJobsRepository) ListStalledJobs(ctx context.Context, scheduledBefore time.Time) ([]*domain.Job, error) {
	return r.listJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE scheduled_for < $1
		  AND (
		    (status = 'pending' AND COALESCE(metadata->>'external_message_id', '') = '')
		    OR status = 'scheduled'
		  )
		ORDER BY scheduled_for
	`, scheduledBefore)
}

func (r *PostgresJobsRepository) listJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate jobs: %w", rows.Err())
	}
	return jobs, nil
}

func (r *PostgresJobsRepository) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status domain.JobStatus,
	metadata map[string]string,
) (*domain.Job, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin update job: %w", err)
	}
	defer tx.Rollback(ctx)

	job, changed, err := updateJobInTx(ctx, tx, jobID, status, metadata)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit update job: %w", err)
	}
	return job, changed, nil
}

func (r *PostgresJobsRepository) BulkUpdateJobStatuses(
	ctx context.Context,
	updates []JobStatusUpdate,
) ([]string, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin bulk update: %w", err)
	}
	defer tx.Rollback(ctx)

	changedIDs := make([]string, 0, len(updates))
	for _, update := range updates {
		_, changed, err := updateJobInTx(ctx, tx, update.JobID, update.Status, update.Metadata)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidState) {
				continue
			}
			return nil, err
		}
		if changed {
			changedIDs = append(changedIDs, update.JobID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit bulk update: %w", err)
	}
	return changedIDs, nil
}

// updateJobInTx locks the row, validates the transition and applies the
// status plus metadata patch.
func updateJobInTx(
	ctx context.Context,
	tx pgx.Tx,
	jobID string,
	status domain.JobStatus,
	metadata map[string]string,
) (*domain.Job, bool, error) {
	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("lock job: %w", err)
	}

	if !domain.CanTransition(job.Status, status) {
		return nil, false, ErrInvalidState
	}
	changed := job.Status != status

	if job.Metadata == nil {
		job.Metadata = map[string]string{}
	}
	for key, value := range metadata {
		job.Metadata[key] = value
	}
	job.Status = status
	job.UpdatedAt = time.Now().UTC()

	encoded, err := encodeMetadata(job.Metadata)
	if err != nil {
		return nil, false, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE jobs SET status = $2, metadata = $3, updated_at = $4 WHERE id = $1
	`, job.ID, string(job.Status), encoded, job.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("update job: %w", err)
	}
	return job, changed, nil
}

func (r *PostgresJobsRepository) RetryJob(ctx context.Context, jobID string) (*domain.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin retry job: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock job: %w", err)
	}
	if job.Status != domain.JobStatusFailed {
		return nil, ErrInvalidState
	}

	job.Status = domain.JobStatusPending
	job.Attempts++
	delete(job.Metadata, domain.MetaExternalMessageID)
	job.UpdatedAt = time.Now().UTC()

	encoded, err := encodeMetadata(job.Metadata)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE jobs SET status = $2, attempts = $3, metadata = $4, updated_at = $5 WHERE id = $1
	`, job.ID, string(job.Status), job.Attempts, encoded, job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("retry job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit retry job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) ResendJob(ctx context.Context, jobID string) (*domain.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin resend job: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	source, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock job: %w", err)
	}
	if source.Status != domain.JobStatusCompleted {
		return nil, ErrInvalidState
	}

	now := time.Now().UTC()
	clone := source.Clone()
	clone.ID = uuid.NewString()
	clone.Status = domain.JobStatusPending
	clone.Attempts = 0
	clone.Metadata = map[string]string{}
	clone.CreatedAt = now
	clone.UpdatedAt = now

	if err := insertJob(ctx, tx, clone); err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE batches
		SET job_ids = array_append(job_ids, $2),
		    total = total + 1,
		    updated_at = $3
		WHERE id = $1
	`, clone.BatchID, clone.ID, now)
	if err != nil {
		return nil, fmt.Errorf("grow batch for resend: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit resend job: %w", err)
	}
	return clone, nil
}

func (r *PostgresJobsRepository) UpdateBatchProgress(
	ctx context.Context,
	batchID string,
	status domain.BatchStatus,
	completed int,
	failed int,
) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE batches SET status = $2, completed = $3, failed = $4, updated_at = $5 WHERE id = $1
	`, batchID, string(status), completed, failed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update batch progress: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) AddDeadLetter(ctx context.Context, entry domain.DeadLetterEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dead_letters (id, job_id, batch_id, session_id, type, recipient_email, attempts, error_message, failed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		entry.ID,
		entry.JobID,
		entry.BatchID,
		entry.SessionID,
		string(entry.Type),
		entry.RecipientEmail,
		entry.Attempts,
		entry.ErrorMessage,
		entry.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) ListDeadLetters(ctx context.Context, batchID string) ([]domain.DeadLetterEntry, error) {
	query := `SELECT id, job_id, batch_id, session_id, type, recipient_email, attempts, error_message, failed_at FROM dead_letters`
	args := []any{}
	if batchID != "" {
		query += ` WHERE batch_id = $1`
		args = append(args, batchID)
	}
	query += ` ORDER BY failed_at`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.DeadLetterEntry, 0)
	for rows.Next() {
		var (
			entry            domain.DeadLetterEntry
			notificationType string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.JobID,
			&entry.BatchID,
			&entry.SessionID,
			&notificationType,
			&entry.RecipientEmail,
			&entry.Attempts,
			&entry.ErrorMessage,
			&entry.FailedAt,
		); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		entry.Type = domain.NotificationType(notificationType)
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", rows.Err())
	}
	return entries, nil
}

func scanBatch(row pgx.Row) (*domain.Batch, error) {
	var (
		batch       domain.Batch
		batchType   string
		batchStatus string
	)
	err := row.Scan(
		&batch.ID,
		&batch.SessionID,
		&batchType,
		&batch.CreatedBy,
		&batch.Total,
		&batch.Completed,
		&batch.Failed,
		&batchStatus,
		&batch.JobIDs,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	batch.Type = domain.BatchType(batchType)
	batch.Status = domain.BatchStatus(batchStatus)
	return &batch, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job       domain.Job
		jobType   string
		jobStatus string
		metadata  []byte
	)
	err := row.Scan(
		&job.ID,
		&job.BatchID,
		&job.SessionID,
		&jobType,
		&job.RecipientEmail,
		&job.RecipientName,
		&job.ScheduledFor,
		&jobStatus,
		&job.Attempts,
		&metadata,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Type = domain.NotificationType(jobType)
	job.Status = domain.JobStatus(jobStatus)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
			return nil, fmt.Errorf("decode job metadata: %w", err)
		}
	}
	return &job, nil
}

func encodeMetadata(metadata map[string]string) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode job metadata: %w", err)
	}
	return encoded, nil
}
