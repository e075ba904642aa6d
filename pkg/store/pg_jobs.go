package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tomehq/tome/pkg/types"
)

// Job queue operations

const jobColumns = `id, kind, organization_id, payload, status, attempts, max_attempts, run_at, locked_by, last_error, created_at, updated_at`

func (p *Postgres) Enqueue(ctx context.Context, job *types.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = types.JobPending
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	now := time.Now()
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt

	_, err := p.pool.Exec(ctx, `
		INSERT INTO jobs (id, kind, organization_id, payload, status, attempts, max_attempts, run_at, locked_by, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.Kind, job.OrgID, job.Payload, job.Status, job.Attempts, job.MaxAttempts,
		job.RunAt, job.LockedBy, job.LastError, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return wrapErr(err, "job")
	}
	return nil
}

// Dequeue claims the oldest due pending job with FOR UPDATE SKIP LOCKED, so
// concurrent workers never double-claim. Returns (nil, nil) when no job is due.
func (p *Postgres) Dequeue(ctx context.Context, workerID string, kinds []types.JobKind) (*types.Job, error) {
	query := `
		UPDATE jobs SET status = $1, attempts = attempts + 1, locked_by = $2, updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = $3 AND run_at <= now()
			ORDER BY run_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns
	args := []any{types.JobRunning, workerID, types.JobPending}

	if len(kinds) > 0 {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		query = `
			UPDATE jobs SET status = $1, attempts = attempts + 1, locked_by = $2, updated_at = now()
			WHERE id = (
				SELECT id FROM jobs
				WHERE status = $3 AND run_at <= now() AND kind = ANY($4)
				ORDER BY run_at
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING ` + jobColumns
		args = append(args, names)
	}

	var job types.Job
	err := p.pool.QueryRow(ctx, query, args...).
		Scan(&job.ID, &job.Kind, &job.OrgID, &job.Payload, &job.Status, &job.Attempts, &job.MaxAttempts,
			&job.RunAt, &job.LockedBy, &job.LastError, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errorsIsNoRows(err) {
			return nil, nil
		}
		return nil, wrapErr(err, "job")
	}
	return &job, nil
}

func (p *Postgres) CompleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, locked_by = '', updated_at = now() WHERE id = $1`,
		id, types.JobSucceeded)
	if err != nil {
		return wrapErr(err, "job")
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(pgx.ErrNoRows, "job")
	}
	return nil
}

// FailJob reschedules the job for a later attempt, or marks it failed once
// attempts are exhausted.
func (p *Postgres) FailJob(ctx context.Context, id uuid.UUID, errMsg string, retryIn time.Duration) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE jobs SET
			status = CASE WHEN attempts >= max_attempts THEN $3 ELSE $4 END,
			run_at = now() + $5,
			locked_by = '',
			last_error = $2,
			updated_at = now()
		WHERE id = $1`,
		id, errMsg, types.JobFailed, types.JobPending, retryIn)
	if err != nil {
		return wrapErr(err, "job")
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(pgx.ErrNoRows, "job")
	}
	return nil
}

// RequeueStaleJobs returns running jobs whose lease expired to the pending
// state. Covers workers that died mid-job.
func (p *Postgres) RequeueStaleJobs(ctx context.Context, lease time.Duration) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, locked_by = '', updated_at = now()
		WHERE status = $2 AND updated_at < now() - $3`,
		types.JobPending, types.JobRunning, lease)
	if err != nil {
		return 0, wrapErr(err, "jobs")
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) PendingJobCount(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE status = $1`, types.JobPending).Scan(&n)
	if err != nil {
		return 0, wrapErr(err, "jobs")
	}
	return n, nil
}
