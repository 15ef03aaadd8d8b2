package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/outline-bot/subscription-service/internal/domain/models"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
)

// JobRepository implements ports.JobRepository over the scheduler_jobs table
type JobRepository struct {
	db ports.DBPort
}

// NewJobRepository creates a new job repository
func NewJobRepository(db ports.DBPort) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) q(db ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return r.db.GetDB()
}

const jobColumns = `id, run_at, handler, args, created_at`

func (r *JobRepository) scanJob(row interface{ Scan(dest ...any) error }) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.RunAt, &j.Handler, &j.Args, &j.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.RunAt = j.RunAt.UTC()
	return &j, nil
}

// Insert fails with a unique violation if the job id already exists
func (r *JobRepository) Insert(ctx context.Context, tx ports.DBTX, job *models.Job) error {
	err := r.q(tx).QueryRow(ctx,
		`INSERT INTO scheduler_jobs (id, run_at, handler, args)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		job.ID, job.RunAt, job.Handler, job.Args,
	).Scan(&job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// Replace upserts the job, overwriting run_at, handler and args
func (r *JobRepository) Replace(ctx context.Context, tx ports.DBTX, job *models.Job) error {
	err := r.q(tx).QueryRow(ctx,
		`INSERT INTO scheduler_jobs (id, run_at, handler, args)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
			run_at  = EXCLUDED.run_at,
			handler = EXCLUDED.handler,
			args    = EXCLUDED.args
		 RETURNING created_at`,
		job.ID, job.RunAt, job.Handler, job.Args,
	).Scan(&job.CreatedAt)
	if err != nil {
		return fmt.Errorf("replace job %s: %w", job.ID, err)
	}
	return nil
}

// Get retrieves a job by id
func (r *JobRepository) Get(ctx context.Context, db ports.DBTX, id string) (*models.Job, error) {
	row := r.q(db).QueryRow(ctx,
		`SELECT `+jobColumns+` FROM scheduler_jobs WHERE id = $1`, id)
	return r.scanJob(row)
}

// Delete removes a job; deleting an absent id is a no-op
func (r *JobRepository) Delete(ctx context.Context, tx ports.DBTX, id string) error {
	_, err := r.q(tx).Exec(ctx,
		`DELETE FROM scheduler_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// ListDue returns jobs whose run_at has passed, oldest first
func (r *JobRepository) ListDue(ctx context.Context, db ports.DBTX, now time.Time, limit int32) ([]*models.Job, error) {
	rows, err := r.q(db).Query(ctx,
		`SELECT `+jobColumns+` FROM scheduler_jobs
		 WHERE run_at <= $1 ORDER BY run_at LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// NextRunAt returns the earliest pending deadline, or nil when no jobs remain
func (r *JobRepository) NextRunAt(ctx context.Context, db ports.DBTX) (*time.Time, error) {
	var next pgtype.Timestamptz
	err := r.q(db).QueryRow(ctx,
		`SELECT min(run_at) FROM scheduler_jobs`).Scan(&next)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("next run at: %w", err)
	}
	if !next.Valid {
		return nil, nil
	}
	t := next.Time.UTC()
	return &t, nil
}

// CountPending returns the number of stored jobs
func (r *JobRepository) CountPending(ctx context.Context, db ports.DBTX) (int64, error) {
	var n int64
	err := r.q(db).QueryRow(ctx,
		`SELECT count(*) FROM scheduler_jobs`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}
