package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"thumbforge/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	outputs, err := marshalOutputs(job.OutputImages)
	if err != nil {
		return err
	}
	query := `
INSERT INTO jobs (id, user_id, style_id, source, parent_job_id, user_prompt, composed_prompt, negative_prompt, status, output_images, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.StyleID,
		job.Source,
		nullableString(job.ParentJobID),
		job.UserPrompt,
		job.ComposedPrompt,
		job.NegativePrompt,
		job.Status,
		outputs,
		job.ErrorMessage,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
SELECT id, user_id, style_id, source, COALESCE(parent_job_id, ''), user_prompt, composed_prompt, negative_prompt, status, output_images, error_message, created_at, updated_at
FROM jobs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// UpdateResult overwrites status, outputs, and error message. Rows already in
// a terminal status are left untouched so terminal reads can never regress.
func (r *JobRepositoryPG) UpdateResult(ctx context.Context, jobID string, status domain.JobStatus, outputImages []domain.OutputImage, errMsg string) error {
	outputs, err := marshalOutputs(outputImages)
	if err != nil {
		return err
	}
	query := `
UPDATE jobs
SET status = $2,
    output_images = $3,
    error_message = $4,
    updated_at = NOW()
WHERE id = $1
  AND status NOT IN ('succeeded', 'failed', 'canceled');
`
	_, err = r.pool.Exec(ctx, query, jobID, status, outputs, errMsg)
	return err
}

// ListActive returns non-terminal jobs, oldest first, for the reconcile sweep.
func (r *JobRepositoryPG) ListActive(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT id, user_id, style_id, source, COALESCE(parent_job_id, ''), user_prompt, composed_prompt, negative_prompt, status, output_images, error_message, created_at, updated_at
FROM jobs
WHERE status IN ('queued', 'running')
ORDER BY updated_at ASC
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// AddDerivedExport records a URL exported or derived from the job's outputs
// so later provenance checks can accept it.
func (r *JobRepositoryPG) AddDerivedExport(ctx context.Context, jobID, url string) error {
	query := `
INSERT INTO job_exports (job_id, url)
VALUES ($1, $2)
ON CONFLICT (job_id, url) DO NOTHING;
`
	_, err := r.pool.Exec(ctx, query, jobID, url)
	return err
}

// ListDerivedExports returns the recorded export URLs for a job.
func (r *JobRepositoryPG) ListDerivedExports(ctx context.Context, jobID string) ([]string, error) {
	query := `
SELECT url FROM job_exports WHERE job_id = $1 ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var outputs []byte
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.StyleID,
		&job.Source,
		&job.ParentJobID,
		&job.UserPrompt,
		&job.ComposedPrompt,
		&job.NegativePrompt,
		&job.Status,
		&outputs,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := unmarshalOutputs(outputs, &job.OutputImages); err != nil {
		return nil, err
	}
	return &job, nil
}

func marshalOutputs(images []domain.OutputImage) ([]byte, error) {
	if images == nil {
		images = []domain.OutputImage{}
	}
	data, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("repo: marshal outputs: %w", err)
	}
	return data, nil
}

func unmarshalOutputs(data []byte, target *[]domain.OutputImage) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("repo: unmarshal outputs: %w", err)
	}
	if len(*target) == 0 {
		*target = nil
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
