package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"thumbforge/internal/domain"
)

// PredictionRepositoryPG implements domain.PredictionRepository.
type PredictionRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewPredictionRepository creates a new prediction repository backed by PostgreSQL.
func NewPredictionRepository(pool *pgxpool.Pool) *PredictionRepositoryPG {
	return &PredictionRepositoryPG{pool: pool}
}

// Create inserts a new prediction record.
func (r *PredictionRepositoryPG) Create(ctx context.Context, prediction *domain.Prediction) error {
	outputs, err := marshalOutputs(prediction.OutputImages)
	if err != nil {
		return err
	}
	query := `
INSERT INTO predictions (id, job_id, external_id, status, output_images, error_message)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err = r.pool.Exec(ctx, query,
		prediction.ID,
		prediction.JobID,
		prediction.ExternalID,
		prediction.Status,
		outputs,
		prediction.ErrorMessage,
	)
	return err
}

// GetByExternalID resolves a prediction by the provider-assigned id.
func (r *PredictionRepositoryPG) GetByExternalID(ctx context.Context, externalID string) (*domain.Prediction, error) {
	query := `
SELECT id, job_id, external_id, status, output_images, error_message, created_at, updated_at
FROM predictions
WHERE external_id = $1;
`
	row := r.pool.QueryRow(ctx, query, externalID)
	prediction, err := scanPrediction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return prediction, nil
}

// ListByJobID returns a job's predictions in creation order.
func (r *PredictionRepositoryPG) ListByJobID(ctx context.Context, jobID string) ([]domain.Prediction, error) {
	query := `
SELECT id, job_id, external_id, status, output_images, error_message, created_at, updated_at
FROM predictions
WHERE job_id = $1
ORDER BY created_at ASC, id ASC;
`
	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var predictions []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, *p)
	}
	return predictions, rows.Err()
}

// UpdateStatus is an absolute compare-and-set overwrite: the row is written
// only when the stored status differs and is not yet terminal, which makes
// webhook and poll updates commutative and identical re-deliveries no-ops.
func (r *PredictionRepositoryPG) UpdateStatus(ctx context.Context, predictionID string, status domain.PredictionStatus, outputImages []domain.OutputImage, errMsg string) (bool, error) {
	outputs, err := marshalOutputs(outputImages)
	if err != nil {
		return false, err
	}
	query := `
UPDATE predictions
SET status = $2,
    output_images = $3,
    error_message = $4,
    updated_at = NOW()
WHERE id = $1
  AND status <> $2
  AND status NOT IN ('succeeded', 'failed', 'canceled');
`
	tag, err := r.pool.Exec(ctx, query, predictionID, status, outputs, errMsg)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanPrediction(row pgx.Row) (*domain.Prediction, error) {
	var p domain.Prediction
	var outputs []byte
	if err := row.Scan(
		&p.ID,
		&p.JobID,
		&p.ExternalID,
		&p.Status,
		&outputs,
		&p.ErrorMessage,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := unmarshalOutputs(outputs, &p.OutputImages); err != nil {
		return nil, err
	}
	return &p, nil
}

var _ domain.PredictionRepository = (*PredictionRepositoryPG)(nil)
