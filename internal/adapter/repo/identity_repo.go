package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"thumbforge/internal/domain"
)

// IdentityRepositoryPG implements domain.IdentityRepository.
type IdentityRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewIdentityRepository creates a new identity model repository backed by PostgreSQL.
func NewIdentityRepository(pool *pgxpool.Pool) *IdentityRepositoryPG {
	return &IdentityRepositoryPG{pool: pool}
}

const identityColumns = `id, user_id, status, trigger_word, model_version_ref, weights_ref, training_id, error_message, photo_count, created_at, updated_at`

// GetByID fetches an identity model by id.
func (r *IdentityRepositoryPG) GetByID(ctx context.Context, id string) (*domain.IdentityModel, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identity_models WHERE id = $1;`, id)
	return scanIdentity(row)
}

// GetByUserID fetches the single identity model owned by the user.
func (r *IdentityRepositoryPG) GetByUserID(ctx context.Context, userID string) (*domain.IdentityModel, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identity_models WHERE user_id = $1;`, userID)
	return scanIdentity(row)
}

// Upsert inserts the model or refreshes an existing row for the same user.
func (r *IdentityRepositoryPG) Upsert(ctx context.Context, model *domain.IdentityModel) error {
	query := `
INSERT INTO identity_models (id, user_id, status, trigger_word, model_version_ref, weights_ref, training_id, error_message, photo_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (user_id) DO UPDATE
SET status = EXCLUDED.status,
    trigger_word = EXCLUDED.trigger_word,
    model_version_ref = EXCLUDED.model_version_ref,
    weights_ref = EXCLUDED.weights_ref,
    training_id = EXCLUDED.training_id,
    error_message = EXCLUDED.error_message,
    photo_count = EXCLUDED.photo_count,
    updated_at = NOW();
`
	_, err := r.pool.Exec(ctx, query,
		model.ID,
		model.UserID,
		model.Status,
		model.TriggerWord,
		model.ModelVersionRef,
		model.WeightsRef,
		model.TrainingID,
		model.ErrorMessage,
		model.PhotoCount,
	)
	return err
}

// Update overwrites the mutable fields of an existing model.
func (r *IdentityRepositoryPG) Update(ctx context.Context, model *domain.IdentityModel) error {
	query := `
UPDATE identity_models
SET status = $2,
    trigger_word = $3,
    model_version_ref = $4,
    weights_ref = $5,
    training_id = $6,
    error_message = $7,
    photo_count = $8,
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query,
		model.ID,
		model.Status,
		model.TriggerWord,
		model.ModelVersionRef,
		model.WeightsRef,
		model.TrainingID,
		model.ErrorMessage,
		model.PhotoCount,
	)
	return err
}

// BeginTraining races a model into pending. Only retrainable states qualify,
// so one of two concurrent commits loses and reports a conflict.
func (r *IdentityRepositoryPG) BeginTraining(ctx context.Context, id string) (bool, error) {
	query := `
UPDATE identity_models
SET status = 'pending',
    error_message = '',
    updated_at = NOW()
WHERE id = $1
  AND status IN ('none', 'failed', 'canceled');
`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListByStatus returns models in the given status, oldest first.
func (r *IdentityRepositoryPG) ListByStatus(ctx context.Context, status domain.IdentityStatus, limit int) ([]domain.IdentityModel, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + identityColumns + ` FROM identity_models WHERE status = $1 ORDER BY updated_at ASC LIMIT $2;`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []domain.IdentityModel
	for rows.Next() {
		m, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, *m)
	}
	return models, rows.Err()
}

func scanIdentity(row pgx.Row) (*domain.IdentityModel, error) {
	var m domain.IdentityModel
	if err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.Status,
		&m.TriggerWord,
		&m.ModelVersionRef,
		&m.WeightsRef,
		&m.TrainingID,
		&m.ErrorMessage,
		&m.PhotoCount,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

var _ domain.IdentityRepository = (*IdentityRepositoryPG)(nil)
