package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"thumbforge/internal/domain"
)

// PhotoRepositoryPG implements domain.PhotoRepository.
type PhotoRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewPhotoRepository creates a new uploaded-photo repository backed by PostgreSQL.
func NewPhotoRepository(pool *pgxpool.Pool) *PhotoRepositoryPG {
	return &PhotoRepositoryPG{pool: pool}
}

// Create inserts a new uploaded photo record.
func (r *PhotoRepositoryPG) Create(ctx context.Context, photo *domain.UploadedPhoto) error {
	query := `
INSERT INTO uploaded_photos (id, user_id, storage_key, content_type, width, height, size_bytes)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err := r.pool.Exec(ctx, query,
		photo.ID,
		photo.UserID,
		photo.StorageKey,
		photo.ContentType,
		photo.Width,
		photo.Height,
		photo.SizeBytes,
	)
	return err
}

// GetByID fetches an uploaded photo by id.
func (r *PhotoRepositoryPG) GetByID(ctx context.Context, id string) (*domain.UploadedPhoto, error) {
	query := `
SELECT id, user_id, storage_key, content_type, width, height, size_bytes, created_at
FROM uploaded_photos
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var p domain.UploadedPhoto
	if err := row.Scan(&p.ID, &p.UserID, &p.StorageKey, &p.ContentType, &p.Width, &p.Height, &p.SizeBytes, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListByUserID returns the user's uploaded photos, oldest first.
func (r *PhotoRepositoryPG) ListByUserID(ctx context.Context, userID string) ([]domain.UploadedPhoto, error) {
	query := `
SELECT id, user_id, storage_key, content_type, width, height, size_bytes, created_at
FROM uploaded_photos
WHERE user_id = $1
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []domain.UploadedPhoto
	for rows.Next() {
		var p domain.UploadedPhoto
		if err := rows.Scan(&p.ID, &p.UserID, &p.StorageKey, &p.ContentType, &p.Width, &p.Height, &p.SizeBytes, &p.CreatedAt); err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// CountByUserID returns how many photos the user has uploaded.
func (r *PhotoRepositoryPG) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM uploaded_photos WHERE user_id = $1;`, userID).Scan(&count)
	return count, err
}

// Delete removes a photo row.
func (r *PhotoRepositoryPG) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM uploaded_photos WHERE id = $1;`, id)
	return err
}

// DeleteByUserID removes all of the user's photo rows.
func (r *PhotoRepositoryPG) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM uploaded_photos WHERE user_id = $1;`, userID)
	return err
}

var _ domain.PhotoRepository = (*PhotoRepositoryPG)(nil)
