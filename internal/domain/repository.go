package domain

import "context"

// JobRepository defines persistence for job aggregates. UpdateResult must
// leave terminal rows untouched so a terminal read can never regress.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	UpdateResult(ctx context.Context, jobID string, status JobStatus, outputs []OutputImage, errMsg string) error
	ListActive(ctx context.Context, limit int) ([]Job, error)
	AddDerivedExport(ctx context.Context, jobID, url string) error
	ListDerivedExports(ctx context.Context, jobID string) ([]string, error)
}

// PredictionRepository defines persistence for predictions. UpdateStatus is a
// compare-and-set overwrite: it writes only when the stored status differs and
// is not yet terminal, and reports whether a row changed.
type PredictionRepository interface {
	Create(ctx context.Context, prediction *Prediction) error
	GetByExternalID(ctx context.Context, externalID string) (*Prediction, error)
	ListByJobID(ctx context.Context, jobID string) ([]Prediction, error)
	UpdateStatus(ctx context.Context, predictionID string, status PredictionStatus, outputs []OutputImage, errMsg string) (bool, error)
}

// IdentityRepository defines persistence for identity models. BeginTraining
// transitions a retrainable model to pending atomically; a false return means
// another commit won the race or the model is already in flight.
type IdentityRepository interface {
	GetByID(ctx context.Context, id string) (*IdentityModel, error)
	GetByUserID(ctx context.Context, userID string) (*IdentityModel, error)
	Upsert(ctx context.Context, model *IdentityModel) error
	Update(ctx context.Context, model *IdentityModel) error
	BeginTraining(ctx context.Context, id string) (bool, error)
	ListByStatus(ctx context.Context, status IdentityStatus, limit int) ([]IdentityModel, error)
}

// PhotoRepository defines persistence for uploaded identity photos.
type PhotoRepository interface {
	Create(ctx context.Context, photo *UploadedPhoto) error
	GetByID(ctx context.Context, id string) (*UploadedPhoto, error)
	ListByUserID(ctx context.Context, userID string) ([]UploadedPhoto, error)
	CountByUserID(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, id string) error
	DeleteByUserID(ctx context.Context, userID string) error
}
