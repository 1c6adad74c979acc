package domain

import "time"

// IdentityStatus enumerates the personalization model lifecycle.
type IdentityStatus string

const (
	IdentityStatusNone     IdentityStatus = "none"
	IdentityStatusPending  IdentityStatus = "pending"
	IdentityStatusTraining IdentityStatus = "training"
	IdentityStatusReady    IdentityStatus = "ready"
	IdentityStatusFailed   IdentityStatus = "failed"
	IdentityStatusCanceled IdentityStatus = "canceled"
)

// InFlight reports whether a training run is currently underway or queued.
func (s IdentityStatus) InFlight() bool {
	return s == IdentityStatusPending || s == IdentityStatusTraining
}

// Retrainable reports whether a new training commit may start from this state.
func (s IdentityStatus) Retrainable() bool {
	switch s {
	case IdentityStatusNone, IdentityStatusFailed, IdentityStatusCanceled:
		return true
	}
	return false
}

// IdentityModel is the per-user personalization model. Its trigger word and
// weights become usable by the dispatcher only once status is ready.
type IdentityModel struct {
	ID              string
	UserID          string
	Status          IdentityStatus
	TriggerWord     string
	ModelVersionRef string
	WeightsRef      string
	TrainingID      string
	PhotoCount      int
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UploadedPhoto belongs to a user and is weakly associated with the user's
// pending identity model until a training commit fixes the photo set.
type UploadedPhoto struct {
	ID          string
	UserID      string
	StorageKey  string
	ContentType string
	Width       int
	Height      int
	SizeBytes   int64
	CreatedAt   time.Time
}
