package domain

import "time"

// PredictionStatus mirrors the provider's lifecycle for a single invocation.
type PredictionStatus string

const (
	PredictionStatusStarting   PredictionStatus = "starting"
	PredictionStatusProcessing PredictionStatus = "processing"
	PredictionStatusSucceeded  PredictionStatus = "succeeded"
	PredictionStatusFailed     PredictionStatus = "failed"
	PredictionStatusCanceled   PredictionStatus = "canceled"
)

// Terminal reports whether the status admits no further transitions.
func (s PredictionStatus) Terminal() bool {
	switch s {
	case PredictionStatusSucceeded, PredictionStatusFailed, PredictionStatusCanceled:
		return true
	}
	return false
}

// Prediction is one external asynchronous image-generation invocation, the
// unit of work per requested variant. Exactly one is created per dispatched
// provider call; only the reconciler updates it afterwards.
type Prediction struct {
	ID           string
	JobID        string
	ExternalID   string
	Status       PredictionStatus
	OutputImages []OutputImage
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DeriveJobStatus recomputes a job's status from the full set of its
// predictions: succeeded when all are terminal and at least one succeeded,
// failed when all are terminal and none succeeded, running otherwise. The
// derivation is always performed against current rows rather than patched
// incrementally so webhook and poll updates converge regardless of order.
func DeriveJobStatus(predictions []Prediction) JobStatus {
	if len(predictions) == 0 {
		return JobStatusRunning
	}
	succeeded := 0
	for _, p := range predictions {
		if !p.Status.Terminal() {
			return JobStatusRunning
		}
		if p.Status == PredictionStatusSucceeded {
			succeeded++
		}
	}
	if succeeded > 0 {
		return JobStatusSucceeded
	}
	return JobStatusFailed
}

// CollectJobOutputs concatenates succeeded predictions' outputs in the given
// order. Each entry is a distinct requested variant, so no deduplication.
func CollectJobOutputs(predictions []Prediction) []OutputImage {
	var out []OutputImage
	for _, p := range predictions {
		if p.Status == PredictionStatusSucceeded {
			out = append(out, p.OutputImages...)
		}
	}
	return out
}
