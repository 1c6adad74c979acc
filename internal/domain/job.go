package domain

import "time"

// JobSource distinguishes fresh generations from derivative ones.
type JobSource string

const (
	JobSourceText2Img JobSource = "text2img"
	JobSourceImg2Img  JobSource = "img2img"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// OutputImage describes one generated image under the provider's fixed
// dimension and content-type contract.
type OutputImage struct {
	URL         string `json:"url"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ContentType string `json:"content_type"`
}

// Job is the user-facing aggregate of one or more predictions from a single
// creative request. It is created by the dispatcher and mutated only through
// the reconciler once dispatch has finished.
type Job struct {
	ID             string
	UserID         string
	StyleID        string
	Source         JobSource
	ParentJobID    string
	UserPrompt     string
	ComposedPrompt string
	NegativePrompt string
	Status         JobStatus
	OutputImages   []OutputImage
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
