package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"thumbforge/internal/domain"
	"thumbforge/internal/pipeline"
)

type generateRequest struct {
	Style           string `json:"style"`
	Accent          string `json:"accent,omitempty"`
	Prompt          string `json:"prompt"`
	VariantCount    int    `json:"variant_count"`
	UseIdentity     bool   `json:"use_identity"`
	IdentityModelID string `json:"identity_model_id,omitempty"`
}

type generateResponse struct {
	JobID         string   `json:"job_id"`
	Status        string   `json:"status"`
	PredictionIDs []string `json:"prediction_ids"`
}

func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.VariantCount == 0 {
		req.VariantCount = 1
	}
	result, err := a.Dispatcher.Generate(r.Context(), pipeline.GenerateRequest{
		UserID:          userID,
		Style:           req.Style,
		Accent:          req.Accent,
		PromptText:      req.Prompt,
		VariantCount:    req.VariantCount,
		UseIdentity:     req.UseIdentity,
		IdentityModelID: req.IdentityModelID,
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, generateResponse{
		JobID:         result.JobID,
		Status:        string(domain.JobStatusRunning),
		PredictionIDs: result.PredictionIDs,
	})
}

type variationRequest struct {
	ParentJobID   string  `json:"parent_job_id"`
	InputImageURL string  `json:"input_image_url"`
	Strength      float64 `json:"strength,omitempty"`
}

func (a *App) CreateVariation(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req variationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	result, err := a.Variations.Dispatch(r.Context(), pipeline.VariationRequest{
		UserID:        userID,
		ParentJobID:   req.ParentJobID,
		InputImageURL: req.InputImageURL,
		Strength:      req.Strength,
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, generateResponse{
		JobID:         result.JobID,
		Status:        string(domain.JobStatusRunning),
		PredictionIDs: result.PredictionIDs,
	})
}

type jobResponse struct {
	ID           string               `json:"id"`
	StyleID      string               `json:"style_id"`
	Source       string               `json:"source"`
	ParentJobID  string               `json:"parent_job_id,omitempty"`
	Status       string               `json:"status"`
	OutputImages []domain.OutputImage `json:"output_images"`
	ErrorMessage string               `json:"error_message,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// GetJob is the client polling endpoint. Each read runs the poll-path
// reconciliation first, so a lost webhook can never leave a job stuck.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if job.UserID != userID {
		// Cross-owner access reads as not found rather than leaking
		// the job's existence.
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if !job.Status.Terminal() {
		if err := a.Reconciler.Reconcile(r.Context(), jobID); err != nil {
			a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("poll reconcile failed")
		}
		if job, err = a.Jobs.GetByID(r.Context(), jobID); err != nil {
			a.domainError(w, err)
			return
		}
	}
	outputs := job.OutputImages
	if outputs == nil {
		outputs = []domain.OutputImage{}
	}
	a.json(w, http.StatusOK, jobResponse{
		ID:           job.ID,
		StyleID:      job.StyleID,
		Source:       string(job.Source),
		ParentJobID:  job.ParentJobID,
		Status:       string(job.Status),
		OutputImages: outputs,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	})
}

type exportRequest struct {
	URL string `json:"url"`
}

// RecordExport registers an edited/post-processed derivative of a finished
// job. Recorded exports extend the provenance set accepted by variations.
func (a *App) RecordExport(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "url required")
		return
	}
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if job.Status != domain.JobStatusSucceeded {
		a.error(w, http.StatusConflict, "conflict", "job has no exportable output")
		return
	}
	if err := a.Jobs.AddDerivedExport(r.Context(), jobID, req.URL); err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]string{"job_id": jobID, "url": req.URL})
}
