package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"thumbforge/internal/domain"
	"thumbforge/internal/infra"
	"thumbforge/internal/providers/replicate"
	"thumbforge/internal/style"
)

const (
	defaultVariationStrength = 0.65
	minVariationStrength     = 0.1
	maxVariationStrength     = 1.0
)

// VariationDispatcher spins a derivative img2img job off a finished job. The
// input image must provably come from the parent, so an attacker cannot feed
// arbitrary third-party URLs into paid provider calls.
type VariationDispatcher struct {
	jobs        domain.JobRepository
	predictions domain.PredictionRepository
	registry    *style.Registry
	provider    replicate.API
	// defaultModel serves styles without a provider preference.
	defaultModel string
	webhookURL   string
	logger       infra.Logger
}

// VariationDispatcherOptions wires a VariationDispatcher.
type VariationDispatcherOptions struct {
	Jobs         domain.JobRepository
	Predictions  domain.PredictionRepository
	Registry     *style.Registry
	Provider     replicate.API
	DefaultModel string
	WebhookURL   string
	Logger       infra.Logger
}

// NewVariationDispatcher wires a variation dispatcher.
func NewVariationDispatcher(opts VariationDispatcherOptions) *VariationDispatcher {
	registry := opts.Registry
	if registry == nil {
		registry = style.Default()
	}
	return &VariationDispatcher{
		jobs:         opts.Jobs,
		predictions:  opts.Predictions,
		registry:     registry,
		provider:     opts.Provider,
		defaultModel: opts.DefaultModel,
		webhookURL:   opts.WebhookURL,
		logger:       opts.Logger,
	}
}

// VariationRequest asks for one derivative of a prior result image.
type VariationRequest struct {
	UserID        string
	ParentJobID   string
	InputImageURL string
	Strength      float64
}

// Dispatch creates the derivative job. The parent must be owned by the
// requester and have finished successfully, and the input image URL must be
// one of the parent's outputs or recorded derived exports.
func (v *VariationDispatcher) Dispatch(ctx context.Context, req VariationRequest) (*GenerateResult, error) {
	inputURL := strings.TrimSpace(req.InputImageURL)
	if inputURL == "" {
		return nil, fmt.Errorf("%w: input image url is required", domain.ErrInvalidInput)
	}
	strength := req.Strength
	if strength == 0 {
		strength = defaultVariationStrength
	}
	if strength < minVariationStrength || strength > maxVariationStrength {
		return nil, fmt.Errorf("%w: strength must be between %.1f and %.1f", domain.ErrInvalidInput, minVariationStrength, maxVariationStrength)
	}

	parent, err := v.jobs.GetByID(ctx, req.ParentJobID)
	if err != nil {
		return nil, err
	}
	if parent.UserID != req.UserID {
		return nil, fmt.Errorf("%w: job belongs to another user", domain.ErrForbidden)
	}
	if parent.Status != domain.JobStatusSucceeded {
		return nil, fmt.Errorf("%w: parent job has not succeeded", domain.ErrInvalidInput)
	}
	ok, err := v.checkProvenance(ctx, parent, inputURL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: input image is not an output of the parent job", domain.ErrForbidden)
	}

	resolution, err := v.registry.Resolve([]string{parent.StyleID})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	model := resolution.ProviderModel
	if model == "" {
		model = v.defaultModel
	}
	if err := v.provider.VerifyModelVersion(ctx, model); err != nil {
		return nil, fmt.Errorf("%w: verify model version: %v", domain.ErrProviderFailure, err)
	}

	job := &domain.Job{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		StyleID:        parent.StyleID,
		Source:         domain.JobSourceImg2Img,
		ParentJobID:    parent.ID,
		UserPrompt:     parent.UserPrompt,
		ComposedPrompt: parent.ComposedPrompt,
		NegativePrompt: parent.NegativePrompt,
		Status:         domain.JobStatusRunning,
	}
	if err := v.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	created, err := v.provider.CreatePrediction(ctx, replicate.CreatePredictionInput{
		Version: model,
		Input: map[string]any{
			"prompt":          job.ComposedPrompt,
			"negative_prompt": job.NegativePrompt,
			"image":           inputURL,
			"prompt_strength": strength,
			"num_outputs":     1,
		},
		WebhookURL: v.webhookURL,
	})
	if err != nil {
		// Single-variant job: terminal immediately, no running zombie.
		if updErr := v.jobs.UpdateResult(ctx, job.ID, domain.JobStatusFailed, nil, "provider call failed"); updErr != nil {
			v.logger.Error().Err(updErr).Str("job_id", job.ID).Msg("variation: mark job failed")
		}
		return nil, fmt.Errorf("%w: create prediction: %v", domain.ErrProviderFailure, err)
	}
	p := &domain.Prediction{
		ID:         uuid.NewString(),
		JobID:      job.ID,
		ExternalID: created.ID,
		Status:     domain.PredictionStatusStarting,
	}
	if err := v.predictions.Create(ctx, p); err != nil {
		if updErr := v.jobs.UpdateResult(ctx, job.ID, domain.JobStatusFailed, nil, "prediction persistence failed"); updErr != nil {
			v.logger.Error().Err(updErr).Str("job_id", job.ID).Msg("variation: mark job failed")
		}
		return nil, fmt.Errorf("persist prediction: %w", err)
	}

	v.logger.Info().
		Str("job_id", job.ID).
		Str("parent_job_id", parent.ID).
		Float64("strength", strength).
		Msg("variation: job started")
	return &GenerateResult{JobID: job.ID, PredictionIDs: []string{p.ID}}, nil
}

// checkProvenance accepts the URL only if the parent itself produced it:
// either directly as an output image or as a recorded derived export.
func (v *VariationDispatcher) checkProvenance(ctx context.Context, parent *domain.Job, inputURL string) (bool, error) {
	for _, out := range parent.OutputImages {
		if out.URL == inputURL {
			return true, nil
		}
	}
	exports, err := v.jobs.ListDerivedExports(ctx, parent.ID)
	if err != nil {
		return false, err
	}
	for _, u := range exports {
		if u == inputURL {
			return true, nil
		}
	}
	return false, nil
}
