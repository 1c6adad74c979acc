// Package pipeline contains the thumbnail generation job pipeline: dispatch,
// webhook/poll reconciliation, and derivative (img2img) dispatch.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"thumbforge/internal/domain"
	"thumbforge/internal/infra"
	"thumbforge/internal/prompt"
	"thumbforge/internal/providers/replicate"
	"thumbforge/internal/style"
)

// Identity weighting used when a trained personalization model participates:
// the identity weights get the stronger scale and the base style weights the
// softer one, so the identity cannot be overpowered by the style and vice
// versa.
const (
	identityLoraScale = 1.0
	styleLoraScale    = 0.6
)

// Dispatcher validates a creative request, composes prompts, persists the job
// aggregate, and fires one asynchronous provider call per variant.
type Dispatcher struct {
	jobs        domain.JobRepository
	predictions domain.PredictionRepository
	identities  domain.IdentityRepository
	registry    *style.Registry
	composer    *prompt.Composer
	provider    replicate.API
	// defaultModel serves styles without a provider preference.
	defaultModel string
	webhookURL   string
	logger       infra.Logger
}

// DispatcherOptions wires a Dispatcher.
type DispatcherOptions struct {
	Jobs         domain.JobRepository
	Predictions  domain.PredictionRepository
	Identities   domain.IdentityRepository
	Registry     *style.Registry
	Composer     *prompt.Composer
	Provider     replicate.API
	DefaultModel string
	WebhookURL   string
	Logger       infra.Logger
}

// NewDispatcher wires a generation dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	registry := opts.Registry
	if registry == nil {
		registry = style.Default()
	}
	return &Dispatcher{
		jobs:         opts.Jobs,
		predictions:  opts.Predictions,
		identities:   opts.Identities,
		registry:     registry,
		composer:     opts.Composer,
		provider:     opts.Provider,
		defaultModel: opts.DefaultModel,
		webhookURL:   opts.WebhookURL,
		logger:       opts.Logger,
	}
}

// GenerateRequest is one creative request from an authenticated user.
type GenerateRequest struct {
	UserID          string
	Style           string
	Accent          string
	PromptText      string
	VariantCount    int
	UseIdentity     bool
	IdentityModelID string
}

// GenerateResult reports the dispatched work.
type GenerateResult struct {
	JobID         string
	PredictionIDs []string
}

// Generate runs the full dispatch sequence. Nothing is persisted until the
// provider's model version has been verified; after the job row exists,
// per-variant dispatch failures are tolerated and resolved later by the
// reconciler's aggregation rule.
func (d *Dispatcher) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	text := prompt.SanitizeFreeText(req.PromptText)
	if text == "" {
		return nil, fmt.Errorf("%w: prompt text is required", domain.ErrInvalidInput)
	}
	if req.VariantCount < prompt.MinVariants || req.VariantCount > prompt.MaxVariants {
		return nil, fmt.Errorf("%w: variant count must be between %d and %d", domain.ErrInvalidInput, prompt.MinVariants, prompt.MaxVariants)
	}

	packIDs := d.registry.RequestedPacks(req.Style, req.Accent)
	if len(packIDs) == 0 || packIDs[0] != req.Style {
		return nil, fmt.Errorf("%w: unknown style %q", domain.ErrInvalidInput, req.Style)
	}
	resolution, err := d.registry.Resolve(packIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	triggerWord := ""
	var identity *domain.IdentityModel
	if req.UseIdentity {
		identity, err = d.authorizeIdentity(ctx, req, resolution)
		if err != nil {
			return nil, err
		}
		triggerWord = identity.TriggerWord
	}

	model := resolution.ProviderModel
	if model == "" {
		model = d.defaultModel
	}
	// Contract-drift guard: the pinned version must still be served before
	// any state is written.
	if err := d.provider.VerifyModelVersion(ctx, model); err != nil {
		return nil, fmt.Errorf("%w: verify model version: %v", domain.ErrProviderFailure, err)
	}

	variants := d.composer.Compose(ctx, resolution, triggerWord, text, req.VariantCount)

	job := &domain.Job{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		StyleID:        resolution.PrimaryID(),
		Source:         domain.JobSourceText2Img,
		UserPrompt:     text,
		ComposedPrompt: variants[0].FinalPrompt,
		NegativePrompt: variants[0].NegativePrompt,
		Status:         domain.JobStatusRunning,
	}
	if err := d.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	result := &GenerateResult{JobID: job.ID}
	for _, variant := range variants {
		input := d.buildProviderInput(variant, identity)
		created, err := d.provider.CreatePrediction(ctx, replicate.CreatePredictionInput{
			Version:    model,
			Input:      input,
			WebhookURL: d.webhookURL,
		})
		if err != nil {
			d.logger.Error().Err(err).
				Str("job_id", job.ID).
				Int("variant", variant.Index).
				Msg("dispatch: create prediction failed")
			continue
		}
		p := &domain.Prediction{
			ID:         uuid.NewString(),
			JobID:      job.ID,
			ExternalID: created.ID,
			Status:     domain.PredictionStatusStarting,
		}
		if err := d.predictions.Create(ctx, p); err != nil {
			d.logger.Error().Err(err).
				Str("job_id", job.ID).
				Str("external_id", created.ID).
				Msg("dispatch: persist prediction failed")
			continue
		}
		result.PredictionIDs = append(result.PredictionIDs, p.ID)
	}

	if len(result.PredictionIDs) == 0 {
		// No variant started: terminal immediately, no lingering running job.
		if err := d.jobs.UpdateResult(ctx, job.ID, domain.JobStatusFailed, nil, "all provider calls failed"); err != nil {
			d.logger.Error().Err(err).Str("job_id", job.ID).Msg("dispatch: mark job failed")
		}
		return nil, fmt.Errorf("%w: no prediction could be started", domain.ErrProviderFailure)
	}

	d.logger.Info().
		Str("job_id", job.ID).
		Str("style", job.StyleID).
		Int("requested", req.VariantCount).
		Int("dispatched", len(result.PredictionIDs)).
		Msg("dispatch: job started")
	return result, nil
}

// authorizeIdentity re-validates ownership, readiness, and style
// compatibility on the server side; caller-sent flags are never trusted.
func (d *Dispatcher) authorizeIdentity(ctx context.Context, req GenerateRequest, resolution style.Resolution) (*domain.IdentityModel, error) {
	var identity *domain.IdentityModel
	var err error
	if req.IdentityModelID != "" {
		identity, err = d.identities.GetByID(ctx, req.IdentityModelID)
	} else {
		identity, err = d.identities.GetByUserID(ctx, req.UserID)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: identity model", domain.ErrNotFound)
		}
		return nil, err
	}
	if identity.UserID != req.UserID {
		return nil, fmt.Errorf("%w: identity model belongs to another user", domain.ErrForbidden)
	}
	if identity.Status != domain.IdentityStatusReady {
		return nil, fmt.Errorf("%w: identity model is not ready", domain.ErrInvalidInput)
	}
	if !resolution.IdentityCompatible() {
		return nil, fmt.Errorf("%w: style %q does not support identity", domain.ErrInvalidInput, resolution.PrimaryID())
	}
	return identity, nil
}

func (d *Dispatcher) buildProviderInput(variant prompt.Variant, identity *domain.IdentityModel) map[string]any {
	input := map[string]any{
		"prompt":          variant.FinalPrompt,
		"negative_prompt": variant.NegativePrompt,
	}
	for k, v := range variant.ProviderParams {
		input[k] = v
	}
	if identity != nil {
		input["identity_weights"] = identity.WeightsRef
		input["identity_scale"] = identityLoraScale
		input["style_scale"] = styleLoraScale
	}
	return input
}
