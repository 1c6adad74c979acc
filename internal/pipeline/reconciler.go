package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"thumbforge/internal/domain"
	"thumbforge/internal/infra"
	"thumbforge/internal/providers/replicate"
)

// The provider delivers finished frames under a fixed contract.
const (
	outputWidth       = 1024
	outputHeight      = 1024
	outputContentType = "image/png"
)

// defaultStaleAfter bounds how long a running job may sit without any update
// before the sweep declares it failed. Webhooks can be lost and a client may
// stop polling, so indefinite "running" is never acceptable.
const defaultStaleAfter = 30 * time.Minute

const sweepConcurrency = 4

// Reconciler merges the webhook and poll channels into one consistent
// Job/Prediction state. Both channels are at-least-once and unordered, so
// every update is an absolute overwrite and job state is always recomputed
// from the full prediction set.
type Reconciler struct {
	jobs        domain.JobRepository
	predictions domain.PredictionRepository
	provider    replicate.API
	staleAfter  time.Duration
	logger      infra.Logger
}

// ReconcilerOptions wires a Reconciler.
type ReconcilerOptions struct {
	Jobs        domain.JobRepository
	Predictions domain.PredictionRepository
	Provider    replicate.API
	StaleAfter  time.Duration
	Logger      infra.Logger
}

// NewReconciler wires a reconciler.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Reconciler{
		jobs:        opts.Jobs,
		predictions: opts.Predictions,
		provider:    opts.Provider,
		staleAfter:  staleAfter,
		logger:      opts.Logger,
	}
}

// WebhookEvent is one provider push delivery.
type WebhookEvent struct {
	ExternalID string
	Status     string
	Output     []string
	Error      string
}

// HandleWebhook applies one webhook delivery. An unknown external id rejects
// only this call with domain.ErrNotFound and has no other side effects; a
// known id is overwritten absolutely, so re-delivery of an identical terminal
// payload changes nothing.
func (r *Reconciler) HandleWebhook(ctx context.Context, ev WebhookEvent) error {
	if strings.TrimSpace(ev.ExternalID) == "" {
		return fmt.Errorf("%w: external prediction id is required", domain.ErrInvalidInput)
	}
	prediction, err := r.predictions.GetByExternalID(ctx, ev.ExternalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: prediction %s", domain.ErrNotFound, ev.ExternalID)
		}
		return err
	}
	status, err := mapProviderStatus(ev.Status)
	if err != nil {
		return err
	}
	return r.applyUpdate(ctx, prediction, status, ev.Output, ev.Error)
}

// Reconcile is the poll path: while the job is non-terminal it queries the
// provider for each non-terminal prediction and applies the same overwrite
// logic as the webhook path. This redundancy covers lost webhook deliveries.
func (r *Reconciler) Reconcile(ctx context.Context, jobID string) error {
	job, err := r.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	predictions, err := r.predictions.ListByJobID(ctx, jobID)
	if err != nil {
		return err
	}
	for i := range predictions {
		p := &predictions[i]
		if p.Status.Terminal() {
			continue
		}
		remote, err := r.provider.GetPrediction(ctx, p.ExternalID)
		if err != nil {
			r.logger.Warn().Err(err).
				Str("job_id", jobID).
				Str("external_id", p.ExternalID).
				Msg("reconcile: provider poll failed")
			continue
		}
		status, err := mapProviderStatus(remote.Status)
		if err != nil {
			r.logger.Warn().Err(err).Str("external_id", p.ExternalID).Msg("reconcile: unknown provider status")
			continue
		}
		if err := r.applyUpdate(ctx, p, status, remote.Output, remote.Error); err != nil {
			return err
		}
	}
	return nil
}

// Sweep reconciles every active job with bounded parallelism, timing out
// jobs that have seen no update within the staleness window.
func (r *Reconciler) Sweep(ctx context.Context, limit int) error {
	jobs, err := r.jobs.ListActive(ctx, limit)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if time.Since(job.UpdatedAt) > r.staleAfter {
				return r.expireJob(ctx, job)
			}
			if err := r.Reconcile(ctx, job.ID); err != nil {
				r.logger.Error().Err(err).Str("job_id", job.ID).Msg("sweep: reconcile failed")
			}
			return nil
		})
	}
	return g.Wait()
}

// expireJob cancels the remaining open predictions of a stalled job and lets
// aggregation settle the terminal state: variants that already succeeded
// still count.
func (r *Reconciler) expireJob(ctx context.Context, job domain.Job) error {
	predictions, err := r.predictions.ListByJobID(ctx, job.ID)
	if err != nil {
		return err
	}
	for _, p := range predictions {
		if p.Status.Terminal() {
			continue
		}
		if _, err := r.predictions.UpdateStatus(ctx, p.ID, domain.PredictionStatusCanceled, nil, "no provider update within staleness window"); err != nil {
			return err
		}
	}
	r.logger.Warn().Str("job_id", job.ID).Dur("stale_after", r.staleAfter).Msg("sweep: job timed out")
	return r.recomputeJob(ctx, job.ID)
}

// applyUpdate overwrites one prediction and recomputes the owning job. The
// write is a compare-and-set: terminal rows and unchanged statuses are left
// alone, which makes webhook and poll updates commutative.
func (r *Reconciler) applyUpdate(ctx context.Context, prediction *domain.Prediction, status domain.PredictionStatus, output []string, errMsg string) error {
	var outputs []domain.OutputImage
	if status == domain.PredictionStatusSucceeded {
		outputs = materializeOutputs(output)
	}
	changed, err := r.predictions.UpdateStatus(ctx, prediction.ID, status, outputs, errMsg)
	if err != nil {
		return err
	}
	if changed {
		r.logger.Info().
			Str("job_id", prediction.JobID).
			Str("prediction_id", prediction.ID).
			Str("status", string(status)).
			Msg("reconcile: prediction updated")
	}
	// Aggregation is derived fresh regardless of whether this delivery
	// changed the row, so the two channels can never drift apart.
	return r.recomputeJob(ctx, prediction.JobID)
}

// recomputeJob derives job status and outputs from the full prediction set.
// The row is written only when the derived result differs, so updated_at
// tracks the last real progress and the staleness window is not reset by
// polls that observed nothing new.
func (r *Reconciler) recomputeJob(ctx context.Context, jobID string) error {
	job, err := r.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	predictions, err := r.predictions.ListByJobID(ctx, jobID)
	if err != nil {
		return err
	}
	status := domain.DeriveJobStatus(predictions)
	outputs := domain.CollectJobOutputs(predictions)
	errMsg := ""
	if status == domain.JobStatusFailed {
		errMsg = firstPredictionError(predictions)
	}
	if status == job.Status && errMsg == job.ErrorMessage && outputsEqual(outputs, job.OutputImages) {
		return nil
	}
	return r.jobs.UpdateResult(ctx, jobID, status, outputs, errMsg)
}

func outputsEqual(a, b []domain.OutputImage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func firstPredictionError(predictions []domain.Prediction) string {
	for _, p := range predictions {
		if p.ErrorMessage != "" {
			return p.ErrorMessage
		}
	}
	return "all predictions failed"
}

// materializeOutputs turns provider URLs into image descriptors under the
// provider's fixed dimension and content-type contract.
func materializeOutputs(urls []string) []domain.OutputImage {
	outputs := make([]domain.OutputImage, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		outputs = append(outputs, domain.OutputImage{
			URL:         u,
			Width:       outputWidth,
			Height:      outputHeight,
			ContentType: outputContentType,
		})
	}
	return outputs
}

func mapProviderStatus(s string) (domain.PredictionStatus, error) {
	switch s {
	case replicate.StatusStarting:
		return domain.PredictionStatusStarting, nil
	case replicate.StatusProcessing:
		return domain.PredictionStatusProcessing, nil
	case replicate.StatusSucceeded:
		return domain.PredictionStatusSucceeded, nil
	case replicate.StatusFailed:
		return domain.PredictionStatusFailed, nil
	case replicate.StatusCanceled:
		return domain.PredictionStatusCanceled, nil
	default:
		return "", fmt.Errorf("%w: unknown provider status %q", domain.ErrInvalidInput, s)
	}
}
