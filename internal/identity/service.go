// Package identity manages the per-user personalization model lifecycle:
// photo uploads, training commits, provider-side training progress, and
// reset. A model gates identity-aware generation; only a ready model exposes
// its trigger word and weights to the dispatcher.
package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"strings"

	"github.com/google/uuid"

	"thumbforge/internal/domain"
	"thumbforge/internal/infra"
	"thumbforge/internal/providers/replicate"
	"thumbforge/internal/retry"
	"thumbforge/internal/storage"
)

// Photo acceptance rules. Each uploaded file is judged on its own; a batch
// with some bad files still stores the good ones.
const (
	MaxPhotoSizeBytes = 10 << 20
	MinPhotoDimension = 512
	MinTrainingPhotos = 7
)

const trainingSteps = 1000

// Service runs the identity model lifecycle.
type Service struct {
	identities  domain.IdentityRepository
	photos      domain.PhotoRepository
	store       storage.ObjectStore
	provider    replicate.API
	trainer     string
	destination string
	logger      infra.Logger
}

// Options wires a Service.
type Options struct {
	Identities domain.IdentityRepository
	Photos     domain.PhotoRepository
	Store      storage.ObjectStore
	Provider   replicate.API
	// TrainerVersion is the pinned fine-tuning model ref.
	TrainerVersion string
	// Destination is the provider-side model the trained weights land on.
	Destination string
	Logger      infra.Logger
}

// NewService wires an identity lifecycle service.
func NewService(opts Options) *Service {
	return &Service{
		identities:  opts.Identities,
		photos:      opts.Photos,
		store:       opts.Store,
		provider:    opts.Provider,
		trainer:     opts.TrainerVersion,
		destination: opts.Destination,
		logger:      opts.Logger,
	}
}

// PhotoUpload is one file in an upload batch.
type PhotoUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// PhotoResult reports the outcome for one uploaded file.
type PhotoResult struct {
	Filename string
	PhotoID  string
	Error    string
}

// UploadPhotos validates and stores each file independently. Per-file
// failures are normal and reported in place; the batch never fails as a
// whole and never changes the model status.
func (s *Service) UploadPhotos(ctx context.Context, userID string, uploads []PhotoUpload) ([]PhotoResult, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("%w: at least one file is required", domain.ErrInvalidInput)
	}
	results := make([]PhotoResult, 0, len(uploads))
	for _, up := range uploads {
		result := PhotoResult{Filename: up.Filename}
		photo, err := s.storePhoto(ctx, userID, up)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.PhotoID = photo.ID
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *Service) storePhoto(ctx context.Context, userID string, up PhotoUpload) (*domain.UploadedPhoto, error) {
	if len(up.Data) == 0 {
		return nil, errors.New("file is empty")
	}
	if len(up.Data) > MaxPhotoSizeBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", MaxPhotoSizeBytes)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(up.Data))
	if err != nil {
		return nil, errors.New("file is not a decodable image")
	}
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("unsupported image format %q", format)
	}
	if cfg.Width < MinPhotoDimension || cfg.Height < MinPhotoDimension {
		return nil, fmt.Errorf("image must be at least %dx%d, got %dx%d", MinPhotoDimension, MinPhotoDimension, cfg.Width, cfg.Height)
	}

	contentType := "image/png"
	ext := ".png"
	if format == "jpeg" {
		contentType = "image/jpeg"
		ext = ".jpg"
	}
	id := uuid.NewString()
	key := path.Join("identity", userID, id+ext)
	storedKey, err := s.store.Put(ctx, key, up.Data, contentType)
	if err != nil {
		return nil, fmt.Errorf("store photo: %w", err)
	}
	photo := &domain.UploadedPhoto{
		ID:          id,
		UserID:      userID,
		StorageKey:  storedKey,
		ContentType: contentType,
		Width:       cfg.Width,
		Height:      cfg.Height,
		SizeBytes:   int64(len(up.Data)),
	}
	if err := s.photos.Create(ctx, photo); err != nil {
		return nil, fmt.Errorf("record photo: %w", err)
	}
	return photo, nil
}

// CommitTraining fixes the current photo set and queues a training run. A
// commit while a run is already pending or training is rejected as a
// conflict and starts nothing; the actual provider call happens from
// StartPending, so a crash between commit and start loses no work.
func (s *Service) CommitTraining(ctx context.Context, userID string) (*domain.IdentityModel, error) {
	count, err := s.photos.CountByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if count < MinTrainingPhotos {
		return nil, fmt.Errorf("%w: training requires at least %d photos, have %d", domain.ErrInvalidInput, MinTrainingPhotos, count)
	}

	model, err := s.identities.GetByUserID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		model = &domain.IdentityModel{
			ID:     uuid.NewString(),
			UserID: userID,
			Status: domain.IdentityStatusNone,
		}
		if err := s.identities.Upsert(ctx, model); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if model.Status.InFlight() {
		return nil, fmt.Errorf("%w: training already in progress", domain.ErrConflict)
	}
	if model.Status == domain.IdentityStatusReady {
		return nil, fmt.Errorf("%w: model already trained; reset it to retrain", domain.ErrConflict)
	}
	began, err := s.identities.BeginTraining(ctx, model.ID)
	if err != nil {
		return nil, err
	}
	if !began {
		// Another commit won the race.
		return nil, fmt.Errorf("%w: training already in progress", domain.ErrConflict)
	}

	model.Status = domain.IdentityStatusPending
	model.PhotoCount = count
	model.ErrorMessage = ""
	if model.TriggerWord == "" {
		model.TriggerWord = newTriggerWord()
	}
	if err := s.identities.Update(ctx, model); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("user_id", userID).
		Str("identity_id", model.ID).
		Int("photos", count).
		Msg("identity: training committed")
	return model, nil
}

// StartPending fires provider training runs for committed models. Pending
// work lives purely in persisted rows, so any process instance may start it.
func (s *Service) StartPending(ctx context.Context, limit int) error {
	models, err := s.identities.ListByStatus(ctx, domain.IdentityStatusPending, limit)
	if err != nil {
		return err
	}
	for i := range models {
		model := &models[i]
		if err := s.startTraining(ctx, model); err != nil {
			s.logger.Error().Err(err).Str("identity_id", model.ID).Msg("identity: start training failed")
		}
	}
	return nil
}

func (s *Service) startTraining(ctx context.Context, model *domain.IdentityModel) error {
	photos, err := s.photos.ListByUserID(ctx, model.UserID)
	if err != nil {
		return err
	}
	urls := make([]string, 0, len(photos))
	for _, p := range photos {
		urls = append(urls, s.store.PublicURL(p.StorageKey))
	}
	training, err := s.provider.CreateTraining(ctx, replicate.CreateTrainingInput{
		Version:     s.trainer,
		Destination: s.destination,
		Input: map[string]any{
			"input_images": urls,
			"trigger_word": model.TriggerWord,
			"steps":        trainingSteps,
		},
	})
	if err != nil {
		model.Status = domain.IdentityStatusFailed
		model.ErrorMessage = fmt.Sprintf("start training: %v", err)
		if updErr := s.identities.Update(ctx, model); updErr != nil {
			return updErr
		}
		return err
	}
	model.Status = domain.IdentityStatusTraining
	model.TrainingID = training.ID
	if err := s.identities.Update(ctx, model); err != nil {
		return err
	}
	s.logger.Info().
		Str("identity_id", model.ID).
		Str("training_id", training.ID).
		Msg("identity: training started")
	return nil
}

// RefreshInFlight polls the provider for models currently training and
// applies the outcome. Like job reconciliation, the update is an absolute
// overwrite of provider-reported state.
func (s *Service) RefreshInFlight(ctx context.Context, limit int) error {
	models, err := s.identities.ListByStatus(ctx, domain.IdentityStatusTraining, limit)
	if err != nil {
		return err
	}
	for i := range models {
		model := &models[i]
		if err := s.refreshOne(ctx, model); err != nil {
			s.logger.Error().Err(err).Str("identity_id", model.ID).Msg("identity: refresh failed")
		}
	}
	return nil
}

func (s *Service) refreshOne(ctx context.Context, model *domain.IdentityModel) error {
	training, err := s.provider.GetTraining(ctx, model.TrainingID)
	if err != nil {
		return err
	}
	switch training.Status {
	case replicate.StatusSucceeded:
		model.Status = domain.IdentityStatusReady
		model.ModelVersionRef = training.Output.Version
		model.WeightsRef = training.Output.Weights
		model.ErrorMessage = ""
	case replicate.StatusFailed:
		model.Status = domain.IdentityStatusFailed
		model.ErrorMessage = training.Error
		if model.ErrorMessage == "" {
			model.ErrorMessage = "training failed"
		}
	case replicate.StatusCanceled:
		model.Status = domain.IdentityStatusCanceled
		model.ErrorMessage = "training canceled"
	default:
		return nil
	}
	if err := s.identities.Update(ctx, model); err != nil {
		return err
	}
	s.logger.Info().
		Str("identity_id", model.ID).
		Str("status", string(model.Status)).
		Msg("identity: training finished")
	return nil
}

// Status is the caller-facing view of a user's identity model.
type Status struct {
	Status       domain.IdentityStatus
	TriggerWord  string
	ErrorMessage string
	PhotoCount   int
}

// GetStatus reports the model state with a live photo count. A user with no
// model yet reads as status none rather than an error.
func (s *Service) GetStatus(ctx context.Context, userID string) (*Status, error) {
	count, err := s.photos.CountByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	model, err := s.identities.GetByUserID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return &Status{Status: domain.IdentityStatusNone, PhotoCount: count}, nil
	}
	if err != nil {
		return nil, err
	}
	st := &Status{
		Status:       model.Status,
		ErrorMessage: model.ErrorMessage,
		PhotoCount:   count,
	}
	// The trigger word is only meaningful once the model can be used.
	if model.Status == domain.IdentityStatusReady {
		st.TriggerWord = model.TriggerWord
	}
	return st, nil
}

// DeletePhoto removes one uploaded photo. The photo set must stay stable
// while a training run is consuming it.
func (s *Service) DeletePhoto(ctx context.Context, userID, photoID string) error {
	photo, err := s.photos.GetByID(ctx, photoID)
	if err != nil {
		return err
	}
	if photo.UserID != userID {
		return fmt.Errorf("%w: photo belongs to another user", domain.ErrForbidden)
	}
	model, err := s.identities.GetByUserID(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if model != nil && model.Status == domain.IdentityStatusTraining {
		return fmt.Errorf("%w: photo set is locked while training", domain.ErrConflict)
	}
	if err := s.store.Delete(ctx, photo.StorageKey); err != nil {
		return fmt.Errorf("delete photo object: %w", err)
	}
	return s.photos.Delete(ctx, photoID)
}

// Reset returns a finished model to status none so the user can retrain from
// scratch. With cascade set, the uploaded photos are removed as well. A
// model mid-flight cannot be reset.
func (s *Service) Reset(ctx context.Context, userID string, cascade bool) error {
	model, err := s.identities.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if model.Status.InFlight() {
		return fmt.Errorf("%w: cannot reset while training is in progress", domain.ErrConflict)
	}
	model.Status = domain.IdentityStatusNone
	model.TriggerWord = ""
	model.ModelVersionRef = ""
	model.WeightsRef = ""
	model.TrainingID = ""
	model.PhotoCount = 0
	model.ErrorMessage = ""
	if err := s.identities.Update(ctx, model); err != nil {
		return err
	}
	if cascade {
		photos, err := s.photos.ListByUserID(ctx, userID)
		if err != nil {
			return err
		}
		for _, p := range photos {
			if err := s.store.Delete(ctx, p.StorageKey); err != nil {
				s.logger.Warn().Err(err).Str("photo_id", p.ID).Msg("identity: delete photo object failed")
			}
		}
		if err := s.photos.DeleteByUserID(ctx, userID); err != nil {
			return err
		}
	}
	s.logger.Info().Str("user_id", userID).Bool("cascade", cascade).Msg("identity: model reset")
	return nil
}

// WaitUntilTrained polls the model under a bounded policy until it leaves
// the in-flight states. It returns nil on ready; a failed or canceled run
// surfaces as a provider failure carrying the recorded message.
func (s *Service) WaitUntilTrained(ctx context.Context, userID string, policy retry.Policy) error {
	var last *domain.IdentityModel
	err := policy.Do(ctx, func(ctx context.Context) (bool, error) {
		model, err := s.identities.GetByUserID(ctx, userID)
		if err != nil {
			return false, err
		}
		last = model
		return !model.Status.InFlight(), nil
	})
	if err != nil {
		return err
	}
	switch last.Status {
	case domain.IdentityStatusReady:
		return nil
	case domain.IdentityStatusFailed, domain.IdentityStatusCanceled:
		return fmt.Errorf("%w: training %s: %s", domain.ErrProviderFailure, last.Status, last.ErrorMessage)
	default:
		return fmt.Errorf("%w: model is not trained", domain.ErrInvalidInput)
	}
}

func newTriggerWord() string {
	return "TOK_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString()[:8], "-", ""))
}
