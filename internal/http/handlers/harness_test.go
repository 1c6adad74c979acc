package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"thumbforge/internal/domain"
	"thumbforge/internal/identity"
	"thumbforge/internal/pipeline"
	"thumbforge/internal/prompt"
	"thumbforge/internal/providers/replicate"
)

// The handler tests run real pipeline components on top of in-memory
// repositories and a programmable provider stub.

type memJobRepo struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	exports map[string][]string
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]*domain.Job), exports: make(map[string][]string)}
}

func (r *memJobRepo) Create(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *memJobRepo) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	}
	clone := *job
	return &clone, nil
}

func (r *memJobRepo) UpdateResult(_ context.Context, jobID string, status domain.JobStatus, outputs []domain.OutputImage, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Status = status
	job.OutputImages = outputs
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now()
	return nil
}

func (r *memJobRepo) ListActive(_ context.Context, limit int) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, job := range r.jobs {
		if !job.Status.Terminal() {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (r *memJobRepo) AddDerivedExport(_ context.Context, jobID, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.exports[jobID] {
		if u == url {
			return nil
		}
	}
	r.exports[jobID] = append(r.exports[jobID], url)
	return nil
}

func (r *memJobRepo) ListDerivedExports(_ context.Context, jobID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.exports[jobID]...), nil
}

type memPredictionRepo struct {
	mu    sync.Mutex
	byID  map[string]*domain.Prediction
	order []string
}

func newMemPredictionRepo() *memPredictionRepo {
	return &memPredictionRepo{byID: make(map[string]*domain.Prediction)}
}

func (r *memPredictionRepo) Create(_ context.Context, p *domain.Prediction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *p
	r.byID[p.ID] = &clone
	r.order = append(r.order, p.ID)
	return nil
}

func (r *memPredictionRepo) GetByExternalID(_ context.Context, externalID string) (*domain.Prediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if r.byID[id].ExternalID == externalID {
			clone := *r.byID[id]
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("%w: prediction %s", domain.ErrNotFound, externalID)
}

func (r *memPredictionRepo) ListByJobID(_ context.Context, jobID string) ([]domain.Prediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Prediction
	for _, id := range r.order {
		if r.byID[id].JobID == jobID {
			out = append(out, *r.byID[id])
		}
	}
	return out, nil
}

func (r *memPredictionRepo) UpdateStatus(_ context.Context, predictionID string, status domain.PredictionStatus, outputs []domain.OutputImage, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[predictionID]
	if !ok {
		return false, fmt.Errorf("%w: prediction %s", domain.ErrNotFound, predictionID)
	}
	if p.Status.Terminal() || p.Status == status {
		return false, nil
	}
	p.Status = status
	p.OutputImages = outputs
	p.ErrorMessage = errMsg
	return true, nil
}

type memIdentityRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.IdentityModel
}

func newMemIdentityRepo() *memIdentityRepo {
	return &memIdentityRepo{byID: make(map[string]*domain.IdentityModel)}
}

func (r *memIdentityRepo) GetByID(_ context.Context, id string) (*domain.IdentityModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: identity model %s", domain.ErrNotFound, id)
	}
	clone := *m
	return &clone, nil
}

func (r *memIdentityRepo) GetByUserID(_ context.Context, userID string) (*domain.IdentityModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.byID {
		if m.UserID == userID {
			clone := *m
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("%w: identity model for user %s", domain.ErrNotFound, userID)
}

func (r *memIdentityRepo) Upsert(_ context.Context, model *domain.IdentityModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *model
	r.byID[model.ID] = &clone
	return nil
}

func (r *memIdentityRepo) Update(_ context.Context, model *domain.IdentityModel) error {
	return r.Upsert(context.Background(), model)
}

func (r *memIdentityRepo) BeginTraining(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return false, fmt.Errorf("%w: identity model %s", domain.ErrNotFound, id)
	}
	if !m.Status.Retrainable() {
		return false, nil
	}
	m.Status = domain.IdentityStatusPending
	return true, nil
}

func (r *memIdentityRepo) ListByStatus(_ context.Context, status domain.IdentityStatus, limit int) ([]domain.IdentityModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.IdentityModel
	for _, m := range r.byID {
		if m.Status == status {
			out = append(out, *m)
		}
	}
	return out, nil
}

type memPhotoRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.UploadedPhoto
}

func newMemPhotoRepo() *memPhotoRepo {
	return &memPhotoRepo{byID: make(map[string]*domain.UploadedPhoto)}
}

func (r *memPhotoRepo) Create(_ context.Context, photo *domain.UploadedPhoto) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *photo
	r.byID[photo.ID] = &clone
	return nil
}

func (r *memPhotoRepo) GetByID(_ context.Context, id string) (*domain.UploadedPhoto, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: photo %s", domain.ErrNotFound, id)
	}
	clone := *p
	return &clone, nil
}

func (r *memPhotoRepo) ListByUserID(_ context.Context, userID string) ([]domain.UploadedPhoto, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.UploadedPhoto
	for _, p := range r.byID {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memPhotoRepo) CountByUserID(_ context.Context, userID string) (int, error) {
	photos, _ := r.ListByUserID(context.Background(), userID)
	return len(photos), nil
}

func (r *memPhotoRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

func (r *memPhotoRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.byID {
		if p.UserID == userID {
			delete(r.byID, id)
		}
	}
	return nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return key, nil
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: object %s", domain.ErrNotFound, key)
	}
	return data, nil
}

func (s *memStore) PublicURL(key string) string { return "https://cdn.test/" + key }

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

type stubProvider struct {
	mu        sync.Mutex
	remote    map[string]*replicate.Prediction
	createErr error
	nextID    int
}

func newStubProvider() *stubProvider {
	return &stubProvider{remote: make(map[string]*replicate.Prediction)}
}

func (p *stubProvider) CreatePrediction(_ context.Context, in replicate.CreatePredictionInput) (*replicate.Prediction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.nextID++
	pred := &replicate.Prediction{ID: fmt.Sprintf("ext-%d", p.nextID), Status: replicate.StatusStarting}
	p.remote[pred.ID] = pred
	return pred, nil
}

func (p *stubProvider) GetPrediction(_ context.Context, id string) (*replicate.Prediction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pred, ok := p.remote[id]
	if !ok {
		return nil, replicate.ErrNotFound
	}
	clone := *pred
	return &clone, nil
}

func (p *stubProvider) setRemote(id, status string, output []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote[id] = &replicate.Prediction{ID: id, Status: status, Output: output}
}

func (p *stubProvider) VerifyModelVersion(context.Context, string) error { return nil }

func (p *stubProvider) CreateTraining(context.Context, replicate.CreateTrainingInput) (*replicate.Training, error) {
	return &replicate.Training{ID: "train-1", Status: replicate.StatusStarting}, nil
}

func (p *stubProvider) GetTraining(context.Context, string) (*replicate.Training, error) {
	return nil, replicate.ErrNotFound
}

func (p *stubProvider) CancelTraining(context.Context, string) error { return nil }

type harness struct {
	app         *App
	jobs        *memJobRepo
	predictions *memPredictionRepo
	identities  *memIdentityRepo
	photos      *memPhotoRepo
	provider    *stubProvider
}

func newHarness() *harness {
	h := &harness{
		jobs:        newMemJobRepo(),
		predictions: newMemPredictionRepo(),
		identities:  newMemIdentityRepo(),
		photos:      newMemPhotoRepo(),
		provider:    newStubProvider(),
	}
	logger := zerolog.Nop()
	const model = "thumbforge/sdxl-thumbs:ab12cd34"
	const webhookURL = "https://api.test/v1/webhooks/replicate"
	h.app = &App{
		Dispatcher: pipeline.NewDispatcher(pipeline.DispatcherOptions{
			Jobs:         h.jobs,
			Predictions:  h.predictions,
			Identities:   h.identities,
			Composer:     prompt.NewComposer(nil, logger),
			Provider:     h.provider,
			DefaultModel: model,
			WebhookURL:   webhookURL,
			Logger:       logger,
		}),
		Variations: pipeline.NewVariationDispatcher(pipeline.VariationDispatcherOptions{
			Jobs:         h.jobs,
			Predictions:  h.predictions,
			Provider:     h.provider,
			DefaultModel: model,
			WebhookURL:   webhookURL,
			Logger:       logger,
		}),
		Reconciler: pipeline.NewReconciler(pipeline.ReconcilerOptions{
			Jobs:        h.jobs,
			Predictions: h.predictions,
			Provider:    h.provider,
			Logger:      logger,
		}),
		Identity: identity.NewService(identity.Options{
			Identities:     h.identities,
			Photos:         h.photos,
			Store:          newMemStore(),
			Provider:       h.provider,
			TrainerVersion: "ostris/flux-dev-lora-trainer:4ffd32160efd",
			Destination:    "thumbforge/identity-loras",
			Logger:         logger,
		}),
		Jobs:   h.jobs,
		Logger: logger,
	}
	return h
}
