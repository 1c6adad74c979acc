package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"thumbforge/internal/domain"
	"thumbforge/internal/providers/replicate"
)

// In-memory repository fakes shared by the dispatcher, reconciler, and
// variation tests. They enforce the same write guards as the SQL
// implementations: terminal rows stay frozen and prediction updates are
// compare-and-set.

type fakeJobRepo struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	exports map[string][]string
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{
		jobs:    make(map[string]*domain.Job),
		exports: make(map[string][]string),
	}
}

func (r *fakeJobRepo) Create(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("%w: job %s", domain.ErrConflict, job.ID)
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	}
	clone := *job
	return &clone, nil
}

func (r *fakeJobRepo) UpdateResult(_ context.Context, jobID string, status domain.JobStatus, outputs []domain.OutputImage, errMsg string) error {
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

func (r *fakeJobRepo) ListActive(_ context.Context, limit int) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusQueued || job.Status == domain.JobStatusRunning {
			out = append(out, *job)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeJobRepo) AddDerivedExport(_ context.Context, jobID, url string) error {
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

func (r *fakeJobRepo) ListDerivedExports(_ context.Context, jobID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.exports[jobID]...), nil
}

type fakePredictionRepo struct {
	mu    sync.Mutex
	byID  map[string]*domain.Prediction
	order []string
}

func newFakePredictionRepo() *fakePredictionRepo {
	return &fakePredictionRepo{byID: make(map[string]*domain.Prediction)}
}

func (r *fakePredictionRepo) Create(_ context.Context, p *domain.Prediction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; ok {
		return fmt.Errorf("%w: prediction %s", domain.ErrConflict, p.ID)
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	clone := *p
	r.byID[p.ID] = &clone
	r.order = append(r.order, p.ID)
	return nil
}

func (r *fakePredictionRepo) GetByExternalID(_ context.Context, externalID string) (*domain.Prediction, error) {
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

func (r *fakePredictionRepo) ListByJobID(_ context.Context, jobID string) ([]domain.Prediction, error) {
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

func (r *fakePredictionRepo) UpdateStatus(_ context.Context, predictionID string, status domain.PredictionStatus, outputs []domain.OutputImage, errMsg string) (bool, error) {
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
	p.UpdatedAt = time.Now()
	return true, nil
}

type fakeIdentityRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.IdentityModel
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{byID: make(map[string]*domain.IdentityModel)}
}

func (r *fakeIdentityRepo) GetByID(_ context.Context, id string) (*domain.IdentityModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: identity model %s", domain.ErrNotFound, id)
	}
	clone := *m
	return &clone, nil
}

func (r *fakeIdentityRepo) GetByUserID(_ context.Context, userID string) (*domain.IdentityModel, error) {
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

func (r *fakeIdentityRepo) Upsert(_ context.Context, model *domain.IdentityModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.byID {
		if m.UserID == model.UserID {
			model.ID = id
			clone := *model
			r.byID[id] = &clone
			return nil
		}
	}
	clone := *model
	r.byID[model.ID] = &clone
	return nil
}

func (r *fakeIdentityRepo) Update(_ context.Context, model *domain.IdentityModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[model.ID]; !ok {
		return fmt.Errorf("%w: identity model %s", domain.ErrNotFound, model.ID)
	}
	clone := *model
	r.byID[model.ID] = &clone
	return nil
}

func (r *fakeIdentityRepo) BeginTraining(_ context.Context, id string) (bool, error) {
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

func (r *fakeIdentityRepo) ListByStatus(_ context.Context, status domain.IdentityStatus, limit int) ([]domain.IdentityModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.IdentityModel
	for _, m := range r.byID {
		if m.Status == status {
			out = append(out, *m)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// fakeProviderAPI satisfies replicate.API with per-call programmable
// behavior. createErrOn makes the n-th CreatePrediction call (zero-based)
// fail, which the partial-dispatch tests rely on.
type fakeProviderAPI struct {
	mu          sync.Mutex
	createCalls []replicate.CreatePredictionInput
	createErrOn map[int]error
	verifyErr   error
	remote      map[string]*replicate.Prediction
	canceled    []string
	trainings   map[string]*replicate.Training
	nextID      int
}

func newFakeProviderAPI() *fakeProviderAPI {
	return &fakeProviderAPI{
		createErrOn: make(map[int]error),
		remote:      make(map[string]*replicate.Prediction),
		trainings:   make(map[string]*replicate.Training),
	}
}

func (f *fakeProviderAPI) CreatePrediction(_ context.Context, in replicate.CreatePredictionInput) (*replicate.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := len(f.createCalls)
	f.createCalls = append(f.createCalls, in)
	if err := f.createErrOn[call]; err != nil {
		return nil, err
	}
	f.nextID++
	p := &replicate.Prediction{ID: fmt.Sprintf("ext-%d", f.nextID), Status: replicate.StatusStarting}
	f.remote[p.ID] = p
	return p, nil
}

func (f *fakeProviderAPI) GetPrediction(_ context.Context, id string) (*replicate.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.remote[id]
	if !ok {
		return nil, replicate.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (f *fakeProviderAPI) setRemote(id, status string, output []string, errMsg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote[id] = &replicate.Prediction{ID: id, Status: status, Output: output, Error: errMsg}
}

func (f *fakeProviderAPI) VerifyModelVersion(context.Context, string) error {
	return f.verifyErr
}

func (f *fakeProviderAPI) CreateTraining(_ context.Context, in replicate.CreateTrainingInput) (*replicate.Training, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t := &replicate.Training{ID: fmt.Sprintf("train-%d", f.nextID), Status: replicate.StatusStarting}
	f.trainings[t.ID] = t
	return t, nil
}

func (f *fakeProviderAPI) GetTraining(_ context.Context, id string) (*replicate.Training, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trainings[id]
	if !ok {
		return nil, replicate.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (f *fakeProviderAPI) CancelTraining(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
	return nil
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
