package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbforge/internal/domain"
	"thumbforge/internal/prompt"
	"thumbforge/internal/style"
)

const testDefaultModel = "thumbforge/sdxl-thumbs:ab12cd34"

type dispatcherFixture struct {
	jobs        *fakeJobRepo
	predictions *fakePredictionRepo
	identities  *fakeIdentityRepo
	provider    *fakeProviderAPI
	dispatcher  *Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		jobs:        newFakeJobRepo(),
		predictions: newFakePredictionRepo(),
		identities:  newFakeIdentityRepo(),
		provider:    newFakeProviderAPI(),
	}
	f.dispatcher = NewDispatcher(DispatcherOptions{
		Jobs:         f.jobs,
		Predictions:  f.predictions,
		Identities:   f.identities,
		Composer:     prompt.NewComposer(nil, testLogger()),
		Provider:     f.provider,
		DefaultModel: testDefaultModel,
		WebhookURL:   "https://api.example.com/v1/webhooks/replicate",
		Logger:       testLogger(),
	})
	return f
}

func TestGenerateCreatesOnePredictionPerVariant(t *testing.T) {
	f := newDispatcherFixture(t)

	res, err := f.dispatcher.Generate(context.Background(), GenerateRequest{
		UserID:       "user-1",
		Style:        style.PackCompare,
		PromptText:   "old design versus new design",
		VariantCount: 3,
	})
	require.NoError(t, err)
	require.Len(t, res.PredictionIDs, 3)

	job, err := f.jobs.GetByID(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
	assert.Equal(t, domain.JobSourceText2Img, job.Source)
	assert.Equal(t, style.PackCompare, job.StyleID)

	predictions, err := f.predictions.ListByJobID(context.Background(), res.JobID)
	require.NoError(t, err)
	require.Len(t, predictions, 3)
	for _, p := range predictions {
		assert.Equal(t, domain.PredictionStatusStarting, p.Status)
	}

	// The compare pack pins its own provider model and trailing marker,
	// and every variant must carry the webhook for push reconciliation.
	require.Len(t, f.provider.createCalls, 3)
	for _, call := range f.provider.createCalls {
		assert.Equal(t, "thumbforge/sd-compare:9f2b1c44", call.Version)
		assert.Equal(t, "https://api.example.com/v1/webhooks/replicate", call.WebhookURL)
		finalPrompt, _ := call.Input["prompt"].(string)
		assert.True(t, strings.HasSuffix(finalPrompt, "COMPARE"), "prompt %q should end with the style marker", finalPrompt)
	}
}

func TestGenerateToleratesPartialProviderFailure(t *testing.T) {
	f := newDispatcherFixture(t)
	f.provider.createErrOn[1] = assert.AnError

	res, err := f.dispatcher.Generate(context.Background(), GenerateRequest{
		UserID:       "user-1",
		Style:        style.PackBoldText,
		PromptText:   "ten tips for faster editing",
		VariantCount: 3,
	})
	require.NoError(t, err)
	assert.Len(t, res.PredictionIDs, 2)

	job, err := f.jobs.GetByID(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
}

func TestGenerateFailsJobWhenNoPredictionStarts(t *testing.T) {
	f := newDispatcherFixture(t)
	f.provider.createErrOn[0] = assert.AnError
	f.provider.createErrOn[1] = assert.AnError

	_, err := f.dispatcher.Generate(context.Background(), GenerateRequest{
		UserID:       "user-1",
		Style:        style.PackMinimal,
		PromptText:   "calm desk setup tour",
		VariantCount: 2,
	})
	require.ErrorIs(t, err, domain.ErrProviderFailure)

	active, err := f.jobs.ListActive(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, active, "the job must be terminal, not a running zombie")
}

func TestGenerateVersionDriftAbortsBeforeAnyWrite(t *testing.T) {
	f := newDispatcherFixture(t)
	f.provider.verifyErr = assert.AnError

	_, err := f.dispatcher.Generate(context.Background(), GenerateRequest{
		UserID:       "user-1",
		Style:        style.PackSubject,
		PromptText:   "reacting to the trailer",
		VariantCount: 2,
	})
	require.ErrorIs(t, err, domain.ErrProviderFailure)
	assert.Empty(t, f.jobs.jobs)
	assert.Empty(t, f.predictions.byID)
	assert.Empty(t, f.provider.createCalls)
}

func TestGenerateRejectsBadInput(t *testing.T) {
	f := newDispatcherFixture(t)

	cases := map[string]GenerateRequest{
		"empty prompt":   {UserID: "u", Style: style.PackSubject, PromptText: "   ", VariantCount: 1},
		"zero variants":  {UserID: "u", Style: style.PackSubject, PromptText: "hi", VariantCount: 0},
		"five variants":  {UserID: "u", Style: style.PackSubject, PromptText: "hi", VariantCount: 5},
		"unknown style":  {UserID: "u", Style: "vaporwave", PromptText: "hi", VariantCount: 1},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.dispatcher.Generate(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
	assert.Empty(t, f.jobs.jobs)
}

func TestGenerateWithReadyIdentity(t *testing.T) {
	f := newDispatcherFixture(t)
	require.NoError(t, f.identities.Upsert(context.Background(), &domain.IdentityModel{
		ID:          "idm-1",
		UserID:      "user-1",
		Status:      domain.IdentityStatusReady,
		TriggerWord: "TOK_USER1",
		WeightsRef:  "https://weights.example.com/user-1.tar",
	}))

	res, err := f.dispatcher.Generate(context.Background(), GenerateRequest{
		UserID:       "user-1",
		Style:        style.PackSubject,
		PromptText:   "shocked face at the plot twist",
		VariantCount: 1,
		UseIdentity:  true,
	})
	require.NoError(t, err)
	require.Len(t, f.provider.createCalls, 1)

	input := f.provider.createCalls[0].Input
	assert.Equal(t, "https://weights.example.com/user-1.tar", input["identity_weights"])
	assert.Equal(t, identityLoraScale, input["identity_scale"])
	assert.Equal(t, styleLoraScale, input["style_scale"])
	finalPrompt, _ := input["prompt"].(string)
	assert.Contains(t, finalPrompt, "TOK_USER1")

	job, err := f.jobs.GetByID(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
}

func TestGenerateIdentityGating(t *testing.T) {
	f := newDispatcherFixture(t)
	require.NoError(t, f.identities.Upsert(context.Background(), &domain.IdentityModel{
		ID:          "idm-1",
		UserID:      "user-1",
		Status:      domain.IdentityStatusTraining,
		TriggerWord: "TOK_USER1",
	}))
	require.NoError(t, f.identities.Upsert(context.Background(), &domain.IdentityModel{
		ID:          "idm-2",
		UserID:      "user-2",
		Status:      domain.IdentityStatusReady,
		TriggerWord: "TOK_USER2",
	}))

	t.Run("not ready", func(t *testing.T) {
		_, err := f.dispatcher.Generate(context.Background(), GenerateRequest{
			UserID: "user-1", Style: style.PackSubject, PromptText: "hi", VariantCount: 1, UseIdentity: true,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("cross owner", func(t *testing.T) {
		_, err := f.dispatcher.Generate(context.Background(), GenerateRequest{
			UserID: "user-1", Style: style.PackSubject, PromptText: "hi", VariantCount: 1,
			UseIdentity: true, IdentityModelID: "idm-2",
		})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("no model at all", func(t *testing.T) {
		_, err := f.dispatcher.Generate(context.Background(), GenerateRequest{
			UserID: "user-3", Style: style.PackSubject, PromptText: "hi", VariantCount: 1, UseIdentity: true,
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("incompatible style", func(t *testing.T) {
		_, err := f.dispatcher.Generate(context.Background(), GenerateRequest{
			UserID: "user-2", Style: style.PackCompare, PromptText: "hi", VariantCount: 1,
			UseIdentity: true, IdentityModelID: "idm-2",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	assert.Empty(t, f.jobs.jobs, "gating failures must not persist anything")
}

func TestGenerateAccentStyleParticipates(t *testing.T) {
	f := newDispatcherFixture(t)

	res, err := f.dispatcher.Generate(context.Background(), GenerateRequest{
		UserID:       "user-1",
		Style:        style.PackSubject,
		Accent:       style.PackNeon,
		PromptText:   "late night coding session",
		VariantCount: 1,
	})
	require.NoError(t, err)

	job, err := f.jobs.GetByID(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, style.PackSubject, job.StyleID, "primary style wins the job label")
	assert.Contains(t, job.ComposedPrompt, "neon")
}
