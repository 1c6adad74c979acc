package replicate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePredictionSendsVersionAndWebhook(t *testing.T) {
	var captured createPredictionRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/predictions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(Prediction{ID: "pred-1", Status: StatusStarting})
	}))
	defer ts.Close()

	client := NewClient(Options{APIToken: "test-token", BaseURL: ts.URL})
	got, err := client.CreatePrediction(context.Background(), CreatePredictionInput{
		Version:    "acme/thumbs:abc123",
		Input:      map[string]any{"prompt": "a prompt"},
		WebhookURL: "https://api.example.com/v1/webhooks/replicate",
	})
	require.NoError(t, err)
	assert.Equal(t, "pred-1", got.ID)
	assert.Equal(t, StatusStarting, got.Status)
	assert.Equal(t, "abc123", captured.Version)
	assert.Equal(t, "https://api.example.com/v1/webhooks/replicate", captured.Webhook)
	assert.Equal(t, []string{"completed"}, captured.WebhookEventsFilter)
}

func TestGetPredictionDecodesOutput(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/predictions/pred-9", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"pred-9","status":"succeeded","output":["https://cdn.example.com/a.png"],"error":null}`))
	}))
	defer ts.Close()

	client := NewClient(Options{APIToken: "test-token", BaseURL: ts.URL})
	got, err := client.GetPrediction(context.Background(), "pred-9")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, []string{"https://cdn.example.com/a.png"}, got.Output)
	assert.Empty(t, got.Error)
}

func TestVerifyModelVersion(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models/acme/thumbs/versions/abc123":
			_, _ = w.Write([]byte(`{"id":"abc123"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	client := NewClient(Options{APIToken: "test-token", BaseURL: ts.URL})
	assert.NoError(t, client.VerifyModelVersion(context.Background(), "acme/thumbs:abc123"))
	assert.ErrorIs(t, client.VerifyModelVersion(context.Background(), "acme/thumbs:retired"), ErrVersionNotFound)

	err := client.VerifyModelVersion(context.Background(), "not-a-ref")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrVersionNotFound)
}

func TestCreateTrainingTargetsTrainerVersion(t *testing.T) {
	var captured createTrainingRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models/acme/trainer/versions/t1/trainings", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(Training{ID: "train-1", Status: StatusStarting})
	}))
	defer ts.Close()

	client := NewClient(Options{APIToken: "test-token", BaseURL: ts.URL})
	got, err := client.CreateTraining(context.Background(), CreateTrainingInput{
		Version:     "acme/trainer:t1",
		Destination: "acme/user-model",
		Input:       map[string]any{"input_images": []string{"https://cdn.example.com/p.zip"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "train-1", got.ID)
	assert.Equal(t, "acme/user-model", captured.Destination)
}

func TestClientRequiresCredentials(t *testing.T) {
	client := NewClient(Options{})
	_, err := client.GetPrediction(context.Background(), "pred-1")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestAPIErrorSurfacesDetail(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"detail":"billing required"}`))
	}))
	defer ts.Close()

	client := NewClient(Options{APIToken: "test-token", BaseURL: ts.URL})
	_, err := client.GetPrediction(context.Background(), "pred-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "billing required")
}
