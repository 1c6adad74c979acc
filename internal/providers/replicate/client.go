package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"thumbforge/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("replicate: api token is required")

// ErrNotFound indicates the provider no longer knows the requested resource.
var ErrNotFound = errors.New("replicate: resource not found")

// ErrVersionNotFound indicates the requested model version is no longer served.
var ErrVersionNotFound = errors.New("replicate: model version not found")

// Lifecycle statuses reported by the provider for predictions and trainings.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Options configures the Replicate HTTP client.
type Options struct {
	APIToken       string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Replicate REST API.
type Client struct {
	apiToken   string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// Prediction is one asynchronous generation run on the provider side.
type Prediction struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Output []string `json:"output"`
	Error  string   `json:"error"`
}

// Training is one asynchronous fine-tuning run on the provider side.
type Training struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output struct {
		Version string `json:"version"`
		Weights string `json:"weights"`
	} `json:"output"`
	Error string `json:"error"`
}

// CreatePredictionInput captures the inputs for an async prediction call.
type CreatePredictionInput struct {
	// Version is the pinned model version ref, "owner/name:versionid".
	Version    string
	Input      map[string]any
	WebhookURL string
}

// CreateTrainingInput captures the inputs for a fine-tuning run.
type CreateTrainingInput struct {
	// Version is the trainer version ref, "owner/name:versionid".
	Version     string
	Destination string
	Input       map[string]any
}

// API is the provider contract consumed by the pipeline and the identity
// lifecycle. The concrete Client satisfies it; tests substitute fakes.
type API interface {
	CreatePrediction(ctx context.Context, in CreatePredictionInput) (*Prediction, error)
	GetPrediction(ctx context.Context, id string) (*Prediction, error)
	VerifyModelVersion(ctx context.Context, ref string) error
	CreateTraining(ctx context.Context, in CreateTrainingInput) (*Training, error)
	GetTraining(ctx context.Context, id string) (*Training, error)
	CancelTraining(ctx context.Context, id string) error
}

type createPredictionRequest struct {
	Version             string         `json:"version"`
	Input               map[string]any `json:"input"`
	Webhook             string         `json:"webhook,omitempty"`
	WebhookEventsFilter []string       `json:"webhook_events_filter,omitempty"`
}

type createTrainingRequest struct {
	Destination string         `json:"destination"`
	Input       map[string]any `json:"input"`
}

type apiError struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiToken:   strings.TrimSpace(opts.APIToken),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiToken != ""
}

// CreatePrediction starts an asynchronous generation run. Completion is
// delivered to the webhook URL and can also be polled via GetPrediction.
func (c *Client) CreatePrediction(ctx context.Context, in CreatePredictionInput) (*Prediction, error) {
	version, err := versionID(in.Version)
	if err != nil {
		return nil, err
	}
	payload := createPredictionRequest{
		Version: version,
		Input:   in.Input,
	}
	if in.WebhookURL != "" {
		payload.Webhook = in.WebhookURL
		payload.WebhookEventsFilter = []string{"completed"}
	}
	var out Prediction
	if err := c.do(ctx, http.MethodPost, "/predictions", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPrediction fetches the current state of a prediction.
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("replicate: prediction id is required")
	}
	var out Prediction
	if err := c.do(ctx, http.MethodGet, "/predictions/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyModelVersion confirms the exact version in ref is still served.
// A missing version maps to ErrVersionNotFound so callers can distinguish
// contract drift from transport failures.
func (c *Client) VerifyModelVersion(ctx context.Context, ref string) error {
	owner, name, version, err := splitModelRef(ref)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/models/%s/%s/versions/%s", owner, name, version)
	if err := c.do(ctx, http.MethodGet, path, nil, &struct{}{}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrVersionNotFound, ref)
		}
		return err
	}
	return nil
}

// CreateTraining starts a fine-tuning run against the trainer version.
func (c *Client) CreateTraining(ctx context.Context, in CreateTrainingInput) (*Training, error) {
	owner, name, version, err := splitModelRef(in.Version)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Destination) == "" {
		return nil, errors.New("replicate: training destination is required")
	}
	path := fmt.Sprintf("/models/%s/%s/versions/%s/trainings", owner, name, version)
	payload := createTrainingRequest{Destination: in.Destination, Input: in.Input}
	var out Training
	if err := c.do(ctx, http.MethodPost, path, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTraining fetches the current state of a training run.
func (c *Client) GetTraining(ctx context.Context, id string) (*Training, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("replicate: training id is required")
	}
	var out Training
	if err := c.do(ctx, http.MethodGet, "/trainings/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelTraining requests cancellation of an in-flight training run.
func (c *Client) CancelTraining(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("replicate: training id is required")
	}
	return c.do(ctx, http.MethodPost, "/trainings/"+id+"/cancel", nil, &struct{}{})
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if !c.HasCredentials() {
		return ErrMissingAPIKey
	}
	var body io.Reader
	if payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return fmt.Errorf("replicate: encode request: %w", err)
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("replicate: %s %s: %w", method, path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		detail := apiErr.Detail
		if detail == "" {
			detail = apiErr.Title
		}
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Str("detail", detail).Msg("replicate: api error")
		return fmt.Errorf("replicate: %s %s: status %d: %s", method, path, resp.StatusCode, detail)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("replicate: decode response: %w", err)
	}
	return nil
}

// versionID extracts the version part from "owner/name:versionid" refs and
// accepts bare version ids unchanged.
func versionID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("replicate: model version ref is required")
	}
	if idx := strings.LastIndex(ref, ":"); idx >= 0 {
		v := ref[idx+1:]
		if v == "" {
			return "", fmt.Errorf("replicate: malformed model ref %q", ref)
		}
		return v, nil
	}
	return ref, nil
}

func splitModelRef(ref string) (owner, name, version string, err error) {
	ref = strings.TrimSpace(ref)
	colon := strings.LastIndex(ref, ":")
	if colon < 0 {
		return "", "", "", fmt.Errorf("replicate: model ref %q must be owner/name:version", ref)
	}
	version = ref[colon+1:]
	parts := strings.Split(ref[:colon], "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || version == "" {
		return "", "", "", fmt.Errorf("replicate: model ref %q must be owner/name:version", ref)
	}
	return parts[0], parts[1], version, nil
}

var _ API = (*Client)(nil)
