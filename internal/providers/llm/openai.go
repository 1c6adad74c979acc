// Package llm adapts the OpenAI chat completions API to the prompt package's
// variant generator port.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"thumbforge/internal/prompt"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 15 * time.Second
)

// ErrEmptyCompletion indicates the model returned no usable content.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Options configures the OpenAI-backed variant generator.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIGenerator produces structured variant descriptions through chat
// completions in JSON mode. Errors are expected to be absorbed by the prompt
// composer's deterministic fallback, so the generator keeps no retry logic.
type OpenAIGenerator struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIGenerator builds a generator; an empty API key is rejected so the
// caller can wire bypass mode instead.
func NewOpenAIGenerator(opts Options) (*OpenAIGenerator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("llm: api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OpenAIGenerator{
		client:  openai.NewClient(reqOpts...),
		model:   model,
		timeout: timeout,
	}, nil
}

type variantsPayload struct {
	Variants []prompt.VariantDescription `json:"variants"`
}

// Variants asks the model for count structured variant descriptions.
func (g *OpenAIGenerator) Variants(ctx context.Context, req prompt.VariantRequest) ([]prompt.VariantDescription, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemInstruction),
			openai.UserMessage(BuildUserInstruction(req)),
		},
		Temperature: openai.Float(0.8),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llm: completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}
	return ParseVariantsPayload(completion.Choices[0].Message.Content, req.Count)
}

const systemInstruction = "You are an art director for video thumbnails. " +
	"Respond strictly with a single JSON object and nothing else."

// BuildUserInstruction renders the fixed instruction requesting count
// structured variant descriptions as strict JSON.
func BuildUserInstruction(req prompt.VariantRequest) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Describe %d distinct thumbnail concepts for this request: %q.", req.Count, req.Scene)
	if req.StyleLabel != "" {
		fmt.Fprintf(sb, " Overall style: %s.", req.StyleLabel)
	}
	if req.TriggerWord != "" {
		fmt.Fprintf(sb, " The main person is referenced by the token %q; keep them the focal point.", req.TriggerWord)
	}
	sb.WriteString(` Respond as JSON matching {"variants":[{"scene":string,"composition":string,"lighting":string,"background":string,"camera":string,"props":string,"avoid":string[]}]}.`)
	fmt.Fprintf(sb, " Return exactly %d entries, each noticeably different in framing.", req.Count)
	return sb.String()
}

// ParseVariantsPayload decodes and schema-validates the model's JSON answer.
// Any deviation is an error; the composer treats it like a call failure.
func ParseVariantsPayload(raw string, count int) ([]prompt.VariantDescription, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyCompletion
	}
	var payload variantsPayload
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("llm: decode variants: %w", err)
	}
	if len(payload.Variants) < count {
		return nil, fmt.Errorf("llm: got %d variants, want %d", len(payload.Variants), count)
	}
	payload.Variants = payload.Variants[:count]
	for i, v := range payload.Variants {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("llm: variant %d: %w", i+1, err)
		}
	}
	return payload.Variants, nil
}

var _ prompt.VariantGenerator = (*OpenAIGenerator)(nil)
