package prompt

import (
	"context"
	"errors"
	"strings"
)

const (
	// MaxFreeTextLen caps the user's free-form creative request.
	MaxFreeTextLen = 500
	// MinVariants and MaxVariants bound the per-request variant count.
	MinVariants = 1
	MaxVariants = 4
)

// VariantRequest asks the generator for count structured scene descriptions.
type VariantRequest struct {
	Scene       string
	StyleLabel  string
	TriggerWord string
	Count       int
}

// VariantDescription is one structured scene description. The generator must
// return it as strict JSON; anything that fails Validate is discarded and the
// deterministic fallback takes over.
type VariantDescription struct {
	Scene       string   `json:"scene"`
	Composition string   `json:"composition"`
	Lighting    string   `json:"lighting"`
	Background  string   `json:"background"`
	Camera      string   `json:"camera"`
	Props       string   `json:"props"`
	Avoid       []string `json:"avoid"`
}

// Validate enforces the schema: the fields that drive composition are
// mandatory, the rest may be empty.
func (v VariantDescription) Validate() error {
	if strings.TrimSpace(v.Scene) == "" {
		return errors.New("variant: scene is required")
	}
	if strings.TrimSpace(v.Composition) == "" {
		return errors.New("variant: composition is required")
	}
	if strings.TrimSpace(v.Lighting) == "" {
		return errors.New("variant: lighting is required")
	}
	return nil
}

// VariantGenerator is the LLM port. Implementations may fail freely: the
// composer always recovers through the deterministic fallback and never
// surfaces generator errors to its callers.
type VariantGenerator interface {
	Variants(ctx context.Context, req VariantRequest) ([]VariantDescription, error)
}
